package protocol

import (
	"encoding/json"
	"strings"
)

// Phrases the agent CLI embeds in tool-result text when a tool ran into
// an ungranted permission. These are load-bearing: the engine switches
// the session to waiting_permission when it sees one.
const (
	phraseNotGranted          = "haven't granted it yet"
	phraseRequestedPermission = "requested permission"
)

// DetectUngrantedPermission reports whether a tool-result text indicates
// the agent is blocked waiting for the user to grant a permission.
func DetectUngrantedPermission(text string) bool {
	return strings.Contains(text, phraseNotGranted) ||
		strings.Contains(text, phraseRequestedPermission)
}

// ToolResultText flattens a tool_result content payload to plain text so
// it can be scanned for permission phrases. The payload is either a bare
// string or an array of text blocks.
func ToolResultText(block ContentBlock) string {
	if block.Type != "tool_result" || len(block.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(block.Content, &s); err == nil {
		return s
	}
	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(block.Content, &blocks); err != nil {
		return ""
	}
	var b strings.Builder
	for _, inner := range blocks {
		if inner.Type == "text" {
			b.WriteString(inner.Text)
		}
	}
	return b.String()
}
