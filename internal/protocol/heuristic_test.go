package protocol

import "testing"

func TestDetectUngrantedPermission(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Claude requested permissions to use Bash, but you haven't granted it yet.", true},
		{"The tool requested permission to edit files.", true},
		{"requested permission", true},
		{"haven't granted it yet", true},
		{"Permission denied by the operating system", false},
		{"command completed successfully", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := DetectUngrantedPermission(tt.text); got != tt.want {
			t.Errorf("DetectUngrantedPermission(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestToolResultTextString(t *testing.T) {
	block := ContentBlock{
		Type:      "tool_result",
		ToolUseID: "tu_1",
		Content:   []byte(`"you haven't granted it yet"`),
	}
	if got := ToolResultText(block); got != "you haven't granted it yet" {
		t.Fatalf("got %q", got)
	}
}

func TestToolResultTextBlocks(t *testing.T) {
	block := ContentBlock{
		Type:      "tool_result",
		ToolUseID: "tu_1",
		Content:   []byte(`[{"type":"text","text":"Claude "},{"type":"text","text":"requested permission"}]`),
	}
	if got := ToolResultText(block); got != "Claude requested permission" {
		t.Fatalf("got %q", got)
	}
}

func TestToolResultTextWrongBlock(t *testing.T) {
	if got := ToolResultText(ContentBlock{Type: "text", Text: "hi"}); got != "" {
		t.Fatalf("got %q", got)
	}
}
