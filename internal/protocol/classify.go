package protocol

import (
	"encoding/json"
	"fmt"
)

// probe pulls only the discriminant fields out of a line.
type probe struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
}

// Classify parses one complete line of the agent stream into its typed
// variant. Lines that are not JSON, or whose type (or system subtype) is
// not recognized, return an error; callers drop those lines.
func Classify(line []byte) (StreamMessage, error) {
	var p probe
	if err := json.Unmarshal(line, &p); err != nil {
		return nil, fmt.Errorf("parse stream line: %w", err)
	}

	switch p.Type {
	case "system":
		switch p.Subtype {
		case "init":
			msg := &SystemInit{}
			if err := json.Unmarshal(line, msg); err != nil {
				return nil, fmt.Errorf("parse system init: %w", err)
			}
			return msg, nil
		case "compact":
			msg := &CompactionEvent{}
			if err := json.Unmarshal(line, msg); err != nil {
				return nil, fmt.Errorf("parse compaction event: %w", err)
			}
			return msg, nil
		default:
			return nil, fmt.Errorf("unknown system subtype %q", p.Subtype)
		}
	case "assistant":
		msg := &AssistantMessage{}
		if err := json.Unmarshal(line, msg); err != nil {
			return nil, fmt.Errorf("parse assistant message: %w", err)
		}
		return msg, nil
	case "user":
		msg := &UserMessage{}
		if err := json.Unmarshal(line, msg); err != nil {
			return nil, fmt.Errorf("parse user message: %w", err)
		}
		return msg, nil
	case "result":
		msg := &Result{}
		if err := json.Unmarshal(line, msg); err != nil {
			return nil, fmt.Errorf("parse result: %w", err)
		}
		return msg, nil
	case "stream_event":
		msg := &StreamEvent{}
		if err := json.Unmarshal(line, msg); err != nil {
			return nil, fmt.Errorf("parse stream event: %w", err)
		}
		return msg, nil
	case "permission_request":
		msg := &PermissionRequest{}
		if err := json.Unmarshal(line, msg); err != nil {
			return nil, fmt.Errorf("parse permission request: %w", err)
		}
		return msg, nil
	case "input_request":
		msg := &InputRequest{}
		if err := json.Unmarshal(line, msg); err != nil {
			return nil, fmt.Errorf("parse input request: %w", err)
		}
		return msg, nil
	case "progress":
		msg := &ProgressEvent{}
		if err := json.Unmarshal(line, msg); err != nil {
			return nil, fmt.Errorf("parse progress event: %w", err)
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("unknown stream message type %q", p.Type)
	}
}
