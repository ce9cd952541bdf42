// Package protocol parses the newline-delimited JSON stream emitted by the
// agent CLI in stream-json mode and classifies each line into one of a
// closed set of message variants.
package protocol

import "encoding/json"

// StreamMessage is the closed union of every line shape the agent CLI
// emits. New variants must be added both here and in Classify.
type StreamMessage interface {
	streamMessage()
}

// SystemInit is the first message of every invocation (type=system,
// subtype=init).
type SystemInit struct {
	Type           string   `json:"type"`
	Subtype        string   `json:"subtype"`
	Cwd            string   `json:"cwd"`
	SessionID      string   `json:"session_id"`
	Tools          []string `json:"tools"`
	Model          string   `json:"model"`
	PermissionMode string   `json:"permissionMode"`
}

// CompactionEvent reports a context-window compaction (type=system,
// subtype=compact). It is metadata only and never shown as a message.
type CompactionEvent struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	Compact struct {
		TokensBefore int `json:"tokens_before"`
		TokensAfter  int `json:"tokens_after"`
		ContextLimit int `json:"context_limit"`
	} `json:"compact"`
	SessionID string `json:"session_id"`
}

// ContentBlock is one block inside an assistant (or user) message body,
// discriminated by Type: text, tool_use, thinking, tool_result.
type ContentBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// thinking
	Thinking string `json:"thinking,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// Usage carries token counts attached to assistant and result messages.
type Usage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

// AssistantMessage is a complete assistant turn (type=assistant). It
// terminates any in-progress streamed message for the session.
type AssistantMessage struct {
	Type    string `json:"type"`
	Message struct {
		ID         string         `json:"id"`
		Model      string         `json:"model"`
		Role       string         `json:"role"`
		Content    []ContentBlock `json:"content"`
		StopReason string         `json:"stop_reason"`
		Usage      *Usage         `json:"usage,omitempty"`
	} `json:"message"`
	ParentToolUseID string `json:"parent_tool_use_id"`
	SessionID       string `json:"session_id"`
}

// UserMessage wraps tool results the CLI echoes back (type=user).
type UserMessage struct {
	Type    string `json:"type"`
	Message struct {
		Role    string         `json:"role"`
		Content []ContentBlock `json:"content"`
	} `json:"message"`
	ParentToolUseID string `json:"parent_tool_use_id"`
	SessionID       string `json:"session_id"`
}

// Result is the terminal accounting message of an invocation (type=result).
type Result struct {
	Type          string  `json:"type"`
	Subtype       string  `json:"subtype"`
	IsError       bool    `json:"is_error"`
	DurationMs    int     `json:"duration_ms"`
	DurationAPIMs int     `json:"duration_api_ms"`
	NumTurns      int     `json:"num_turns"`
	Result        string  `json:"result"`
	SessionID     string  `json:"session_id"`
	TotalCostUSD  float64 `json:"total_cost_usd"`
	Usage         Usage   `json:"usage"`
}

// StreamEvent is an incremental streaming delta (type=stream_event). Only
// content_block_delta/text_delta events carry text the engine cares about.
type StreamEvent struct {
	Type  string `json:"type"`
	Event struct {
		Type  string `json:"type"`
		Index int    `json:"index,omitempty"`
		Delta *struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"delta,omitempty"`
	} `json:"event"`
	SessionID       string `json:"session_id"`
	ParentToolUseID string `json:"parent_tool_use_id"`
}

// TextDelta returns the delta text if this event is a text delta.
func (m *StreamEvent) TextDelta() (string, bool) {
	if m.Event.Type != "content_block_delta" || m.Event.Delta == nil {
		return "", false
	}
	if m.Event.Delta.Type != "text_delta" {
		return "", false
	}
	return m.Event.Delta.Text, true
}

// PermissionRequest asks the user to approve a tool invocation
// (type=permission_request).
type PermissionRequest struct {
	Type    string `json:"type"`
	Request struct {
		Type        string          `json:"type"`
		ToolName    string          `json:"tool_name,omitempty"`
		Description string          `json:"description"`
		Input       json.RawMessage `json:"input,omitempty"`
	} `json:"permission_request"`
	SessionID string `json:"session_id"`
}

// InputRequest asks the user for a value or a selection
// (type=input_request).
type InputRequest struct {
	Type    string `json:"type"`
	Request struct {
		Type    string `json:"type"` // select, text, confirm
		Message string `json:"message"`
		Options []struct {
			Label string `json:"label"`
			Value string `json:"value"`
		} `json:"options,omitempty"`
		Default string `json:"default,omitempty"`
	} `json:"input_request"`
	SessionID string `json:"session_id"`
}

// ProgressEvent reports long-running task progress (type=progress).
type ProgressEvent struct {
	Type     string `json:"type"`
	Progress struct {
		Type       string   `json:"type"`
		Message    string   `json:"message"`
		Percentage *float64 `json:"percentage,omitempty"`
	} `json:"progress"`
	SessionID string `json:"session_id"`
}

func (*SystemInit) streamMessage()        {}
func (*CompactionEvent) streamMessage()   {}
func (*AssistantMessage) streamMessage()  {}
func (*UserMessage) streamMessage()       {}
func (*Result) streamMessage()            {}
func (*StreamEvent) streamMessage()       {}
func (*PermissionRequest) streamMessage() {}
func (*InputRequest) streamMessage()      {}
func (*ProgressEvent) streamMessage()     {}

// Reserved tool names the reducer special-cases.
const (
	TodoToolName     = "TodoWrite"
	QuestionToolName = "AskUserQuestion"
)

// TodoItem is one entry of a TodoWrite payload.
type TodoItem struct {
	Content    string `json:"content"`
	Status     string `json:"status"` // pending, in_progress, completed
	ActiveForm string `json:"activeForm,omitempty"`
}

type todoInput struct {
	Todos []TodoItem `json:"todos"`
}

// ParseTodos decodes a TodoWrite tool_use input. Returns nil when the
// block is not a todo payload.
func ParseTodos(block ContentBlock) []TodoItem {
	if block.Type != "tool_use" || block.Name != TodoToolName {
		return nil
	}
	var input todoInput
	if err := json.Unmarshal(block.Input, &input); err != nil {
		return nil
	}
	return input.Todos
}

// QuestionOption is one selectable answer of a question.
type QuestionOption struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Question is a single multi-choice question from the question tool.
type Question struct {
	Question    string           `json:"question"`
	Header      string           `json:"header,omitempty"`
	Options     []QuestionOption `json:"options"`
	MultiSelect bool             `json:"multiSelect"`
}

// QuestionSet is the parsed payload of an AskUserQuestion tool_use,
// keyed by the tool_use id the answer must reference.
type QuestionSet struct {
	ToolUseID string     `json:"toolUseId"`
	Questions []Question `json:"questions"`
}

type questionInput struct {
	Questions []Question `json:"questions"`
}

// ParseQuestions decodes an AskUserQuestion tool_use input. Returns nil
// when the block is not a question payload.
func ParseQuestions(block ContentBlock) *QuestionSet {
	if block.Type != "tool_use" || block.Name != QuestionToolName {
		return nil
	}
	var input questionInput
	if err := json.Unmarshal(block.Input, &input); err != nil {
		return nil
	}
	if len(input.Questions) == 0 {
		return nil
	}
	return &QuestionSet{ToolUseID: block.ID, Questions: input.Questions}
}
