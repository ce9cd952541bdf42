package session

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/chadjholmes/applaude/internal/protocol"
)

// Outcome describes what a single Apply did to the session, so callers
// can persist and publish exactly the parts that changed.
type Outcome struct {
	// Appended is a newly added transcript message.
	Appended *Message
	// Replaced is an existing message rewritten in place (a streamed
	// placeholder finalized by its terminal assistant message).
	Replaced *Message
	// Streaming is the in-progress message after a delta was folded in.
	Streaming *Message
	// Progress carries a transient progress line, never stored.
	Progress string

	MetadataChanged bool
	StateChanged    bool
	TodosChanged    bool
}

// Apply folds one classified stream message into the session. It is a
// pure state transition: no IO, fully deterministic given (session,
// message, now).
func Apply(s *Session, msg protocol.StreamMessage, now time.Time) Outcome {
	s.UpdatedAt = now
	switch m := msg.(type) {
	case *protocol.SystemInit:
		return applyInit(s, m, now)
	case *protocol.CompactionEvent:
		return applyCompaction(s, m)
	case *protocol.StreamEvent:
		return applyStreamEvent(s, m, now)
	case *protocol.AssistantMessage:
		return applyAssistant(s, m, now)
	case *protocol.UserMessage:
		return applyUser(s, m, now)
	case *protocol.Result:
		return applyResult(s, m, now)
	case *protocol.PermissionRequest:
		return applyPermissionRequest(s, m, now)
	case *protocol.InputRequest:
		return applyInputRequest(s, m, now)
	case *protocol.ProgressEvent:
		return Outcome{Progress: m.Progress.Message}
	default:
		return Outcome{}
	}
}

// applyInit records the model and shows the invocation banner in the
// transcript.
func applyInit(s *Session, m *protocol.SystemInit, now time.Time) Outcome {
	if s.AgentSessionID == "" {
		s.AgentSessionID = m.SessionID
	}
	s.Metadata.Model = m.Model
	s.Metadata.ContextLimit = ContextLimitForModel(m.Model)

	raw, _ := json.Marshal(m)
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      "system",
		Timestamp: now,
		Raw:       raw,
		Blocks:    []Block{{Type: "system_init", Text: m.Model, Raw: raw}},
	}
	s.Messages = append(s.Messages, msg)
	return Outcome{Appended: msg, MetadataChanged: true}
}

func applyCompaction(s *Session, m *protocol.CompactionEvent) Outcome {
	s.Metadata.CompactionCount++
	s.Metadata.ContextTokens = m.Compact.TokensAfter
	if m.Compact.ContextLimit > 0 {
		s.Metadata.ContextLimit = m.Compact.ContextLimit
	}
	return Outcome{MetadataChanged: true}
}

// applyStreamEvent accumulates text deltas into a single in-progress
// assistant message. The first delta of a turn opens the message; later
// deltas grow its one text block.
func applyStreamEvent(s *Session, m *protocol.StreamEvent, now time.Time) Outcome {
	text, ok := m.TextDelta()
	if !ok {
		return Outcome{}
	}

	if s.InProgressMessageID != "" {
		if msg := s.Find(s.InProgressMessageID); msg != nil {
			msg.Blocks[0].Text += text
			return Outcome{Streaming: msg}
		}
		s.InProgressMessageID = ""
	}

	msg := &Message{
		ID:        uuid.New().String(),
		Type:      "assistant",
		Timestamp: now,
		Blocks:    []Block{{Type: "text", Text: text}},
	}
	s.Messages = append(s.Messages, msg)
	s.InProgressMessageID = msg.ID
	return Outcome{Appended: msg, Streaming: msg}
}

// applyAssistant finalizes the turn: if a streamed placeholder is open
// it is replaced in place (same position), otherwise the message is
// appended. Either way the message takes the protocol payload's id so
// external turns keep their wire identity; a local uuid is only a
// fallback for payloads without one.
func applyAssistant(s *Session, m *protocol.AssistantMessage, now time.Time) Outcome {
	raw, _ := json.Marshal(m)
	blocks := renderBlocks(m.Message.Content)
	id := m.Message.ID
	if id == "" {
		id = uuid.New().String()
	}

	out := Outcome{}
	if s.InProgressMessageID != "" {
		if msg := s.Find(s.InProgressMessageID); msg != nil {
			msg.ID = id
			msg.Raw = raw
			msg.Blocks = blocks
			msg.Timestamp = now
			s.InProgressMessageID = ""
			out.Replaced = msg
		}
	}
	if out.Replaced == nil {
		msg := &Message{
			ID:        id,
			Type:      "assistant",
			Timestamp: now,
			Raw:       raw,
			Blocks:    blocks,
		}
		s.Messages = append(s.Messages, msg)
		s.InProgressMessageID = ""
		out.Appended = msg
	}

	for _, block := range m.Message.Content {
		if todos := protocol.ParseTodos(block); todos != nil {
			s.Todos = todos
			out.TodosChanged = true
		}
		if qs := protocol.ParseQuestions(block); qs != nil {
			s.PendingQuestion = qs
			if s.State != StateWaitingInput {
				s.State = StateWaitingInput
				out.StateChanged = true
			}
		}
	}
	return out
}

// applyUser appends the echoed tool results and runs the permission
// heuristic over their text.
func applyUser(s *Session, m *protocol.UserMessage, now time.Time) Outcome {
	raw, _ := json.Marshal(m)
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      "user",
		Timestamp: now,
		Raw:       raw,
		Blocks:    renderBlocks(m.Message.Content),
	}
	s.Messages = append(s.Messages, msg)

	out := Outcome{Appended: msg}
	for _, block := range m.Message.Content {
		text := protocol.ToolResultText(block)
		if text == "" {
			continue
		}
		if protocol.DetectUngrantedPermission(text) {
			if s.PendingPermission == nil {
				s.PendingPermission = &PermissionPrompt{Description: text}
			}
			if s.State != StateWaitingPermission {
				s.State = StateWaitingPermission
				out.StateChanged = true
			}
		}
	}
	return out
}

func applyResult(s *Session, m *protocol.Result, now time.Time) Outcome {
	raw, _ := json.Marshal(m)
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      "result",
		Timestamp: now,
		Raw:       raw,
	}
	if m.Result != "" {
		msg.Blocks = []Block{{Type: "text", Text: m.Result}}
	}
	s.Messages = append(s.Messages, msg)
	s.InProgressMessageID = ""

	s.Metadata.TotalCostUSD += m.TotalCostUSD
	s.Metadata.TotalInputTokens += m.Usage.InputTokens
	s.Metadata.TotalOutputTokens += m.Usage.OutputTokens
	s.Metadata.ContextTokens = m.Usage.InputTokens
	if s.Metadata.ContextLimit == 0 {
		s.Metadata.ContextLimit = ContextLimitForModel(s.Metadata.Model)
	}
	s.Metadata.NumTurns = m.NumTurns
	s.Metadata.LastDurationMs = m.DurationMs

	return Outcome{Appended: msg, MetadataChanged: true}
}

func applyPermissionRequest(s *Session, m *protocol.PermissionRequest, now time.Time) Outcome {
	s.PendingPermission = &PermissionPrompt{
		ToolName:    m.Request.ToolName,
		Description: m.Request.Description,
		Input:       m.Request.Input,
	}

	raw, _ := json.Marshal(m)
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      "permission_request",
		Timestamp: now,
		Raw:       raw,
		Blocks: []Block{{
			Type: "permission_request",
			Name: m.Request.ToolName,
			Text: m.Request.Description,
			Raw:  m.Request.Input,
		}},
	}
	s.Messages = append(s.Messages, msg)

	out := Outcome{Appended: msg}
	if s.State != StateWaitingPermission {
		s.State = StateWaitingPermission
		out.StateChanged = true
	}
	return out
}

func applyInputRequest(s *Session, m *protocol.InputRequest, now time.Time) Outcome {
	prompt := &InputPrompt{
		Type:    m.Request.Type,
		Message: m.Request.Message,
		Default: m.Request.Default,
	}
	for _, o := range m.Request.Options {
		prompt.Options = append(prompt.Options, InputPromptOption{Label: o.Label, Value: o.Value})
	}
	s.PendingInput = prompt

	raw, _ := json.Marshal(m)
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      "input_request",
		Timestamp: now,
		Raw:       raw,
		Blocks: []Block{{
			Type: "input_request",
			Text: m.Request.Message,
			Raw:  raw,
		}},
	}
	s.Messages = append(s.Messages, msg)

	out := Outcome{Appended: msg}
	if s.State != StateWaitingInput {
		s.State = StateWaitingInput
		out.StateChanged = true
	}
	return out
}

func renderBlocks(content []protocol.ContentBlock) []Block {
	blocks := make([]Block, 0, len(content))
	for _, c := range content {
		b := Block{ID: c.ID, Type: c.Type}
		switch c.Type {
		case "text":
			b.Text = c.Text
		case "thinking":
			b.Text = c.Thinking
		case "tool_use":
			b.Name = c.Name
			b.Raw = c.Input
		case "tool_result":
			b.ID = c.ToolUseID
			b.Text = protocol.ToolResultText(c)
			b.Raw = c.Content
		}
		blocks = append(blocks, b)
	}
	return blocks
}
