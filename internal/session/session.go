// Package session holds the live session model, the reducer that folds
// agent stream messages into it, and the registry that wires sessions to
// processes, persistence and observers.
package session

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chadjholmes/applaude/internal/protocol"
)

// State is the session lifecycle state shown to observers.
type State string

const (
	StateIdle              State = "idle"
	StateRunning           State = "running"
	StateWaitingInput      State = "waiting_input"
	StateWaitingPermission State = "waiting_permission"
)

// Block is one rendered content block of a message.
type Block struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// Tool name for tool_use blocks.
	Name string `json:"name,omitempty"`
	// Original block payload, for observers that render tool inputs.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Message is one entry of a session transcript. Raw is nil while the
// message is still streaming; the terminal assistant message fills it.
type Message struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Raw       json.RawMessage `json:"raw,omitempty"`
	Blocks    []Block         `json:"blocks"`
}

// Streaming reports whether this message is still being accumulated
// from deltas.
func (m *Message) Streaming() bool { return m.Raw == nil }

// Text returns the concatenated text blocks of the message.
func (m *Message) Text() string {
	var b strings.Builder
	for _, blk := range m.Blocks {
		if blk.Type == "text" {
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}

// Metadata accumulates accounting across a session's invocations.
type Metadata struct {
	Model             string  `json:"model,omitempty"`
	TotalCostUSD      float64 `json:"totalCostUsd"`
	TotalInputTokens  int     `json:"totalInputTokens"`
	TotalOutputTokens int     `json:"totalOutputTokens"`
	ContextTokens     int     `json:"contextTokens"`
	ContextLimit      int     `json:"contextLimit"`
	CompactionCount   int     `json:"compactionCount"`
	NumTurns          int     `json:"numTurns"`
	LastDurationMs    int     `json:"lastDurationMs"`
	LastExitCode      int     `json:"lastExitCode"`
}

// PermissionPrompt is a pending tool-permission decision.
type PermissionPrompt struct {
	ToolName    string          `json:"toolName,omitempty"`
	Description string          `json:"description"`
	Input       json.RawMessage `json:"input,omitempty"`
}

// InputPromptOption is one choice of a pending input request.
type InputPromptOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// InputPrompt is a pending request for a user-supplied value.
type InputPrompt struct {
	Type    string              `json:"type"`
	Message string              `json:"message"`
	Options []InputPromptOption `json:"options,omitempty"`
	Default string              `json:"default,omitempty"`
}

// Session is the live state of one conversation with the agent.
type Session struct {
	ID             string `json:"id"`
	AgentSessionID string `json:"agentSessionId,omitempty"`
	ProcessID      string `json:"processId,omitempty"`
	Title          string `json:"title"`
	Cwd            string `json:"cwd"`
	FolderID       string `json:"folderId,omitempty"`
	State          State  `json:"state"`

	Messages []*Message          `json:"messages"`
	Todos    []protocol.TodoItem `json:"todos,omitempty"`

	PendingQuestion   *protocol.QuestionSet `json:"pendingQuestion,omitempty"`
	PendingPermission *PermissionPrompt     `json:"pendingPermission,omitempty"`
	PendingInput      *InputPrompt          `json:"pendingInput,omitempty"`
	QueuedMessage     string                `json:"queuedMessage,omitempty"`

	// Id of the streaming assistant message being accumulated, empty
	// when no stream is open.
	InProgressMessageID string `json:"-"`

	Metadata  Metadata  `json:"metadata"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// New creates an idle session with a fresh id.
func New(cwd string, now time.Time) *Session {
	return &Session{
		ID:        uuid.New().String(),
		Title:     "New Session",
		Cwd:       cwd,
		State:     StateIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Find returns the message with the given id, or nil.
func (s *Session) Find(messageID string) *Message {
	for _, m := range s.Messages {
		if m.ID == messageID {
			return m
		}
	}
	return nil
}

const maxTitleLen = 50

// TitleFrom derives a session title from the first line of a prompt,
// truncated with an ellipsis past 50 characters.
func TitleFrom(prompt string) string {
	line := prompt
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "New Session"
	}
	runes := []rune(line)
	if len(runes) > maxTitleLen {
		return string(runes[:maxTitleLen]) + "..."
	}
	return line
}

// ContextLimitForModel returns the context window size for a model name.
// Extended-context variants carry a "[1m]" marker.
func ContextLimitForModel(model string) int {
	if strings.Contains(model, "[1m]") || strings.Contains(model, "-1m") {
		return 1_000_000
	}
	return 200_000
}
