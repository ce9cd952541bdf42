package session

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chadjholmes/applaude/internal/metrics"
	"github.com/chadjholmes/applaude/internal/proc"
	"github.com/chadjholmes/applaude/internal/protocol"
	"github.com/chadjholmes/applaude/internal/store"
)

// Publisher receives session changes for delivery to observers. Calls
// must not block; failures are the publisher's problem.
type Publisher interface {
	SessionUpdate(s *Session)
	MessageAppend(sessionID string, m *Message)
	MessageStream(sessionID string, m *Message)
	SessionProgress(sessionID, message string)
	SessionExit(sessionID string, exitCode int)
}

// ProcessRunner is the slice of the supervisor the registry uses.
// *proc.Supervisor satisfies it.
type ProcessRunner interface {
	SetDataHandler(proc.DataHandler)
	SetExitHandler(proc.ExitHandler)
	Start(opts proc.StartOptions) string
	SendInput(processID, text string) error
	SendControlKey(processID, key string) error
	Kill(processID string)
	KillAll()
}

// Defaults are the fallback values for new sessions and invocations.
type Defaults struct {
	Model          string
	PermissionMode string
	Cwd            string
}

// Registry owns all live sessions and routes process output, user
// actions and persistence. One mutex serializes every mutation, so each
// session sees its events strictly in order.
type Registry struct {
	sup      ProcessRunner
	asm      *protocol.Assembler
	st       store.Store
	pub      Publisher
	defaults func() Defaults

	mu        sync.Mutex
	sessions  map[string]*Session
	byProcess map[string]string
	activeID  string
}

func NewRegistry(sup ProcessRunner, asm *protocol.Assembler, st store.Store, pub Publisher, defaults func() Defaults) *Registry {
	r := &Registry{
		sup:       sup,
		asm:       asm,
		st:        st,
		pub:       pub,
		defaults:  defaults,
		sessions:  make(map[string]*Session),
		byProcess: make(map[string]string),
	}
	sup.SetDataHandler(r.HandleData)
	sup.SetExitHandler(r.HandleExit)
	return r
}

// Load restores persisted sessions into memory. No process survives a
// daemon restart, so every session comes back idle.
func (r *Registry) Load() error {
	recs, err := r.st.ListSessions()
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range recs {
		s := &Session{
			ID:             rec.ID,
			AgentSessionID: rec.AgentSessionID,
			Title:          rec.Title,
			Cwd:            rec.Cwd,
			FolderID:       rec.FolderID,
			State:          StateIdle,
			CreatedAt:      rec.CreatedAt,
			UpdatedAt:      rec.UpdatedAt,
		}
		if len(rec.Metadata) > 0 {
			if err := json.Unmarshal(rec.Metadata, &s.Metadata); err != nil {
				log.Printf("session %s: bad metadata: %v", rec.ID, err)
			}
		}
		if len(rec.Todos) > 0 {
			if err := json.Unmarshal(rec.Todos, &s.Todos); err != nil {
				log.Printf("session %s: bad todos: %v", rec.ID, err)
			}
		}

		msgs, err := r.st.ListMessages(rec.ID)
		if err != nil {
			return fmt.Errorf("load messages for %s: %w", rec.ID, err)
		}
		for _, mr := range msgs {
			m := &Message{ID: mr.ID, Type: mr.Type, Timestamp: mr.Timestamp, Raw: mr.Raw}
			if len(mr.Blocks) > 0 {
				if err := json.Unmarshal(mr.Blocks, &m.Blocks); err != nil {
					log.Printf("message %s: bad blocks: %v", mr.ID, err)
				}
			}
			s.Messages = append(s.Messages, m)
		}
		r.sessions[s.ID] = s
	}
	return nil
}

// Create starts a new idle session. An explicit cwd wins; otherwise the
// folder's default cwd, then the global default.
func (r *Registry) Create(cwd, folderID string) (*Session, error) {
	if cwd == "" && folderID != "" {
		folders, err := r.st.ListFolders()
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		for _, f := range folders {
			if f.ID == folderID {
				cwd = f.DefaultCwd
				break
			}
		}
	}
	if cwd == "" {
		cwd = r.defaults().Cwd
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s := New(cwd, time.Now())
	s.FolderID = folderID
	r.sessions[s.ID] = s
	if err := r.persist(s); err != nil {
		delete(r.sessions, s.ID)
		return nil, err
	}
	r.pub.SessionUpdate(s)
	return s, nil
}

// Get returns the session or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// List returns every session, most recently updated first.
func (r *Registry) List() []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sortSessions(out)
	return out
}

func sortSessions(sessions []*Session) {
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
}

// SetActive marks the session the renderer is focused on.
func (r *Registry) SetActive(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		r.activeID = id
	}
}

// Active returns the focused session id.
func (r *Registry) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeID
}

// Delete kills the session's process if one is attached, then removes
// the session from memory and the store.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("session %s: %w", id, store.ErrNotFound)
	}
	processID := s.ProcessID
	delete(r.sessions, id)
	if processID != "" {
		delete(r.byProcess, processID)
	}
	if r.activeID == id {
		r.activeID = ""
	}
	r.mu.Unlock()

	if processID != "" {
		r.sup.Kill(processID)
	}
	r.asm.Reset(id)
	if err := r.st.DeleteSession(id); err != nil {
		return err
	}
	return nil
}

// SendMessage submits a user prompt. While the session is running the
// message is queued instead and auto-submitted after the current turn's
// process exits. imagePaths are files already on disk, referenced in
// the prompt with an @ prefix.
func (r *Registry) SendMessage(sessionID, text string, imagePaths []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	if s.State == StateRunning {
		s.QueuedMessage = text
		r.pub.SessionUpdate(s)
		return nil
	}
	return r.send(s, text, imagePaths)
}

// send assumes r.mu is held.
func (r *Registry) send(s *Session, text string, imagePaths []string) error {
	prompt := buildPrompt(text, imagePaths)
	now := time.Now()

	if len(s.Messages) == 0 {
		s.Title = TitleFrom(text)
	}

	raw, _ := json.Marshal(map[string]string{"type": "user", "text": prompt})
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      "user",
		Timestamp: now,
		Raw:       raw,
		Blocks:    []Block{{Type: "text", Text: text}},
	}
	s.Messages = append(s.Messages, msg)
	s.PendingQuestion = nil
	s.PendingInput = nil
	s.PendingPermission = nil
	s.State = StateRunning
	s.UpdatedAt = now

	firstTurn := s.AgentSessionID == ""
	if firstTurn {
		s.AgentSessionID = uuid.New().String()
	}

	d := r.defaults()
	processID := r.sup.Start(proc.StartOptions{
		Cwd:            s.Cwd,
		AgentSessionID: s.AgentSessionID,
		FirstTurn:      firstTurn,
		PermissionMode: d.PermissionMode,
		Model:          d.Model,
		Prompt:         prompt,
	})
	s.ProcessID = processID
	r.byProcess[processID] = s.ID
	metrics.ProcessesStarted.Inc()
	metrics.ActiveProcesses.Inc()

	if err := r.persist(s); err != nil {
		return err
	}
	if err := r.persistMessage(s.ID, msg, false); err != nil {
		return err
	}
	r.pub.SessionUpdate(s)
	r.pub.MessageAppend(s.ID, msg)
	return nil
}

func buildPrompt(text string, imagePaths []string) string {
	if len(imagePaths) == 0 {
		return text
	}
	refs := make([]string, 0, len(imagePaths))
	for _, p := range imagePaths {
		refs = append(refs, "@"+p)
	}
	return strings.Join(refs, " ") + "\n\n" + text
}

// QueueMessage stores a message to auto-submit after the running turn
// finishes. Replaces any previously queued message.
func (r *Registry) QueueMessage(sessionID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	s.QueuedMessage = text
	r.pub.SessionUpdate(s)
	return nil
}

// RespondToPermission answers a pending permission prompt: enter to
// allow, escape to deny.
func (r *Registry) RespondToPermission(sessionID string, allow bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	if s.ProcessID == "" {
		return fmt.Errorf("session %s has no running process", sessionID)
	}
	key := proc.KeyEnter
	if !allow {
		key = proc.KeyEscape
	}
	if err := r.sup.SendControlKey(s.ProcessID, key); err != nil {
		return err
	}
	s.PendingPermission = nil
	s.State = StateRunning
	s.UpdatedAt = time.Now()
	if err := r.persist(s); err != nil {
		return err
	}
	r.pub.SessionUpdate(s)
	return nil
}

// RespondToInput answers a pending input request or question with a
// value, written to the process's stdin.
func (r *Registry) RespondToInput(sessionID, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	if s.ProcessID == "" {
		return fmt.Errorf("session %s has no running process", sessionID)
	}
	if err := r.sup.SendInput(s.ProcessID, value); err != nil {
		return err
	}
	s.PendingInput = nil
	s.PendingQuestion = nil
	s.State = StateRunning
	s.UpdatedAt = time.Now()
	if err := r.persist(s); err != nil {
		return err
	}
	r.pub.SessionUpdate(s)
	return nil
}

// HandleData receives raw PTY chunks, reassembles lines, classifies
// them and folds each into the owning session. Unclassifiable lines
// (terminal noise, partial ANSI) are dropped.
func (r *Registry) HandleData(processID string, chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionID, ok := r.byProcess[processID]
	if !ok {
		return
	}
	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}

	for _, line := range r.asm.Feed(sessionID, chunk) {
		msg, err := protocol.Classify([]byte(line))
		if err != nil {
			metrics.ParseFailures.Inc()
			continue
		}
		metrics.LinesClassified.Inc()

		out := Apply(s, msg, time.Now())
		metrics.MessagesReduced.Inc()
		r.publishOutcome(s, out)
	}
}

func (r *Registry) publishOutcome(s *Session, out Outcome) {
	if out.Appended != nil && out.Streaming == nil {
		if err := r.persistMessage(s.ID, out.Appended, false); err != nil {
			log.Printf("session %s: persist message: %v", s.ID, err)
		}
		r.pub.MessageAppend(s.ID, out.Appended)
	}
	if out.Replaced != nil {
		if err := r.persistMessage(s.ID, out.Replaced, true); err != nil {
			log.Printf("session %s: persist message: %v", s.ID, err)
		}
		r.pub.MessageAppend(s.ID, out.Replaced)
	}
	if out.Streaming != nil {
		r.pub.MessageStream(s.ID, out.Streaming)
	}
	if out.Progress != "" {
		r.pub.SessionProgress(s.ID, out.Progress)
	}
	if out.MetadataChanged || out.StateChanged || out.TodosChanged {
		if err := r.persist(s); err != nil {
			log.Printf("session %s: persist: %v", s.ID, err)
		}
		r.pub.SessionUpdate(s)
	}
}

// HandleExit runs when a turn's process terminates. The session drops
// back to idle, or waiting_input when a question is still pending, and
// any queued message is submitted immediately.
func (r *Registry) HandleExit(processID string, exitCode int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessionID, ok := r.byProcess[processID]
	if !ok {
		return
	}
	delete(r.byProcess, processID)
	metrics.ProcessExits.Inc()
	metrics.ActiveProcesses.Dec()

	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}

	s.ProcessID = ""
	r.asm.Reset(sessionID)

	// A stream that never saw its terminal message keeps the text it
	// accumulated; it just stops being in progress.
	if s.InProgressMessageID != "" {
		if msg := s.Find(s.InProgressMessageID); msg != nil {
			if err := r.persistMessage(s.ID, msg, true); err != nil {
				log.Printf("session %s: persist message: %v", s.ID, err)
			}
			r.pub.MessageAppend(s.ID, msg)
		}
		s.InProgressMessageID = ""
	}

	if s.PendingQuestion != nil || s.PendingInput != nil {
		s.State = StateWaitingInput
	} else {
		s.State = StateIdle
	}
	s.Metadata.LastExitCode = exitCode
	s.UpdatedAt = time.Now()

	if err := r.persist(s); err != nil {
		log.Printf("session %s: persist: %v", s.ID, err)
	}
	r.pub.SessionExit(sessionID, exitCode)
	r.pub.SessionUpdate(s)

	if s.QueuedMessage != "" && s.State == StateIdle {
		queued := s.QueuedMessage
		s.QueuedMessage = ""
		if err := r.send(s, queued, nil); err != nil {
			log.Printf("session %s: submit queued message: %v", s.ID, err)
		}
	}
}

// Shutdown kills every live process.
func (r *Registry) Shutdown() {
	r.sup.KillAll()
}

// CreateFolder adds a folder with an optional default working
// directory for sessions created inside it.
func (r *Registry) CreateFolder(name, defaultCwd string) (store.FolderRecord, error) {
	now := time.Now()
	rec := store.FolderRecord{
		ID:         uuid.New().String(),
		Name:       name,
		DefaultCwd: defaultCwd,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.st.UpsertFolder(rec); err != nil {
		return store.FolderRecord{}, err
	}
	return rec, nil
}

// ListFolders returns all folders.
func (r *Registry) ListFolders() ([]store.FolderRecord, error) {
	return r.st.ListFolders()
}

// DeleteFolder removes a folder; its sessions are detached, not
// deleted.
func (r *Registry) DeleteFolder(id string) error {
	if err := r.st.DeleteFolder(id); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.FolderID == id {
			s.FolderID = ""
			if err := r.persist(s); err != nil {
				log.Printf("session %s: persist: %v", s.ID, err)
			}
			r.pub.SessionUpdate(s)
		}
	}
	return nil
}

// AssignFolder moves a session into a folder (empty id detaches).
func (r *Registry) AssignFolder(sessionID, folderID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, store.ErrNotFound)
	}
	s.FolderID = folderID
	s.UpdatedAt = time.Now()
	if err := r.persist(s); err != nil {
		return err
	}
	r.pub.SessionUpdate(s)
	return nil
}

func (r *Registry) persist(s *Session) error {
	metadata, _ := json.Marshal(s.Metadata)
	todos, _ := json.Marshal(s.Todos)
	return r.st.UpsertSession(store.SessionRecord{
		ID:             s.ID,
		AgentSessionID: s.AgentSessionID,
		Title:          s.Title,
		Cwd:            s.Cwd,
		FolderID:       s.FolderID,
		State:          string(s.State),
		Metadata:       metadata,
		Todos:          todos,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	})
}

func (r *Registry) persistMessage(sessionID string, m *Message, replace bool) error {
	blocks, _ := json.Marshal(m.Blocks)
	rec := store.MessageRecord{
		ID:        m.ID,
		SessionID: sessionID,
		Type:      m.Type,
		Timestamp: m.Timestamp,
		Raw:       m.Raw,
		Blocks:    blocks,
	}
	if replace {
		return r.st.UpsertMessage(rec)
	}
	return r.st.AppendMessage(rec)
}
