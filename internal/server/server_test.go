package server

import (
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chadjholmes/applaude/internal/proc"
	"github.com/chadjholmes/applaude/internal/protocol"
	"github.com/chadjholmes/applaude/internal/session"
	"github.com/chadjholmes/applaude/internal/settings"
	"github.com/chadjholmes/applaude/internal/store"
)

// recordingRunner satisfies session.ProcessRunner without spawning
// anything.
type recordingRunner struct {
	starts []proc.StartOptions
	onData proc.DataHandler
	onExit proc.ExitHandler
}

func (r *recordingRunner) SetDataHandler(h proc.DataHandler) { r.onData = h }
func (r *recordingRunner) SetExitHandler(h proc.ExitHandler) { r.onExit = h }

func (r *recordingRunner) Start(opts proc.StartOptions) string {
	r.starts = append(r.starts, opts)
	return uuid.New().String()
}

func (r *recordingRunner) SendInput(processID, text string) error     { return nil }
func (r *recordingRunner) SendControlKey(processID, key string) error { return nil }
func (r *recordingRunner) Kill(processID string)                      {}
func (r *recordingRunner) KillAll()                                   {}

func newTestServer(t *testing.T) (*session.Registry, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	mgr := settings.NewManager(filepath.Join(dir, "settings.yaml"), settings.Settings{
		DefaultModel:          "claude-sonnet-4",
		DefaultPermissionMode: "default",
		DefaultCwd:            dir,
	})
	hub := NewHub()
	srv := New(hub, mgr, dir)
	reg := session.NewRegistry(&recordingRunner{}, protocol.NewAssembler(), st, srv, func() session.Defaults {
		s := mgr.Current()
		return session.Defaults{Model: s.DefaultModel, PermissionMode: s.DefaultPermissionMode, Cwd: s.DefaultCwd}
	})
	srv.SetRegistry(reg)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return reg, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeAction(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	frame, _ := json.Marshal(Envelope{Type: msgType, Payload: data})
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatal(err)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn, wantType string) Envelope {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", wantType, err)
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("bad frame: %s", data)
		}
		if env.Type == wantType {
			return env
		}
	}
}

func TestCreateActionBroadcastsUpdate(t *testing.T) {
	reg, ts := newTestServer(t)
	conn := dial(t, ts)

	writeAction(t, conn, "session.create", map[string]string{})

	env := readEnvelope(t, conn, "session.update")
	var sess session.Session
	if err := json.Unmarshal(env.Payload, &sess); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if sess.State != session.StateIdle {
		t.Fatalf("state: %s", sess.State)
	}
	if reg.Get(sess.ID) == nil {
		t.Fatal("session not registered")
	}
}

func TestSendActionAppendsMessage(t *testing.T) {
	reg, ts := newTestServer(t)
	conn := dial(t, ts)

	s, err := reg.Create("", "")
	if err != nil {
		t.Fatal(err)
	}
	writeAction(t, conn, "session.send", map[string]any{"sessionId": s.ID, "text": "hello there"})

	env := readEnvelope(t, conn, "message.append")
	var event struct {
		SessionID string           `json:"sessionId"`
		Message   *session.Message `json:"message"`
	}
	if err := json.Unmarshal(env.Payload, &event); err != nil {
		t.Fatal(err)
	}
	if event.SessionID != s.ID || event.Message.Type != "user" {
		t.Fatalf("event: %+v", event)
	}
}

func TestUnknownActionReturnsError(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)

	writeAction(t, conn, "nope.nothing", map[string]string{})
	env := readEnvelope(t, conn, "error")
	if !strings.Contains(string(env.Payload), "unknown action") {
		t.Fatalf("payload: %s", env.Payload)
	}
}

func TestSettingsUpdateAction(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dial(t, ts)

	writeAction(t, conn, "settings.update", settings.Settings{
		DefaultModel:          "claude-opus-4",
		DefaultPermissionMode: "acceptEdits",
		DefaultCwd:            "/srv",
	})
	// Settle: an error frame would arrive instead of silence.
	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, data, err := conn.ReadMessage(); err == nil {
		var env Envelope
		json.Unmarshal(data, &env)
		if env.Type == "error" {
			t.Fatalf("error: %s", env.Payload)
		}
	}
}

func TestListSessionsRoute(t *testing.T) {
	reg, ts := newTestServer(t)
	if _, err := reg.Create("", ""); err != nil {
		t.Fatal(err)
	}

	resp, err := ts.Client().Get(ts.URL + "/sessions")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var sessions []session.Session
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions", len(sessions))
	}
}

func TestHealthz(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := ts.Client().Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status: %d", resp.StatusCode)
	}
}
