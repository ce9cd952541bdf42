package server

import (
	"encoding/json"
	"log"
	"net/http"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chadjholmes/applaude/internal/images"
	"github.com/chadjholmes/applaude/internal/session"
	"github.com/chadjholmes/applaude/internal/settings"
)

// Server wires the hub to the registry and settings manager. It also
// implements session.Publisher, turning registry changes into broadcast
// events.
type Server struct {
	hub      *Hub
	registry *session.Registry
	settings *settings.Manager
	stateDir string
}

func New(hub *Hub, settingsMgr *settings.Manager, stateDir string) *Server {
	s := &Server{hub: hub, settings: settingsMgr, stateDir: stateDir}
	hub.handle = s.handleAction
	return s
}

// SetRegistry completes the wiring; the registry needs a publisher at
// construction, so this runs after both exist.
func (s *Server) SetRegistry(r *session.Registry) { s.registry = r }

// Handler returns the daemon's HTTP mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.hub.ServeWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/sessions", s.handleListSessions)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.registry.List()); err != nil {
		log.Printf("encode sessions: %v", err)
	}
}

// Publisher implementation.

type sessionExitEvent struct {
	SessionID string `json:"sessionId"`
	ExitCode  int    `json:"exitCode"`
}

type messageEvent struct {
	SessionID string           `json:"sessionId"`
	Message   *session.Message `json:"message"`
}

type progressEvent struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

func (s *Server) SessionUpdate(sess *session.Session) {
	s.hub.Broadcast("session.update", sess)
}

func (s *Server) MessageAppend(sessionID string, m *session.Message) {
	s.hub.Broadcast("message.append", messageEvent{SessionID: sessionID, Message: m})
}

func (s *Server) MessageStream(sessionID string, m *session.Message) {
	s.hub.Broadcast("message.stream", messageEvent{SessionID: sessionID, Message: m})
}

func (s *Server) SessionProgress(sessionID, message string) {
	s.hub.Broadcast("session.progress", progressEvent{SessionID: sessionID, Message: message})
}

func (s *Server) SessionExit(sessionID string, exitCode int) {
	s.hub.Broadcast("session.exit", sessionExitEvent{SessionID: sessionID, ExitCode: exitCode})
}

// Inbound actions.

type createAction struct {
	Cwd      string `json:"cwd"`
	FolderID string `json:"folderId"`
}

type sendAction struct {
	SessionID string              `json:"sessionId"`
	Text      string              `json:"text"`
	Images    []images.Attachment `json:"images,omitempty"`
}

type queueAction struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

type sessionAction struct {
	SessionID string `json:"sessionId"`
}

type permissionAction struct {
	SessionID string `json:"sessionId"`
	Allow     bool   `json:"allow"`
}

type inputAction struct {
	SessionID string `json:"sessionId"`
	Value     string `json:"value"`
}

type folderCreateAction struct {
	Name       string `json:"name"`
	DefaultCwd string `json:"defaultCwd"`
}

type folderAction struct {
	FolderID string `json:"folderId"`
}

type folderAssignAction struct {
	SessionID string `json:"sessionId"`
	FolderID  string `json:"folderId"`
}

func (s *Server) handleAction(c *client, env Envelope) {
	var err error
	switch env.Type {
	case "session.create":
		var a createAction
		if err = json.Unmarshal(env.Payload, &a); err == nil {
			_, err = s.registry.Create(a.Cwd, a.FolderID)
		}
	case "session.send":
		var a sendAction
		if err = json.Unmarshal(env.Payload, &a); err == nil {
			var paths []string
			paths, err = images.WriteAll(filepath.Join(s.stateDir, "images"), a.Images)
			if err == nil {
				err = s.registry.SendMessage(a.SessionID, a.Text, paths)
			}
		}
	case "session.queue":
		var a queueAction
		if err = json.Unmarshal(env.Payload, &a); err == nil {
			err = s.registry.QueueMessage(a.SessionID, a.Text)
		}
	case "session.delete":
		var a sessionAction
		if err = json.Unmarshal(env.Payload, &a); err == nil {
			err = s.registry.Delete(a.SessionID)
		}
	case "session.set_active":
		var a sessionAction
		if err = json.Unmarshal(env.Payload, &a); err == nil {
			s.registry.SetActive(a.SessionID)
		}
	case "permission.respond":
		var a permissionAction
		if err = json.Unmarshal(env.Payload, &a); err == nil {
			err = s.registry.RespondToPermission(a.SessionID, a.Allow)
		}
	case "input.respond":
		var a inputAction
		if err = json.Unmarshal(env.Payload, &a); err == nil {
			err = s.registry.RespondToInput(a.SessionID, a.Value)
		}
	case "folder.create":
		var a folderCreateAction
		if err = json.Unmarshal(env.Payload, &a); err == nil {
			var rec any
			rec, err = s.registry.CreateFolder(a.Name, a.DefaultCwd)
			if err == nil {
				s.hub.sendTo(c, "folder.created", rec)
			}
		}
	case "folder.delete":
		var a folderAction
		if err = json.Unmarshal(env.Payload, &a); err == nil {
			err = s.registry.DeleteFolder(a.FolderID)
		}
	case "folder.assign":
		var a folderAssignAction
		if err = json.Unmarshal(env.Payload, &a); err == nil {
			err = s.registry.AssignFolder(a.SessionID, a.FolderID)
		}
	case "settings.update":
		var next settings.Settings
		if err = json.Unmarshal(env.Payload, &next); err == nil {
			err = s.settings.Save(next)
		}
	default:
		s.hub.sendTo(c, "error", map[string]string{"message": "unknown action " + env.Type})
		return
	}

	if err != nil {
		log.Printf("action %s: %v", env.Type, err)
		s.hub.sendTo(c, "error", map[string]string{"message": err.Error()})
	}
}
