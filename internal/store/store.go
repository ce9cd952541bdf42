// Package store persists sessions, messages and folders in a sqlite
// database. Records are flat rows; the session package owns the live
// in-memory model and writes through here.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("not found")

// SessionRecord is the persisted form of a session. Metadata and Todos
// are stored as JSON columns; the live model decodes them on load.
type SessionRecord struct {
	ID             string
	AgentSessionID string
	Title          string
	Cwd            string
	FolderID       string
	State          string
	Metadata       json.RawMessage
	Todos          json.RawMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MessageRecord is one finalized message row. Raw is the original wire
// line; Blocks is the rendered content-block list.
type MessageRecord struct {
	ID        string
	SessionID string
	Type      string
	Timestamp time.Time
	Raw       json.RawMessage
	Blocks    json.RawMessage
}

// FolderRecord groups sessions and supplies a default working directory
// for sessions created inside it.
type FolderRecord struct {
	ID         string
	Name       string
	DefaultCwd string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Store is the persistence surface the engine depends on.
type Store interface {
	UpsertSession(rec SessionRecord) error
	GetSession(id string) (SessionRecord, error)
	ListSessions() ([]SessionRecord, error)
	DeleteSession(id string) error

	AppendMessage(rec MessageRecord) error
	UpsertMessage(rec MessageRecord) error
	ListMessages(sessionID string) ([]MessageRecord, error)

	UpsertFolder(rec FolderRecord) error
	ListFolders() ([]FolderRecord, error)
	DeleteFolder(id string) error

	Close() error
}

// SQLite implements Store on a single database file.
type SQLite struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	agent_session_id TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	cwd TEXT NOT NULL DEFAULT '',
	folder_id TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL DEFAULT 'idle',
	metadata TEXT NOT NULL DEFAULT '{}',
	todos TEXT NOT NULL DEFAULT '[]',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	type TEXT NOT NULL,
	ts INTEGER NOT NULL,
	raw TEXT,
	blocks TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
CREATE TABLE IF NOT EXISTS folders (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	default_cwd TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Open opens (creating if needed) the database at path and applies the
// schema. WAL mode keeps writers from blocking the read paths.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) UpsertSession(rec SessionRecord) error {
	if rec.Metadata == nil {
		rec.Metadata = json.RawMessage("{}")
	}
	if rec.Todos == nil {
		rec.Todos = json.RawMessage("[]")
	}
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, agent_session_id, title, cwd, folder_id, state, metadata, todos, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agent_session_id=excluded.agent_session_id,
			title=excluded.title,
			cwd=excluded.cwd,
			folder_id=excluded.folder_id,
			state=excluded.state,
			metadata=excluded.metadata,
			todos=excluded.todos,
			updated_at=excluded.updated_at`,
		rec.ID, rec.AgentSessionID, rec.Title, rec.Cwd, rec.FolderID, rec.State,
		string(rec.Metadata), string(rec.Todos),
		rec.CreatedAt.UnixMilli(), rec.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLite) GetSession(id string) (SessionRecord, error) {
	row := s.db.QueryRow(`
		SELECT id, agent_session_id, title, cwd, folder_id, state, metadata, todos, created_at, updated_at
		FROM sessions WHERE id = ?`, id)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, ErrNotFound
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("get session %s: %w", id, err)
	}
	return rec, nil
}

func (s *SQLite) ListSessions() ([]SessionRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, agent_session_id, title, cwd, folder_id, state, metadata, todos, created_at, updated_at
		FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var recs []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (SessionRecord, error) {
	var rec SessionRecord
	var metadata, todos string
	var created, updated int64
	err := row.Scan(&rec.ID, &rec.AgentSessionID, &rec.Title, &rec.Cwd,
		&rec.FolderID, &rec.State, &metadata, &todos, &created, &updated)
	if err != nil {
		return SessionRecord{}, err
	}
	rec.Metadata = json.RawMessage(metadata)
	rec.Todos = json.RawMessage(todos)
	rec.CreatedAt = time.UnixMilli(created)
	rec.UpdatedAt = time.UnixMilli(updated)
	return rec, nil
}

func (s *SQLite) DeleteSession(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete session messages %s: %w", id, err)
	}
	if _, err := tx.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return tx.Commit()
}

// AppendMessage inserts one message row. A message append is a single
// INSERT so a concurrent crash can never half-write a session's history.
func (s *SQLite) AppendMessage(rec MessageRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO messages (id, session_id, type, ts, raw, blocks)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.Type, rec.Timestamp.UnixMilli(),
		nullableJSON(rec.Raw), string(orEmptyArray(rec.Blocks)))
	if err != nil {
		return fmt.Errorf("append message %s: %w", rec.ID, err)
	}
	return nil
}

// UpsertMessage replaces an existing row in place. Used when a terminal
// assistant message supersedes its streamed placeholder.
func (s *SQLite) UpsertMessage(rec MessageRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO messages (id, session_id, type, ts, raw, blocks)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type=excluded.type, raw=excluded.raw, blocks=excluded.blocks`,
		rec.ID, rec.SessionID, rec.Type, rec.Timestamp.UnixMilli(),
		nullableJSON(rec.Raw), string(orEmptyArray(rec.Blocks)))
	if err != nil {
		return fmt.Errorf("upsert message %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLite) ListMessages(sessionID string) ([]MessageRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, type, ts, raw, blocks
		FROM messages WHERE session_id = ? ORDER BY ts, rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var recs []MessageRecord
	for rows.Next() {
		var rec MessageRecord
		var raw sql.NullString
		var blocks string
		var ts int64
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Type, &ts, &raw, &blocks); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if raw.Valid {
			rec.Raw = json.RawMessage(raw.String)
		}
		rec.Blocks = json.RawMessage(blocks)
		rec.Timestamp = time.UnixMilli(ts)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *SQLite) UpsertFolder(rec FolderRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO folders (id, name, default_cwd, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, default_cwd=excluded.default_cwd, updated_at=excluded.updated_at`,
		rec.ID, rec.Name, rec.DefaultCwd, rec.CreatedAt.UnixMilli(), rec.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert folder %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLite) ListFolders() ([]FolderRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, name, default_cwd, created_at, updated_at
		FROM folders ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	var recs []FolderRecord
	for rows.Next() {
		var rec FolderRecord
		var created, updated int64
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.DefaultCwd, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		rec.CreatedAt = time.UnixMilli(created)
		rec.UpdatedAt = time.UnixMilli(updated)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// DeleteFolder removes the folder and detaches its sessions. The
// sessions themselves survive.
func (s *SQLite) DeleteFolder(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("delete folder %s: %w", id, err)
	}
	defer tx.Rollback()
	if _, err := tx.Exec(`UPDATE sessions SET folder_id = '' WHERE folder_id = ?`, id); err != nil {
		return fmt.Errorf("detach folder sessions %s: %w", id, err)
	}
	if _, err := tx.Exec(`DELETE FROM folders WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete folder %s: %w", id, err)
	}
	return tx.Commit()
}

func nullableJSON(raw json.RawMessage) any {
	if raw == nil {
		return nil
	}
	return string(raw)
}

func orEmptyArray(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return json.RawMessage("[]")
	}
	return raw
}
