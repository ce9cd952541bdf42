package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var fallback = Settings{
	DefaultModel:          "claude-sonnet-4",
	DefaultPermissionMode: "default",
	DefaultCwd:            "/home/u",
}

func TestLoadMissingFileUsesFallback(t *testing.T) {
	m := NewManager(filepath.Join(t.TempDir(), "settings.yaml"), fallback)
	if err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Current() != fallback {
		t.Fatalf("got %+v", m.Current())
	}
}

func TestLoadFillsEmptyFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("defaultModel: claude-opus-4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := NewManager(path, fallback)
	if err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := m.Current()
	if got.DefaultModel != "claude-opus-4" {
		t.Fatalf("model: %q", got.DefaultModel)
	}
	if got.DefaultPermissionMode != "default" || got.DefaultCwd != "/home/u" {
		t.Fatalf("fallback fields: %+v", got)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	m := NewManager(path, fallback)
	want := Settings{DefaultModel: "claude-opus-4", DefaultPermissionMode: "acceptEdits", DefaultCwd: "/srv"}
	if err := m.Save(want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if m.Current() != want {
		t.Fatalf("current: %+v", m.Current())
	}

	m2 := NewManager(path, fallback)
	if err := m2.Load(); err != nil {
		t.Fatal(err)
	}
	if m2.Current() != want {
		t.Fatalf("reloaded: %+v", m2.Current())
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	m := NewManager(path, fallback)
	if err := m.Load(); err != nil {
		t.Fatal(err)
	}

	changed := make(chan Settings, 1)
	m.OnChange(func(s Settings) {
		select {
		case changed <- s:
		default:
		}
	})
	if err := m.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer m.Close()

	if err := os.WriteFile(path, []byte("defaultModel: claude-opus-4\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-changed:
		if got.DefaultModel != "claude-opus-4" {
			t.Fatalf("reloaded: %+v", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reload never fired")
	}
	if m.Current().DefaultModel != "claude-opus-4" {
		t.Fatalf("current: %+v", m.Current())
	}
}
