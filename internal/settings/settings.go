// Package settings manages the user-tunable defaults file and reloads
// it when it changes on disk, so edits made while the daemon runs take
// effect without a restart.
package settings

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Settings are the per-user defaults applied to new invocations.
type Settings struct {
	DefaultModel          string `yaml:"defaultModel"`
	DefaultPermissionMode string `yaml:"defaultPermissionMode"`
	DefaultCwd            string `yaml:"defaultCwd"`
}

// Manager loads the settings file and keeps the in-memory copy fresh.
type Manager struct {
	path     string
	fallback Settings

	mu      sync.RWMutex
	current Settings

	watcher  *fsnotify.Watcher
	onChange func(Settings)
	done     chan struct{}
}

func NewManager(path string, fallback Settings) *Manager {
	return &Manager{path: path, fallback: fallback, current: fallback}
}

// Load reads the settings file. A missing file is not an error; the
// fallback stays in effect. Fields left empty in the file also fall
// back.
func (m *Manager) Load() error {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		m.mu.Lock()
		m.current = m.fallback
		m.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}

	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("parse settings: %w", err)
	}
	if s.DefaultModel == "" {
		s.DefaultModel = m.fallback.DefaultModel
	}
	if s.DefaultPermissionMode == "" {
		s.DefaultPermissionMode = m.fallback.DefaultPermissionMode
	}
	if s.DefaultCwd == "" {
		s.DefaultCwd = m.fallback.DefaultCwd
	}

	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
	return nil
}

// Current returns the active settings.
func (m *Manager) Current() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Save writes settings to disk and makes them current. The watcher's
// reload of our own write is harmless.
func (m *Manager) Save(s Settings) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
	return nil
}

// OnChange registers a callback fired after each successful reload.
// Must be set before Watch.
func (m *Manager) OnChange(fn func(Settings)) { m.onChange = fn }

const reloadDebounce = 200 * time.Millisecond

// Watch starts watching the settings file's directory. Editors replace
// files by rename, so watching the directory catches writes the file
// watch would miss. Reloads are debounced.
func (m *Manager) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		watcher.Close()
		return fmt.Errorf("create settings dir: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	m.watcher = watcher
	m.done = make(chan struct{})

	go m.loop()
	return nil
}

func (m *Manager) loop() {
	var timer *time.Timer
	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(m.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, m.reload)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("settings watcher: %v", err)
		case <-m.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (m *Manager) reload() {
	if err := m.Load(); err != nil {
		log.Printf("settings reload: %v", err)
		return
	}
	if m.onChange != nil {
		m.onChange(m.Current())
	}
}

// Close stops the watcher.
func (m *Manager) Close() {
	if m.watcher != nil {
		close(m.done)
		m.watcher.Close()
	}
}
