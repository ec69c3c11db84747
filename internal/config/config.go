// Package config loads and persists the supervisor's closed settings
// record and watches it for hot-reloadable edits.
package config

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/cc-spec/agentsup/internal/logger"
)

// Settings is the closed configuration record persisted to disk.
// UITheme, UILanguage and TranslationCacheEnabled are owned by external
// collaborators (the GUI theme/i18n layer and the translation model
// manager); this module loads and round-trips them but never interprets
// them itself.
type Settings struct {
	Port                    uint16 `yaml:"port" json:"port"` // 0 = OS-assigned
	LimitC                  int    `yaml:"limit_c" json:"limit_c"`
	LimitX                  int    `yaml:"limit_x" json:"limit_x"`
	GlobalCap               int    `yaml:"global_cap" json:"global_cap"`               // default 6
	PeerBinaryPath          string `yaml:"peer_binary_path" json:"peer_binary_path"`   // "auto" or absolute
	AgentBinaryPath         string `yaml:"agent_binary_path" json:"agent_binary_path"` // "auto" or absolute
	TranslationCacheEnabled bool   `yaml:"translation_cache_enabled" json:"translation_cache_enabled"`
	UITheme                 string `yaml:"ui_theme" json:"ui_theme"`
	UILanguage              string `yaml:"ui_language" json:"ui_language"`
}

// Default returns the settings baseline used when no settings file exists.
func Default() Settings {
	return Settings{
		Port:            0,
		LimitC:          3,
		LimitX:          3,
		GlobalCap:       6,
		PeerBinaryPath:  "auto",
		AgentBinaryPath: "auto",
		UITheme:         "default",
		UILanguage:      "en",
	}
}

// Manager owns the on-disk settings file, a read/write mutex guarding it,
// and an optional fsnotify watch that reloads limits when the file is
// edited out of band (e.g. by a second supervisor instance or by hand).
type Manager struct {
	path string

	mu       sync.RWMutex
	settings Settings

	watcher *fsnotify.Watcher
	onLimitsChanged func(limitC, limitX, globalCap int)
}

// NewManager loads settings from path, creating a default file if absent.
func NewManager(path string) (*Manager, error) {
	m := &Manager{path: path, settings: Default()}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) load() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return m.saveLocked(Default())
		}
		return err
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return err
	}
	if s.GlobalCap <= 0 {
		s.GlobalCap = Default().GlobalCap
	}
	m.mu.Lock()
	m.settings = s
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current settings.
func (m *Manager) Get() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// Set persists new settings and notifies the admission controller hook (if
// registered) that limits may have changed.
func (m *Manager) Set(s Settings) error {
	m.mu.Lock()
	prev := m.settings
	err := m.saveLocked(s)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if m.onLimitsChanged != nil && (s.LimitC != prev.LimitC || s.LimitX != prev.LimitX || s.GlobalCap != prev.GlobalCap) {
		m.onLimitsChanged(s.LimitC, s.LimitX, s.GlobalCap)
	}
	return nil
}

// saveLocked assumes m.mu is held for writing.
func (m *Manager) saveLocked(s Settings) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	if err := os.WriteFile(m.path, data, 0644); err != nil {
		return err
	}
	m.settings = s
	return nil
}

// OnLimitsChanged registers a callback invoked whenever limit_c, limit_x or
// global_cap change, whether via Set or a file-system watch event.
func (m *Manager) OnLimitsChanged(fn func(limitC, limitX, globalCap int)) {
	m.onLimitsChanged = fn
}

// Watch starts an fsnotify watch on the settings file so edits made by
// another process are picked up without a restart. Only limit_c, limit_x
// and global_cap changes trigger the registered callback; the GUI-owned
// fields (theme, language, translation cache) are simply re-read on the
// next Get().
func (m *Manager) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		w.Close()
		return err
	}
	m.watcher = w
	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(m.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				prev := m.Get()
				if err := m.load(); err != nil {
					logger.Log.Warn("config: reload failed", "error", err)
					continue
				}
				s := m.Get()
				limitsChanged := s.LimitC != prev.LimitC || s.LimitX != prev.LimitX || s.GlobalCap != prev.GlobalCap
				if m.onLimitsChanged != nil && limitsChanged {
					m.onLimitsChanged(s.LimitC, s.LimitX, s.GlobalCap)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Log.Warn("config: watch error", "error", err)
			}
		}
	}()
	return nil
}

// Close stops the fsnotify watch, if running.
func (m *Manager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}
