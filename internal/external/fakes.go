package external

import (
	"sync"

	"github.com/cc-spec/agentsup/internal/config"
)

// InMemoryProjectRegistry is a test double for ProjectRegistry: every
// project root added via Register is considered registered.
type InMemoryProjectRegistry struct {
	mu        sync.Mutex
	projects  map[string]bool
	allowAll  bool
}

// NewInMemoryProjectRegistry returns a registry with nothing registered.
func NewInMemoryProjectRegistry() *InMemoryProjectRegistry {
	return &InMemoryProjectRegistry{projects: make(map[string]bool)}
}

// AllowAll makes IsRegistered report true for any project root, useful
// when a test only cares about the init-sentinel precondition.
func (r *InMemoryProjectRegistry) AllowAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allowAll = true
}

// Register marks projectRoot as registered.
func (r *InMemoryProjectRegistry) Register(projectRoot string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.projects[projectRoot] = true
}

// IsRegistered implements ProjectRegistry.
func (r *InMemoryProjectRegistry) IsRegistered(projectRoot string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allowAll || r.projects[projectRoot]
}

// InMemorySettingsStore is a test double for SettingsStore, wrapping a
// plain Settings value under a mutex rather than config.Manager's on-disk
// file and fsnotify watch.
type InMemorySettingsStore struct {
	mu       sync.Mutex
	settings config.Settings
}

// NewInMemorySettingsStore seeds the store with config.Default().
func NewInMemorySettingsStore() *InMemorySettingsStore {
	return &InMemorySettingsStore{settings: config.Default()}
}

func (s *InMemorySettingsStore) Get() config.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

func (s *InMemorySettingsStore) Set(v config.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = v
	return nil
}
