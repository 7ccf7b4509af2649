package session

import (
	"sort"
	"sync"

	"github.com/chazu/hostrt/binding"
	"github.com/chazu/hostrt/browser"
	"github.com/chazu/hostrt/capability"
	"github.com/chazu/hostrt/codecache"
	"github.com/chazu/hostrt/metrics"
)

// Options configures a Manager.
type Options struct {
	Builder  *binding.Builder // required
	Cache    *codecache.Cache // required
	Metrics  *metrics.Metrics
	MaxDepth int // interpreter call depth limit, the vm default when zero
}

// Manager opens and tracks sessions.
type Manager struct {
	opts Options

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates a session manager.
func NewManager(opts Options) *Manager {
	return &Manager{
		opts:     opts,
		sessions: make(map[string]*Session),
	}
}

// Open creates a session emulating profile p.
func (m *Manager) Open(p capability.Profile, opts browser.WindowOptions) (*Session, error) {
	realm := m.opts.Builder.Acquire(p)
	s, err := newSession(m, realm, opts)
	if err != nil {
		m.opts.Builder.Release(realm)
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	m.opts.Metrics.SessionOpened()
	log.Info("opened session", "id", s.ID, "profile", p.String())
	return s, nil
}

// Get retrieves a session by id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Sessions lists open sessions, oldest first.
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool {
		if list[i].Created.Equal(list[j].Created) {
			return list[i].ID < list[j].ID
		}
		return list[i].Created.Before(list[j].Created)
	})
	return list
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close closes the session with the given id.
func (m *Manager) Close(id string) error {
	s, ok := m.Get(id)
	if !ok {
		return ErrNotFound
	}
	s.Close()
	return nil
}

// CloseAll closes every open session.
func (m *Manager) CloseAll() {
	for _, s := range m.Sessions() {
		s.Close()
	}
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.ID)
	m.mu.Unlock()
}
