package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// DepsFunc builds the collaborators for one conversation. Each session gets
// its own push channel so closing one never disturbs another.
type DepsFunc func(peer string) (Deps, error)

// Manager keeps at most one open session per peer.
type Manager struct {
	opts Options
	deps DepsFunc

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(opts Options, deps DepsFunc) *Manager {
	return &Manager{opts: opts, deps: deps, sessions: make(map[string]*Session)}
}

// Open starts a session for peer. Opening a peer that is already open
// returns ErrAlreadyOpen together with the existing session.
func (m *Manager) Open(ctx context.Context, peer string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[peer]; ok {
		return s, ErrAlreadyOpen
	}
	deps, err := m.deps(peer)
	if err != nil {
		return nil, fmt.Errorf("session deps for %s: %w", peer, err)
	}
	s := New(peer, m.opts, deps)
	if err := s.Open(ctx); err != nil {
		return nil, err
	}
	m.sessions[peer] = s
	return s, nil
}

// Close closes and forgets the session for peer.
func (m *Manager) Close(peer string) error {
	m.mu.Lock()
	s, ok := m.sessions[peer]
	delete(m.sessions, peer)
	m.mu.Unlock()
	if !ok {
		return ErrNotOpen
	}
	return s.Close()
}

func (m *Manager) CloseAll() error {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var errs []error
	for _, s := range all {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Peer(), err))
		}
	}
	return errors.Join(errs...)
}

// Peers lists the open conversations in sorted order.
func (m *Manager) Peers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for p := range m.sessions {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
