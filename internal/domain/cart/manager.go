package cart

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Manager hands out one Store per session, creating it lazily from the
// persisted snapshot on first use.
type Manager struct {
	repo   Repository
	logger zerolog.Logger

	mu     sync.Mutex
	stores map[string]*Store
	onInit func(*Store)
}

// NewManager creates a Manager backed by repo. onInit, when non-nil, runs
// once for every newly created store; the server uses it to wire event
// subscribers.
func NewManager(repo Repository, logger zerolog.Logger, onInit func(*Store)) *Manager {
	return &Manager{
		repo:   repo,
		logger: logger,
		stores: make(map[string]*Store),
		onInit: onInit,
	}
}

// For returns the store for a session, creating it on first use.
func (m *Manager) For(ctx context.Context, session string) *Store {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.stores[session]; ok {
		return s
	}
	s := NewStore(ctx, session, m.repo, m.logger)
	m.stores[session] = s
	if m.onInit != nil {
		m.onInit(s)
	}
	return s
}
