package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vadim/dealroom/internal/domain/deal/dispatcher"
	"github.com/vadim/dealroom/internal/domain/deal/entity"
	"github.com/vadim/dealroom/internal/domain/deal/store"
)

// Loader provides the initial conversations and messages of a viewer
type Loader interface {
	Load(ctx context.Context, viewer store.Viewer) ([]entity.Conversation, []entity.Message, error)
}

// LoaderFunc adapts a function to Loader
type LoaderFunc func(ctx context.Context, viewer store.Viewer) ([]entity.Conversation, []entity.Message, error)

// Load calls f
func (f LoaderFunc) Load(ctx context.Context, viewer store.Viewer) ([]entity.Conversation, []entity.Message, error) {
	return f(ctx, viewer)
}

// ObserverFactory builds the store observer of a new session
type ObserverFactory func(viewer store.Viewer) store.Observer

// Session is one logged-in user's engine: the store and its dispatcher
type Session struct {
	Store      *store.Store
	Dispatcher *dispatcher.Dispatcher
	OpenedAt   time.Time
}

// Viewer returns the identity the session belongs to
func (s *Session) Viewer() store.Viewer {
	return s.Store.Viewer()
}

// Manager maps user ids to open sessions
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	loader       Loader
	observers    []ObserverFactory
	dispatchOpts []dispatcher.Option
	now          func() time.Time
	logger       *slog.Logger
}

// Option configures the Manager
type Option func(*Manager)

// WithLoader sets where new sessions get their data from
func WithLoader(l Loader) Option {
	return func(m *Manager) {
		m.loader = l
	}
}

// WithObserver attaches an observer to every new session's store
func WithObserver(f ObserverFactory) Option {
	return func(m *Manager) {
		m.observers = append(m.observers, f)
	}
}

// WithDispatcherOptions passes options to every session's dispatcher
func WithDispatcherOptions(opts ...dispatcher.Option) Option {
	return func(m *Manager) {
		m.dispatchOpts = append(m.dispatchOpts, opts...)
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a session manager
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open returns the viewer's session, creating and loading it on first use.
// A session opened with a different role is replaced.
func (m *Manager) Open(ctx context.Context, viewer store.Viewer) (*Session, error) {
	if viewer.UserID == "" || !viewer.Role.IsValid() {
		return nil, entity.ErrUnauthorized
	}

	m.mu.Lock()
	if s, ok := m.sessions[viewer.UserID]; ok && s.Viewer().Role == viewer.Role {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	var conversations []entity.Conversation
	var messages []entity.Message
	if m.loader != nil {
		var err error
		conversations, messages, err = m.loader.Load(ctx, viewer)
		if err != nil {
			return nil, fmt.Errorf("loading session data: %w", err)
		}
	}

	storeOpts := []store.Option{store.WithClock(m.now)}
	for _, f := range m.observers {
		if o := f(viewer); o != nil {
			storeOpts = append(storeOpts, store.WithObserver(o))
		}
	}
	st := store.New(viewer, storeOpts...)
	st.Load(conversations, messages)

	dispatchOpts := append([]dispatcher.Option{
		dispatcher.WithClock(m.now),
		dispatcher.WithLogger(m.logger),
	}, m.dispatchOpts...)

	s := &Session{
		Store:      st,
		Dispatcher: dispatcher.New(st, dispatchOpts...),
		OpenedAt:   m.now(),
	}

	m.mu.Lock()
	// another request may have opened it while we were loading
	replaced, ok := m.sessions[viewer.UserID]
	if ok && replaced.Viewer().Role == viewer.Role {
		m.mu.Unlock()
		return replaced, nil
	}
	m.sessions[viewer.UserID] = s
	m.mu.Unlock()

	if replaced != nil {
		replaced.Store.Reset()
		m.logger.Info("session replaced", "user_id", viewer.UserID, "previous_role", replaced.Viewer().Role)
	}
	m.logger.Info("session opened",
		"user_id", viewer.UserID,
		"role", viewer.Role,
		"conversations", len(conversations),
	)
	return s, nil
}

// Get returns an open session
func (m *Manager) Get(userID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		return nil, entity.ErrSessionClosed
	}
	return s, nil
}

// Close resets and drops a session. Closing an unknown session is a no-op.
func (m *Manager) Close(userID string) bool {
	m.mu.Lock()
	s, ok := m.sessions[userID]
	delete(m.sessions, userID)
	m.mu.Unlock()

	if !ok {
		return false
	}
	s.Store.Reset()
	m.logger.Info("session closed", "user_id", userID)
	return true
}

// Sweep closes sessions not used within idleFor and returns their user ids
func (m *Manager) Sweep(idleFor time.Duration) []string {
	cutoff := m.now().Add(-idleFor)

	m.mu.Lock()
	var idle []string
	for id, s := range m.sessions {
		if s.Store.Touched().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	m.mu.Unlock()

	var closed []string
	for _, id := range idle {
		if m.Close(id) {
			closed = append(closed, id)
		}
	}
	return closed
}

// Count returns the number of open sessions
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// DeliverMessage hands a message produced in another session to the
// recipient's open session. It reports whether a session took it.
func (m *Manager) DeliverMessage(userID string, msg entity.Message) (bool, error) {
	s, err := m.Get(userID)
	if err != nil {
		return false, nil
	}
	if err := s.Store.DeliverMessage(msg); err != nil {
		return false, err
	}
	return true, nil
}

// DeliverState mirrors a transaction state reached in another session
func (m *Manager) DeliverState(userID, conversationID string, state entity.TransactionState) (bool, error) {
	s, err := m.Get(userID)
	if err != nil {
		return false, nil
	}
	if err := s.Store.ApplyRemoteState(conversationID, state); err != nil {
		return false, err
	}
	return true, nil
}
