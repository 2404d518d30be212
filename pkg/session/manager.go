// Package session manages the resident chat engines of a scope. Opening a
// session activates (or builds) its engine in the keep-alive pool; the pool
// bounds how many engines stay warm, and pruning drops engines whose
// sessions no longer exist server-side.
package session

import (
	"context"

	"github.com/prizmhq/prizm-client/pkg/api"
	"github.com/prizmhq/prizm-client/pkg/bus"
	"github.com/prizmhq/prizm-client/pkg/chat"
	prizmerrors "github.com/prizmhq/prizm-client/pkg/errors"
	"github.com/prizmhq/prizm-client/pkg/keepalive"
	"github.com/prizmhq/prizm-client/pkg/logging"
)

// Client is the slice of the request client the manager needs: the chat
// stream plus session CRUD.
type Client interface {
	chat.Streamer
	GetAgentSession(ctx context.Context, id, scope string) (*api.Session, error)
	CreateAgentSession(ctx context.Context, scope string) (*api.Session, error)
	ListAgentSessions(ctx context.Context, scope string) ([]api.Session, error)
}

// Options configures optional collaborators.
type Options struct {
	Logger *logging.Logger
	Bus    *bus.Bus
	// MaxResident bounds the keep-alive pool; <= 0 means the default.
	MaxResident int
	// OnChange is handed to every engine the manager builds.
	OnChange func()
}

// Manager owns the engines of one scope. Methods are called from the UI
// event loop; the pool itself is safe for concurrent use.
type Manager struct {
	client Client
	scope  string
	pool   *keepalive.Pool

	logger   *logging.Logger
	bus      *bus.Bus
	onChange func()
}

// NewManager creates a manager for the given scope.
func NewManager(client Client, scope string, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Manager{
		client:   client,
		scope:    scope,
		pool:     keepalive.New(opts.MaxResident, logger),
		logger:   logger,
		bus:      opts.Bus,
		onChange: opts.OnChange,
	}
}

// Open returns the engine for a session, fetching the session and building
// the engine if it is not already resident. The opened session becomes the
// most recently used one.
func (m *Manager) Open(ctx context.Context, sessionID string) (*chat.Engine, error) {
	if entry, ok := m.pool.Get(sessionID); ok {
		return m.pool.Activate(entry).(*chat.Engine), nil
	}

	record, err := m.client.GetAgentSession(ctx, sessionID, m.scope)
	if err != nil {
		return nil, prizmerrors.Wrap(err, prizmerrors.ErrCodeFetchFailed, "load session "+sessionID)
	}
	return m.admit(record), nil
}

// Create starts a fresh session and makes its engine resident.
func (m *Manager) Create(ctx context.Context) (*chat.Engine, error) {
	record, err := m.client.CreateAgentSession(ctx, m.scope)
	if err != nil {
		return nil, prizmerrors.Wrap(err, prizmerrors.ErrCodeFetchFailed, "create session")
	}
	return m.admit(record), nil
}

func (m *Manager) admit(record *api.Session) *chat.Engine {
	engine := chat.New(m.client, record, m.scope, chat.Options{
		Logger:   m.logger,
		Bus:      m.bus,
		OnChange: m.onChange,
	})
	return m.pool.Activate(engine).(*chat.Engine)
}

// Active returns the most recently used engine, or nil when none is
// resident.
func (m *Manager) Active() *chat.Engine {
	entry := m.pool.Active()
	if entry == nil {
		return nil
	}
	return entry.(*chat.Engine)
}

// ResidentIDs returns the resident session ids, most recent first.
func (m *Manager) ResidentIDs() []string {
	return m.pool.SessionIDs()
}

// Prune lists the scope's sessions and drops engines whose sessions are
// gone or archived.
func (m *Manager) Prune(ctx context.Context) error {
	sessions, err := m.client.ListAgentSessions(ctx, m.scope)
	if err != nil {
		return prizmerrors.Wrap(err, prizmerrors.ErrCodeFetchFailed, "list sessions")
	}

	alive := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		if s.Status == api.SessionStatusActive {
			alive[s.ID] = true
		}
	}
	m.pool.Prune(func(id string) bool { return alive[id] })
	return nil
}

// Close tears down every resident engine.
func (m *Manager) Close() {
	m.pool.Close()
}
