package session

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prizmhq/prizm-client/pkg/api"
)

type fakeClient struct {
	mu       sync.Mutex
	sessions map[string]api.Session
	nextID   int
	getCalls int
}

func newFakeClient(ids ...string) *fakeClient {
	f := &fakeClient{sessions: map[string]api.Session{}}
	for _, id := range ids {
		f.sessions[id] = api.Session{ID: id, Status: api.SessionStatusActive}
	}
	return f
}

func (f *fakeClient) StreamChat(ctx context.Context, sessionID, content, scope string, onChunk api.ChunkHandler) error {
	return nil
}

func (f *fakeClient) StopAgentChat(ctx context.Context, sessionID, scope string) error {
	return nil
}

func (f *fakeClient) AppendSessionMessages(ctx context.Context, id string, messages []api.Message, scope string) error {
	return nil
}

func (f *fakeClient) GetAgentSession(ctx context.Context, id, scope string) (*api.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	s, ok := f.sessions[id]
	if !ok {
		return nil, &api.APIError{StatusCode: 404, Message: "session not found"}
	}
	return &s, nil
}

func (f *fakeClient) CreateAgentSession(ctx context.Context, scope string) (*api.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	s := api.Session{ID: fmt.Sprintf("s%d", f.nextID), Status: api.SessionStatusActive, Scope: scope}
	f.sessions[s.ID] = s
	return &s, nil
}

func (f *fakeClient) ListAgentSessions(ctx context.Context, scope string) ([]api.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]api.Session, 0, len(f.sessions))
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeClient) archive(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.sessions[id]
	s.Status = api.SessionStatusArchived
	f.sessions[id] = s
}

func TestOpenBuildsAndReusesEngine(t *testing.T) {
	client := newFakeClient("a")
	m := NewManager(client, "work", Options{})
	defer m.Close()

	first, err := m.Open(context.Background(), "a")
	require.NoError(t, err)
	again, err := m.Open(context.Background(), "a")
	require.NoError(t, err)

	assert.Same(t, first, again, "resident engine is reused")
	assert.Equal(t, 1, client.getCalls, "no refetch for a resident session")
	assert.Same(t, first, m.Active())
}

func TestOpenUnknownSessionFails(t *testing.T) {
	m := NewManager(newFakeClient(), "work", Options{})
	defer m.Close()

	_, err := m.Open(context.Background(), "ghost")
	assert.Error(t, err)
}

func TestResidencyIsBounded(t *testing.T) {
	client := newFakeClient("a", "b", "c", "d")
	m := NewManager(client, "work", Options{MaxResident: 3})
	defer m.Close()

	for _, id := range []string{"a", "b", "c", "d"} {
		_, err := m.Open(context.Background(), id)
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"d", "c", "b"}, m.ResidentIDs())
	assert.Equal(t, "d", m.Active().SessionID())
}

func TestCreateMakesSessionActive(t *testing.T) {
	client := newFakeClient()
	m := NewManager(client, "work", Options{})
	defer m.Close()

	engine, err := m.Create(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "s1", engine.SessionID())
	assert.Equal(t, []string{"s1"}, m.ResidentIDs())
}

func TestPruneDropsArchivedSessions(t *testing.T) {
	client := newFakeClient("a", "b")
	m := NewManager(client, "work", Options{})
	defer m.Close()

	_, err := m.Open(context.Background(), "a")
	require.NoError(t, err)
	_, err = m.Open(context.Background(), "b")
	require.NoError(t, err)

	client.archive("a")
	require.NoError(t, m.Prune(context.Background()))

	assert.Equal(t, []string{"b"}, m.ResidentIDs())
}
