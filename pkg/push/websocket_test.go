package push

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prizmhq/prizm-client/pkg/bus"
)

func TestDecodeEvent(t *testing.T) {
	evt, err := decodeEvent([]byte(`{"type":"note.updated","payload":{"id":"n1","scope":"work"}}`))
	require.NoError(t, err)
	assert.Equal(t, bus.EventNoteUpdated, evt.Type)
	assert.Equal(t, "n1", evt.Payload.ID)
	assert.Equal(t, "work", evt.Payload.Scope)

	_, err = decodeEvent([]byte(`{"payload":{"id":"n1"}}`))
	assert.Error(t, err, "missing type")

	_, err = decodeEvent([]byte(`{not json`))
	assert.Error(t, err)
}

type collector struct {
	mu     sync.Mutex
	events []bus.Event
}

func (c *collector) handle(evt bus.Event) {
	c.mu.Lock()
	c.events = append(c.events, evt)
	c.mu.Unlock()
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *collector) get(i int) bus.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[i]
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketDeliversEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var gotAuth, gotPanel atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth.Store(r.Header.Get("Authorization"))
		gotPanel.Store(r.Header.Get("X-Prizm-Panel"))
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		frames := []string{
			`{"type":"document.created","payload":{"id":"d1","scope":"work"}}`,
			`{broken`,
			`{"type":"clipboard.updated","payload":{"scope":"work"}}`,
		}
		for _, f := range frames {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(f)))
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	b := bus.New()
	col := &collector{}
	b.Subscribe(col.handle)

	source := NewWebSocket(wsURL(srv), "pk-test", b, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go source.Run(ctx)

	require.Eventually(t, func() bool { return col.len() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, bus.EventDocumentCreated, col.get(0).Type)
	assert.Equal(t, "d1", col.get(0).Payload.ID)
	assert.Equal(t, bus.EventClipboardUpdated, col.get(1).Type)
	assert.Equal(t, "Bearer pk-test", gotAuth.Load())
	assert.Equal(t, "true", gotPanel.Load())
}

func TestWebSocketReconnectsAfterDrop(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var conns atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := conns.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		if n == 1 {
			// First connection drops immediately after one event.
			conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"note.created","payload":{"id":"n1"}}`))
			conn.Close()
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"note.updated","payload":{"id":"n1"}}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	b := bus.New()
	col := &collector{}
	b.Subscribe(col.handle)

	var reconnects atomic.Int32
	source := NewWebSocket(wsURL(srv), "", b, nil)
	source.OnReconnect = func() { reconnects.Add(1) }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go source.Run(ctx)

	require.Eventually(t, func() bool { return col.len() == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, bus.EventNoteCreated, col.get(0).Type)
	assert.Equal(t, bus.EventNoteUpdated, col.get(1).Type)
	assert.GreaterOrEqual(t, reconnects.Load(), int32(1))
	assert.GreaterOrEqual(t, conns.Load(), int32(2))
}

func TestWebSocketRunStopsOnCancel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	source := NewWebSocket(wsURL(srv), "", bus.New(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- source.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
