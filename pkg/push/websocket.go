package push

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/prizmhq/prizm-client/pkg/bus"
	"github.com/prizmhq/prizm-client/pkg/logging"
	"github.com/prizmhq/prizm-client/pkg/telemetry"
)

const (
	initialRedialWait = time.Second
	maxRedialWait     = 30 * time.Second
	wsReadLimit       = 1 << 20 // change events are small; anything bigger is garbage
)

// WebSocketSource consumes the server's websocket event feed.
type WebSocketSource struct {
	url    string
	apiKey string
	bus    *bus.Bus
	logger *logging.Logger

	// OnReconnect fires after a connection is re-established following a
	// drop. Events may have been missed in the gap, so the wiring uses it
	// to force a resync.
	OnReconnect func()

	dialer *websocket.Dialer
}

// NewWebSocket creates a source for the given ws:// URL.
func NewWebSocket(url, apiKey string, b *bus.Bus, logger *logging.Logger) *WebSocketSource {
	if logger == nil {
		logger = logging.Nop()
	}
	return &WebSocketSource{
		url:    url,
		apiKey: apiKey,
		bus:    b,
		logger: logger,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

// Run connects and republishes events until ctx is cancelled, redialing with
// exponential backoff whenever the connection drops.
func (s *WebSocketSource) Run(ctx context.Context) error {
	wait := initialRedialWait
	connectedOnce := false

	for {
		conn, err := s.dial(ctx)
		if err != nil {
			s.logger.Warn(logging.CategoryPush, "dial_failed", err.Error(), map[string]any{"url": s.url})
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			wait = min(wait*2, maxRedialWait)
			telemetry.PushReconnects.Inc()
			continue
		}
		wait = initialRedialWait

		if connectedOnce && s.OnReconnect != nil {
			s.OnReconnect()
		}
		connectedOnce = true
		s.logger.Info(logging.CategoryPush, "connected", "", map[string]any{"url": s.url})

		if err := s.readLoop(ctx, conn); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn(logging.CategoryPush, "disconnected", err.Error(), nil)
			telemetry.PushReconnects.Inc()
		}
	}
}

func (s *WebSocketSource) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if s.apiKey != "" {
		header.Set("Authorization", "Bearer "+s.apiKey)
	}
	header.Set("X-Prizm-Panel", "true")

	conn, resp, err := s.dialer.DialContext(ctx, s.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(wsReadLimit)
	return conn, nil
}

func (s *WebSocketSource) readLoop(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()

	// ReadMessage has no context plumbing; close the conn to unblock it.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		evt, err := decodeEvent(data)
		if err != nil {
			s.logger.Warn(logging.CategoryPush, "decode_failed", err.Error(), nil)
			continue
		}
		republish(s.bus, evt)
	}
}
