package push

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/prizmhq/prizm-client/pkg/bus"
	"github.com/prizmhq/prizm-client/pkg/logging"
	"github.com/prizmhq/prizm-client/pkg/telemetry"
)

// EventSubject is the subject tree carrying change events.
const EventSubject = "prizm.events.>"

// NATSSource consumes change events from a NATS broker, for deployments that
// front the workspace server with one. Reconnects are handled by the client
// library.
type NATSSource struct {
	url    string
	bus    *bus.Bus
	logger *logging.Logger

	// OnReconnect mirrors WebSocketSource.OnReconnect.
	OnReconnect func()
}

// NewNATS creates a source for the given nats:// URL.
func NewNATS(url string, b *bus.Bus, logger *logging.Logger) *NATSSource {
	if logger == nil {
		logger = logging.Nop()
	}
	return &NATSSource{url: url, bus: b, logger: logger}
}

// Run subscribes and republishes events until ctx is cancelled.
func (s *NATSSource) Run(ctx context.Context) error {
	conn, err := nats.Connect(s.url,
		nats.Name("prizm-panel"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.ReconnectHandler(func(*nats.Conn) {
			telemetry.PushReconnects.Inc()
			s.logger.Info(logging.CategoryPush, "reconnected", "", map[string]any{"url": s.url})
			if s.OnReconnect != nil {
				s.OnReconnect()
			}
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			msg := ""
			if err != nil {
				msg = err.Error()
			}
			s.logger.Warn(logging.CategoryPush, "disconnected", msg, nil)
		}),
	)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer conn.Close()

	sub, err := conn.Subscribe(EventSubject, func(msg *nats.Msg) {
		evt, err := decodeEvent(msg.Data)
		if err != nil {
			s.logger.Warn(logging.CategoryPush, "decode_failed", err.Error(), map[string]any{"subject": msg.Subject})
			return
		}
		republish(s.bus, evt)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", EventSubject, err)
	}
	defer sub.Unsubscribe()

	s.logger.Info(logging.CategoryPush, "connected", "", map[string]any{"url": s.url})
	<-ctx.Done()
	return ctx.Err()
}
