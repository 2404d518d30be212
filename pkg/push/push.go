// Package push receives server change notifications and republishes them on
// the in-process bus. Two transports are supported: the server's own
// websocket feed (the default) and a NATS subject tree for deployments that
// already run a broker.
package push

import (
	"encoding/json"
	"fmt"

	"github.com/prizmhq/prizm-client/pkg/bus"
	"github.com/prizmhq/prizm-client/pkg/telemetry"
)

// decodeEvent parses one wire frame into a bus event. Frames with no type
// are rejected; unknown types pass through, the bus consumers just ignore
// them.
func decodeEvent(data []byte) (bus.Event, error) {
	var evt bus.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return bus.Event{}, fmt.Errorf("decode push event: %w", err)
	}
	if evt.Type == "" {
		return bus.Event{}, fmt.Errorf("push event missing type: %s", truncate(data, 200))
	}
	return evt, nil
}

func republish(b *bus.Bus, evt bus.Event) {
	telemetry.PushEventsReceived.WithLabelValues(string(evt.Type)).Inc()
	b.Publish(evt)
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
