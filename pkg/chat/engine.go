// Package chat runs the agent conversation of one session: it owns the
// send/stream lifecycle, the optimistic message pair shown while the reply
// streams in, and cancellation. Stopping a stream is a successful outcome
// that keeps whatever content already arrived; only real failures discard
// the optimistic pair.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prizmhq/prizm-client/pkg/api"
	"github.com/prizmhq/prizm-client/pkg/bus"
	prizmerrors "github.com/prizmhq/prizm-client/pkg/errors"
	"github.com/prizmhq/prizm-client/pkg/logging"
	"github.com/prizmhq/prizm-client/pkg/telemetry"
)

// State is the engine's lifecycle position.
type State string

const (
	StateIdle      State = "idle"      // nothing sent yet
	StateSending   State = "sending"   // request issued, no chunk received
	StateStreaming State = "streaming" // chunks arriving
	StateCompleted State = "completed" // reply finished normally
	StateAborted   State = "aborted"   // stopped by the user, partial kept
	StateErrored   State = "errored"   // stream failed, optimistic pair dropped
)

// Streamer is the slice of the request client the engine needs.
type Streamer interface {
	StreamChat(ctx context.Context, sessionID, content, scope string, onChunk api.ChunkHandler) error
	StopAgentChat(ctx context.Context, sessionID, scope string) error
	AppendSessionMessages(ctx context.Context, id string, messages []api.Message, scope string) error
}

// Options configures optional collaborators.
type Options struct {
	Logger *logging.Logger
	Bus    *bus.Bus
	// OnChange fires after every visible mutation, including each chunk.
	// It must be cheap; the UI layer uses it to re-render.
	OnChange func()
}

// Engine drives one session's conversation.
type Engine struct {
	mu      sync.Mutex
	client  Streamer
	session *api.Session
	scope   string

	state      State
	optimistic []api.Message // [user, assistant placeholder] while busy
	content    strings.Builder
	reasoning  strings.Builder
	usage      *api.Usage
	model      string
	cancel     context.CancelFunc
	stopped    bool
	err        error

	logger   *logging.Logger
	bus      *bus.Bus
	onChange func()
}

// New creates an engine bound to a session.
func New(client Streamer, session *api.Session, scope string, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Engine{
		client:   client,
		session:  session,
		scope:    scope,
		state:    StateIdle,
		logger:   logger,
		bus:      opts.Bus,
		onChange: opts.OnChange,
	}
}

// SessionID returns the bound session's id.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.ID
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Busy reports whether a send or stream is in flight.
func (e *Engine) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.busyLocked()
}

func (e *Engine) busyLocked() bool {
	return e.state == StateSending || e.state == StateStreaming
}

// Err returns the failure of the last stream, or nil.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Messages returns the session transcript with the optimistic pair
// materialized at the tail while a stream is running.
func (e *Engine) Messages() []api.Message {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]api.Message, len(e.session.Messages), len(e.session.Messages)+2)
	copy(out, e.session.Messages)
	if len(e.optimistic) == 2 {
		out = append(out, e.optimistic[0], e.assistantLocked())
	}
	return out
}

// assistantLocked materializes the streaming placeholder with the content
// accumulated so far.
func (e *Engine) assistantLocked() api.Message {
	msg := e.optimistic[1]
	msg.Content = e.content.String()
	msg.Reasoning = e.reasoning.String()
	msg.Usage = e.usage
	msg.Model = e.model
	return msg
}

// SendMessage validates and sends one user message, streaming the reply in
// the background. It returns immediately after the optimistic pair is
// visible; completion and failure are observed through State and Messages.
func (e *Engine) SendMessage(content string) error {
	if strings.TrimSpace(content) == "" {
		return prizmerrors.New(prizmerrors.ErrCodeInvalidInput, "message is empty")
	}

	e.mu.Lock()
	if e.busyLocked() {
		e.mu.Unlock()
		return prizmerrors.New(prizmerrors.ErrCodeEngineBusy, "a reply is already streaming")
	}

	now := time.Now()
	e.optimistic = []api.Message{
		{ID: "tmp-" + uuid.NewString(), Role: "user", Content: content, CreatedAt: now},
		{ID: "tmp-" + uuid.NewString(), Role: "assistant", CreatedAt: now},
	}
	e.content.Reset()
	e.reasoning.Reset()
	e.usage = nil
	e.model = ""
	e.stopped = false
	e.err = nil
	e.state = StateSending

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	sessionID := e.session.ID
	scope := e.scope
	e.mu.Unlock()

	telemetry.StreamsStarted.Inc()
	telemetry.ActiveStreams.Inc()
	e.logger.Info(logging.CategorySession, "send", "user message sent", map[string]any{
		"session_id": sessionID,
		"chars":      len(content),
	})
	e.notify()

	go e.run(ctx, sessionID, content, scope)
	return nil
}

func (e *Engine) run(ctx context.Context, sessionID, content, scope string) {
	err := e.client.StreamChat(ctx, sessionID, content, scope, e.handleChunk)
	telemetry.ActiveStreams.Dec()

	switch {
	case err == nil:
		e.finish(StateCompleted)
		telemetry.StreamsStopped.Inc()
	case errors.Is(err, context.Canceled):
		// A local stop, not a failure. Keep the partial reply.
		e.finish(StateAborted)
		telemetry.StreamsStopped.Inc()
	default:
		e.fail(err, sessionID)
		telemetry.StreamsErrored.Inc()
	}
}

// handleChunk runs on the stream reader's goroutine, once per chunk. It only
// appends to the builders, so cost per chunk stays constant regardless of how
// long the reply already is.
func (e *Engine) handleChunk(chunk api.StreamChunk) {
	e.mu.Lock()
	if e.state == StateSending {
		e.state = StateStreaming
	}
	switch chunk.Type {
	case api.ChunkText:
		e.content.WriteString(chunk.Text)
	case api.ChunkReasoning:
		e.reasoning.WriteString(chunk.Text)
	case api.ChunkDone:
		e.usage = chunk.Usage
		e.model = chunk.Model
		e.stopped = chunk.Stopped
	}
	e.mu.Unlock()
	e.notify()
}

// finish commits the optimistic pair into the transcript and persists it.
// Used for both normal completion and a user stop.
func (e *Engine) finish(state State) {
	e.mu.Lock()
	if len(e.optimistic) != 2 {
		e.mu.Unlock()
		return
	}
	user := e.optimistic[0]
	assistant := e.assistantLocked()
	e.session.Messages = append(e.session.Messages, user, assistant)
	e.session.UpdatedAt = time.Now()
	e.optimistic = nil
	e.cancel = nil
	e.state = state
	sessionID := e.session.ID
	scope := e.scope
	serverStopped := e.stopped
	e.mu.Unlock()

	e.logger.Info(logging.CategorySession, "stream_"+string(state), "", map[string]any{
		"session_id":     sessionID,
		"chars":          len(assistant.Content),
		"server_stopped": serverStopped,
	})

	// Persistence is best effort; the server already has the turn when the
	// stream completed, and a stopped turn is worth keeping even if this
	// write fails.
	if err := e.client.AppendSessionMessages(context.Background(), sessionID, []api.Message{user, assistant}, scope); err != nil {
		e.logger.Warn(logging.CategorySession, "persist_failed", err.Error(), map[string]any{
			"session_id": sessionID,
		})
	}

	if e.bus != nil {
		e.bus.Publish(bus.Event{
			Type:    bus.EventSessionUpdated,
			Payload: &bus.Payload{ID: sessionID, Scope: scope},
		})
	}
	e.notify()
}

// fail discards the optimistic pair and records the error.
func (e *Engine) fail(err error, sessionID string) {
	wrapped := prizmerrors.Wrap(err, prizmerrors.ErrCodeStreamError, "chat stream failed")

	e.mu.Lock()
	e.optimistic = nil
	e.cancel = nil
	e.content.Reset()
	e.reasoning.Reset()
	e.state = StateErrored
	e.err = wrapped
	e.mu.Unlock()

	e.logger.Error(logging.CategorySession, "stream_failed", err.Error(), map[string]any{
		"session_id": sessionID,
	})
	e.notify()
}

// StopGeneration cancels the running stream and tells the server to stop
// generating. Safe to call when nothing is streaming, and safe to call twice.
func (e *Engine) StopGeneration() {
	e.mu.Lock()
	if !e.busyLocked() || e.cancel == nil {
		e.mu.Unlock()
		return
	}
	cancel := e.cancel
	e.cancel = nil
	sessionID := e.session.ID
	scope := e.scope
	e.mu.Unlock()

	cancel()

	// Server-side stop is advisory; the local cancel already ended the
	// stream, so a failure here only means a few wasted tokens.
	go func() {
		ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := e.client.StopAgentChat(ctx, sessionID, scope); err != nil {
			e.logger.Warn(logging.CategorySession, "stop_request_failed", err.Error(), map[string]any{
				"session_id": sessionID,
			})
		}
	}()
}

// Session returns a copy of the bound session record, transcript included.
func (e *Engine) Session() api.Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	snapshot := *e.session
	snapshot.Messages = append([]api.Message(nil), e.session.Messages...)
	return snapshot
}

// Close tears the engine down, cancelling any running stream. The partial
// reply is kept, same as an explicit stop.
func (e *Engine) Close() {
	e.StopGeneration()
}

func (e *Engine) notify() {
	if e.onChange != nil {
		e.onChange()
	}
}
