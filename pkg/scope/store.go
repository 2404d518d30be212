// Package scope owns the per-scope read caches of workspace data: the
// documents list, the shared clipboard, and the memory count snapshot.
// The store is bound to one active scope at a time; server push events keep
// the caches fresh through debounced refreshes, and a fetch that outlives a
// scope switch is discarded rather than applied.
package scope

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/prizmhq/prizm-client/pkg/api"
	"github.com/prizmhq/prizm-client/pkg/bus"
	"github.com/prizmhq/prizm-client/pkg/debounce"
	"github.com/prizmhq/prizm-client/pkg/logging"
	"github.com/prizmhq/prizm-client/pkg/storage"
	"github.com/prizmhq/prizm-client/pkg/telemetry"
)

// Aggregate names, used as singleflight keys and metric labels.
const (
	aggregateDocuments    = "documents"
	aggregateClipboard    = "clipboard"
	aggregateMemoryCounts = "memory_counts"
)

// Fetcher is the slice of the request client the store needs.
type Fetcher interface {
	ListDocuments(ctx context.Context, scope string) ([]api.Document, error)
	ListClipboard(ctx context.Context, scope string) ([]api.ClipboardItem, error)
	GetMemoryCounts(ctx context.Context, scope string) (*api.MemoryCounts, error)
}

// Debounce tunes the per-aggregate quiet windows.
type Debounce struct {
	Documents time.Duration
	Clipboard time.Duration
	Memory    time.Duration
}

// DefaultDebounce returns the default quiet windows.
func DefaultDebounce() Debounce {
	return Debounce{
		Documents: 400 * time.Millisecond,
		Clipboard: 400 * time.Millisecond,
		Memory:    400 * time.Millisecond,
	}
}

// Options configures optional collaborators.
type Options struct {
	Logger    *logging.Logger
	Snapshots *storage.Store
	Debounce  Debounce
	// OnChange fires after any cache mutation. It runs outside the store
	// lock and must be cheap; the UI layer uses it to re-render.
	OnChange func()
}

// Store caches scope-scoped aggregates and keeps them fresh.
type Store struct {
	mu         sync.Mutex
	client     Fetcher
	scope      string
	bound      bool
	generation uint64

	documents        []api.Document
	documentsLoading bool
	clipboard        []api.ClipboardItem
	clipboardLoading bool
	memoryCounts     api.MemoryCounts
	memoryLoading    bool

	inflight   singleflight.Group
	debouncers map[string]*debounce.Debouncer
	unsub      func()

	logger    *logging.Logger
	snapshots *storage.Store
	onChange  func()
}

// New creates a store subscribed to the given bus. Events for aggregates are
// debounced with the configured windows.
func New(b *bus.Bus, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	windows := opts.Debounce
	if windows == (Debounce{}) {
		windows = DefaultDebounce()
	}

	s := &Store{
		logger:    logger,
		snapshots: opts.Snapshots,
		onChange:  opts.OnChange,
	}
	s.debouncers = map[string]*debounce.Debouncer{
		aggregateDocuments:    debounce.New(windows.Documents, func() { s.RefreshDocuments() }),
		aggregateClipboard:    debounce.New(windows.Clipboard, func() { s.RefreshClipboard() }),
		aggregateMemoryCounts: debounce.New(windows.Memory, func() { s.RefreshMemoryCounts() }),
	}
	if b != nil {
		s.unsub = b.Subscribe(s.handleEvent)
	}
	return s
}

// Bind rebinds the store to a scope and client, warm-starts from the local
// snapshot when available, and kicks off an initial refresh of every
// aggregate. Binding the same client+scope pair again is a no-op.
func (s *Store) Bind(client Fetcher, scope string) {
	s.mu.Lock()
	if s.bound && s.client == client && s.scope == scope {
		s.mu.Unlock()
		return
	}

	s.client = client
	s.scope = scope
	s.bound = true
	s.generation++
	s.clearLocked()
	s.loadSnapshotsLocked(scope)
	s.mu.Unlock()

	s.logger.Info(logging.CategoryStore, "bind", "store bound to scope", map[string]any{"scope": scope})
	s.notify()

	go s.RefreshDocuments()
	go s.RefreshClipboard()
	go s.RefreshMemoryCounts()
}

// Reset clears all aggregates and orphans any in-flight fetches. Results of
// fetches already running are discarded when they complete. Idempotent.
func (s *Store) Reset() {
	s.mu.Lock()
	s.generation++
	s.bound = false
	s.client = nil
	s.scope = ""
	s.clearLocked()
	s.mu.Unlock()

	for _, d := range s.debouncers {
		d.Stop()
	}
	s.notify()
}

// Close unsubscribes from the bus and stops pending debounce timers.
func (s *Store) Close() {
	if s.unsub != nil {
		s.unsub()
	}
	for _, d := range s.debouncers {
		d.Stop()
	}
}

func (s *Store) clearLocked() {
	s.documents = nil
	s.documentsLoading = false
	s.clipboard = nil
	s.clipboardLoading = false
	s.memoryCounts = api.MemoryCounts{}
	s.memoryLoading = false
}

func (s *Store) loadSnapshotsLocked(scope string) {
	if s.snapshots == nil {
		return
	}
	var docs []api.Document
	if found, err := s.snapshots.LoadSnapshot(scope, storage.KindDocuments, &docs); err == nil && found {
		s.documents = docs
	}
	var clip []api.ClipboardItem
	if found, err := s.snapshots.LoadSnapshot(scope, storage.KindClipboard, &clip); err == nil && found {
		s.clipboard = clip
	}
	var counts api.MemoryCounts
	if found, err := s.snapshots.LoadSnapshot(scope, storage.KindMemoryCounts, &counts); err == nil && found {
		s.memoryCounts = counts
	}
}

func (s *Store) saveSnapshot(scope, kind string, payload any) {
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.SaveSnapshot(scope, kind, payload); err != nil {
		s.logger.Warn(logging.CategorySnapshot, "save_failed", err.Error(), map[string]any{"kind": kind})
	}
}

func (s *Store) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}

// handleEvent maps push events onto debounced aggregate refreshes. Events
// scoped to a different workspace are ignored outright.
func (s *Store) handleEvent(evt bus.Event) {
	s.mu.Lock()
	bound, scope := s.bound, s.scope
	s.mu.Unlock()
	if !bound || !evt.MatchesScope(scope) {
		return
	}

	var aggregate string
	switch evt.Type {
	case bus.EventDocumentCreated, bus.EventDocumentUpdated, bus.EventDocumentDeleted:
		aggregate = aggregateDocuments
	case bus.EventClipboardUpdated:
		aggregate = aggregateClipboard
	case bus.EventMemoryUpdated:
		aggregate = aggregateMemoryCounts
	default:
		return
	}

	if s.debouncers[aggregate].Trigger() {
		telemetry.EventsCoalesced.WithLabelValues(aggregate).Inc()
	}
}

// refresh runs one aggregate fetch through singleflight and commits the
// result only if the store generation is unchanged, so a fetch that resolves
// after a Bind or Reset never clobbers the new scope's cache.
func (s *Store) refresh(aggregate string, fetch func(ctx context.Context, client Fetcher, scope string) (any, error), commit func(result any), clear func()) {
	s.mu.Lock()
	if !s.bound {
		s.mu.Unlock()
		return
	}
	client := s.client
	scope := s.scope
	gen := s.generation
	s.setLoadingLocked(aggregate, true)
	s.mu.Unlock()
	s.notify()

	// Keying the flight by generation keeps a post-rebind refresh from
	// joining a fetch started for the previous scope.
	key := aggregate + ":" + strconv.FormatUint(gen, 10)
	result, err, _ := s.inflight.Do(key, func() (any, error) {
		telemetry.FetchesIssued.WithLabelValues(aggregate).Inc()
		return fetch(context.Background(), client, scope)
	})

	s.mu.Lock()
	if s.generation != gen {
		// Scope changed while the fetch was in flight; drop the result.
		s.mu.Unlock()
		telemetry.StaleResultsDropped.WithLabelValues(aggregate).Inc()
		s.logger.Debug(logging.CategoryStore, "stale_drop", "discarded fetch for rebound scope", map[string]any{
			"aggregate": aggregate,
			"scope":     scope,
		})
		return
	}
	if err != nil {
		clear()
		s.setLoadingLocked(aggregate, false)
		s.mu.Unlock()
		s.logger.Error(logging.CategoryStore, "fetch_failed", err.Error(), map[string]any{
			"aggregate": aggregate,
			"scope":     scope,
		})
		s.notify()
		return
	}
	commit(result)
	s.setLoadingLocked(aggregate, false)
	s.mu.Unlock()
	s.notify()
}

func (s *Store) setLoadingLocked(aggregate string, loading bool) {
	switch aggregate {
	case aggregateDocuments:
		s.documentsLoading = loading
	case aggregateClipboard:
		s.clipboardLoading = loading
	case aggregateMemoryCounts:
		s.memoryLoading = loading
	}
}

// RefreshDocuments fetches and replaces the documents aggregate. Concurrent
// callers share one network call.
func (s *Store) RefreshDocuments() {
	s.refresh(aggregateDocuments,
		func(ctx context.Context, client Fetcher, scope string) (any, error) {
			return client.ListDocuments(ctx, scope)
		},
		func(result any) {
			s.documents = result.([]api.Document)
			s.saveSnapshot(s.scope, storage.KindDocuments, s.documents)
		},
		func() { s.documents = nil },
	)
}

// RefreshClipboard fetches and replaces the clipboard aggregate.
func (s *Store) RefreshClipboard() {
	s.refresh(aggregateClipboard,
		func(ctx context.Context, client Fetcher, scope string) (any, error) {
			return client.ListClipboard(ctx, scope)
		},
		func(result any) {
			s.clipboard = result.([]api.ClipboardItem)
			s.saveSnapshot(s.scope, storage.KindClipboard, s.clipboard)
		},
		func() { s.clipboard = nil },
	)
}

// RefreshMemoryCounts fetches and replaces the memory count snapshot.
func (s *Store) RefreshMemoryCounts() {
	s.refresh(aggregateMemoryCounts,
		func(ctx context.Context, client Fetcher, scope string) (any, error) {
			counts, err := client.GetMemoryCounts(ctx, scope)
			if err != nil {
				return nil, err
			}
			return *counts, nil
		},
		func(result any) {
			s.memoryCounts = result.(api.MemoryCounts)
			s.saveSnapshot(s.scope, storage.KindMemoryCounts, s.memoryCounts)
		},
		func() { s.memoryCounts = api.MemoryCounts{} },
	)
}

// Scope returns the currently bound scope, or "" when unbound.
func (s *Store) Scope() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope
}

// Documents returns the cached documents and their loading flag.
func (s *Store) Documents() ([]api.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.documents, s.documentsLoading
}

// Clipboard returns the cached clipboard entries and their loading flag.
func (s *Store) Clipboard() ([]api.ClipboardItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clipboard, s.clipboardLoading
}

// MemoryCounts returns the cached count snapshot and its loading flag.
func (s *Store) MemoryCounts() (api.MemoryCounts, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memoryCounts, s.memoryLoading
}
