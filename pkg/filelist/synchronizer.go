// Package filelist maintains the unified, newest-first list of a scope's
// notes, todo list, and documents. Precise change events are absorbed on a
// short quiet window and applied as targeted fetch-and-merge updates;
// ambiguous events, merge failures, and rebinds fall back to a full refetch
// on a longer window. When both paths are armed the full refetch wins and
// any buffered incremental work is discarded.
package filelist

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prizmhq/prizm-client/pkg/api"
	"github.com/prizmhq/prizm-client/pkg/bus"
	"github.com/prizmhq/prizm-client/pkg/debounce"
	"github.com/prizmhq/prizm-client/pkg/logging"
	"github.com/prizmhq/prizm-client/pkg/storage"
	"github.com/prizmhq/prizm-client/pkg/telemetry"
)

// Fetcher is the slice of the request client the synchronizer needs.
type Fetcher interface {
	ListNotes(ctx context.Context, scope string) ([]api.Note, error)
	GetNote(ctx context.Context, id, scope string) (*api.Note, error)
	GetTodoList(ctx context.Context, scope string) (*api.TodoList, error)
	ListDocuments(ctx context.Context, scope string) ([]api.Document, error)
	GetDocument(ctx context.Context, id, scope string) (*api.Document, error)
}

// Windows tunes the two quiet windows.
type Windows struct {
	Fast time.Duration // targeted fetch-and-merge
	Slow time.Duration // full refetch
}

// DefaultWindows returns the default quiet windows.
func DefaultWindows() Windows {
	return Windows{Fast: 100 * time.Millisecond, Slow: 400 * time.Millisecond}
}

// Options configures optional collaborators.
type Options struct {
	Logger    *logging.Logger
	Snapshots *storage.Store
	Windows   Windows
	OnChange  func()
}

// change is one buffered precise event awaiting the fast flush.
type change struct {
	kind    Kind
	id      string
	deleted bool
}

// Synchronizer keeps the unified file list of the bound scope current.
type Synchronizer struct {
	mu         sync.Mutex
	client     Fetcher
	scope      string
	bound      bool
	generation uint64

	items   []Item
	loading bool
	pending []change

	fast  *debounce.Debouncer
	slow  *debounce.Debouncer
	unsub func()

	logger    *logging.Logger
	snapshots *storage.Store
	onChange  func()
}

// New creates a synchronizer subscribed to the given bus.
func New(b *bus.Bus, opts Options) *Synchronizer {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	windows := opts.Windows
	if windows == (Windows{}) {
		windows = DefaultWindows()
	}

	s := &Synchronizer{
		logger:    logger,
		snapshots: opts.Snapshots,
		onChange:  opts.OnChange,
	}
	s.fast = debounce.New(windows.Fast, s.flushIncremental)
	s.slow = debounce.New(windows.Slow, s.fullResync)
	if b != nil {
		s.unsub = b.Subscribe(s.handleEvent)
	}
	return s
}

// Bind rebinds the synchronizer to a scope, warm-starts from the local
// snapshot, and schedules an immediate full refetch.
func (s *Synchronizer) Bind(client Fetcher, scope string) {
	s.mu.Lock()
	if s.bound && s.client == client && s.scope == scope {
		s.mu.Unlock()
		return
	}
	s.client = client
	s.scope = scope
	s.bound = true
	s.generation++
	s.items = nil
	s.pending = nil
	s.loading = false
	if s.snapshots != nil {
		var warm []Item
		if found, err := s.snapshots.LoadSnapshot(scope, storage.KindFileList, &warm); err == nil && found {
			s.items = warm
		}
	}
	s.mu.Unlock()

	s.fast.Stop()
	s.slow.Stop()
	s.notify()
	go s.fullResync()
}

// Reset clears the list and orphans in-flight work. Idempotent.
func (s *Synchronizer) Reset() {
	s.mu.Lock()
	s.generation++
	s.bound = false
	s.client = nil
	s.scope = ""
	s.items = nil
	s.pending = nil
	s.loading = false
	s.mu.Unlock()

	s.fast.Stop()
	s.slow.Stop()
	s.notify()
}

// Close unsubscribes from the bus and stops pending timers.
func (s *Synchronizer) Close() {
	if s.unsub != nil {
		s.unsub()
	}
	s.fast.Stop()
	s.slow.Stop()
}

// Items returns the current list and whether a full refetch is in flight.
func (s *Synchronizer) Items() ([]Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.items, s.loading
}

// Scope returns the currently bound scope, or "" when unbound.
func (s *Synchronizer) Scope() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope
}

// Resync arms the slow window for a full refetch, as after a push reconnect
// where events may have been missed.
func (s *Synchronizer) Resync() {
	s.mu.Lock()
	bound := s.bound
	s.mu.Unlock()
	if bound {
		s.slow.Trigger()
	}
}

func (s *Synchronizer) notify() {
	if s.onChange != nil {
		s.onChange()
	}
}

// handleEvent sorts incoming events onto the fast or slow path. Precise
// note/document mutations are buffered for a targeted merge; the todo list
// only reports "changed" with no per-item detail, so it forces a refetch.
func (s *Synchronizer) handleEvent(evt bus.Event) {
	s.mu.Lock()
	bound, scope := s.bound, s.scope
	s.mu.Unlock()
	if !bound || !evt.MatchesScope(scope) {
		return
	}

	switch evt.Type {
	case bus.EventNoteCreated, bus.EventNoteUpdated, bus.EventNoteDeleted:
		s.buffer(evt, KindNote)
	case bus.EventDocumentCreated, bus.EventDocumentUpdated, bus.EventDocumentDeleted:
		s.buffer(evt, KindDocument)
	case bus.EventTodoListChanged:
		s.slow.Trigger()
	}
}

func (s *Synchronizer) buffer(evt bus.Event, kind Kind) {
	if evt.Payload == nil || evt.Payload.ID == "" {
		// No identity to merge on; demote to a full refetch.
		s.slow.Trigger()
		return
	}
	s.mu.Lock()
	s.pending = append(s.pending, change{
		kind:    kind,
		id:      evt.Payload.ID,
		deleted: evt.Action() == bus.ActionDeleted,
	})
	s.mu.Unlock()
	s.fast.Trigger()
}

// flushIncremental applies the buffered precise changes: deletions drop rows
// outright, everything else is refetched by id and upserted. A delete always
// beats a concurrent create/update for the same key. Any fetch failure other
// than 404 abandons the merge in favor of a full refetch.
func (s *Synchronizer) flushIncremental() {
	if s.slow.Pending() {
		// Full refetch already armed; it supersedes the buffered changes.
		return
	}

	s.mu.Lock()
	if !s.bound || len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	buffered := s.pending
	s.pending = nil
	client := s.client
	scope := s.scope
	gen := s.generation
	s.mu.Unlock()

	deleted := make(map[string]bool)
	toFetch := make(map[string]change)
	for _, ch := range buffered {
		key := string(ch.kind) + ":" + ch.id
		if ch.deleted {
			deleted[key] = true
			delete(toFetch, key)
			continue
		}
		if !deleted[key] {
			toFetch[key] = ch
		}
	}

	// Deletions take effect right away; only the refetched rows wait on the
	// network.
	if len(deleted) > 0 {
		s.mu.Lock()
		if s.generation == gen {
			kept := make([]Item, 0, len(s.items))
			for _, it := range s.items {
				if !deleted[it.Key()] {
					kept = append(kept, it)
				}
			}
			s.items = kept
		}
		s.mu.Unlock()
		s.notify()
	}

	var fetchMu sync.Mutex
	fetched := make(map[string]Item)

	g, ctx := errgroup.WithContext(context.Background())
	for key, ch := range toFetch {
		key, ch := key, ch
		g.Go(func() error {
			item, err := fetchOne(ctx, client, ch, scope)
			if err != nil {
				var apiErr *api.APIError
				if errors.As(err, &apiErr) && apiErr.IsNotFound() {
					// Gone before we could fetch it; fold into the deletes.
					fetchMu.Lock()
					deleted[key] = true
					fetchMu.Unlock()
					return nil
				}
				return err
			}
			fetchMu.Lock()
			fetched[key] = item
			fetchMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.logger.Warn(logging.CategoryFileList, "merge_demoted", err.Error(), map[string]any{
			"scope":   scope,
			"changes": strconv.Itoa(len(buffered)),
		})
		s.slow.Trigger()
		return
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	merged := make([]Item, 0, len(s.items)+len(fetched))
	seen := make(map[string]bool, len(fetched))
	for _, it := range s.items {
		key := it.Key()
		if deleted[key] {
			continue
		}
		if repl, ok := fetched[key]; ok {
			merged = append(merged, repl)
			seen[key] = true
			continue
		}
		merged = append(merged, it)
	}
	for key, it := range fetched {
		if !seen[key] && !deleted[key] {
			merged = append(merged, it)
		}
	}
	sortItems(merged)
	s.items = merged
	s.saveSnapshotLocked()
	s.mu.Unlock()

	telemetry.IncrementalMerges.Inc()
	s.notify()
}

func fetchOne(ctx context.Context, client Fetcher, ch change, scope string) (Item, error) {
	switch ch.kind {
	case KindNote:
		n, err := client.GetNote(ctx, ch.id, scope)
		if err != nil {
			return Item{}, err
		}
		return noteItem(n), nil
	case KindDocument:
		d, err := client.GetDocument(ctx, ch.id, scope)
		if err != nil {
			return Item{}, err
		}
		return documentItem(d), nil
	default:
		return Item{}, errors.New("filelist: unmergeable kind " + string(ch.kind))
	}
}

// fullResync rebuilds the whole list from the server. Buffered incremental
// changes are discarded; the refetched state already reflects them.
func (s *Synchronizer) fullResync() {
	s.mu.Lock()
	if !s.bound {
		s.mu.Unlock()
		return
	}
	s.pending = nil
	client := s.client
	scope := s.scope
	gen := s.generation
	s.loading = true
	s.mu.Unlock()
	s.notify()

	var (
		notes    []api.Note
		todoList *api.TodoList
		docs     []api.Document
	)
	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		var err error
		notes, err = client.ListNotes(ctx, scope)
		return err
	})
	g.Go(func() error {
		tl, err := client.GetTodoList(ctx, scope)
		if err != nil {
			var apiErr *api.APIError
			if errors.As(err, &apiErr) && apiErr.IsNotFound() {
				return nil
			}
			return err
		}
		todoList = tl
		return nil
	})
	g.Go(func() error {
		var err error
		docs, err = client.ListDocuments(ctx, scope)
		return err
	})
	err := g.Wait()

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return
	}
	s.loading = false
	if err != nil {
		// Keep the previous list; a stale view beats an empty one here.
		s.mu.Unlock()
		s.logger.Error(logging.CategoryFileList, "resync_failed", err.Error(), map[string]any{"scope": scope})
		s.notify()
		return
	}

	items := make([]Item, 0, len(notes)+len(docs)+1)
	for i := range notes {
		items = append(items, noteItem(&notes[i]))
	}
	if todoList != nil {
		items = append(items, todoListItem(todoList))
	}
	for i := range docs {
		items = append(items, documentItem(&docs[i]))
	}
	sortItems(items)
	s.items = items
	s.saveSnapshotLocked()
	s.mu.Unlock()

	telemetry.FullResyncs.Inc()
	s.notify()
}

func (s *Synchronizer) saveSnapshotLocked() {
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.SaveSnapshot(s.scope, storage.KindFileList, s.items); err != nil {
		s.logger.Warn(logging.CategorySnapshot, "save_failed", err.Error(), map[string]any{"kind": storage.KindFileList})
	}
}
