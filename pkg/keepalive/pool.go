// Package keepalive bounds how many chat sessions stay resident at once.
// Switching between a handful of recent sessions should not tear down and
// rebuild their engines every time, but engines hold buffers and possibly a
// live stream, so the pool keeps only the most recently used few and closes
// the rest.
package keepalive

import (
	"sync"

	"github.com/prizmhq/prizm-client/pkg/logging"
)

// DefaultMax is the resident session limit.
const DefaultMax = 3

// Entry is a poolable session handle. Close is called exactly once, when the
// entry is evicted, pruned, or removed.
type Entry interface {
	SessionID() string
	Close()
}

// Pool is a move-to-front LRU of resident session entries. The front entry
// is always the most recently activated one.
type Pool struct {
	mu      sync.Mutex
	max     int
	entries []Entry
	logger  *logging.Logger
}

// New creates a pool holding at most max entries. max <= 0 means DefaultMax.
func New(max int, logger *logging.Logger) *Pool {
	if max <= 0 {
		max = DefaultMax
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Pool{max: max, logger: logger}
}

// Activate moves the entry to the front, inserting it if it is new. When the
// pool is over capacity the least recently used entry is closed and dropped.
// The returned entry is the resident one: an already-pooled entry with the
// same session id wins over a fresh duplicate, which is closed.
func (p *Pool) Activate(entry Entry) Entry {
	if entry == nil {
		return nil
	}

	p.mu.Lock()
	var evicted []Entry

	if idx := p.indexLocked(entry.SessionID()); idx >= 0 {
		resident := p.entries[idx]
		p.entries = append(p.entries[:idx], p.entries[idx+1:]...)
		p.entries = append([]Entry{resident}, p.entries...)
		if resident != entry {
			evicted = append(evicted, entry)
		}
		entry = resident
	} else {
		p.entries = append([]Entry{entry}, p.entries...)
		for len(p.entries) > p.max {
			last := p.entries[len(p.entries)-1]
			p.entries = p.entries[:len(p.entries)-1]
			evicted = append(evicted, last)
		}
	}
	p.mu.Unlock()

	for _, e := range evicted {
		p.logger.Debug(logging.CategorySession, "evicted", "", map[string]any{"session_id": e.SessionID()})
		e.Close()
	}
	return entry
}

// Get returns the resident entry for a session without touching its
// recency.
func (p *Pool) Get(sessionID string) (Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx := p.indexLocked(sessionID); idx >= 0 {
		return p.entries[idx], true
	}
	return nil, false
}

// Active returns the most recently activated entry, or nil when empty.
func (p *Pool) Active() Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.entries) == 0 {
		return nil
	}
	return p.entries[0]
}

// Remove closes and drops the entry for a session, if resident.
func (p *Pool) Remove(sessionID string) {
	p.mu.Lock()
	idx := p.indexLocked(sessionID)
	var victim Entry
	if idx >= 0 {
		victim = p.entries[idx]
		p.entries = append(p.entries[:idx], p.entries[idx+1:]...)
	}
	p.mu.Unlock()

	if victim != nil {
		victim.Close()
	}
}

// Prune closes and drops every entry the predicate rejects. Sessions get
// archived or deleted server-side; their engines have no reason to linger.
func (p *Pool) Prune(valid func(sessionID string) bool) {
	p.mu.Lock()
	kept := p.entries[:0]
	var victims []Entry
	for _, e := range p.entries {
		if valid(e.SessionID()) {
			kept = append(kept, e)
		} else {
			victims = append(victims, e)
		}
	}
	p.entries = kept
	p.mu.Unlock()

	for _, e := range victims {
		p.logger.Debug(logging.CategorySession, "pruned", "", map[string]any{"session_id": e.SessionID()})
		e.Close()
	}
}

// SessionIDs returns the resident ids, most recent first.
func (p *Pool) SessionIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, len(p.entries))
	for i, e := range p.entries {
		ids[i] = e.SessionID()
	}
	return ids
}

// Len returns the resident entry count.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Close drains the pool, closing every entry.
func (p *Pool) Close() {
	p.mu.Lock()
	victims := p.entries
	p.entries = nil
	p.mu.Unlock()

	for _, e := range victims {
		e.Close()
	}
}

func (p *Pool) indexLocked(sessionID string) int {
	for i, e := range p.entries {
		if e.SessionID() == sessionID {
			return i
		}
	}
	return -1
}
