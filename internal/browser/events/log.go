// internal/browser/events/log.go
package events

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xkilldash9x/cdp-mcp/api/schemas"
	"github.com/xkilldash9x/cdp-mcp/internal/observability"
)

// ring is a fixed capacity FIFO that overwrites its oldest entry.
type ring struct {
	buf   []schemas.EventEntry
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]schemas.EventEntry, capacity)}
}

// push appends e and reports whether an old entry was dropped.
func (r *ring) push(e schemas.EventEntry) bool {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = e
		r.size++
		return false
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
	return true
}

// each visits entries oldest first until fn returns false.
func (r *ring) each(fn func(schemas.EventEntry) bool) {
	for i := 0; i < r.size; i++ {
		if !fn(r.buf[(r.start+i)%len(r.buf)]) {
			return
		}
	}
}

// Query filters Log.Entries.
type Query struct {
	Category   schemas.EventCategory // "" means all
	SinceSeq   uint64                // only entries with Seq > SinceSeq
	MethodLike string                // substring match on the method, case-insensitive
	Limit      int                   // most recent N after filtering; <= 0 means all
}

// Match reports whether e passes the query's filters. Limit is ignored.
func (q Query) Match(e schemas.EventEntry) bool {
	if q.Category != "" && e.Category != q.Category {
		return false
	}
	return e.Seq > q.SinceSeq && matchMethod(e.Method, q.MethodLike)
}

// Log is the bounded, append-only record of one tab's events. Sequence numbers
// increase by one per appended entry across all categories.
type Log struct {
	tabID string

	mu       sync.Mutex
	seq      uint64
	buckets  map[schemas.EventCategory]*ring
	changed  chan struct{}
	closed   bool
	closeErr error
}

// NewLog creates a log keeping at most capacity entries per category.
func NewLog(tabID string, capacity int) *Log {
	if capacity <= 0 {
		capacity = 1000
	}
	l := &Log{
		tabID:   tabID,
		buckets: make(map[schemas.EventCategory]*ring, len(schemas.Categories)),
		changed: make(chan struct{}),
	}
	for _, c := range schemas.Categories {
		l.buckets[c] = newRing(capacity)
	}
	return l
}

// Append stamps and stores one entry and wakes every waiter.
func (l *Log) Append(cat schemas.EventCategory, method string, payload map[string]interface{}) schemas.EventEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	e := schemas.EventEntry{
		Seq:       l.seq,
		Category:  cat,
		TabID:     l.tabID,
		Timestamp: time.Now().UTC(),
		Method:    method,
		Payload:   payload,
	}
	if b, ok := l.buckets[cat]; ok && b.push(e) {
		observability.EventsEvicted.WithLabelValues(string(cat)).Inc()
	}
	observability.EventsCaptured.WithLabelValues(string(cat)).Inc()

	close(l.changed)
	l.changed = make(chan struct{})
	return e
}

// LastSeq is the sequence number of the newest entry, 0 if none.
func (l *Log) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.seq
}

// Close marks the end of the stream. Pending and future waits fail with err.
func (l *Log) Close(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.closeErr = err
	close(l.changed)
	l.changed = make(chan struct{})
}

// Entries returns matching entries in sequence order.
func (l *Log) Entries(q Query) []schemas.EventEntry {
	l.mu.Lock()
	out := l.collectLocked(q.Category, q.SinceSeq, func(e schemas.EventEntry) bool {
		return matchMethod(e.Method, q.MethodLike)
	})
	l.mu.Unlock()

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out
}

// collectLocked gathers entries newer than since, merged across buckets by seq.
func (l *Log) collectLocked(cat schemas.EventCategory, since uint64, keep func(schemas.EventEntry) bool) []schemas.EventEntry {
	var out []schemas.EventEntry
	for c, b := range l.buckets {
		if cat != "" && c != cat {
			continue
		}
		b.each(func(e schemas.EventEntry) bool {
			if e.Seq > since && keep(e) {
				out = append(out, e)
			}
			return true
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// WaitFor returns the oldest retained entry matching pred, checking what is
// already buffered first and then every later append. The scan and the
// capture of the wake channel happen under one lock, so an append landing
// between them cannot be missed.
func (l *Log) WaitFor(ctx context.Context, pred func(schemas.EventEntry) bool) (schemas.EventEntry, error) {
	var cursor uint64
	for {
		l.mu.Lock()
		matches := l.collectLocked("", cursor, pred)
		cursor = l.seq
		changed := l.changed
		closed, closeErr := l.closed, l.closeErr
		l.mu.Unlock()

		if len(matches) > 0 {
			return matches[0], nil
		}
		if closed {
			if closeErr == nil {
				closeErr = schemas.NewError(schemas.ErrNotFound, "tab %q was closed", l.tabID)
			}
			return schemas.EventEntry{}, closeErr
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return schemas.EventEntry{}, ctx.Err()
		}
	}
}
