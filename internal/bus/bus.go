// Package bus is the ordered, append-only event log every debate
// participant reads and writes. One append executes at a time; the
// assigned sequence numbers are strictly increasing and gapless, and
// subscribers observe events in exactly that order.
package bus

import (
	"strings"
	"sync"
	"time"

	"github.com/ehrlich-b/palaver/internal/clock"
	"github.com/ehrlich-b/palaver/internal/logger"
)

const (
	// DefaultCapacity bounds the retained window. Older events are
	// evicted oldest-first; sequence numbers are never reused.
	DefaultCapacity = 1000

	// subscriberBuffer is the per-subscription queue depth. A consumer
	// that falls this far behind is dropped rather than allowed to
	// stall the writer.
	subscriberBuffer = 128

	// sinkBuffer decouples appends from sink delivery.
	sinkBuffer = 256
)

// Sink receives every appended event, fire and forget. Delivery runs on
// the bus's drain goroutine; errors are logged and swallowed.
type Sink interface {
	Deliver(Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Event) error

func (f SinkFunc) Deliver(e Event) error { return f(e) }

// Subscription is a private queue of events appended after Subscribe.
// Read from C; the channel closes when the subscription is removed,
// either by Unsubscribe or because the consumer fell too far behind.
type Subscription struct {
	C  <-chan Event
	ch chan Event
}

// Bus is the shared session log. Safe for concurrent use; reads never
// block each other, appends serialize against everything.
type Bus struct {
	mu       sync.RWMutex
	events   []Event
	nextSeq  int64
	capacity int
	subs     map[*Subscription]struct{}

	startedAt time.Time
	lastAt    time.Time
	byKind    map[Kind]int64
	bySender  map[string]int64
	total     int64

	clk clock.Clock

	sinkMu  sync.Mutex
	sinks   []Sink
	sinkCh  chan Event
	done    chan struct{}
	drained sync.WaitGroup
}

// Option configures a Bus.
type Option func(*Bus)

// WithCapacity overrides the retained-window size.
func WithCapacity(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.capacity = n
		}
	}
}

// WithClock injects the time source used for event timestamps.
func WithClock(clk clock.Clock) Option {
	return func(b *Bus) { b.clk = clk }
}

// New creates an empty bus and starts its sink drain goroutine.
// Call Close when the session ends.
func New(opts ...Option) *Bus {
	b := &Bus{
		capacity: DefaultCapacity,
		subs:     make(map[*Subscription]struct{}),
		byKind:   make(map[Kind]int64),
		bySender: make(map[string]int64),
		clk:      clock.Real(),
		sinkCh:   make(chan Event, sinkBuffer),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.startedAt = b.clk.Now()
	b.drained.Add(1)
	go b.drainSinks()
	return b
}

// Close stops sink delivery. Pending sink events are dropped.
func (b *Bus) Close() {
	close(b.done)
	b.drained.Wait()
}

// Append assigns the next sequence number, stores the event (evicting
// the oldest beyond capacity), and delivers it to every live
// subscription before returning. A full subscription is closed and
// removed; it never blocks the append or other subscribers.
func (b *Bus) Append(sender, body string, kind Kind, tags map[string]string) Event {
	b.mu.Lock()
	b.nextSeq++
	ev := Event{
		Seq:       b.nextSeq,
		Sender:    sender,
		Body:      body,
		Kind:      kind,
		CreatedAt: b.clk.Now(),
		Tags:      tags,
	}
	b.events = append(b.events, ev)
	if len(b.events) > b.capacity {
		b.events = b.events[len(b.events)-b.capacity:]
	}
	b.total++
	b.byKind[kind]++
	b.bySender[sender]++
	b.lastAt = ev.CreatedAt

	for sub := range b.subs {
		select {
		case sub.ch <- ev:
		default:
			// Consumer too slow; drop it from fan-out entirely.
			delete(b.subs, sub)
			close(sub.ch)
			logger.Warn("bus: dropped slow subscriber", "seq", ev.Seq)
		}
	}
	b.mu.Unlock()

	select {
	case b.sinkCh <- ev:
	default:
		logger.Warn("bus: sink backlog full, event not forwarded", "seq", ev.Seq)
	}
	return ev
}

// Subscribe returns a queue that receives every event appended after
// this call. History is not replayed.
func (b *Bus) Subscribe() *Subscription {
	ch := make(chan Event, subscriberBuffer)
	sub := &Subscription{C: ch, ch: ch}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes the subscription and closes its channel. Safe to
// call concurrently with appends, and idempotent.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
	b.mu.Unlock()
}

// SubscriberCount reports the number of live subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Recent returns up to n of the newest retained events, oldest first.
func (b *Bus) Recent(n int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n <= 0 || n > len(b.events) {
		n = len(b.events)
	}
	out := make([]Event, n)
	copy(out, b.events[len(b.events)-n:])
	return out
}

// FilterQuery selects events from the retained window. Zero fields
// match everything.
type FilterQuery struct {
	Sender string
	Kind   Kind
	Since  time.Time
	Limit  int
}

// Filter returns retained events matching q, oldest first. Limit keeps
// the newest matches.
func (b *Bus) Filter(q FilterQuery) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	for _, ev := range b.events {
		if q.Sender != "" && ev.Sender != q.Sender {
			continue
		}
		if q.Kind != "" && ev.Kind != q.Kind {
			continue
		}
		if !q.Since.IsZero() && !ev.CreatedAt.After(q.Since) {
			continue
		}
		out = append(out, ev)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out
}

// Search returns retained events whose body contains term,
// case-insensitively.
func (b *Bus) Search(term string) []Event {
	term = strings.ToLower(term)
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	for _, ev := range b.events {
		if strings.Contains(strings.ToLower(ev.Body), term) {
			out = append(out, ev)
		}
	}
	return out
}

// LastSeq returns the most recently assigned sequence number, 0 when
// nothing has been appended.
func (b *Bus) LastSeq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextSeq
}

// LastEventAt returns the timestamp of the newest event, zero before
// the first append.
func (b *Bus) LastEventAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastAt
}

// Stats summarizes bus traffic since creation (or the last Reset).
type Stats struct {
	Total     int64            `json:"total"`
	ByKind    map[Kind]int64   `json:"by_kind"`
	BySender  map[string]int64 `json:"by_sender"`
	StartedAt time.Time        `json:"started_at"`
	LastAt    time.Time        `json:"last_at,omitempty"`
	PerMinute float64          `json:"per_minute"`
}

// Stats returns a copy of the aggregate counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	st := Stats{
		Total:     b.total,
		ByKind:    make(map[Kind]int64, len(b.byKind)),
		BySender:  make(map[string]int64, len(b.bySender)),
		StartedAt: b.startedAt,
		LastAt:    b.lastAt,
	}
	for k, v := range b.byKind {
		st.ByKind[k] = v
	}
	for s, v := range b.bySender {
		st.BySender[s] = v
	}
	if mins := b.clk.Now().Sub(b.startedAt).Minutes(); mins > 0 {
		st.PerMinute = float64(b.total) / mins
	}
	return st
}

// Snapshot copies the retained window, oldest first.
func (b *Bus) Snapshot() []Event {
	return b.Recent(0)
}

// Restore replaces the bus contents with a previously exported window,
// preserving the original sequence numbers. New appends continue after
// the highest restored seq. Counters are rebuilt from the restored
// events.
func (b *Bus) Restore(events []Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = b.events[:0]
	b.nextSeq = 0
	b.total = 0
	b.byKind = make(map[Kind]int64)
	b.bySender = make(map[string]int64)
	b.lastAt = time.Time{}
	for _, ev := range events {
		b.events = append(b.events, ev)
		if ev.Seq > b.nextSeq {
			b.nextSeq = ev.Seq
		}
		b.total++
		b.byKind[ev.Kind]++
		b.bySender[ev.Sender]++
		if ev.CreatedAt.After(b.lastAt) {
			b.lastAt = ev.CreatedAt
		}
	}
	if len(b.events) > b.capacity {
		b.events = b.events[len(b.events)-b.capacity:]
	}
}

// Reset clears the window, counters, and sequence numbering, and closes
// every live subscription. Only legal between sessions.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = b.events[:0]
	b.nextSeq = 0
	b.total = 0
	b.byKind = make(map[Kind]int64)
	b.bySender = make(map[string]int64)
	b.startedAt = b.clk.Now()
	b.lastAt = time.Time{}
	for sub := range b.subs {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// AddSink registers a broadcast sink. Every subsequent append is handed
// to it off the append path.
func (b *Bus) AddSink(s Sink) {
	b.sinkMu.Lock()
	b.sinks = append(b.sinks, s)
	b.sinkMu.Unlock()
}

func (b *Bus) drainSinks() {
	defer b.drained.Done()
	for {
		select {
		case <-b.done:
			return
		case ev := <-b.sinkCh:
			b.sinkMu.Lock()
			sinks := make([]Sink, len(b.sinks))
			copy(sinks, b.sinks)
			b.sinkMu.Unlock()
			for _, s := range sinks {
				if err := s.Deliver(ev); err != nil {
					logger.Warn("bus: sink delivery failed", "seq", ev.Seq, "error", err)
				}
			}
		}
	}
}
