package deploy

import (
	"sync"
	"time"
)

// Event is one state transition of one device during a run.
type Event struct {
	Time   time.Time `json:"time"`
	Device string    `json:"device"`
	State  State     `json:"-"`
	Status string    `json:"status"`
	Error  string    `json:"error,omitempty"`
}

// EventBuffer is a thread-safe circular buffer of recent deployment
// events with live subscriptions. The orchestrator publishes every
// transition into it; the API's stream endpoint subscribes.
type EventBuffer struct {
	mu    sync.RWMutex
	buf   []Event
	size  int
	head  int
	count int

	subMu sync.RWMutex
	subs  map[*Subscription]struct{}
}

// Subscription receives new events from an EventBuffer.
type Subscription struct {
	C  chan Event
	eb *EventBuffer
}

// Close unsubscribes. The channel is not closed; readers select on it
// together with their own done signal.
func (s *Subscription) Close() {
	s.eb.unsubscribe(s)
}

func NewEventBuffer(size int) *EventBuffer {
	if size < 1 {
		size = 256
	}
	return &EventBuffer{
		buf:  make([]Event, size),
		size: size,
		subs: make(map[*Subscription]struct{}),
	}
}

// Add stores an event, overwriting the oldest if full, and notifies
// subscribers without blocking. Slow subscribers lose events rather
// than stalling a worker.
func (eb *EventBuffer) Add(ev Event) {
	eb.mu.Lock()
	eb.buf[eb.head] = ev
	eb.head = (eb.head + 1) % eb.size
	if eb.count < eb.size {
		eb.count++
	}
	eb.mu.Unlock()

	eb.subMu.RLock()
	for sub := range eb.subs {
		select {
		case sub.C <- ev:
		default:
		}
	}
	eb.subMu.RUnlock()
}

// Recent returns up to n most recent events, oldest first.
func (eb *EventBuffer) Recent(n int) []Event {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if n <= 0 || n > eb.count {
		n = eb.count
	}
	out := make([]Event, 0, n)
	start := eb.head - n
	if start < 0 {
		start += eb.size
	}
	for i := 0; i < n; i++ {
		out = append(out, eb.buf[(start+i)%eb.size])
	}
	return out
}

// Subscribe registers a live event channel with the given buffer size.
func (eb *EventBuffer) Subscribe(bufSize int) *Subscription {
	if bufSize < 1 {
		bufSize = 64
	}
	sub := &Subscription{C: make(chan Event, bufSize), eb: eb}
	eb.subMu.Lock()
	eb.subs[sub] = struct{}{}
	eb.subMu.Unlock()
	return sub
}

func (eb *EventBuffer) unsubscribe(sub *Subscription) {
	eb.subMu.Lock()
	delete(eb.subs, sub)
	eb.subMu.Unlock()
}
