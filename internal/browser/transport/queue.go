// internal/browser/transport/queue.go
package transport

import "sync"

// EventQueue is an unbounded FIFO between the connection reader, which must
// never block, and a single consumer. Push appends and returns immediately;
// a pump goroutine hands items to the consumer in order.
type EventQueue struct {
	mu      sync.Mutex
	items   []Event
	closed  bool
	notify  chan struct{}
	out     chan Event
	abandon chan struct{}
	stopped sync.Once
}

// NewEventQueue creates a queue and starts its pump.
func NewEventQueue() *EventQueue {
	q := &EventQueue{
		notify:  make(chan struct{}, 1),
		out:     make(chan Event),
		abandon: make(chan struct{}),
	}
	go q.pump()
	return q
}

// C is the consumer side.
func (q *EventQueue) C() <-chan Event { return q.out }

// Push enqueues ev. It reports false once the queue has been closed.
func (q *EventQueue) Push(ev Event) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()
	q.wake()
	return true
}

// Close enqueues a final item and seals the queue. Later calls are no-ops.
func (q *EventQueue) Close(final Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, final)
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

// Stop releases the pump even if nobody is reading. Pending items are dropped.
func (q *EventQueue) Stop() {
	q.stopped.Do(func() { close(q.abandon) })
}

// Len is the number of items not yet handed to the consumer.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *EventQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *EventQueue) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-q.notify:
				continue
			case <-q.abandon:
				return
			}
		}
		batch := q.items
		q.items = nil
		q.mu.Unlock()

		for _, ev := range batch {
			select {
			case q.out <- ev:
			case <-q.abandon:
				return
			}
		}
	}
}
