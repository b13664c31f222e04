package chat

import "sync"

// Conn is a live client connection as seen by the router.
type Conn interface {
	// Send queues ev without blocking. False means the connection is closed
	// or too far behind and should be treated as broken.
	Send(ev Event) bool
	// Close must not block: it is called with the service lock held.
	Close() error
	RemoteAddr() string
}

// Outbox is a bounded per-connection event queue. Events pushed under the
// service lock keep their order; a writer goroutine drains them.
type Outbox struct {
	events chan Event
	done   chan struct{}
	once   sync.Once
}

func NewOutbox(size int) *Outbox {
	if size <= 0 {
		size = 1
	}
	return &Outbox{
		events: make(chan Event, size),
		done:   make(chan struct{}),
	}
}

func (o *Outbox) Push(ev Event) bool {
	select {
	case <-o.done:
		return false
	default:
	}

	select {
	case o.events <- ev:
		return true
	default:
		return false
	}
}

func (o *Outbox) Events() <-chan Event {
	return o.events
}

func (o *Outbox) Done() <-chan struct{} {
	return o.done
}

// Close stops accepting events. Already queued events stay readable so the
// writer can flush them.
func (o *Outbox) Close() {
	o.once.Do(func() {
		close(o.done)
	})
}

// Drain returns the events still queued, without blocking.
func (o *Outbox) Drain() []Event {
	var out []Event
	for {
		select {
		case ev := <-o.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}
