package lifecycle

import "sync"

// Event is one progress update. Pass/PassCount are zero outside multi-pass
// operations; BytesTotal is zero when the total is unknown.
type Event struct {
	Phase          string
	BytesCompleted int64
	BytesTotal     int64
	Pass           int
	PassCount      int
}

// Reporter fans progress events out to one consumer over a bounded queue.
// When the consumer lags, the oldest queued event is dropped so device I/O
// never blocks on rendering.
type Reporter struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

func NewReporter(capacity int) *Reporter {
	if capacity <= 0 {
		capacity = 64
	}
	return &Reporter{ch: make(chan Event, capacity)}
}

// Events is the consumer side. The channel is closed by Close.
func (r *Reporter) Events() <-chan Event { return r.ch }

func (r *Reporter) publish(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	for {
		select {
		case r.ch <- ev:
			return
		default:
		}
		select {
		case <-r.ch: // drop oldest
		default:
		}
	}
}

// Close ends the event stream. Publishes after Close are discarded.
func (r *Reporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
}
