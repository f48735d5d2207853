// Package watcher keeps a vault directory of markdown files in sync
// with the graph: filesystem events are debounced and replayed through
// the document pipeline.
package watcher

import (
	"sync"
	"time"
)

// Op is a coalesced file operation.
type Op int

const (
	OpCreate Op = iota
	OpModify
	OpDelete
)

func (op Op) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	}
	return "UNKNOWN"
}

// Event is one debounced file change.
type Event struct {
	Path string
	Op   Op
	At   time.Time
}

// DefaultDebounce is the coalescing window when none is configured.
const DefaultDebounce = 500 * time.Millisecond

// Debouncer coalesces rapid events per path before emitting batches.
// Within one window:
//
//	CREATE + MODIFY = CREATE
//	CREATE + DELETE = nothing
//	MODIFY + DELETE = DELETE
//	DELETE + CREATE = MODIFY
type Debouncer struct {
	window time.Duration
	out    chan []Event

	mu      sync.Mutex
	pending map[string]Event
	timer   *time.Timer
	closed  bool
}

// NewDebouncer creates a debouncer emitting batches after window of
// quiet per burst.
func NewDebouncer(window time.Duration) *Debouncer {
	if window <= 0 {
		window = DefaultDebounce
	}
	return &Debouncer{
		window:  window,
		out:     make(chan []Event, 16),
		pending: make(map[string]Event),
	}
}

// Add records an event, coalescing with any pending one for the path.
func (d *Debouncer) Add(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	if prev, ok := d.pending[ev.Path]; ok {
		switch {
		case prev.Op == OpCreate && ev.Op == OpModify:
			ev.Op = OpCreate
		case prev.Op == OpCreate && ev.Op == OpDelete:
			delete(d.pending, ev.Path)
			d.schedule()
			return
		case prev.Op == OpDelete && ev.Op == OpCreate:
			ev.Op = OpModify
		}
	}
	d.pending[ev.Path] = ev
	d.schedule()
}

// schedule arms the flush timer. Caller holds the lock.
func (d *Debouncer) schedule() {
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	if d.closed || len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	batch := make([]Event, 0, len(d.pending))
	for _, ev := range d.pending {
		batch = append(batch, ev)
	}
	d.pending = make(map[string]Event)
	d.mu.Unlock()

	d.out <- batch
}

// Events delivers coalesced batches.
func (d *Debouncer) Events() <-chan []Event { return d.out }

// Close stops the debouncer and closes the event channel. Pending
// events are dropped.
func (d *Debouncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.out)
}
