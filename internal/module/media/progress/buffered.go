package progress

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

const defaultBufferSize = 256

// Buffered hands events to a background goroutine so a slow sink never
// blocks the reporting pipeline. Events are dropped when the buffer is full.
type Buffered struct {
	sink   Sink
	events chan Event
	done   chan struct{}
	logger *zap.Logger

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewBuffered starts delivering to sink. size <= 0 uses the default.
func NewBuffered(sink Sink, size int, logger *zap.Logger) *Buffered {
	if size <= 0 {
		size = defaultBufferSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Buffered{
		sink:   OrDiscard(sink),
		events: make(chan Event, size),
		done:   make(chan struct{}),
		logger: logger.Named("progress-buffer"),
	}
	go b.run()
	return b
}

// OnProgress implements Sink. It never blocks.
func (b *Buffered) OnProgress(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	select {
	case b.events <- e:
	default:
		b.dropped.Add(1)
		b.logger.Warn("progress buffer full, dropping event",
			zap.String("job_id", e.JobID),
			zap.String("stage", string(e.Stage)))
	}
}

// Dropped returns the number of events discarded so far.
func (b *Buffered) Dropped() int64 {
	return b.dropped.Load()
}

// Close stops accepting events and waits until buffered ones are delivered.
func (b *Buffered) Close() {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.events)
	}
	b.mu.Unlock()
	<-b.done
}

func (b *Buffered) run() {
	defer close(b.done)
	for e := range b.events {
		b.sink.OnProgress(e)
	}
}

// Compile-time interface check
var _ Sink = (*Buffered)(nil)
