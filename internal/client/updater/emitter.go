package updater

import (
	"context"
	"sync"

	"github.com/yndnr/otamesh-go/internal/core/domain"
)

// Emitter receives the telemetry events of the state machine. Emit must
// not block on the network.
type Emitter interface {
	Emit(ev *domain.Event)
}

// DefaultEventBuffer bounds the events held between flushes.
const DefaultEventBuffer = 2048

// BufferedEmitter queues events in memory and delivers them on Flush. When
// the buffer is full the oldest events are dropped.
type BufferedEmitter struct {
	sink  EventSink
	limit int
	batch int

	mu      sync.Mutex
	pending []*domain.Event
	dropped int
}

// NewBufferedEmitter creates an emitter delivering to sink.
func NewBufferedEmitter(sink EventSink, limit int) *BufferedEmitter {
	if limit <= 0 {
		limit = DefaultEventBuffer
	}
	return &BufferedEmitter{sink: sink, limit: limit, batch: 500}
}

// Emit implements Emitter.
func (e *BufferedEmitter) Emit(ev *domain.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pending) >= e.limit {
		e.pending = e.pending[1:]
		e.dropped++
	}
	e.pending = append(e.pending, ev)
}

// Pending returns the number of undelivered events.
func (e *BufferedEmitter) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Dropped returns how many events were discarded on overflow.
func (e *BufferedEmitter) Dropped() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dropped
}

// Flush sends queued events in batches. Events of a failed batch stay
// queued; the server deduplicates retried events.
func (e *BufferedEmitter) Flush(ctx context.Context) error {
	for {
		e.mu.Lock()
		n := min(len(e.pending), e.batch)
		batch := append([]*domain.Event(nil), e.pending[:n]...)
		e.mu.Unlock()

		if n == 0 {
			return nil
		}
		if err := e.sink.SendEvents(ctx, batch); err != nil {
			return err
		}

		delivered := make(map[*domain.Event]struct{}, n)
		for _, ev := range batch {
			delivered[ev] = struct{}{}
		}
		e.mu.Lock()
		// Overflow may have shifted the queue while the batch was in flight.
		kept := e.pending[:0]
		for _, ev := range e.pending {
			if _, ok := delivered[ev]; !ok {
				kept = append(kept, ev)
			}
		}
		e.pending = kept
		e.mu.Unlock()
	}
}
