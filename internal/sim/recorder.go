package sim

import (
	"context"
	"sync"

	"github.com/roach88/ownsim/internal/ir"
)

// Recorder receives every event the simulator emits, nested ones included.
// Implemented by MemoryRecorder and store.Store.
type Recorder interface {
	Record(ctx context.Context, e ir.Event) error
}

// RecorderFunc adapts a function to the Recorder interface.
type RecorderFunc func(ctx context.Context, e ir.Event) error

// Record calls f(ctx, e).
func (f RecorderFunc) Record(ctx context.Context, e ir.Event) error {
	return f(ctx, e)
}

// Discard drops every event.
var Discard Recorder = RecorderFunc(func(context.Context, ir.Event) error { return nil })

// MemoryRecorder keeps events in memory in the order they were recorded.
//
// Control events are recorded after their children but carry a smaller
// seq; use Sorted for seq order.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []ir.Event
}

// NewMemoryRecorder creates an empty recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// Record appends e.
func (r *MemoryRecorder) Record(_ context.Context, e ir.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

// Sorted returns a copy of the recorded events ordered by seq.
func (r *MemoryRecorder) Sorted() []ir.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ir.Event, len(r.events))
	copy(out, r.events)
	SortEvents(out)
	return out
}

// Len returns the number of recorded events.
func (r *MemoryRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// MultiRecorder fans events out to every recorder in order, stopping at
// the first failure.
func MultiRecorder(recorders ...Recorder) Recorder {
	return RecorderFunc(func(ctx context.Context, e ir.Event) error {
		for _, r := range recorders {
			if err := r.Record(ctx, e); err != nil {
				return err
			}
		}
		return nil
	})
}
