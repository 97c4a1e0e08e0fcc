package tasksnap

import (
	"context"
	"sync"
)

// Progress is a fractional completion value in [0, 1] that only moves
// forward.
type Progress struct {
	mu     sync.Mutex
	value  float64
	events *broadcaster[float64]
}

func newProgress() *Progress {
	return &Progress{events: newBroadcaster[float64]()}
}

// Set advances progress to v. Values below the current one are ignored.
func (p *Progress) Set(v float64) {
	if v > 1 {
		v = 1
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if v <= p.value {
		return
	}
	p.value = v
	p.events.publish(v)
}

// Value returns the current progress.
func (p *Progress) Value() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

// Subscribe registers for progress updates. The channel is closed when the
// task finishes.
func (p *Progress) Subscribe(buffer int) (updates <-chan float64, cancel func()) {
	return p.events.subscribe(buffer)
}

// Task is the result of a background export or restore.
type Task[T any] struct {
	done     chan struct{}
	progress *Progress
	result   T
	err      error
}

// startTask runs fn on its own goroutine. onDone runs after fn returns and
// before Wait callers are released.
func startTask[T any](ctx context.Context, fn func(ctx context.Context, p *Progress) (T, error), onDone func(error)) *Task[T] {
	t := &Task[T]{
		done:     make(chan struct{}),
		progress: newProgress(),
	}
	go func() {
		defer close(t.done)
		t.result, t.err = fn(ctx, t.progress)
		if t.err == nil {
			t.progress.Set(1)
		}
		t.progress.events.close()
		if onDone != nil {
			onDone(t.err)
		}
	}()
	return t
}

// Done is closed when the task has finished.
func (t *Task[T]) Done() <-chan struct{} {
	return t.done
}

// Progress returns the task's progress.
func (t *Task[T]) Progress() *Progress {
	return t.progress
}

// Wait blocks until the task finishes or ctx is done. Giving up on the wait
// does not cancel the task.
func (t *Task[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-t.done:
		return t.result, t.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
