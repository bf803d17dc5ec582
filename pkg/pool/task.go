package pool

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"hackohio/solverd/pkg/smt"
)

// Task pairs a script with the handle its result is delivered through.
type Task struct {
	ID     string
	Script smt.Script

	ctx      context.Context // submitter's context; cancelling it aborts the task
	enqueued time.Time
	handle   *future
}

func newTask(ctx context.Context, script smt.Script) *Task {
	return &Task{
		ID:     uuid.NewString(),
		Script: script,
		ctx:    ctx,
		handle: newFuture(),
	}
}

// future is a write-once result slot with a single producer (the worker or
// the closing pool) and a single consumer (the submitter).
type future struct {
	done chan struct{}
	once sync.Once
	res  smt.Result
}

func newFuture() *future {
	return &future{done: make(chan struct{})}
}

// fulfill stores res unless a result was already stored. It reports whether
// this call won.
func (f *future) fulfill(res smt.Result) bool {
	won := false
	f.once.Do(func() {
		f.res = res
		close(f.done)
		won = true
	})
	return won
}

func (f *future) wait(ctx context.Context) (smt.Result, error) {
	select {
	case <-f.done:
		return f.res, nil
	case <-ctx.Done():
		return smt.Result{}, ctx.Err()
	}
}
