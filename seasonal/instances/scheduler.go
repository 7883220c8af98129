package instances

import (
	"context"
	"sync/atomic"
	"time"
)

// Loop is the single-threaded main execution context. Everything that
// mutates shared engine state (active instances, occupied ranges, quest
// records) runs as a task on this loop, which is what lets those structures
// go lock-free.
type Loop struct {
	tasks chan func()
	done  chan struct{}
}

func NewLoop(buffer int) *Loop {
	return &Loop{
		tasks: make(chan func(), buffer),
		done:  make(chan struct{}),
	}
}

// Run consumes tasks until the context is cancelled. Call exactly once.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case fn := <-l.tasks:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// Submit queues fn onto the loop. Returns false if the loop has stopped,
// in which case fn never runs.
func (l *Loop) Submit(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// SubmitWait queues fn and blocks until it has run. Must not be called from
// a task already on the loop.
func (l *Loop) SubmitWait(fn func()) {
	ran := make(chan struct{})
	if !l.Submit(func() {
		fn()
		close(ran)
	}) {
		return
	}
	select {
	case <-ran:
	case <-l.done:
	}
}

// Task is a cancellable one-shot deferred callback. The callback runs on
// the loop; a cancelled task that already fired is a guaranteed no-op.
type Task struct {
	timer     *time.Timer
	cancelled atomic.Bool
}

// After schedules fn to run on the loop after d.
func (l *Loop) After(d time.Duration, fn func()) *Task {
	t := &Task{}
	t.timer = time.AfterFunc(d, func() {
		if t.cancelled.Load() {
			return
		}
		l.Submit(func() {
			if t.cancelled.Load() {
				return
			}
			fn()
		})
	})
	return t
}

// Cancel stops the task. Safe on nil and safe to call more than once.
func (t *Task) Cancel() {
	if t == nil {
		return
	}
	t.cancelled.Store(true)
	t.timer.Stop()
}
