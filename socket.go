package transport

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Socket is an asynchronous byte-stream socket.
//
// Each call starts one operation and returns immediately; done is invoked
// exactly once with the number of bytes transferred or an error. Partial
// transfers are legal. Completions must be delivered on the goroutine
// that owns the Transport, normally a Loop.
type Socket interface {
	Read(buf []byte, done func(n int, err error))
	Write(buf []byte, done func(n int, err error))
}

// Errors returned by Loop.
var (
	// ErrLoopStopped is returned when posting to a loop that has exited.
	ErrLoopStopped = errors.New("loop stopped")
	// ErrLoopRunning is returned when Run is called on a running loop.
	ErrLoopRunning = errors.New("loop already running")
)

// Loop runs posted tasks one at a time on a single goroutine.
// It is the logical thread a Transport and its socket completions live on.
type Loop struct {
	running atomic.Bool

	mu      sync.Mutex
	tasks   []func()
	stopped bool
	wake    chan struct{}
}

// NewLoop creates a Loop. Tasks may be posted before Run starts.
func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post queues task to run on the loop. It never blocks.
// It returns false, dropping the task, once the loop has exited.
func (l *Loop) Post(task func()) bool {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return false
	}
	l.tasks = append(l.tasks, task)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

// Do runs task on the loop and waits for it to finish.
// It must not be called from the loop goroutine.
func (l *Loop) Do(ctx context.Context, task func()) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		task()
	}) {
		return ErrLoopStopped
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run executes posted tasks in order until ctx is done.
// Tasks still queued when it returns are dropped.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrLoopRunning
	}
	defer l.stop()

	for {
		l.mu.Lock()
		tasks := l.tasks
		l.tasks = nil
		l.mu.Unlock()

		for _, task := range tasks {
			if err := ctx.Err(); err != nil {
				return err
			}
			task()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

func (l *Loop) stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopped = true
	l.tasks = nil
}
