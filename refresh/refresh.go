// This file defines the background revalidation worker pool.
// The goal of revalidation is: "Keep data fresh without slowing down reads"

package refresh

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/krisalay/tiercache/types"
)

const (
	DefaultWorkers  = 2
	DefaultQueue    = 64
	DefaultMaxTries = 3
)

// ErrQueueFull completes a task that could not be queued.
var ErrQueueFull = errors.New("revalidation queue is full")

// ErrClosed completes a task submitted after Close.
var ErrClosed = errors.New("revalidator is closed")

// Job does the actual refresh: fetch from the origin and store the result.
type Job func(ctx context.Context) error

/*
Task is one background revalidation. It is returned immediately by Submit and
completes later; callers that care can wait on Done and read Err.
*/
type Task struct {
	ID  uuid.UUID
	Key string

	job  Job
	done chan struct{}
	err  error
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the final error. It is only meaningful after Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx ends.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Task) finish(err error) {
	t.err = err
	close(t.done)
}

/*
Revalidator runs refresh jobs on a fixed pool of workers.

- One task per key is in flight at a time; a second Submit for the same key
  returns the task already queued.
- Each job is retried with exponential backoff, up to a bounded number of tries.
- A full queue never blocks the caller: the task completes with ErrQueueFull.
*/
type Revalidator struct {
	queue    chan *Task
	workers  int
	maxTries uint
	timeout  time.Duration
	newBO    func() backoff.BackOff

	recorder types.Recorder
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	inflight map[string]*Task
	closed   bool

	// pending counts submitted tasks that have not finished.
	pending sync.WaitGroup
	workWG  sync.WaitGroup
}

// Option configures a Revalidator.
type Option func(*Revalidator)

// WithWorkers sets the worker count.
func WithWorkers(n int) Option {
	return func(r *Revalidator) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithQueueSize sets how many tasks may wait for a worker.
func WithQueueSize(n int) Option {
	return func(r *Revalidator) {
		if n > 0 {
			r.queue = make(chan *Task, n)
		}
	}
}

// WithMaxTries bounds the attempts per task.
func WithMaxTries(n uint) Option {
	return func(r *Revalidator) {
		if n > 0 {
			r.maxTries = n
		}
	}
}

// WithTimeout bounds each task, retries included.
func WithTimeout(d time.Duration) Option {
	return func(r *Revalidator) {
		r.timeout = d
	}
}

// WithBackOff sets the retry delay schedule. fn is called once per task.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(r *Revalidator) {
		if fn != nil {
			r.newBO = fn
		}
	}
}

// WithRecorder reports task outcomes to rec.
func WithRecorder(rec types.Recorder) Option {
	return func(r *Revalidator) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Revalidator) {
		if l != nil {
			r.logger = l
		}
	}
}

// New creates a Revalidator and starts its workers.
func New(opts ...Option) *Revalidator {
	r := &Revalidator{
		queue:    make(chan *Task, DefaultQueue),
		workers:  DefaultWorkers,
		maxTries: DefaultMaxTries,
		newBO:    func() backoff.BackOff { return backoff.NewExponentialBackOff() },
		recorder: types.NoopRecorder{},
		logger:   zap.NewNop(),
		inflight: make(map[string]*Task),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())

	for i := 0; i < r.workers; i++ {
		r.workWG.Add(1)
		go r.worker()
	}
	return r
}

// Submit queues job to refresh key and returns its task without waiting.
func (r *Revalidator) Submit(key string, job Job) *Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.inflight[key]; ok {
		return t
	}

	t := &Task{ID: uuid.New(), Key: key, job: job, done: make(chan struct{})}
	if r.closed {
		t.finish(ErrClosed)
		return t
	}

	select {
	case r.queue <- t:
		r.inflight[key] = t
		r.pending.Add(1)
	default:
		r.logger.Warn("revalidation queue full, skipping refresh",
			zap.String("key", key), zap.Stringer("task", t.ID))
		t.finish(ErrQueueFull)
	}
	return t
}

// Wait blocks until every task submitted so far has finished.
func (r *Revalidator) Wait() {
	r.pending.Wait()
}

// Pending returns how many tasks are queued or running.
func (r *Revalidator) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}

/*
Close stops accepting tasks, lets the workers drain the queue and waits for
them. Tasks still retrying see their context cancelled once ctx ends; pass
context.Background() to let them finish.
*/
func (r *Revalidator) Close(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	stopped := make(chan struct{})
	go func() {
		r.workWG.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-ctx.Done():
		r.cancel()
		<-stopped
	}
	r.cancel()
}

func (r *Revalidator) worker() {
	defer r.workWG.Done()
	for t := range r.queue {
		r.run(t)
	}
}

func (r *Revalidator) run(t *Task) {
	ctx := r.ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		return struct{}{}, t.job(ctx)
	},
		backoff.WithBackOff(r.newBO()),
		backoff.WithMaxTries(r.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.logger.Debug("revalidation attempt failed",
				zap.String("key", t.Key),
				zap.Int("attempt", attempt),
				zap.Duration("retry_in", next),
				zap.Error(err),
			)
		}),
	)

	if err != nil {
		r.logger.Warn("background revalidation failed",
			zap.String("key", t.Key),
			zap.Stringer("task", t.ID),
			zap.Int("attempts", attempt),
			zap.Error(err),
		)
	}
	r.recorder.Refresh(t.Key, err)

	r.mu.Lock()
	delete(r.inflight, t.Key)
	r.mu.Unlock()

	t.finish(err)
	r.pending.Done()
}
