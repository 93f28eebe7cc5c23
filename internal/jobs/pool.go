// Package jobs runs long analyses on a fixed pool of workers and records
// their progress in the store.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/demetra.report/internal/monitoring"
	"github.com/banshee-data/demetra.report/internal/store"
)

var (
	ErrQueueFull = errors.New("job queue is full")
	ErrStopped   = errors.New("job pool is not running")
)

// Store persists job state. *store.Store implements it.
type Store interface {
	CreateJob(kind string) (*store.Job, error)
	UpdateJob(id string, status store.JobStatus, resultID, errMsg string) error
}

// Func performs a job and returns the ID of the result it produced.
type Func func(ctx context.Context) (resultID string, err error)

type task struct {
	id   string
	kind string
	fn   Func
}

// Pool executes submitted jobs on a fixed number of workers.
type Pool struct {
	store     Store
	workers   int
	queueSize int

	mu      sync.Mutex
	queue   chan task
	running bool
	group   *errgroup.Group
}

// NewPool returns a pool with the given number of workers and queue
// capacity. Non-positive values default to 1 worker and 100 slots.
func NewPool(st Store, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Pool{store: st, workers: workers, queueSize: queueSize}
}

// Start launches the workers. Jobs receive ctx; cancelling it asks
// running jobs to give up but Stop still drains the queue.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.queue = make(chan task, p.queueSize)
	p.group = &errgroup.Group{}
	for i := 0; i < p.workers; i++ {
		queue := p.queue
		p.group.Go(func() error {
			for t := range queue {
				p.run(ctx, t)
			}
			return nil
		})
	}
	p.running = true
}

// Stop closes the queue, waits for queued and running jobs to finish and
// returns once every worker has exited.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.queue)
	group := p.group
	p.mu.Unlock()
	_ = group.Wait()
}

// Submit records a pending job of the given kind and queues fn. The job ID
// is returned immediately.
func (p *Pool) Submit(kind string, fn Func) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return "", ErrStopped
	}
	job, err := p.store.CreateJob(kind)
	if err != nil {
		return "", fmt.Errorf("submit %s job: %w", kind, err)
	}
	select {
	case p.queue <- task{id: job.ID, kind: kind, fn: fn}:
		return job.ID, nil
	default:
		if err := p.store.UpdateJob(job.ID, store.JobFailed, "", ErrQueueFull.Error()); err != nil {
			monitoring.Logf("jobs: mark %s failed: %v", job.ID, err)
		}
		return "", ErrQueueFull
	}
}

func (p *Pool) run(ctx context.Context, t task) {
	if err := p.store.UpdateJob(t.id, store.JobRunning, "", ""); err != nil {
		monitoring.Logf("jobs: mark %s running: %v", t.id, err)
	}
	resultID, err := p.call(ctx, t)
	status, msg := store.JobCompleted, ""
	if err != nil {
		status, msg = store.JobFailed, err.Error()
		monitoring.Logf("jobs: %s job %s failed: %v", t.kind, t.id, err)
	}
	if err := p.store.UpdateJob(t.id, status, resultID, msg); err != nil {
		monitoring.Logf("jobs: mark %s %s: %v", t.id, status, err)
	}
}

func (p *Pool) call(ctx context.Context, t task) (resultID string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return t.fn(ctx)
}
