package worker

import (
	"context"
	"log/slog"
	"sync"
)

// Ensure Pool implements Executor
var _ Executor = (*Pool)(nil)

// Pool is a fixed set of goroutines draining a bounded queue. Jobs submitted
// before Start are held in the queue.
type Pool struct {
	workers int
	queue   chan Job

	// mu guards stopped and pending; idle is signalled when pending drops
	// to zero.
	mu      sync.Mutex
	idle    *sync.Cond
	stopped bool
	pending int

	running sync.WaitGroup
	start   sync.Once
}

func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	p := &Pool{
		workers: workers,
		queue:   make(chan Job, queueSize),
	}
	p.idle = sync.NewCond(&p.mu)
	return p
}

// Start launches the workers. Later calls are no-ops.
func (p *Pool) Start(ctx context.Context, handle HandlerFunc) {
	p.start.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.running.Add(1)
			go p.loop(ctx, handle)
		}
	})
}

func (p *Pool) loop(ctx context.Context, handle HandlerFunc) {
	defer p.running.Done()
	for job := range p.queue {
		p.run(ctx, handle, job)
	}
}

func (p *Pool) run(ctx context.Context, handle HandlerFunc, job Job) {
	defer p.done()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[WORKER] Job panicked", "path", job.Path, "panic", r)
		}
	}()
	if err := handle(ctx, job); err != nil {
		slog.Warn("[WORKER] Job failed", "path", job.Path, "error", err)
	}
}

func (p *Pool) done() {
	p.mu.Lock()
	p.pending--
	if p.pending == 0 {
		p.idle.Broadcast()
	}
	p.mu.Unlock()
}

func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.queue <- job:
		p.pending++
		return nil
	default:
		return ErrQueueFull
	}
}

// Wait blocks until no job is queued or running. Jobs submitted while
// waiting, including by running jobs, are waited for too.
func (p *Pool) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.pending > 0 {
		p.idle.Wait()
	}
}

// Stop refuses new jobs, lets queued ones finish and joins the workers.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()
	p.running.Wait()
}
