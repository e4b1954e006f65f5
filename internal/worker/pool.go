package worker

import (
	"context"
	"log/slog"
	"sync"
)

// Pool manages a fixed number of worker goroutines that run subscription
// jobs. A subscription has at most one job queued or running at a time.
type Pool struct {
	numWorkers int
	jobs       chan Job
	runner     *Runner
	logger     *slog.Logger
	wg         sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewPool creates a worker pool with the given number of workers.
func NewPool(numWorkers int, runner *Runner, logger *slog.Logger) *Pool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan Job, numWorkers*2),
		runner:     runner,
		logger:     logger,
		inflight:   make(map[string]struct{}),
	}
}

// Start launches all worker goroutines. They read from the jobs channel
// until it is closed.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("worker pool started", "num_workers", p.numWorkers)
}

// Submit queues job unless its subscription already has a job in flight.
// It blocks while the queue is full and gives up when ctx is done.
func (p *Pool) Submit(ctx context.Context, job Job) bool {
	id := job.Subscription.ID
	p.mu.Lock()
	if _, busy := p.inflight[id]; busy {
		p.mu.Unlock()
		return false
	}
	p.inflight[id] = struct{}{}
	p.mu.Unlock()

	select {
	case p.jobs <- job:
		return true
	case <-ctx.Done():
		p.release(id)
		return false
	}
}

// Stop closes the jobs channel and waits for all workers to finish.
func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) release(id string) {
	p.mu.Lock()
	delete(p.inflight, id)
	p.mu.Unlock()
}

// worker is a single goroutine that processes jobs from the channel. Jobs
// still queued after ctx is cancelled are drained without running.
func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		if ctx.Err() == nil {
			if err := p.runner.Run(ctx, job); err != nil {
				p.logger.Debug("subscription job failed", "worker", id, "subscription_id", job.Subscription.ID, "error", err)
			}
		}
		p.release(job.Subscription.ID)
	}
}
