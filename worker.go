package woningcheck

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Zombie sweeping: a run that has not advanced for this long is failed.
const (
	DefaultZombieAge    = 30 * time.Minute
	defaultSweepEvery   = 5 * time.Minute
	defaultQueueDepth   = 64
	defaultWorkerCount  = 4
	defaultCleanupAge   = 24 * time.Hour
	defaultCleanupEvery = time.Hour
)

// Job is one queued analysis.
type Job struct {
	RunID string
	Raw   map[string]any
}

// Pool runs pipeline executions on a bounded set of workers and sweeps
// zombie runs in the background.
type Pool struct {
	pipeline *Pipeline
	store    *RunStore
	logger   *slog.Logger

	workers int
	jobs    chan Job
	stopCh  chan struct{}
	wg      sync.WaitGroup

	zombieAge time.Duration
	cleanup   func()
}

// OnCleanup registers an extra hook run on every cleanup tick, after
// the in-memory prune. The durable store prunes itself through it.
func (p *Pool) OnCleanup(fn func()) { p.cleanup = fn }

// NewPool creates a worker pool. Non-positive workers falls back to the
// default of four.
func NewPool(pipeline *Pipeline, store *RunStore, workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = defaultWorkerCount
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		pipeline:  pipeline,
		store:     store,
		logger:    logger,
		workers:   workers,
		jobs:      make(chan Job, defaultQueueDepth),
		stopCh:    make(chan struct{}),
		zombieAge: DefaultZombieAge,
	}
}

// Start launches the workers and the background sweepers.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("Starting worker pool", "workers", p.workers)

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, i)
	}

	p.wg.Add(1)
	go p.runSweeper(ctx)
}

// Stop drains the pool: no new jobs are accepted and running jobs finish.
func (p *Pool) Stop() {
	close(p.stopCh)
	p.wg.Wait()
}

// Submit queues a job. A full queue rejects instead of blocking the
// HTTP handler that called it.
func (p *Pool) Submit(job Job) error {
	select {
	case <-p.stopCh:
		return fmt.Errorf("worker pool is shutting down")
	default:
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		return fmt.Errorf("analysis queue is full (%d pending)", len(p.jobs))
	}
}

// QueueDepth reports how many jobs are waiting.
func (p *Pool) QueueDepth() int { return len(p.jobs) }

func (p *Pool) runWorker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case job := <-p.jobs:
			p.execute(ctx, id, job)
		}
	}
}

func (p *Pool) execute(ctx context.Context, worker int, job Job) {
	p.logger.Info("Worker picked up run", "worker", worker, "run", job.RunID)
	if _, err := p.pipeline.Execute(ctx, job.RunID, job.Raw); err != nil {
		p.logger.Error("Run execution failed", "worker", worker, "run", job.RunID, "error", err)
		return
	}
	p.logger.Info("Run completed", "worker", worker, "run", job.RunID)
}

// runSweeper periodically fails zombie runs and prunes old terminal runs.
func (p *Pool) runSweeper(ctx context.Context) {
	defer p.wg.Done()

	sweep := time.NewTicker(defaultSweepEvery)
	cleanup := time.NewTicker(defaultCleanupEvery)
	defer sweep.Stop()
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-sweep.C:
			p.sweepZombies()
		case <-cleanup.C:
			p.runCleanup()
		}
	}
}

func (p *Pool) runCleanup() {
	p.store.CleanupOld(defaultCleanupAge)
	if p.cleanup != nil {
		p.cleanup()
	}
}

func (p *Pool) sweepZombies() {
	for _, id := range p.store.StaleRunning(p.zombieAge) {
		p.logger.Warn("Sweeping zombie run", "run", id, "age", p.zombieAge)
		p.store.Fail(id, TagInternal,
			fmt.Errorf("run made no progress for %s and was swept", p.zombieAge))
	}
}
