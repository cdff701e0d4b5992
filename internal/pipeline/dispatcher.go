package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bull/mediarag/internal/config"
	"github.com/bull/mediarag/internal/tracking"
)

// stageJob is one stage-unit submitted to a worker pool.
type stageJob struct {
	ctx   context.Context
	stage Stage
	pc    *Context
	done  chan error
}

// Dispatcher routes stage-units to io and cpu worker pools. A document's
// stages still execute strictly in order: the document's driver goroutine
// submits one stage at a time and waits for it, while drivers for different
// documents proceed in parallel, bounded by the pool sizes.
type Dispatcher struct {
	runner  *Runner
	tracker *tracking.Store
	logger  *slog.Logger

	ioJobs  chan stageJob
	cpuJobs chan stageJob

	workers sync.WaitGroup
	drivers sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewDispatcher builds a dispatcher over the runner's stage chain.
func NewDispatcher(runner *Runner, cfg config.WorkersConfig, tracker *tracking.Store, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		runner:  runner,
		tracker: tracker,
		logger:  logger,
		ioJobs:  make(chan stageJob),
		cpuJobs: make(chan stageJob),
	}
	d.startPool(d.ioJobs, poolSize(cfg.IO, 4))
	d.startPool(d.cpuJobs, poolSize(cfg.CPU, 2))
	return d
}

func poolSize(configured, fallback int) int {
	if configured > 0 {
		return configured
	}
	return fallback
}

func (d *Dispatcher) startPool(jobs <-chan stageJob, size int) {
	for i := 0; i < size; i++ {
		d.workers.Add(1)
		go func() {
			defer d.workers.Done()
			for job := range jobs {
				job.done <- job.stage.Run(job.ctx, job.pc)
			}
		}()
	}
}

// Enqueue registers the task and starts the document's stage chain in the
// background. The chain outcome lands in the task-status store.
func (d *Dispatcher) Enqueue(ctx context.Context, pc *Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("dispatcher closed")
	}
	d.drivers.Add(1)
	d.mu.Unlock()

	if d.tracker != nil {
		if err := d.tracker.Create(pc.DocumentID, string(pc.MediaType)); err != nil {
			d.drivers.Done()
			return fmt.Errorf("create task record: %w", err)
		}
	}

	go func() {
		defer d.drivers.Done()
		if err := d.runner.RunWith(ctx, pc, d.submit); err != nil {
			d.logger.Warn("ingestion aborted", "document_id", pc.DocumentID, "error", err)
		}
	}()
	return nil
}

// Ingest runs the chain through the pools and waits for it, for callers that
// want the outcome synchronously.
func (d *Dispatcher) Ingest(ctx context.Context, pc *Context) error {
	if d.tracker != nil {
		if err := d.tracker.Create(pc.DocumentID, string(pc.MediaType)); err != nil {
			return fmt.Errorf("create task record: %w", err)
		}
	}
	return d.runner.RunWith(ctx, pc, d.submit)
}

func (d *Dispatcher) submit(ctx context.Context, stage Stage, pc *Context) error {
	job := stageJob{ctx: ctx, stage: stage, pc: pc, done: make(chan error, 1)}
	pool := d.cpuJobs
	if stage.Queue() == QueueIO {
		pool = d.ioJobs
	}
	select {
	case pool <- job:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		// The worker still finishes the stage; the chain stops here.
		return ctx.Err()
	}
}

// Close drains in-flight documents and stops the worker pools.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.drivers.Wait()
	close(d.ioJobs)
	close(d.cpuJobs)
	d.workers.Wait()
}
