package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// JobRunner processes one job to completion.
type JobRunner interface {
	Run(ctx context.Context, jobID, sourceRef string) error
}

// Dispatcher runs jobs in the background on a context owned by the process rather than any request.
type Dispatcher struct {
	base    context.Context
	runner  JobRunner
	sem     *semaphore.Weighted
	timeout time.Duration
	wg      sync.WaitGroup
	logger  *slog.Logger
}

// NewDispatcher returns a Dispatcher. maxJobs <= 0 admits any number of concurrent jobs;
// timeout <= 0 lets a job run until it finishes.
func NewDispatcher(base context.Context, runner JobRunner, maxJobs int, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		base:    base,
		runner:  runner,
		timeout: timeout,
		logger:  logger,
	}
	if maxJobs > 0 {
		d.sem = semaphore.NewWeighted(int64(maxJobs))
	}
	return d
}

// Admit reserves a background slot or fails with ErrBusy. Every successful Admit must be
// followed by Launch or Release.
func (d *Dispatcher) Admit() error {
	if d.sem != nil && !d.sem.TryAcquire(1) {
		return ErrBusy
	}
	return nil
}

// Release returns a slot reserved by Admit that was not handed to Launch.
func (d *Dispatcher) Release() {
	if d.sem != nil {
		d.sem.Release(1)
	}
}

// Launch starts an admitted job in the background and returns immediately.
func (d *Dispatcher) Launch(jobID, sourceRef string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.Release()
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("Background job panicked.", "jobId", jobID, "panic", r)
			}
		}()

		d.logger.Info("Background task started.", "jobId", jobID)
		if err := d.RunNow(d.base, jobID, sourceRef); err != nil {
			d.logger.Error("Background task failed.", "jobId", jobID, "error", err)
			return
		}
		d.logger.Info("Background task finished.", "jobId", jobID)
	}()
}

// RunNow processes a job in the caller's goroutine under the configured timeout.
func (d *Dispatcher) RunNow(ctx context.Context, jobID, sourceRef string) error {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	return d.runner.Run(ctx, jobID, sourceRef)
}

// Wait blocks until every launched job has returned or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
