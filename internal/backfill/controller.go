package backfill

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Run describes a finished backfill run.
type Run struct {
	Stats
	// Stopped is set when the run was cancelled before it finished.
	Stopped  bool      `json:"stopped"`
	Error    string    `json:"error,omitempty"`
	Finished time.Time `json:"finished"`
}

// Controller owns at most one running Worker.
type Controller struct {
	worker *Worker
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	last    Run
	hasLast bool
}

// NewController creates a Controller for w.
func NewController(w *Worker) *Controller {
	return &Controller{worker: w, logger: slog.Default()}
}

// Start launches a run in the background, bound to parent. It returns false
// without doing anything when a run is already in progress.
func (c *Controller) Start(parent context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return false
	}

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done

	go func() {
		defer close(done)
		stats, err := c.worker.Run(ctx)
		if err != nil && ctx.Err() == nil {
			c.logger.Error("backfill run failed", "error", err)
		}
		cancel()

		run := Run{Stats: stats, Finished: time.Now()}
		switch {
		case errors.Is(err, context.Canceled):
			run.Stopped = true
		case err != nil:
			run.Error = err.Error()
		}

		c.mu.Lock()
		c.last, c.hasLast = run, true
		c.cancel = nil
		c.mu.Unlock()
	}()
	return true
}

// Stop cancels the running worker. It returns false when nothing is running.
// The worker observes the cancellation between fragments.
func (c *Controller) Stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return false
	}
	c.cancel()
	return true
}

// Running reports whether a run is in progress.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// Wait blocks until the current run, if any, has finished.
func (c *Controller) Wait() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Last returns the most recently finished run. ok is false before the first
// run completes.
func (c *Controller) Last() (run Run, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last, c.hasLast
}
