package upload

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/groupinstall/installportal/internal/domain"
)

var ErrClosed = errors.New("upload coordinator closed")

// Job performs one extraction. It must return promptly once ctx is done.
type Job func(ctx context.Context) (domain.ExtractionSummary, error)

// Result is delivered to the done callback of the latest job for a key.
type Result struct {
	Key        string
	Generation uint64
	Summary    domain.ExtractionSummary
	Err        error
}

// Coordinator runs at most one live job per key. Starting a job cancels the
// previous one for the same key, and a superseded job's result is dropped.
type Coordinator struct {
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	running map[string]*run
	gen     uint64
	closed  bool
	wg      sync.WaitGroup
}

type run struct {
	gen    uint64
	cancel context.CancelFunc
}

func NewCoordinator(logger *slog.Logger, timeout time.Duration) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		logger:  logger,
		timeout: timeout,
		running: map[string]*run{},
	}
}

// Start launches job for key and returns its generation. done is called at
// most once, and only if no newer job for key was started in the meantime.
func (c *Coordinator) Start(key string, job Job, done func(Result)) (uint64, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	if prev, ok := c.running[key]; ok {
		prev.cancel()
	}
	c.gen++
	gen := c.gen
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if c.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), c.timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	r := &run{gen: gen, cancel: cancel}
	c.running[key] = r
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer cancel()

		start := time.Now()
		summary, err := job(ctx)

		c.mu.Lock()
		latest := c.running[key] == r
		if latest {
			delete(c.running, key)
		}
		c.mu.Unlock()

		if !latest {
			c.logger.Debug("upload result superseded", "key", key, "generation", gen)
			return
		}
		if err != nil {
			c.logger.Warn("upload extraction failed", "key", key, "generation", gen, "duration_ms", time.Since(start).Milliseconds(), "error", err)
		} else {
			c.logger.Info("upload extraction complete", "key", key, "generation", gen, "records", summary.RecordsProcessed, "duration_ms", time.Since(start).Milliseconds())
		}
		if done != nil {
			done(Result{Key: key, Generation: gen, Summary: summary, Err: err})
		}
	}()
	return gen, nil
}

// Cancel stops the live job for key. Its result is dropped.
func (c *Coordinator) Cancel(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.running[key]
	if !ok {
		return false
	}
	r.cancel()
	delete(c.running, key)
	return true
}

func (c *Coordinator) Processing(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.running[key]
	return ok
}

// Close cancels every live job and waits for the goroutines to exit.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	for key, r := range c.running {
		r.cancel()
		delete(c.running, key)
	}
	c.mu.Unlock()
	c.wg.Wait()
}
