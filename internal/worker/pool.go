// Package worker runs background jobs on bounded in-process queues.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned when dispatching to a pool that is shutting down.
var ErrClosed = errors.New("worker pool is closed")

// Job is a unit of background work. Run may be called more than once when it
// fails, so it must be idempotent.
type Job interface {
	ID() string
	Name() string
	Run(ctx context.Context) error
}

// Dispatcher hands jobs to something that will run them.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

const (
	defaultWorkers       = 4
	defaultQueueSize     = 256
	defaultMaxAttempts   = 5
	defaultRetryBackoff  = 200 * time.Millisecond
	defaultRetryMaxDelay = 10 * time.Second
)

// Config controls one pool.
type Config struct {
	Name          string
	Workers       int
	QueueSize     int
	MaxAttempts   int
	RetryBackoff  time.Duration
	RetryMaxDelay time.Duration
	// Permanent reports errors that must not be retried.
	Permanent func(error) bool
	// DeadLetter is called for jobs that failed for good.
	DeadLetter func(job Job, attempts int, err error)
}

func (c Config) normalized() Config {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = defaultRetryMaxDelay
	}
	return c
}

// Stats are running totals for a pool.
type Stats struct {
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	Retries   int64 `json:"retries"`
}

// Pool runs jobs from a buffered queue on a fixed number of goroutines.
type Pool struct {
	cfg    Config
	logger zerolog.Logger
	jobs   chan Job

	mu     sync.RWMutex
	closed bool
	group  *errgroup.Group

	succeeded atomic.Int64
	failed    atomic.Int64
	retries   atomic.Int64
}

func New(cfg Config, logger zerolog.Logger) *Pool {
	cfg = cfg.normalized()
	return &Pool{
		cfg:    cfg,
		logger: logger.With().Str("pool", cfg.Name).Logger(),
		jobs:   make(chan Job, cfg.QueueSize),
	}
}

func (p *Pool) Name() string { return p.cfg.Name }

// Start launches the workers. ctx bounds every job run; cancel it to abort
// in-flight retries.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.group != nil {
		return
	}
	p.group = &errgroup.Group{}
	for i := range p.cfg.Workers {
		p.group.Go(func() error {
			p.work(ctx, i)
			return nil
		})
	}
	p.logger.Info().Int("workers", p.cfg.Workers).Int("queue_size", p.cfg.QueueSize).Msg("worker pool started")
}

// Dispatch enqueues job. It blocks while the queue is full, until ctx is done.
func (p *Pool) Dispatch(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatch %s: %w", job.ID(), ctx.Err())
	}
}

// Shutdown stops accepting jobs and waits for the queue to drain.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	group := p.group
	p.mu.Unlock()

	if group == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- group.Wait() }()
	select {
	case err := <-done:
		p.logger.Info().Msg("worker pool drained")
		return err
	case <-ctx.Done():
		return fmt.Errorf("shutdown %s pool: %w", p.cfg.Name, ctx.Err())
	}
}

// Stats returns the pool's running totals.
func (p *Pool) Stats() Stats {
	return Stats{
		Succeeded: p.succeeded.Load(),
		Failed:    p.failed.Load(),
		Retries:   p.retries.Load(),
	}
}

func (p *Pool) work(ctx context.Context, worker int) {
	for job := range p.jobs {
		p.run(ctx, worker, job)
	}
}

func (p *Pool) run(ctx context.Context, worker int, job Job) {
	logger := p.logger.With().Int("worker", worker).Str("job_id", job.ID()).Str("job", job.Name()).Logger()

	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := job.Run(ctx)
		if err != nil && p.cfg.Permanent != nil && p.cfg.Permanent(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(p.backoff()),
		backoff.WithMaxTries(uint(p.cfg.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.retries.Add(1)
			logger.Warn().Err(err).Int("attempt", attempts).Dur("retry_in", next).Msg("job failed, retrying")
		}),
	)
	if err == nil {
		p.succeeded.Add(1)
		logger.Debug().Int("attempts", attempts).Msg("job done")
		return
	}

	p.failed.Add(1)
	logger.Error().Err(err).Int("attempts", attempts).Msg("job dead lettered")
	if p.cfg.DeadLetter != nil {
		p.cfg.DeadLetter(job, attempts, err)
	}
}

func (p *Pool) backoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.cfg.RetryBackoff
	b.MaxInterval = p.cfg.RetryMaxDelay
	return b
}

// Inline runs every job in the caller's goroutine, once. Useful for tests and
// for setups without background workers.
type Inline struct{}

func (Inline) Dispatch(ctx context.Context, job Job) error {
	if err := job.Run(ctx); err != nil {
		return fmt.Errorf("run %s: %w", job.ID(), err)
	}
	return nil
}
