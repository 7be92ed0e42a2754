package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errPermanent = errors.New("bad input")

type fakeJob struct {
	id       string
	failures int32
	err      error
	calls    atomic.Int32
}

func (j *fakeJob) ID() string   { return j.id }
func (j *fakeJob) Name() string { return "fake" }

func (j *fakeJob) Run(context.Context) error {
	n := j.calls.Add(1)
	if n <= j.failures {
		return j.err
	}
	return nil
}

func testConfig() Config {
	return Config{
		Name:          "test",
		Workers:       2,
		QueueSize:     4,
		MaxAttempts:   3,
		RetryBackoff:  time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
		Permanent:     func(err error) bool { return errors.Is(err, errPermanent) },
	}
}

func TestPool_RunsAndRetries(t *testing.T) {
	ctx := context.Background()
	p := New(testConfig(), zerolog.Nop())
	p.Start(ctx)

	ok := &fakeJob{id: "ok"}
	flaky := &fakeJob{id: "flaky", failures: 2, err: errors.New("storage down")}
	require.NoError(t, p.Dispatch(ctx, ok))
	require.NoError(t, p.Dispatch(ctx, flaky))

	require.NoError(t, p.Shutdown(ctx))
	assert.Equal(t, int32(1), ok.calls.Load())
	assert.Equal(t, int32(3), flaky.calls.Load())
	assert.Equal(t, Stats{Succeeded: 2, Retries: 2}, p.Stats())
}

func TestPool_DeadLetters(t *testing.T) {
	ctx := context.Background()
	var mu sync.Mutex
	dead := map[string]int{}
	cfg := testConfig()
	cfg.DeadLetter = func(job Job, attempts int, err error) {
		mu.Lock()
		defer mu.Unlock()
		dead[job.ID()] = attempts
	}
	p := New(cfg, zerolog.Nop())
	p.Start(ctx)

	broken := &fakeJob{id: "broken", failures: 100, err: errors.New("storage down")}
	invalid := &fakeJob{id: "invalid", failures: 100, err: errPermanent}
	require.NoError(t, p.Dispatch(ctx, broken))
	require.NoError(t, p.Dispatch(ctx, invalid))
	require.NoError(t, p.Shutdown(ctx))

	assert.Equal(t, map[string]int{"broken": 3, "invalid": 1}, dead)
	assert.Equal(t, int32(1), invalid.calls.Load(), "permanent errors are not retried")
	assert.Equal(t, int64(2), p.Stats().Failed)
}

func TestPool_DispatchAfterShutdown(t *testing.T) {
	ctx := context.Background()
	p := New(testConfig(), zerolog.Nop())
	p.Start(ctx)
	require.NoError(t, p.Shutdown(ctx))
	require.NoError(t, p.Shutdown(ctx))

	err := p.Dispatch(ctx, &fakeJob{id: "late"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPool_DispatchBlocksOnFullQueue(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 1
	p := New(cfg, zerolog.Nop())

	require.NoError(t, p.Dispatch(context.Background(), &fakeJob{id: "first"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Dispatch(ctx, &fakeJob{id: "second"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	second := &fakeJob{id: "queued-before-start"}
	p.Start(context.Background())
	require.NoError(t, p.Dispatch(context.Background(), second))
	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, int32(1), second.calls.Load())
}

func TestInline(t *testing.T) {
	job := &fakeJob{id: "inline", failures: 1, err: errors.New("boom")}
	err := Inline{}.Dispatch(context.Background(), job)
	assert.Error(t, err)
	assert.NoError(t, Inline{}.Dispatch(context.Background(), job))
}
