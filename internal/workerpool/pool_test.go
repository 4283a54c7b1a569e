package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	systemclock "github.com/collegedata/crawler/internal/clock/system"
	"github.com/collegedata/crawler/internal/pipeline"
	queuemem "github.com/collegedata/crawler/internal/queue/memory"
	"github.com/collegedata/crawler/internal/storage/memory"
)

type runnerFunc func(ctx context.Context, jobID string) error

func (f runnerFunc) Run(ctx context.Context, jobID string) error { return f(ctx, jobID) }

func noJobs(context.Context, int) ([]pipeline.QueueItem, error) { return nil, nil }

func newTestPool(t *testing.T, cfg Config, runner Runner, poll PollFunc, fail FailFunc) (*Pool, *queuemem.Queue) {
	t.Helper()
	if cfg.Kind == "" {
		cfg.Kind = pipeline.JobKindCrawl
	}
	queue := queuemem.New(16)
	pool, err := New(cfg, queue, runner, poll, fail, systemclock.New(), nil)
	require.NoError(t, err)
	return pool, queue
}

func startPool(t *testing.T, pool *Pool) {
	t.Helper()
	require.NoError(t, pool.Start(context.Background()))
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Stop(stopCtx)
	})
}

func TestPoolProcessesEnqueuedJobs(t *testing.T) {
	t.Parallel()
	var mu sync.Mutex
	ran := make(map[string]int)
	runner := runnerFunc(func(_ context.Context, jobID string) error {
		mu.Lock()
		defer mu.Unlock()
		ran[jobID]++
		return nil
	})
	noFail := func(context.Context, string, string) error { return nil }

	pool, _ := newTestPool(t, Config{Workers: 2, DequeueTimeout: 20 * time.Millisecond}, runner, noJobs, noFail)
	startPool(t, pool)

	for _, id := range []string{"job-1", "job-2", "job-3"} {
		require.NoError(t, pool.Enqueue(context.Background(), pipeline.QueueItem{JobID: id, TargetID: "t-1"}))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(ran) == 3
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	for id, count := range ran {
		assert.Equal(t, 1, count, id)
	}
}

func TestPoolPollsStoreWhenQueueEmpty(t *testing.T) {
	t.Parallel()
	jobs := memory.NewJobStore()
	require.NoError(t, jobs.CreateCrawlJob(context.Background(), pipeline.CrawlJob{
		ID:        "polled-1",
		TargetID:  "t-1",
		Status:    pipeline.JobStatusQueued,
		CreatedAt: time.Now().UTC(),
	}))

	var ran atomic.Int32
	runner := runnerFunc(func(ctx context.Context, jobID string) error {
		ran.Add(1)
		return jobs.CompleteCrawlJob(ctx, jobID, pipeline.JobStatusCompleted, "")
	})

	pool, _ := newTestPool(t,
		Config{Workers: 1, DequeueTimeout: 10 * time.Millisecond},
		runner, CrawlPoller(jobs), CrawlFailer(jobs))
	startPool(t, pool)

	require.Eventually(t, func() bool { return ran.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	job, err := jobs.GetCrawlJob(context.Background(), "polled-1")
	require.NoError(t, err)
	assert.Equal(t, pipeline.JobStatusCompleted, job.Status)
}

func TestPoolReclaimsStalledJobExactlyOnce(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	runner := runnerFunc(func(context.Context, string) error {
		<-block
		return nil
	})

	var failures atomic.Int32
	fail := func(_ context.Context, jobID, msg string) error {
		require.Equal(t, "stuck-1", jobID)
		require.Contains(t, msg, "stalled")
		failures.Add(1)
		return nil
	}

	pool, _ := newTestPool(t, Config{
		Workers:        1,
		DequeueTimeout: 10 * time.Millisecond,
		StallThreshold: 50 * time.Millisecond,
	}, runner, noJobs, fail)
	startPool(t, pool)
	defer close(block)

	require.NoError(t, pool.Enqueue(context.Background(), pipeline.QueueItem{JobID: "stuck-1", TargetID: "t-1"}))

	require.Eventually(t, func() bool { return failures.Load() == 1 }, 2*time.Second, 10*time.Millisecond)

	// The sweeper keeps running; the same stall must not fire again.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), failures.Load())
	assert.Zero(t, pool.Status().ActiveCount)
}

func TestPoolSurvivesPanickingJob(t *testing.T) {
	t.Parallel()
	var ran atomic.Int32
	runner := runnerFunc(func(_ context.Context, jobID string) error {
		if jobID == "bad" {
			panic("boom")
		}
		ran.Add(1)
		return nil
	})

	var failedJob atomic.Value
	fail := func(_ context.Context, jobID, msg string) error {
		require.Contains(t, msg, "worker panic")
		failedJob.Store(jobID)
		return nil
	}

	pool, _ := newTestPool(t, Config{Workers: 1, DequeueTimeout: 10 * time.Millisecond}, runner, noJobs, fail)
	startPool(t, pool)

	require.NoError(t, pool.Enqueue(context.Background(), pipeline.QueueItem{JobID: "bad"}))
	require.NoError(t, pool.Enqueue(context.Background(), pipeline.QueueItem{JobID: "good"}))

	require.Eventually(t, func() bool { return ran.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "bad", failedJob.Load())
}

func TestPoolDoesNotDispatchActiveJobTwice(t *testing.T) {
	t.Parallel()
	block := make(chan struct{})
	var runs atomic.Int32
	runner := runnerFunc(func(context.Context, string) error {
		runs.Add(1)
		<-block
		return nil
	})
	noFail := func(context.Context, string, string) error { return nil }

	pool, _ := newTestPool(t, Config{Workers: 2, DequeueTimeout: 10 * time.Millisecond}, runner, noJobs, noFail)
	startPool(t, pool)

	item := pipeline.QueueItem{JobID: "dup-1", TargetID: "t-1"}
	require.NoError(t, pool.Enqueue(context.Background(), item))
	require.NoError(t, pool.Enqueue(context.Background(), item))

	require.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())

	status := pool.Status()
	assert.Equal(t, 1, status.ActiveCount)
	require.Len(t, status.ActiveJobs, 1)
	assert.Equal(t, "dup-1", status.ActiveJobs[0].JobID)
	assert.GreaterOrEqual(t, status.ActiveJobs[0].RunningMinutes, 0.0)

	close(block)
}

func TestPoolRunnerErrorDoesNotKillWorker(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	runner := runnerFunc(func(_ context.Context, jobID string) error {
		calls.Add(1)
		if jobID == "err" {
			return errors.New("engine failed")
		}
		return nil
	})
	noFail := func(context.Context, string, string) error { return nil }

	pool, _ := newTestPool(t, Config{Workers: 1, DequeueTimeout: 10 * time.Millisecond}, runner, noJobs, noFail)
	startPool(t, pool)

	require.NoError(t, pool.Enqueue(context.Background(), pipeline.QueueItem{JobID: "err"}))
	require.NoError(t, pool.Enqueue(context.Background(), pipeline.QueueItem{JobID: "ok"}))

	require.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestStopDrainsInFlightJobs(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	canceled := make(chan struct{})
	runner := runnerFunc(func(ctx context.Context, _ string) error {
		select {
		case <-ctx.Done():
			close(canceled)
			return ctx.Err()
		case <-release:
			return nil
		}
	})
	noFail := func(context.Context, string, string) error { return nil }

	pool, _ := newTestPool(t, Config{
		Workers:         1,
		DequeueTimeout:  10 * time.Millisecond,
		ShutdownTimeout: 5 * time.Second,
	}, runner, noJobs, noFail)
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Enqueue(context.Background(), pipeline.QueueItem{JobID: "slow-1"}))
	require.Eventually(t, func() bool { return pool.Status().ActiveCount == 1 }, 2*time.Second, 10*time.Millisecond)

	stopDone := make(chan error, 1)
	go func() { stopDone <- pool.Stop(context.Background()) }()

	// The running job must keep its context while the pool drains.
	time.Sleep(100 * time.Millisecond)
	select {
	case <-canceled:
		t.Fatal("in-flight job was canceled before the drain window elapsed")
	default:
	}

	close(release)
	require.NoError(t, <-stopDone)
	select {
	case <-canceled:
		t.Fatal("job context canceled even though the job finished in time")
	default:
	}
}

func TestStopCancelsStragglersAfterTimeout(t *testing.T) {
	t.Parallel()
	canceled := make(chan struct{})
	runner := runnerFunc(func(ctx context.Context, _ string) error {
		<-ctx.Done()
		close(canceled)
		return ctx.Err()
	})
	noFail := func(context.Context, string, string) error { return nil }

	pool, _ := newTestPool(t, Config{
		Workers:         1,
		DequeueTimeout:  10 * time.Millisecond,
		ShutdownTimeout: 50 * time.Millisecond,
	}, runner, noJobs, noFail)
	require.NoError(t, pool.Start(context.Background()))

	require.NoError(t, pool.Enqueue(context.Background(), pipeline.QueueItem{JobID: "stuck-1"}))
	require.Eventually(t, func() bool { return pool.Status().ActiveCount == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, pool.Stop(context.Background()))
	select {
	case <-canceled:
	default:
		t.Fatal("straggler job was not canceled after the shutdown timeout")
	}
}

func TestPoolStartTwiceFails(t *testing.T) {
	t.Parallel()
	noFail := func(context.Context, string, string) error { return nil }
	pool, _ := newTestPool(t, Config{Workers: 1, DequeueTimeout: 10 * time.Millisecond},
		runnerFunc(func(context.Context, string) error { return nil }), noJobs, noFail)
	startPool(t, pool)
	require.Error(t, pool.Start(context.Background()))
}
