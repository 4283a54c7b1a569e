// Package workerpool runs crawl and extraction jobs: a bounded in-memory
// queue fed by the API, a store poller that picks up jobs the queue missed,
// an active-job map for visibility, and a sweeper that reclaims stalled
// jobs. Both pipelines share this one implementation.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/collegedata/crawler/internal/metrics"
	"github.com/collegedata/crawler/internal/pipeline"
)

// Runner executes one job to a terminal status.
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

// PollFunc lists queued jobs from the durable store, oldest first.
type PollFunc func(ctx context.Context, limit int) ([]pipeline.QueueItem, error)

// FailFunc force-fails a job record. Used for stalled jobs and panics.
type FailFunc func(ctx context.Context, jobID, msg string) error

// Config tunes one pool.
type Config struct {
	Kind            pipeline.JobKind
	Workers         int
	DequeueTimeout  time.Duration
	PollBatch       int
	StallThreshold  time.Duration
	ShutdownTimeout time.Duration
}

// ActiveJob describes one job currently held by a worker.
type ActiveJob struct {
	JobID          string    `json:"job_id"`
	TargetID       string    `json:"target_id"`
	WorkerID       int       `json:"worker_id"`
	StartedAt      time.Time `json:"started_at"`
	RunningMinutes float64   `json:"running_minutes"`
}

// Status is the queue-status payload for the API surface.
type Status struct {
	Kind        pipeline.JobKind `json:"kind"`
	QueueSize   int              `json:"queue_size"`
	WorkerCount int              `json:"worker_count"`
	ActiveCount int              `json:"active_count"`
	ActiveJobs  []ActiveJob      `json:"active_jobs"`
}

type activeEntry struct {
	targetID string
	workerID int
	started  time.Time
}

// Pool owns a fixed set of workers plus the stall sweeper.
type Pool struct {
	cfg    Config
	queue  pipeline.Queue
	runner Runner
	poll   PollFunc
	fail   FailFunc
	clock  pipeline.Clock
	logger *zap.Logger

	mu     sync.Mutex
	active map[string]activeEntry

	wg         sync.WaitGroup
	loopCancel context.CancelFunc
	jobCancel  context.CancelFunc
	started    bool
}

// New builds a Pool, applying defaults for unset tunables.
func New(cfg Config, queue pipeline.Queue, runner Runner, poll PollFunc, fail FailFunc, clock pipeline.Clock, logger *zap.Logger) (*Pool, error) {
	if queue == nil || runner == nil || poll == nil || fail == nil || clock == nil {
		return nil, fmt.Errorf("queue, runner, poll, fail, and clock are required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.DequeueTimeout <= 0 {
		cfg.DequeueTimeout = 5 * time.Second
	}
	if cfg.PollBatch <= 0 {
		cfg.PollBatch = 10
	}
	if cfg.StallThreshold <= 0 {
		cfg.StallThreshold = 30 * time.Minute
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:    cfg,
		queue:  queue,
		runner: runner,
		poll:   poll,
		fail:   fail,
		clock:  clock,
		logger: logger.With(zap.String("pool", string(cfg.Kind))),
		active: make(map[string]activeEntry),
	}, nil
}

// Start launches the workers and the stall sweeper. Calling Start twice is
// an error.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("pool already started")
	}
	p.started = true

	// Two lifetimes: loopCtx stops dequeues and polls as soon as Stop is
	// called, jobCtx keeps in-flight engine calls alive through the drain
	// window so shutdown does not abort work mid-job.
	loopCtx, loopCancel := context.WithCancel(ctx)
	jobCtx, jobCancel := context.WithCancel(context.Background())
	p.loopCancel = loopCancel
	p.jobCancel = jobCancel

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(loopCtx, jobCtx, i)
	}
	p.wg.Add(1)
	go p.sweeper(loopCtx, jobCtx)

	p.logger.Info("worker pool started", zap.Int("workers", p.cfg.Workers))
	return nil
}

// Stop halts dequeues and waits for in-flight jobs to finish. Jobs still
// running when the shutdown timeout elapses get their context canceled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	loopCancel := p.loopCancel
	jobCancel := p.jobCancel
	p.mu.Unlock()
	if loopCancel == nil {
		return nil
	}
	loopCancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(p.cfg.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
		jobCancel()
		p.logger.Info("worker pool stopped")
		return nil
	case <-timer.C:
		jobCancel()
		select {
		case <-done:
			p.logger.Info("worker pool stopped after canceling in-flight jobs")
			return nil
		case <-ctx.Done():
			return fmt.Errorf("worker pool shutdown timed out after %s", p.cfg.ShutdownTimeout)
		}
	case <-ctx.Done():
		jobCancel()
		return fmt.Errorf("worker pool shutdown canceled: %w", ctx.Err())
	}
}

// Enqueue offers a job to the in-memory queue. A full queue is not an
// error: the job record is already durable and the poller will find it.
func (p *Pool) Enqueue(ctx context.Context, item pipeline.QueueItem) error {
	offerCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if err := p.queue.Enqueue(offerCtx, item); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			p.logger.Debug("queue full, job left for the poller", zap.String("job_id", item.JobID))
			return nil
		}
		return fmt.Errorf("enqueue job %s: %w", item.JobID, err)
	}
	return nil
}

// Status reports queue depth and the jobs currently being worked.
func (p *Pool) Status() Status {
	now := p.clock.Now()
	p.mu.Lock()
	defer p.mu.Unlock()

	jobs := make([]ActiveJob, 0, len(p.active))
	for jobID, entry := range p.active {
		jobs = append(jobs, ActiveJob{
			JobID:          jobID,
			TargetID:       entry.targetID,
			WorkerID:       entry.workerID,
			StartedAt:      entry.started,
			RunningMinutes: now.Sub(entry.started).Minutes(),
		})
	}
	return Status{
		Kind:        p.cfg.Kind,
		QueueSize:   p.queue.Size(),
		WorkerCount: p.cfg.Workers,
		ActiveCount: len(jobs),
		ActiveJobs:  jobs,
	}
}

func (p *Pool) worker(loopCtx, jobCtx context.Context, workerID int) {
	defer p.wg.Done()
	for {
		select {
		case <-loopCtx.Done():
			return
		default:
		}
		item, ok := p.next(loopCtx)
		if !ok {
			continue
		}
		p.process(jobCtx, workerID, item)
	}
}

// next blocks on the queue for one dequeue window, then falls back to
// polling the store so jobs enqueued by another process (or dropped by a
// full queue) still get picked up.
func (p *Pool) next(ctx context.Context) (pipeline.QueueItem, bool) {
	dequeueCtx, cancel := context.WithTimeout(ctx, p.cfg.DequeueTimeout)
	item, err := p.queue.Dequeue(dequeueCtx)
	cancel()
	if err == nil {
		return item, true
	}
	if ctx.Err() != nil {
		return pipeline.QueueItem{}, false
	}

	items, err := p.poll(ctx, p.cfg.PollBatch)
	if err != nil {
		p.logger.Warn("store poll failed", zap.Error(err))
		return pipeline.QueueItem{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, candidate := range items {
		if _, busy := p.active[candidate.JobID]; !busy {
			return candidate, true
		}
	}
	return pipeline.QueueItem{}, false
}

func (p *Pool) process(ctx context.Context, workerID int, item pipeline.QueueItem) {
	if !p.claim(item, workerID) {
		return
	}
	metrics.IncActiveWorkers(string(p.cfg.Kind))
	defer func() {
		p.release(item.JobID)
		metrics.DecActiveWorkers(string(p.cfg.Kind))
		if r := recover(); r != nil {
			msg := fmt.Sprintf("worker panic: %v", r)
			p.logger.Error("job panicked", zap.String("job_id", item.JobID), zap.Any("panic", r))
			if err := p.fail(ctx, item.JobID, msg); err != nil {
				p.logger.Warn("panic fail write failed", zap.String("job_id", item.JobID), zap.Error(err))
			}
		}
	}()

	if err := p.runner.Run(ctx, item.JobID); err != nil {
		// Terminal status was already written by the engine.
		p.logger.Warn("job finished with error", zap.String("job_id", item.JobID), zap.Error(err))
	}
}

// claim registers the job as active; a second claim for the same job loses.
func (p *Pool) claim(item pipeline.QueueItem, workerID int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.active[item.JobID]; busy {
		return false
	}
	p.active[item.JobID] = activeEntry{
		targetID: item.TargetID,
		workerID: workerID,
		started:  p.clock.Now(),
	}
	return true
}

func (p *Pool) release(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, jobID)
}

// sweeper force-fails jobs that have been active past the stall threshold.
// Removing the entry before failing makes each stall fire exactly once;
// the abandoned engine call's late terminal write is ignored by the store.
func (p *Pool) sweeper(loopCtx, jobCtx context.Context) {
	defer p.wg.Done()
	interval := p.cfg.StallThreshold / 4
	if interval > time.Minute {
		interval = time.Minute
	}
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-loopCtx.Done():
			return
		case <-ticker.C:
			p.sweep(jobCtx)
		}
	}
}

func (p *Pool) sweep(ctx context.Context) {
	now := p.clock.Now()
	var stalled []string
	p.mu.Lock()
	for jobID, entry := range p.active {
		if now.Sub(entry.started) > p.cfg.StallThreshold {
			stalled = append(stalled, jobID)
			delete(p.active, jobID)
		}
	}
	p.mu.Unlock()

	for _, jobID := range stalled {
		msg := fmt.Sprintf("job stalled: no progress for over %s", p.cfg.StallThreshold)
		p.logger.Warn("stalled job reclaimed", zap.String("job_id", jobID))
		metrics.ObserveStalledJob(string(p.cfg.Kind))
		if err := p.fail(ctx, jobID, msg); err != nil {
			p.logger.Warn("stall fail write failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}
}
