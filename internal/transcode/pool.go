// Package transcode executes transcoding jobs with bounded parallelism,
// supervising one external transcoder process per job.
package transcode

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"seedforge/internal/domain"
	"seedforge/internal/state"
)

// Runner executes a single job's external process, reporting fractional
// progress through the callback. Isolating it behind this interface keeps
// the progress-parsing heuristic swappable without touching scheduling.
type Runner interface {
	Run(ctx context.Context, job domain.TranscodeJob, onProgress func(float64)) error
}

type Config struct {
	// Workers bounds the number of jobs in Running state at any instant.
	Workers int
	Runner  Runner
	Logger  *logrus.Logger
	// OnTerminal, if set, is invoked after a job reaches a terminal state.
	OnTerminal func(job domain.TranscodeJob)
}

// Pool draws jobs from a single unbounded FIFO queue with a fixed set of
// worker slots. Submission never blocks; backpressure lives entirely in
// the queue.
type Pool struct {
	cfg   Config
	store *state.Store

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []string
	running map[string]context.CancelFunc
	closed  bool

	wg sync.WaitGroup
}

func NewPool(cfg Config, store *state.Store) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	p := &Pool{
		cfg:     cfg,
		store:   store,
		running: make(map[string]context.CancelFunc),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// SetOnTerminal installs the terminal-state hook. Call before Start.
func (p *Pool) SetOnTerminal(fn func(job domain.TranscodeJob)) {
	p.cfg.OnTerminal = fn
}

// Start launches the worker slots. Cancelling ctx shuts the pool down.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	go func() {
		<-ctx.Done()
		p.Shutdown()
	}()
}

// Submit enqueues a job and returns immediately. Missing fields get
// defaults: a fresh id and the Queued state.
func (p *Pool) Submit(job domain.TranscodeJob) domain.TranscodeJob {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.State = domain.JobStateQueued
	job.Progress = 0
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	p.store.PutJob(job)

	p.mu.Lock()
	if !p.closed {
		p.queue = append(p.queue, job.ID)
		p.cond.Signal()
	}
	p.mu.Unlock()
	return job
}

// Cancel drops a Queued job before a worker claims it, or requests
// termination of a Running job's process. Unknown ids fail with
// domain.ErrNotFound; terminal jobs are a no-op.
func (p *Pool) Cancel(id string) error {
	if _, ok := p.store.Job(id); !ok {
		return domain.ErrNotFound
	}

	p.mu.Lock()
	if cancel, isRunning := p.running[id]; isRunning {
		p.mu.Unlock()
		cancel()
		return nil
	}
	for i, queued := range p.queue {
		if queued == id {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	if p.store.TransitionJob(id, domain.JobStateCancelled) {
		p.cfg.Logger.WithField("job_id", id).Info("queued transcode cancelled")
		p.notifyTerminal(id)
	}
	return nil
}

// Shutdown stops accepting work, cancels running jobs and waits for the
// workers to drain.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	cancels := make([]context.CancelFunc, 0, len(p.running))
	for _, cancel := range p.running {
		cancels = append(cancels, cancel)
	}
	p.cond.Broadcast()
	p.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		id, ok := p.next()
		if !ok {
			return
		}
		p.runJob(ctx, id)
	}
}

// next blocks until a claimable job is at the head of the queue. Jobs
// cancelled while queued are skipped without ever entering Running.
func (p *Pool) next() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		for len(p.queue) > 0 {
			id := p.queue[0]
			p.queue = p.queue[1:]
			if job, ok := p.store.Job(id); ok && job.State == domain.JobStateQueued {
				return id, true
			}
		}
		if p.closed {
			return "", false
		}
		p.cond.Wait()
	}
}

func (p *Pool) runJob(ctx context.Context, id string) {
	job, ok := p.store.Job(id)
	if !ok || !p.store.TransitionJob(id, domain.JobStateRunning) {
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.running[id] = cancel
	p.mu.Unlock()

	logger := p.cfg.Logger.WithField("job_id", id)
	logger.Infof("transcode started: %s -> %s", job.SourcePath, job.OutputPath)

	err := p.cfg.Runner.Run(jobCtx, job, func(progress float64) {
		p.store.SetJobProgress(id, progress)
	})

	p.mu.Lock()
	delete(p.running, id)
	p.mu.Unlock()
	cancel()

	switch {
	case err == nil:
		// A nil result means the process exited cleanly, even if a
		// cancellation raced in after the fact: completion wins.
		p.store.SetJobProgress(id, 1.0)
		p.store.TransitionJob(id, domain.JobStateSucceeded)
		logger.Info("transcode succeeded")
	case jobCtx.Err() != nil:
		p.store.TransitionJob(id, domain.JobStateCancelled)
		logger.Info("transcode cancelled")
	default:
		p.store.FailJob(id, err.Error())
		logger.Errorf("transcode failed: %v", err)
	}

	p.notifyTerminal(id)
}

func (p *Pool) notifyTerminal(id string) {
	if p.cfg.OnTerminal == nil {
		return
	}
	if job, ok := p.store.Job(id); ok {
		p.cfg.OnTerminal(job)
	}
}
