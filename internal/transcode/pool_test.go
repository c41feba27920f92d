package transcode

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"seedforge/internal/domain"
	"seedforge/internal/state"
)

type runnerFunc func(ctx context.Context, job domain.TranscodeJob, onProgress func(float64)) error

func (f runnerFunc) Run(ctx context.Context, job domain.TranscodeJob, onProgress func(float64)) error {
	return f(ctx, job, onProgress)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func countByState(store *state.Store, st domain.JobState) int {
	n := 0
	for _, j := range store.Jobs() {
		if j.State == st {
			n++
		}
	}
	return n
}

func allTerminal(store *state.Store) bool {
	jobs := store.Jobs()
	for _, j := range jobs {
		if !j.State.Terminal() {
			return false
		}
	}
	return len(jobs) > 0
}

func startPool(t *testing.T, workers int, runner Runner) (*Pool, *state.Store) {
	t.Helper()
	store := state.NewStore()
	pool := NewPool(Config{Workers: workers, Runner: runner}, store)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	t.Cleanup(func() {
		cancel()
		pool.Shutdown()
	})
	return pool, store
}

func TestRunningNeverExceedsWorkerCount(t *testing.T) {
	release := make(chan struct{})
	runner := runnerFunc(func(ctx context.Context, job domain.TranscodeJob, _ func(float64)) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	pool, store := startPool(t, 2, runner)
	for i := 0; i < 5; i++ {
		pool.Submit(domain.TranscodeJob{SourcePath: "/dl/file.mkv"})
	}

	waitFor(t, func() bool { return countByState(store, domain.JobStateRunning) == 2 })
	if queued := countByState(store, domain.JobStateQueued); queued != 3 {
		t.Fatalf("queued = %d, want 3", queued)
	}
	// give the pool a chance to over-schedule, then re-check the bound
	time.Sleep(50 * time.Millisecond)
	if running := countByState(store, domain.JobStateRunning); running > 2 {
		t.Fatalf("running = %d, exceeds worker count", running)
	}

	close(release)
	waitFor(t, func() bool { return allTerminal(store) })
	if succeeded := countByState(store, domain.JobStateSucceeded); succeeded != 5 {
		t.Fatalf("succeeded = %d, want 5", succeeded)
	}
}

func TestJobsClaimedInSubmissionOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	runner := runnerFunc(func(_ context.Context, job domain.TranscodeJob, _ func(float64)) error {
		mu.Lock()
		order = append(order, job.SourcePath)
		mu.Unlock()
		return nil
	})

	pool, store := startPool(t, 1, runner)
	sources := []string{"/dl/a.mkv", "/dl/b.mkv", "/dl/c.mkv"}
	for _, src := range sources {
		pool.Submit(domain.TranscodeJob{SourcePath: src})
	}

	waitFor(t, func() bool { return allTerminal(store) })

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 {
		t.Fatalf("ran %d jobs, want 3", len(order))
	}
	for i, src := range sources {
		if order[i] != src {
			t.Fatalf("claim order %v, want %v", order, sources)
		}
	}
}

func TestCancelQueuedJobNeverRuns(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var ran []string
	runner := runnerFunc(func(ctx context.Context, job domain.TranscodeJob, _ func(float64)) error {
		mu.Lock()
		ran = append(ran, job.ID)
		mu.Unlock()
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	pool, store := startPool(t, 1, runner)
	first := pool.Submit(domain.TranscodeJob{SourcePath: "/dl/a.mkv"})
	second := pool.Submit(domain.TranscodeJob{SourcePath: "/dl/b.mkv"})

	waitFor(t, func() bool {
		j, _ := store.Job(first.ID)
		return j.State == domain.JobStateRunning
	})

	if err := pool.Cancel(second.ID); err != nil {
		t.Fatalf("cancel queued job: %v", err)
	}
	j, _ := store.Job(second.ID)
	if j.State != domain.JobStateCancelled {
		t.Fatalf("state = %s, want cancelled", j.State)
	}

	close(release)
	waitFor(t, func() bool { return allTerminal(store) })

	mu.Lock()
	defer mu.Unlock()
	for _, id := range ran {
		if id == second.ID {
			t.Fatal("cancelled job was claimed by a worker")
		}
	}
}

func TestCancelRunningJob(t *testing.T) {
	runner := runnerFunc(func(ctx context.Context, _ domain.TranscodeJob, _ func(float64)) error {
		<-ctx.Done()
		return ctx.Err()
	})

	pool, store := startPool(t, 1, runner)
	job := pool.Submit(domain.TranscodeJob{SourcePath: "/dl/a.mkv"})

	waitFor(t, func() bool {
		j, _ := store.Job(job.ID)
		return j.State == domain.JobStateRunning
	})

	if err := pool.Cancel(job.ID); err != nil {
		t.Fatalf("cancel running job: %v", err)
	}
	waitFor(t, func() bool {
		j, _ := store.Job(job.ID)
		return j.State == domain.JobStateCancelled
	})
}

func TestCancelUnknownJob(t *testing.T) {
	pool, _ := startPool(t, 1, runnerFunc(func(context.Context, domain.TranscodeJob, func(float64)) error {
		return nil
	}))
	if err := pool.Cancel("no-such-job"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCompletionWinsCancellationRace(t *testing.T) {
	release := make(chan struct{})
	// ignores ctx: simulates a process that exited before the kill landed
	runner := runnerFunc(func(_ context.Context, _ domain.TranscodeJob, _ func(float64)) error {
		<-release
		return nil
	})

	pool, store := startPool(t, 1, runner)
	job := pool.Submit(domain.TranscodeJob{SourcePath: "/dl/a.mkv"})

	waitFor(t, func() bool {
		j, _ := store.Job(job.ID)
		return j.State == domain.JobStateRunning
	})
	if err := pool.Cancel(job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	close(release)

	waitFor(t, func() bool {
		j, _ := store.Job(job.ID)
		return j.State.Terminal()
	})
	j, _ := store.Job(job.ID)
	if j.State != domain.JobStateSucceeded {
		t.Fatalf("state = %s, want succeeded (completion wins)", j.State)
	}
	if j.Progress != 1.0 {
		t.Fatalf("progress = %v, want 1.0", j.Progress)
	}
}

func TestSucceededJobHasFullProgress(t *testing.T) {
	runner := runnerFunc(func(_ context.Context, _ domain.TranscodeJob, onProgress func(float64)) error {
		// no progress markers parsed at all
		_ = onProgress
		return nil
	})

	pool, store := startPool(t, 1, runner)
	job := pool.Submit(domain.TranscodeJob{SourcePath: "/dl/a.mkv"})

	waitFor(t, func() bool {
		j, _ := store.Job(job.ID)
		return j.State.Terminal()
	})
	j, _ := store.Job(job.ID)
	if j.State != domain.JobStateSucceeded || j.Progress != 1.0 {
		t.Fatalf("got %s/%v, want succeeded/1.0", j.State, j.Progress)
	}
}

func TestFailedJobKeepsErrorDetail(t *testing.T) {
	runner := runnerFunc(func(context.Context, domain.TranscodeJob, func(float64)) error {
		return errors.New("ffmpeg exited: exit status 1: unknown codec")
	})

	pool, store := startPool(t, 2, runner)
	bad := pool.Submit(domain.TranscodeJob{SourcePath: "/dl/a.mkv"})

	waitFor(t, func() bool {
		j, _ := store.Job(bad.ID)
		return j.State.Terminal()
	})
	j, _ := store.Job(bad.ID)
	if j.State != domain.JobStateFailed {
		t.Fatalf("state = %s, want failed", j.State)
	}
	if j.ErrorDetail == "" {
		t.Fatal("failed job lost its error detail")
	}
}

func TestFailureDoesNotAbortOtherJobs(t *testing.T) {
	runner := runnerFunc(func(_ context.Context, job domain.TranscodeJob, _ func(float64)) error {
		if job.SourcePath == "/dl/bad.mkv" {
			return errors.New("boom")
		}
		return nil
	})

	pool, store := startPool(t, 1, runner)
	bad := pool.Submit(domain.TranscodeJob{SourcePath: "/dl/bad.mkv"})
	good := pool.Submit(domain.TranscodeJob{SourcePath: "/dl/good.mkv"})

	waitFor(t, func() bool { return allTerminal(store) })

	if j, _ := store.Job(bad.ID); j.State != domain.JobStateFailed {
		t.Fatalf("bad job state = %s, want failed", j.State)
	}
	if j, _ := store.Job(good.ID); j.State != domain.JobStateSucceeded {
		t.Fatalf("good job state = %s, want succeeded", j.State)
	}
}

func TestOnTerminalHookFires(t *testing.T) {
	var mu sync.Mutex
	var seen []domain.JobState

	store := state.NewStore()
	pool := NewPool(Config{
		Workers: 1,
		Runner: runnerFunc(func(context.Context, domain.TranscodeJob, func(float64)) error {
			return nil
		}),
	}, store)
	pool.SetOnTerminal(func(job domain.TranscodeJob) {
		mu.Lock()
		seen = append(seen, job.State)
		mu.Unlock()
	})
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	t.Cleanup(func() {
		cancel()
		pool.Shutdown()
	})

	pool.Submit(domain.TranscodeJob{SourcePath: "/dl/a.mkv"})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if seen[0] != domain.JobStateSucceeded {
		t.Fatalf("hook saw %s, want succeeded", seen[0])
	}
}
