package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"seedforge/internal/domain"
	"seedforge/internal/state"
	"seedforge/internal/storage"
	"seedforge/internal/transcode"
	"seedforge/internal/watcher"
)

type fakePauser struct {
	mu     sync.Mutex
	paused []string
	err    error
}

func (f *fakePauser) Pause(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.paused = append(f.paused, id)
	return nil
}

func (f *fakePauser) pausedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paused...)
}

type fakeSubmitter struct {
	mu   sync.Mutex
	jobs []domain.TranscodeJob
}

func (f *fakeSubmitter) Submit(job domain.TranscodeJob) domain.TranscodeJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	job.ID = uuid.NewString()
	job.State = domain.JobStateQueued
	f.jobs = append(f.jobs, job)
	return job
}

func (f *fakeSubmitter) submitted() []domain.TranscodeJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.TranscodeJob(nil), f.jobs...)
}

type fakeArchive struct {
	mu       sync.Mutex
	uploaded []string
	err      error
}

func (f *fakeArchive) UploadFile(_ context.Context, localPath string, opts storage.UploadOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.uploaded = append(f.uploaded, localPath)
	return "s3://" + opts.Bucket + "/" + opts.Key, nil
}

func (f *fakeArchive) ListObjects(context.Context, string, string) ([]storage.ObjectInfo, error) {
	return nil, nil
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

var mkvRules = []domain.TranscodeRule{
	{InputExtension: ".mkv", OutputFormat: "mp4", Resolution: "1080p"},
}

func TestOnlyMatchingFilesBecomeJobs(t *testing.T) {
	pauser := &fakePauser{}
	pool := &fakeSubmitter{}
	o := New(Config{
		TranscodingEnabled: true,
		AutoPause:          true,
		Rules:              mkvRules,
	}, pauser, pool, state.NewStore(), nil)

	o.handleFinished(context.Background(), watcher.Finished{
		TorrentID: "t1",
		Files:     []string{"/dl/movie.mkv", "/dl/readme.txt"},
	})

	jobs := pool.submitted()
	if len(jobs) != 1 {
		t.Fatalf("got %d jobs, want 1", len(jobs))
	}
	if jobs[0].SourcePath != "/dl/movie.mkv" {
		t.Fatalf("wrong source: %s", jobs[0].SourcePath)
	}
	if jobs[0].OutputPath != "/dl/movie.mp4" {
		t.Fatalf("wrong output path: %s", jobs[0].OutputPath)
	}
	if jobs[0].TorrentID != "t1" {
		t.Fatalf("job not tagged with torrent id: %+v", jobs[0])
	}
	if got := pauser.pausedIDs(); len(got) != 1 || got[0] != "t1" {
		t.Fatalf("pause calls: %v", got)
	}
}

func TestDisabledTranscodingStillPauses(t *testing.T) {
	pauser := &fakePauser{}
	pool := &fakeSubmitter{}
	o := New(Config{
		TranscodingEnabled: false,
		AutoPause:          true,
		Rules:              mkvRules,
	}, pauser, pool, state.NewStore(), nil)

	o.handleFinished(context.Background(), watcher.Finished{
		TorrentID: "t1",
		Files:     []string{"/dl/movie.mkv"},
	})

	if len(pool.submitted()) != 0 {
		t.Fatal("disabled transcoding must not submit jobs")
	}
	if got := pauser.pausedIDs(); len(got) != 1 {
		t.Fatalf("pause calls: %v", got)
	}
}

func TestAutoPauseDisabled(t *testing.T) {
	pauser := &fakePauser{}
	pool := &fakeSubmitter{}
	o := New(Config{
		TranscodingEnabled: true,
		AutoPause:          false,
		Rules:              mkvRules,
	}, pauser, pool, state.NewStore(), nil)

	o.handleFinished(context.Background(), watcher.Finished{
		TorrentID: "t1",
		Files:     []string{"/dl/movie.mkv"},
	})

	if len(pauser.pausedIDs()) != 0 {
		t.Fatal("pause must not be called when the policy is off")
	}
	if len(pool.submitted()) != 1 {
		t.Fatal("matching file should still be submitted")
	}
}

func TestPauseFailureDoesNotBlockSubmission(t *testing.T) {
	pauser := &fakePauser{err: errors.New("session gone")}
	pool := &fakeSubmitter{}
	o := New(Config{
		TranscodingEnabled: true,
		AutoPause:          true,
		Rules:              mkvRules,
	}, pauser, pool, state.NewStore(), nil)

	o.handleFinished(context.Background(), watcher.Finished{
		TorrentID: "t1",
		Files:     []string{"/dl/movie.mkv"},
	})

	if len(pool.submitted()) != 1 {
		t.Fatal("pause failure must not prevent job submission")
	}
}

type gatedRunner struct {
	release chan struct{}
}

func (g *gatedRunner) Run(ctx context.Context, _ domain.TranscodeJob, _ func(float64)) error {
	select {
	case <-g.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Two completed torrents against a single worker: the first job runs while
// the second waits in the queue, and both finish once the worker frees up.
func TestSecondJobWaitsForFreeWorker(t *testing.T) {
	store := state.NewStore()
	runner := &gatedRunner{release: make(chan struct{})}
	pool := transcode.NewPool(transcode.Config{Workers: 1, Runner: runner}, store)
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	t.Cleanup(func() {
		cancel()
		pool.Shutdown()
	})

	o := New(Config{
		TranscodingEnabled: true,
		Rules:              mkvRules,
	}, &fakePauser{}, pool, store, nil)

	o.handleFinished(ctx, watcher.Finished{TorrentID: "t1", Files: []string{"/dl/a.mkv"}})
	o.handleFinished(ctx, watcher.Finished{TorrentID: "t2", Files: []string{"/dl/b.mkv"}})

	waitFor(t, func() bool {
		running, queued := 0, 0
		for _, j := range store.Jobs() {
			switch j.State {
			case domain.JobStateRunning:
				running++
			case domain.JobStateQueued:
				queued++
			}
		}
		return running == 1 && queued == 1
	})

	close(runner.release)
	waitFor(t, func() bool {
		for _, j := range store.Jobs() {
			if j.State != domain.JobStateSucceeded {
				return false
			}
		}
		return len(store.Jobs()) == 2
	})
}

func TestSucceededOutputArchived(t *testing.T) {
	store := state.NewStore()
	store.PutJob(domain.TranscodeJob{ID: "j1", State: domain.JobStateSucceeded, OutputPath: "/dl/movie.mp4"})
	archive := &fakeArchive{}
	o := New(Config{
		ArchiveBucket:    "media",
		ArchiveKeyPrefix: "transcoded/",
	}, &fakePauser{}, &fakeSubmitter{}, store, archive)

	hook := o.HandleJobTerminal(context.Background())
	job, _ := store.Job("j1")
	hook(job)

	waitFor(t, func() bool {
		j, _ := store.Job("j1")
		return j.ArchiveLocation != ""
	})
	j, _ := store.Job("j1")
	if j.ArchiveLocation != "s3://media/transcoded/movie.mp4" {
		t.Fatalf("archive location = %q", j.ArchiveLocation)
	}
}

func TestFailedJobsAreNotArchived(t *testing.T) {
	store := state.NewStore()
	store.PutJob(domain.TranscodeJob{ID: "j1", State: domain.JobStateFailed, OutputPath: "/dl/movie.mp4"})
	archive := &fakeArchive{}
	o := New(Config{ArchiveBucket: "media"}, &fakePauser{}, &fakeSubmitter{}, store, archive)

	hook := o.HandleJobTerminal(context.Background())
	job, _ := store.Job("j1")
	hook(job)

	time.Sleep(50 * time.Millisecond)
	archive.mu.Lock()
	defer archive.mu.Unlock()
	if len(archive.uploaded) != 0 {
		t.Fatalf("failed job was archived: %v", archive.uploaded)
	}
}

func TestArchiveFailureLeavesJobSucceeded(t *testing.T) {
	store := state.NewStore()
	store.PutJob(domain.TranscodeJob{ID: "j1", State: domain.JobStateSucceeded, OutputPath: "/dl/movie.mp4"})
	archive := &fakeArchive{err: errors.New("bucket unavailable")}
	o := New(Config{ArchiveBucket: "media"}, &fakePauser{}, &fakeSubmitter{}, store, archive)

	hook := o.HandleJobTerminal(context.Background())
	job, _ := store.Job("j1")
	hook(job)

	time.Sleep(50 * time.Millisecond)
	j, _ := store.Job("j1")
	if j.State != domain.JobStateSucceeded {
		t.Fatalf("state = %s, want succeeded", j.State)
	}
	if j.ArchiveLocation != "" {
		t.Fatalf("archive location set despite failure: %q", j.ArchiveLocation)
	}
}
