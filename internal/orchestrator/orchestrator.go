// Package orchestrator wires download completions to the transcode worker
// pool: rule matching, job submission, the seeding auto-pause policy, and
// the optional archive step for finished outputs.
package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"seedforge/internal/domain"
	"seedforge/internal/rules"
	"seedforge/internal/state"
	"seedforge/internal/storage"
	"seedforge/internal/watcher"
)

// Pauser pauses a torrent after completion when the policy is enabled.
type Pauser interface {
	Pause(ctx context.Context, id string) error
}

// Submitter enqueues a transcode job without blocking.
type Submitter interface {
	Submit(job domain.TranscodeJob) domain.TranscodeJob
}

type Config struct {
	TranscodingEnabled bool
	Destination        string
	AutoPause          bool
	Rules              []domain.TranscodeRule
	ArchiveBucket      string
	ArchiveKeyPrefix   string
	Logger             *logrus.Logger
}

type Orchestrator struct {
	cfg     Config
	pauser  Pauser
	pool    Submitter
	store   *state.Store
	archive storage.Service // nil when archiving is disabled
}

func New(cfg Config, pauser Pauser, pool Submitter, store *state.Store, archive storage.Service) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	return &Orchestrator{
		cfg:     cfg,
		pauser:  pauser,
		pool:    pool,
		store:   store,
		archive: archive,
	}
}

// Run consumes download-finished signals until the context is cancelled or
// the channel closes.
func (o *Orchestrator) Run(ctx context.Context, finished <-chan watcher.Finished) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-finished:
			if !ok {
				return
			}
			o.handleFinished(ctx, sig)
		}
	}
}

// handleFinished applies the auto-pause policy and submits one job per
// matching output file. Submission is fire-and-forget; the pool owns all
// backpressure.
func (o *Orchestrator) handleFinished(ctx context.Context, sig watcher.Finished) {
	logger := o.cfg.Logger.WithField("torrent_id", sig.TorrentID)

	if o.cfg.AutoPause {
		if err := o.pauser.Pause(ctx, sig.TorrentID); err != nil {
			logger.Warnf("auto-pause after completion: %v", err)
		} else {
			logger.Info("seeding disabled, torrent paused")
		}
	}

	if !o.cfg.TranscodingEnabled {
		return
	}

	for _, file := range sig.Files {
		rule, ok := rules.Match(file, o.cfg.Rules)
		if !ok {
			continue
		}
		job := o.pool.Submit(domain.TranscodeJob{
			TorrentID:  sig.TorrentID,
			SourcePath: file,
			OutputPath: rules.OutputPath(file, o.cfg.Destination, rule),
			Rule:       rule,
		})
		logger.WithField("job_id", job.ID).Infof("queued transcode %s -> %s", file, job.OutputPath)
	}
}

// HandleJobTerminal runs as the pool's OnTerminal hook. Succeeded outputs
// are archived to object storage when configured; archive failures are
// logged and never change the job's outcome.
func (o *Orchestrator) HandleJobTerminal(ctx context.Context) func(domain.TranscodeJob) {
	return func(job domain.TranscodeJob) {
		if o.archive == nil || job.State != domain.JobStateSucceeded {
			return
		}
		go o.archiveOutput(ctx, job)
	}
}

func (o *Orchestrator) archiveOutput(ctx context.Context, job domain.TranscodeJob) {
	logger := o.cfg.Logger.WithField("job_id", job.ID)

	prefix := strings.Trim(o.cfg.ArchiveKeyPrefix, "/")
	key := filepath.Base(job.OutputPath)
	if prefix != "" {
		key = fmt.Sprintf("%s/%s", prefix, key)
	}

	location, err := o.archive.UploadFile(ctx, job.OutputPath, storage.UploadOptions{
		Bucket: o.cfg.ArchiveBucket,
		Key:    key,
	})
	if err != nil {
		logger.Warnf("archive transcoded output: %v", err)
		return
	}
	o.store.SetJobArchiveLocation(job.ID, location)
	logger.Infof("transcoded output archived to %s", location)
}
