// Package watcher consumes the torrent session's event stream, mirrors it
// into the state store, and signals each download completion exactly once.
package watcher

import (
	"context"

	"github.com/sirupsen/logrus"

	"seedforge/internal/domain"
	"seedforge/internal/state"
	"seedforge/internal/torrents"
)

// Finished is the download-finished signal carrying the torrent's resolved
// output file list.
type Finished struct {
	TorrentID string
	Files     []string
}

// FileLister enumerates a completed torrent's output paths.
type FileLister interface {
	Files(id string) ([]string, error)
}

// MetadataSink receives a torrent's display name and size once the engine
// resolves them. Optional.
type MetadataSink interface {
	TorrentMetadata(ctx context.Context, id, name string, totalSize int64)
}

type Watcher struct {
	store  *state.Store
	lister FileLister
	meta   MetadataSink
	logger *logrus.Logger

	seen     map[string]struct{}
	finished chan Finished
}

func New(store *state.Store, lister FileLister, meta MetadataSink, logger *logrus.Logger) *Watcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &Watcher{
		store:    store,
		lister:   lister,
		meta:     meta,
		logger:   logger,
		seen:     make(map[string]struct{}),
		finished: make(chan Finished, 16),
	}
}

// Finished yields one signal per torrent that transitions into completed.
func (w *Watcher) Finished() <-chan Finished {
	return w.finished
}

// Run consumes the event stream until the context is cancelled or the
// stream closes. It is the stream's single subscriber.
func (w *Watcher) Run(ctx context.Context, events <-chan torrents.Event) {
	defer close(w.finished)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev torrents.Event) {
	if ev.State == domain.TorrentStateRemoved {
		w.store.RemoveTorrent(ev.ID)
		return
	}

	w.store.SetTorrentState(ev.ID, ev.State)
	w.store.SetTorrentProgress(ev.ID, ev.Progress)
	if ev.Name != "" {
		w.store.SetTorrentMetadata(ev.ID, ev.Name, ev.TotalSize)
		if w.meta != nil {
			w.meta.TorrentMetadata(ctx, ev.ID, ev.Name, ev.TotalSize)
		}
	}

	if ev.State != domain.TorrentStateCompleted {
		return
	}
	// The engine may repeat completed notifications (re-verification,
	// seeding checks); each torrent signals at most once per run.
	if _, dup := w.seen[ev.ID]; dup {
		return
	}
	w.seen[ev.ID] = struct{}{}

	logger := w.logger.WithField("torrent_id", ev.ID)
	files, err := w.lister.Files(ev.ID)
	if err != nil {
		logger.Warnf("enumerate files: %v", err)
	}
	logger.Infof("download finished with %d files", len(files))

	select {
	case w.finished <- Finished{TorrentID: ev.ID, Files: files}:
	case <-ctx.Done():
	}
}
