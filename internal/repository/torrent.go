package repository

import (
	"context"
	"time"
)

// TorrentRecord is the persisted slice of a torrent: enough to re-add it to
// the engine on startup with the right paused state. Transcode jobs are
// deliberately not persisted.
type TorrentRecord struct {
	ID        string
	Source    string
	Name      string
	TotalSize int64
	Paused    bool
	AddedAt   time.Time
}

// TorrentRepository exposes persistence operations for the torrent catalog.
type TorrentRepository interface {
	Init(ctx context.Context) error
	Save(ctx context.Context, rec TorrentRecord) error
	SetPaused(ctx context.Context, id string, paused bool) error
	UpdateMetadata(ctx context.Context, id, name string, totalSize int64) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]TorrentRecord, error)
}
