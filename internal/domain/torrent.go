package domain

import "time"

type TorrentState string

const (
	TorrentStatePending     TorrentState = "pending"
	TorrentStateDownloading TorrentState = "downloading"
	TorrentStatePaused      TorrentState = "paused"
	TorrentStateCompleted   TorrentState = "completed"
	TorrentStateRemoved     TorrentState = "removed"
)

// Torrent represents a download tracked by the session. The ID is the
// hex-encoded info-hash assigned by the torrent engine.
type Torrent struct {
	ID        string
	Source    string
	Name      string
	State     TorrentState
	Progress  float64
	TotalSize int64
	SavePath  string
	AddedAt   time.Time
}
