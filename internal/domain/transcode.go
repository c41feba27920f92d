package domain

import "time"

type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
	JobStateCancelled JobState = "cancelled"
)

// Terminal reports whether a job in this state will never transition again.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateSucceeded, JobStateFailed, JobStateCancelled:
		return true
	}
	return false
}

// TranscodeRule maps a file extension to a target container and resolution.
// Rules come from configuration, validated once at load time.
type TranscodeRule struct {
	InputExtension string // normalized lowercase with leading dot, e.g. ".mkv"
	OutputFormat   string // target container, e.g. "mp4"
	Resolution     string // "original", "480p", "720p", "1080p" or "4k"
}

// TranscodeJob is one unit of transcoding work for a single source file.
type TranscodeJob struct {
	ID              string
	TorrentID       string
	SourcePath      string
	OutputPath      string
	Rule            TranscodeRule
	State           JobState
	Progress        float64
	ErrorDetail     string
	ArchiveLocation string
	CreatedAt       time.Time
}
