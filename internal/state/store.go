package state

import (
	"sync"

	"seedforge/internal/domain"
)

// Store is the process-wide registry of torrents and transcode jobs. The
// watcher writes torrent entries, pool workers write job entries, and the
// API layer reads copied snapshots. A job's state transitions are monotonic:
// once terminal, an entry never changes again.
type Store struct {
	mu           sync.RWMutex
	torrents     map[string]*domain.Torrent
	torrentOrder []string
	jobs         map[string]*domain.TranscodeJob
	jobOrder     []string
}

func NewStore() *Store {
	return &Store{
		torrents: make(map[string]*domain.Torrent),
		jobs:     make(map[string]*domain.TranscodeJob),
	}
}

func (s *Store) PutTorrent(t domain.Torrent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.torrents[t.ID]; !exists {
		s.torrentOrder = append(s.torrentOrder, t.ID)
	}
	copied := t
	s.torrents[t.ID] = &copied
}

func (s *Store) SetTorrentState(id string, st domain.TorrentState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.torrents[id]; ok {
		t.State = st
	}
}

func (s *Store) SetTorrentProgress(id string, progress float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.torrents[id]; ok {
		t.Progress = progress
	}
}

func (s *Store) SetTorrentMetadata(id, name string, totalSize int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.torrents[id]; ok {
		if name != "" {
			t.Name = name
		}
		if totalSize > 0 {
			t.TotalSize = totalSize
		}
	}
}

func (s *Store) RemoveTorrent(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.torrents[id]; !ok {
		return
	}
	delete(s.torrents, id)
	for i, tid := range s.torrentOrder {
		if tid == id {
			s.torrentOrder = append(s.torrentOrder[:i], s.torrentOrder[i+1:]...)
			break
		}
	}
}

func (s *Store) Torrent(id string) (domain.Torrent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.torrents[id]
	if !ok {
		return domain.Torrent{}, false
	}
	return *t, true
}

// Torrents returns a snapshot of all tracked torrents in insertion order.
func (s *Store) Torrents() []domain.Torrent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Torrent, 0, len(s.torrentOrder))
	for _, id := range s.torrentOrder {
		if t, ok := s.torrents[id]; ok {
			out = append(out, *t)
		}
	}
	return out
}

func (s *Store) PutJob(j domain.TranscodeJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[j.ID]; !exists {
		s.jobOrder = append(s.jobOrder, j.ID)
	}
	copied := j
	s.jobs[j.ID] = &copied
}

// TransitionJob moves a job to the given state if the transition is legal.
// Legal transitions: Queued -> Running|Cancelled, Running -> any terminal.
// It reports whether the transition was applied.
func (s *Store) TransitionJob(id string, st domain.JobState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || !legalTransition(j.State, st) {
		return false
	}
	j.State = st
	return true
}

func legalTransition(from, to domain.JobState) bool {
	switch from {
	case domain.JobStateQueued:
		return to == domain.JobStateRunning || to == domain.JobStateCancelled
	case domain.JobStateRunning:
		return to.Terminal()
	}
	return false
}

func (s *Store) SetJobProgress(id string, progress float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok && !j.State.Terminal() {
		j.Progress = progress
	}
}

// FailJob transitions a job to Failed, recording the diagnostic detail.
func (s *Store) FailJob(id, detail string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || !legalTransition(j.State, domain.JobStateFailed) {
		return false
	}
	j.State = domain.JobStateFailed
	j.ErrorDetail = detail
	return true
}

func (s *Store) SetJobArchiveLocation(id, location string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.ArchiveLocation = location
	}
}

func (s *Store) Job(id string) (domain.TranscodeJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return domain.TranscodeJob{}, false
	}
	return *j, true
}

// Jobs returns a snapshot of all jobs in submission order.
func (s *Store) Jobs() []domain.TranscodeJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.TranscodeJob, 0, len(s.jobOrder))
	for _, id := range s.jobOrder {
		if j, ok := s.jobs[id]; ok {
			out = append(out, *j)
		}
	}
	return out
}

// DeleteJob removes a terminal job from the registry, e.g. when the user
// clears a failed entry. Non-terminal jobs are kept.
func (s *Store) DeleteJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || !j.State.Terminal() {
		return false
	}
	delete(s.jobs, id)
	for i, jid := range s.jobOrder {
		if jid == id {
			s.jobOrder = append(s.jobOrder[:i], s.jobOrder[i+1:]...)
			break
		}
	}
	return true
}
