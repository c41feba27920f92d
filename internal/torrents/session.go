// Package torrents adapts the external torrent engine behind a narrow
// session interface: add/pause/resume/remove plus a notification stream of
// per-torrent state and progress changes.
package torrents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/sirupsen/logrus"

	"seedforge/internal/domain"
)

// Event is one state/progress change for a tracked torrent. Name and
// TotalSize are populated once, on the first event after the engine
// resolves the torrent's metadata.
type Event struct {
	ID        string
	State     domain.TorrentState
	Progress  float64
	Name      string
	TotalSize int64
}

// Session is the boundary where BitTorrent-specific behavior crosses into
// the orchestration core.
type Session interface {
	// Add registers a magnet URI or a .torrent file with the engine. It
	// fails with domain.ErrInvalidSource when the input is neither.
	Add(source string, paused bool) (*domain.Torrent, error)
	// Pause, Resume and Remove fail with domain.ErrNotFound for unknown
	// ids and are otherwise idempotent.
	Pause(id string) error
	Resume(id string) error
	Remove(id string) error
	// Files enumerates the torrent's output paths once metadata is known.
	Files(id string) ([]string, error)
	// Events yields state changes for all tracked torrents. Single logical
	// subscriber.
	Events() <-chan Event
	Close()
}

type Config struct {
	DataDir      string
	PollInterval time.Duration
	TrackerList  []string
	Logger       *logrus.Logger
}

type clientSession struct {
	cfg    Config
	client *torrent.Client
	events chan Event

	mu      sync.Mutex
	entries map[string]*entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// entry tracks per-torrent bookkeeping the engine does not keep for us.
type entry struct {
	t               *torrent.Torrent
	source          string
	paused          bool
	downloadStarted bool
	metaSent        bool
	completedSeen   bool
	lastState       domain.TorrentState
	lastProgress    float64
}

// NewSession starts the torrent engine and the polling loop that converts
// its state into the event stream.
func NewSession(cfg Config) (Session, error) {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if len(cfg.TrackerList) == 0 {
		cfg.TrackerList = defaultTrackers()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create download root: %w", err)
	}

	clientConfig := torrent.NewDefaultClientConfig()
	clientConfig.DataDir = cfg.DataDir
	clientConfig.Seed = true

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("create torrent client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &clientSession{
		cfg:     cfg,
		client:  client,
		events:  make(chan Event, 128),
		entries: make(map[string]*entry),
		ctx:     ctx,
		cancel:  cancel,
	}

	s.wg.Add(1)
	go s.pollLoop()

	cfg.Logger.Infof("torrent session started, data dir: %s", cfg.DataDir)
	return s, nil
}

func (s *clientSession) Add(source string, paused bool) (*domain.Torrent, error) {
	t, err := s.register(source)
	if err != nil {
		return nil, err
	}

	id := t.InfoHash().HexString()

	s.mu.Lock()
	if existing, ok := s.entries[id]; ok {
		s.mu.Unlock()
		return &domain.Torrent{
			ID:       id,
			Source:   existing.source,
			Name:     t.Name(),
			State:    existing.lastState,
			Progress: existing.lastProgress,
			SavePath: s.cfg.DataDir,
			AddedAt:  time.Now().UTC(),
		}, nil
	}
	e := &entry{
		t:         t,
		source:    source,
		paused:    paused,
		lastState: domain.TorrentStatePending,
	}
	s.entries[id] = e
	s.mu.Unlock()

	for _, tracker := range s.cfg.TrackerList {
		t.AddTrackers([][]string{{tracker}})
	}
	if paused {
		t.DisallowDataDownload()
	}

	s.wg.Add(1)
	go s.startWhenReady(id, t)

	state := domain.TorrentStatePending
	if paused {
		state = domain.TorrentStatePaused
	}
	return &domain.Torrent{
		ID:       id,
		Source:   source,
		Name:     t.Name(),
		State:    state,
		SavePath: s.cfg.DataDir,
		AddedAt:  time.Now().UTC(),
	}, nil
}

type sourceKind int

const (
	sourceUnknown sourceKind = iota
	sourceMagnet
	sourceTorrentFile
)

// classifySource decides how an input should be handed to the engine. It
// only inspects the shape; readability of a .torrent file is checked when
// the metainfo is loaded.
func classifySource(source string) sourceKind {
	switch {
	case strings.HasPrefix(source, "magnet:"):
		return sourceMagnet
	case strings.HasSuffix(strings.ToLower(source), ".torrent"):
		return sourceTorrentFile
	default:
		return sourceUnknown
	}
}

// register hands the source to the engine, classifying it first so that a
// malformed input fails synchronously with ErrInvalidSource.
func (s *clientSession) register(source string) (*torrent.Torrent, error) {
	switch classifySource(source) {
	case sourceMagnet:
		t, err := s.client.AddMagnet(source)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSource, err)
		}
		return t, nil
	case sourceTorrentFile:
		mi, err := metainfo.LoadFromFile(source)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSource, err)
		}
		t, err := s.client.AddTorrent(mi)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrInvalidSource, err)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("%w: %q is neither a magnet URI nor a .torrent file", domain.ErrInvalidSource, source)
	}
}

// startWhenReady waits for the engine to resolve metadata, then kicks off
// the data download unless the torrent was paused in the meantime.
func (s *clientSession) startWhenReady(id string, t *torrent.Torrent) {
	defer s.wg.Done()
	select {
	case <-s.ctx.Done():
		return
	case <-t.GotInfo():
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return
	}
	if !e.paused && !e.downloadStarted {
		t.DownloadAll()
		e.downloadStarted = true
	}
}

func (s *clientSession) Pause(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("%w: torrent %s", domain.ErrNotFound, id)
	}
	if e.paused {
		return nil
	}
	e.t.DisallowDataDownload()
	e.paused = true
	return nil
}

func (s *clientSession) Resume(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("%w: torrent %s", domain.ErrNotFound, id)
	}
	if !e.paused {
		return nil
	}
	e.t.AllowDataDownload()
	e.paused = false
	if e.t.Info() != nil && !e.downloadStarted {
		e.t.DownloadAll()
		e.downloadStarted = true
	}
	return nil
}

func (s *clientSession) Remove(id string) error {
	s.mu.Lock()
	e, ok := s.entries[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: torrent %s", domain.ErrNotFound, id)
	}
	delete(s.entries, id)
	s.mu.Unlock()

	e.t.Drop()
	s.emit(Event{ID: id, State: domain.TorrentStateRemoved, Progress: e.lastProgress})
	return nil
}

func (s *clientSession) Files(id string) ([]string, error) {
	s.mu.Lock()
	e, ok := s.entries[id]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: torrent %s", domain.ErrNotFound, id)
	}
	if e.t.Info() == nil {
		return nil, fmt.Errorf("torrent %s: metadata not resolved yet", id)
	}
	files := e.t.Files()
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = filepath.Join(s.cfg.DataDir, filepath.FromSlash(f.Path()))
	}
	return paths, nil
}

func (s *clientSession) Events() <-chan Event {
	return s.events
}

func (s *clientSession) Close() {
	s.cancel()
	s.wg.Wait()
	s.client.Close()
	s.cfg.Logger.Info("torrent session stopped")
}

// pollLoop derives state changes from the engine. The engine exposes no
// push notifications for completion, so the session samples each torrent
// on a fixed interval and emits only on change.
func (s *clientSession) pollLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *clientSession) sample() {
	s.mu.Lock()
	var out []Event
	for id, e := range s.entries {
		state, progress := snapshot(e)
		meta := e.t.Info() != nil && !e.metaSent

		if state == e.lastState && !meta && progressEqual(progress, e.lastProgress) {
			continue
		}

		ev := Event{ID: id, State: state, Progress: progress}
		if meta {
			ev.Name = e.t.Name()
			ev.TotalSize = e.t.Length()
			e.metaSent = true
		}
		e.lastState = state
		e.lastProgress = progress
		out = append(out, ev)
	}
	s.mu.Unlock()

	for _, ev := range out {
		s.emit(ev)
	}
}

func snapshot(e *entry) (domain.TorrentState, float64) {
	t := e.t
	info := t.Info()
	if info == nil {
		if e.paused {
			return domain.TorrentStatePaused, 0
		}
		return domain.TorrentStatePending, 0
	}

	var progress float64
	if total := t.Length(); total > 0 {
		progress = float64(t.BytesCompleted()) / float64(total)
	}

	switch {
	case t.BytesMissing() == 0:
		// Completion is reported before any pause takes effect in the
		// stream, so the completed transition is never swallowed; a pause
		// applied afterwards shows up on the next sample.
		if !e.completedSeen {
			e.completedSeen = true
			return domain.TorrentStateCompleted, progress
		}
		if e.paused {
			return domain.TorrentStatePaused, progress
		}
		return domain.TorrentStateCompleted, progress
	case e.paused:
		return domain.TorrentStatePaused, progress
	default:
		return domain.TorrentStateDownloading, progress
	}
}

func progressEqual(a, b float64) bool {
	diff := a - b
	return diff < 0.001 && diff > -0.001
}

func (s *clientSession) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.ctx.Done():
	}
}

func defaultTrackers() []string {
	return []string{
		"udp://tracker.opentrackr.org:1337/announce",
		"udp://tracker.openbittorrent.com:6969/announce",
		"udp://open.stealth.si:80/announce",
		"udp://exodus.desync.com:6969/announce",
		"http://tracker.opentrackr.org:1337/announce",
		"http://tracker.openbittorrent.com:80/announce",
		"udp://tracker.torrent.eu.org:451/announce",
		"udp://tracker.moeking.me:6969/announce",
	}
}

var _ Session = (*clientSession)(nil)
