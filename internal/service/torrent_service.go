package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"seedforge/internal/domain"
	"seedforge/internal/repository"
	"seedforge/internal/state"
	"seedforge/internal/torrents"
)

// TorrentService coordinates torrent commands across the engine session,
// the persisted catalog and the in-memory state store.
type TorrentService interface {
	Add(ctx context.Context, source string) (*domain.Torrent, error)
	Pause(ctx context.Context, id string) error
	Resume(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
	Get(id string) (domain.Torrent, error)
	List() []domain.Torrent
	// Restore re-adds every cataloged torrent on startup, honoring the
	// stored paused flag.
	Restore(ctx context.Context) error
	// TorrentMetadata persists name/size once the engine resolves them.
	TorrentMetadata(ctx context.Context, id, name string, totalSize int64)
}

type torrentService struct {
	session torrents.Session
	catalog repository.TorrentRepository
	store   *state.Store
	logger  *logrus.Logger
}

func NewTorrentService(session torrents.Session, catalog repository.TorrentRepository, store *state.Store, logger *logrus.Logger) TorrentService {
	if logger == nil {
		logger = logrus.New()
	}
	return &torrentService{
		session: session,
		catalog: catalog,
		store:   store,
		logger:  logger,
	}
}

func (s *torrentService) Add(ctx context.Context, source string) (*domain.Torrent, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("%w: empty source", domain.ErrInvalidSource)
	}

	t, err := s.session.Add(source, false)
	if err != nil {
		return nil, err
	}

	if err := s.catalog.Save(ctx, repository.TorrentRecord{
		ID:      t.ID,
		Source:  t.Source,
		Name:    t.Name,
		AddedAt: t.AddedAt,
	}); err != nil {
		s.logger.WithField("torrent_id", t.ID).Warnf("persist torrent: %v", err)
	}

	s.store.PutTorrent(*t)
	return t, nil
}

func (s *torrentService) Pause(ctx context.Context, id string) error {
	if err := s.session.Pause(id); err != nil {
		return err
	}
	if err := s.catalog.SetPaused(ctx, id, true); err != nil {
		s.logger.WithField("torrent_id", id).Warnf("persist paused flag: %v", err)
	}
	return nil
}

func (s *torrentService) Resume(ctx context.Context, id string) error {
	if err := s.session.Resume(id); err != nil {
		return err
	}
	if err := s.catalog.SetPaused(ctx, id, false); err != nil {
		s.logger.WithField("torrent_id", id).Warnf("persist paused flag: %v", err)
	}
	return nil
}

func (s *torrentService) Remove(ctx context.Context, id string) error {
	if err := s.session.Remove(id); err != nil {
		return err
	}
	if err := s.catalog.Delete(ctx, id); err != nil {
		s.logger.WithField("torrent_id", id).Warnf("delete cataloged torrent: %v", err)
	}
	s.store.RemoveTorrent(id)
	return nil
}

func (s *torrentService) Get(id string) (domain.Torrent, error) {
	t, ok := s.store.Torrent(id)
	if !ok {
		return domain.Torrent{}, fmt.Errorf("%w: torrent %s", domain.ErrNotFound, id)
	}
	return t, nil
}

func (s *torrentService) List() []domain.Torrent {
	return s.store.Torrents()
}

func (s *torrentService) Restore(ctx context.Context) error {
	records, err := s.catalog.List(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		t, err := s.session.Add(rec.Source, rec.Paused)
		if err != nil {
			s.logger.WithField("torrent_id", rec.ID).Warnf("restore torrent: %v", err)
			continue
		}
		if rec.Name != "" {
			t.Name = rec.Name
		}
		t.TotalSize = rec.TotalSize
		t.AddedAt = rec.AddedAt
		s.store.PutTorrent(*t)
	}
	if len(records) > 0 {
		s.logger.Infof("restored %d torrents from catalog", len(records))
	}
	return nil
}

func (s *torrentService) TorrentMetadata(ctx context.Context, id, name string, totalSize int64) {
	if err := s.catalog.UpdateMetadata(ctx, id, name, totalSize); err != nil {
		s.logger.WithField("torrent_id", id).Warnf("persist metadata: %v", err)
	}
}
