package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"seedforge/internal/repository"
)

const createTorrentsTable = `
CREATE TABLE IF NOT EXISTS torrents (
	id TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	total_size INTEGER NOT NULL DEFAULT 0,
	paused INTEGER NOT NULL DEFAULT 0,
	added_at DATETIME NOT NULL
);
`

type TorrentRepository struct {
	db *sql.DB
}

func NewTorrentRepository(db *sql.DB) repository.TorrentRepository {
	return &TorrentRepository{db: db}
}

func (r *TorrentRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createTorrentsTable); err != nil {
		return fmt.Errorf("create torrents table: %w", err)
	}
	return nil
}

func (r *TorrentRepository) Save(ctx context.Context, rec repository.TorrentRecord) error {
	if rec.AddedAt.IsZero() {
		rec.AddedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO torrents (id, source, name, total_size, paused, added_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET source = excluded.source, paused = excluded.paused`,
		rec.ID,
		rec.Source,
		rec.Name,
		rec.TotalSize,
		boolToInt(rec.Paused),
		rec.AddedAt,
	)
	if err != nil {
		return fmt.Errorf("save torrent: %w", err)
	}
	return nil
}

func (r *TorrentRepository) SetPaused(ctx context.Context, id string, paused bool) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE torrents SET paused = ? WHERE id = ?`, boolToInt(paused), id); err != nil {
		return fmt.Errorf("set paused: %w", err)
	}
	return nil
}

func (r *TorrentRepository) UpdateMetadata(ctx context.Context, id, name string, totalSize int64) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE torrents SET name = ?, total_size = ? WHERE id = ?`, name, totalSize, id); err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}
	return nil
}

func (r *TorrentRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM torrents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete torrent: %w", err)
	}
	return nil
}

func (r *TorrentRepository) List(ctx context.Context) ([]repository.TorrentRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, source, name, total_size, paused, added_at
FROM torrents
ORDER BY added_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list torrents: %w", err)
	}
	defer rows.Close()

	var records []repository.TorrentRecord
	for rows.Next() {
		var (
			rec    repository.TorrentRecord
			paused int
		)
		if err := rows.Scan(&rec.ID, &rec.Source, &rec.Name, &rec.TotalSize, &paused, &rec.AddedAt); err != nil {
			return nil, fmt.Errorf("scan torrent row: %w", err)
		}
		rec.Paused = paused != 0
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate torrent rows: %w", err)
	}
	return records, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
