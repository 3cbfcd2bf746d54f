// Package library owns the imported clip catalog and persisted timeline
// snapshots. Clips are immutable after import; timelines are stored as the
// serialized snapshot wire format.
package library

import (
	"context"
	"database/sql"
	"time"

	"github.com/frameloop/frameloop-agent/internal/timeline"
)

// TimelineRecord is one persisted timeline snapshot.
type TimelineRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	FPS       float64   `json:"fps"`
	Snapshot  []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Repository interface {
	CreateClip(ctx context.Context, clip *timeline.Clip) error
	GetClip(ctx context.Context, id string) (*timeline.Clip, error)
	ListClips(ctx context.Context) ([]*timeline.Clip, error)
	CountClips(ctx context.Context) (int, error)

	CreateTimeline(ctx context.Context, rec *TimelineRecord) error
	GetTimeline(ctx context.Context, id string) (*TimelineRecord, error)
	ListTimelines(ctx context.Context) ([]*TimelineRecord, error)
	UpdateTimelineSnapshot(ctx context.Context, id string, snapshot []byte) error
	DeleteTimeline(ctx context.Context, id string) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) CreateClip(ctx context.Context, c *timeline.Clip) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO clips (id, source_url, backend, duration_frames, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.ID, c.SourceURL, string(c.Backend), c.DurationFrames, time.Now().Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetClip(ctx context.Context, id string) (*timeline.Clip, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, source_url, backend, duration_frames FROM clips WHERE id = ?
	`, id)

	var c timeline.Clip
	var backend string
	err := row.Scan(&c.ID, &c.SourceURL, &backend, &c.DurationFrames)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Backend = timeline.BackendKind(backend)
	return &c, nil
}

func (r *SQLiteRepository) ListClips(ctx context.Context) ([]*timeline.Clip, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, source_url, backend, duration_frames FROM clips ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clips []*timeline.Clip
	for rows.Next() {
		var c timeline.Clip
		var backend string
		if err := rows.Scan(&c.ID, &c.SourceURL, &backend, &c.DurationFrames); err != nil {
			return nil, err
		}
		c.Backend = timeline.BackendKind(backend)
		clips = append(clips, &c)
	}
	return clips, rows.Err()
}

func (r *SQLiteRepository) CountClips(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM clips").Scan(&count)
	return count, err
}

func (r *SQLiteRepository) CreateTimeline(ctx context.Context, rec *TimelineRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO timelines (id, name, fps, snapshot, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Name, rec.FPS, string(rec.Snapshot),
		rec.CreatedAt.Format(time.RFC3339), rec.UpdatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetTimeline(ctx context.Context, id string) (*TimelineRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, fps, snapshot, created_at, updated_at FROM timelines WHERE id = ?
	`, id)
	return scanTimeline(row)
}

func (r *SQLiteRepository) ListTimelines(ctx context.Context) ([]*TimelineRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, fps, snapshot, created_at, updated_at FROM timelines ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*TimelineRecord
	for rows.Next() {
		var rec TimelineRecord
		var snapshot, createdAt, updatedAt string
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.FPS, &snapshot, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		rec.Snapshot = []byte(snapshot)
		rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

func scanTimeline(row *sql.Row) (*TimelineRecord, error) {
	var rec TimelineRecord
	var snapshot, createdAt, updatedAt string
	err := row.Scan(&rec.ID, &rec.Name, &rec.FPS, &snapshot, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Snapshot = []byte(snapshot)
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &rec, nil
}

func (r *SQLiteRepository) UpdateTimelineSnapshot(ctx context.Context, id string, snapshot []byte) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE timelines SET snapshot = ?, updated_at = ? WHERE id = ?
	`, string(snapshot), time.Now().Format(time.RFC3339), id)
	return err
}

func (r *SQLiteRepository) DeleteTimeline(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM timelines WHERE id = ?", id)
	return err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}
