package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DoyleJ11/beat-escape-backend/pkg/types"
)

const workSchema = `
CREATE TABLE IF NOT EXISTS work_records (
	activity_id TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	view_route  TEXT NOT NULL,
	subtitle    TEXT NOT NULL DEFAULT '',
	data        JSONB,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresWorkRepo stores one work record per activity id. Saves upsert, so
// firing the same save trigger twice updates the record instead of adding
// a second one.
type PostgresWorkRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresWorkRepo(ctx context.Context, connString string) (*PostgresWorkRepo, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	return &PostgresWorkRepo{pool: pool}, nil
}

func (p *PostgresWorkRepo) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, workSchema); err != nil {
		return wrapDB(err)
	}
	return nil
}

func (p *PostgresWorkRepo) SaveWork(ctx context.Context, activityID string, rec types.WorkRecord) error {
	var data []byte
	if len(rec.Data) > 0 {
		data = rec.Data
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO work_records (activity_id, title, view_route, subtitle, data, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (activity_id) DO UPDATE SET
			title = EXCLUDED.title,
			view_route = EXCLUDED.view_route,
			subtitle = EXCLUDED.subtitle,
			data = EXCLUDED.data,
			updated_at = now()`,
		activityID, rec.Title, rec.ViewRoute, rec.Subtitle, data)
	if err != nil {
		return wrapDB(err)
	}
	return nil
}

func (p *PostgresWorkRepo) GetWork(ctx context.Context, activityID string) (types.WorkRecord, error) {
	var rec types.WorkRecord
	var data []byte
	row := p.pool.QueryRow(ctx,
		"SELECT title, view_route, subtitle, data FROM work_records WHERE activity_id = $1", activityID)
	if err := row.Scan(&rec.Title, &rec.ViewRoute, &rec.Subtitle, &data); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.WorkRecord{}, ErrWorkNotFound
		}
		return types.WorkRecord{}, wrapDB(err)
	}
	rec.Data = data
	return rec, nil
}

func (p *PostgresWorkRepo) Close() {
	p.pool.Close()
}

func wrapDB(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnexpectedDatabase, err)
}
