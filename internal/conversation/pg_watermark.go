package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgWatermarkStore keeps the sweep watermark in a single-row table so a
// restarted worker resumes from where the previous one stopped instead of
// replaying the full appointment history.
type PgWatermarkStore struct {
	pool *pgxpool.Pool
}

func NewPgWatermarkStore(pool *pgxpool.Pool) *PgWatermarkStore {
	return &PgWatermarkStore{pool: pool}
}

func (s *PgWatermarkStore) Load(ctx context.Context) (time.Time, error) {
	var sweptTo time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT swept_to FROM sweep_watermark WHERE id = 1
	`).Scan(&sweptTo)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, mapError("load sweep watermark", err)
	}
	return sweptTo, nil
}

func (s *PgWatermarkStore) Save(ctx context.Context, sweptTo time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO sweep_watermark (id, swept_to)
		VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE
		SET swept_to = GREATEST(sweep_watermark.swept_to, EXCLUDED.swept_to)
	`, sweptTo)
	if err != nil {
		return mapError("save sweep watermark", err)
	}
	return nil
}
