package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func (r *PgRepository) ListFacilities(ctx context.Context) ([]Facility, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT f.id, f.display_name, f.created_at, f.updated_at,
		       COALESCE(array_agg(a.alias) FILTER (WHERE a.alias IS NOT NULL), '{}')
		FROM facilities f
		LEFT JOIN facility_aliases a ON a.facility_id = f.id
		GROUP BY f.id, f.display_name, f.created_at, f.updated_at
		ORDER BY f.created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list facilities: %w", err)
	}
	defer rows.Close()

	var result []Facility
	for rows.Next() {
		var f Facility
		if err := rows.Scan(&f.ID, &f.DisplayName, &f.CreatedAt, &f.UpdatedAt, &f.Aliases); err != nil {
			return nil, fmt.Errorf("scan facility: %w", err)
		}
		result = append(result, f)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) GetFacilityByID(ctx context.Context, id uuid.UUID) (*Facility, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT f.id, f.display_name, f.created_at, f.updated_at,
		       COALESCE(array_agg(a.alias) FILTER (WHERE a.alias IS NOT NULL), '{}')
		FROM facilities f
		LEFT JOIN facility_aliases a ON a.facility_id = f.id
		WHERE f.id = $1
		GROUP BY f.id, f.display_name, f.created_at, f.updated_at
	`, id)

	var f Facility
	err := row.Scan(&f.ID, &f.DisplayName, &f.CreatedAt, &f.UpdatedAt, &f.Aliases)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFacilityNotFound
		}
		return nil, err
	}

	return &f, nil
}
