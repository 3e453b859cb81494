package directory

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrFacilityNotFound = errors.New("facility not found")

// Repository loads the facility directory the index is built from.
type Repository interface {
	ListFacilities(ctx context.Context) ([]Facility, error)
	GetFacilityByID(ctx context.Context, id uuid.UUID) (*Facility, error)
}
