package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrAppointmentNotFound = errors.New("appointment not found")

// Repository is the read surface the sync engine consumes. Appointments are
// never written through it.
type Repository interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// ListUpdatedSince pages appointments in (updated_at, id) order, returning
	// rows strictly after the (since, sinceID) cursor. updated_at alone is not
	// unique — a bulk import stamps thousands of rows with one transaction
	// timestamp — so the id tiebreak is what lets a caller walk past such a
	// cluster. Passing uuid.Nil for sinceID starts at the since timestamp
	// inclusively.
	ListUpdatedSince(ctx context.Context, since time.Time, sinceID uuid.UUID, limit int) ([]Appointment, error)
}
