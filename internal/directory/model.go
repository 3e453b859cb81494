package directory

import (
	"time"

	"github.com/google/uuid"
)

// Facility is a clinic or hospital patients message with. The ID is stable
// for the lifetime of the facility; renames only touch DisplayName.
type Facility struct {
	ID          uuid.UUID
	DisplayName string
	Aliases     []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
