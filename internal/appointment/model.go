package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Appointment is owned by the booking subsystem. This service only reads it;
// FacilityNameRaw is free text typed or imported at booking time, never a
// stable key.
type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	PatientName     string
	FacilityNameRaw string
	Service         string
	ScheduledAt     time.Time
	Status          Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
