package conversation

import (
	"time"

	"github.com/google/uuid"
)

type SenderRole string

const (
	RolePatient  SenderRole = "patient"
	RoleFacility SenderRole = "facility"
)

// Counterpart returns the other side of a thread.
func (r SenderRole) Counterpart() SenderRole {
	if r == RolePatient {
		return RoleFacility
	}
	return RolePatient
}

func (r SenderRole) Valid() bool {
	return r == RolePatient || r == RoleFacility
}

type MessageKind string

const (
	KindAppointmentRequest      MessageKind = "appointment_request"
	KindAppointmentConfirmation MessageKind = "appointment_confirmation"
	KindFreeText                MessageKind = "free_text"
)

// Conversation is the single messaging thread between one patient and one
// facility. At most one row exists per (PatientID, FacilityID); the store
// enforces that with a unique constraint. Display names are snapshots taken
// at creation time and are deliberately not re-synced on rename.
type Conversation struct {
	ID                  uuid.UUID
	PatientID           uuid.UUID
	FacilityID          uuid.UUID
	PatientDisplayName  string
	FacilityDisplayName string
	LastMessageText     string
	LastMessageAt       *time.Time
	UnreadForPatient    int
	UnreadForFacility   int
	ArchivedForPatient  bool
	ArchivedForFacility bool
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// UnreadFor returns the unread count as seen by one viewer role.
func (c *Conversation) UnreadFor(viewer SenderRole) int {
	if viewer == RolePatient {
		return c.UnreadForPatient
	}
	return c.UnreadForFacility
}

// Message is immutable once appended. Seq is a per-conversation sequence
// assigned inside the append transaction and is the authoritative order;
// (CreatedAt, ID) is only a display-friendly secondary sort.
// SourceAppointmentID is set on seed messages derived from appointment
// lifecycle events and, together with Kind, is unique across the store.
type Message struct {
	ID                  uuid.UUID
	ConversationID      uuid.UUID
	Seq                 int64
	SenderID            uuid.UUID
	SenderRole          SenderRole
	Kind                MessageKind
	Body                string
	SourceAppointmentID *uuid.UUID
	ReadByPatient       bool
	ReadByFacility      bool
	CreatedAt           time.Time
}

// ReadBy reports whether the given viewer has read the message.
func (m *Message) ReadBy(viewer SenderRole) bool {
	if viewer == RolePatient {
		return m.ReadByPatient
	}
	return m.ReadByFacility
}
