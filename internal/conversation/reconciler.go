package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/careloop/clinic-inbox/internal/appointment"
	"github.com/careloop/clinic-inbox/internal/directory"
)

type OutcomeStatus string

const (
	OutcomeCreated OutcomeStatus = "created"
	OutcomeExists  OutcomeStatus = "already_exists"
	OutcomeSkipped OutcomeStatus = "skipped"
)

type SkipReason string

const (
	SkipUnresolvedFacility SkipReason = "unresolved_facility"
)

// Outcome reports what one reconciliation pass did for one appointment.
type Outcome struct {
	Status           OutcomeStatus
	SkipReason       SkipReason
	ConversationID   uuid.UUID
	MessagesAppended int
}

// seedEvent is one appointment lifecycle stage that warrants exactly one
// seed message, keyed by (appointment ID, kind) in the store.
type seedEvent struct {
	kind       MessageKind
	senderRole SenderRole
}

// Reconciler derives conversations and seed messages from appointment
// records. Reconcile is idempotent: rerunning it against unchanged
// appointment state writes nothing, and a status transition adds exactly the
// one message the new state warrants.
type Reconciler struct {
	store Store
	log   zerolog.Logger
}

func NewReconciler(store Store, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		store: store,
		log:   log.With().Str("component", "reconciler").Logger(),
	}
}

// Reconcile ensures the conversation for the appointment's (patient,
// facility) pair exists and that every warranted seed message is present.
// Unresolved facility names skip the appointment; they never fail the batch.
func (r *Reconciler) Reconcile(ctx context.Context, appt appointment.Appointment, idx *directory.Index) (Outcome, error) {
	facilityID, err := idx.Resolve(appt.FacilityNameRaw)
	if err != nil {
		if errors.Is(err, directory.ErrFacilityNotResolved) {
			r.log.Warn().
				Str("appointment_id", appt.ID.String()).
				Str("facility_name_raw", appt.FacilityNameRaw).
				Msg("facility name did not resolve, skipping appointment")
			return Outcome{Status: OutcomeSkipped, SkipReason: SkipUnresolvedFacility}, nil
		}
		return Outcome{}, fmt.Errorf("resolve facility: %w", err)
	}

	conv, created, err := r.store.CreateConversationIfAbsent(ctx, NewConversation{
		PatientID:           appt.PatientID,
		FacilityID:          facilityID,
		PatientDisplayName:  appt.PatientName,
		FacilityDisplayName: idx.DisplayName(facilityID),
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("find or create conversation: %w", err)
	}

	outcome := Outcome{
		Status:         OutcomeExists,
		ConversationID: conv.ID,
	}
	if created {
		outcome.Status = OutcomeCreated
	}

	for _, ev := range warrantedEvents(appt) {
		appended, err := r.ensureSeedMessage(ctx, conv, appt, ev)
		if err != nil {
			return outcome, err
		}
		if appended {
			outcome.MessagesAppended++
		}
	}

	return outcome, nil
}

// warrantedEvents lists the seed messages the appointment's current state
// calls for: a request always, a confirmation only once confirmed.
func warrantedEvents(appt appointment.Appointment) []seedEvent {
	events := []seedEvent{
		{kind: KindAppointmentRequest, senderRole: RolePatient},
	}
	if appt.Status == appointment.StatusConfirmed {
		events = append(events, seedEvent{kind: KindAppointmentConfirmation, senderRole: RoleFacility})
	}
	return events
}

func (r *Reconciler) ensureSeedMessage(ctx context.Context, conv *Conversation, appt appointment.Appointment, ev seedEvent) (bool, error) {
	exists, err := r.store.MessageExists(ctx, appt.ID, ev.kind)
	if err != nil {
		return false, fmt.Errorf("check seed message: %w", err)
	}
	if exists {
		return false, nil
	}

	senderID := appt.PatientID
	if ev.senderRole == RoleFacility {
		senderID = conv.FacilityID
	}

	sourceID := appt.ID
	_, err = r.store.AppendMessage(ctx, NewMessage{
		ConversationID:      conv.ID,
		SenderID:            senderID,
		SenderRole:          ev.senderRole,
		Kind:                ev.kind,
		Body:                seedBody(conv, appt, ev.kind),
		SourceAppointmentID: &sourceID,
	})
	if err != nil {
		// A concurrent reconcile of the same appointment won the insert;
		// the message exists, which is all this pass needs.
		if errors.Is(err, ErrDuplicateSeedMessage) {
			return false, nil
		}
		return false, fmt.Errorf("append seed message: %w", err)
	}

	return true, nil
}

func seedBody(conv *Conversation, appt appointment.Appointment, kind MessageKind) string {
	when := appt.ScheduledAt.Format("Mon, 2 Jan 2006 at 15:04")

	switch kind {
	case KindAppointmentConfirmation:
		return fmt.Sprintf("%s confirmed your %s appointment on %s.",
			conv.FacilityDisplayName, appt.Service, when)
	default:
		return fmt.Sprintf("%s requested a %s appointment on %s.",
			appt.PatientName, appt.Service, when)
	}
}
