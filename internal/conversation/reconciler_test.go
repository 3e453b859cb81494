package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careloop/clinic-inbox/internal/appointment"
	"github.com/careloop/clinic-inbox/internal/directory"
)

func testDirectory(t *testing.T) (*directory.Index, uuid.UUID) {
	t.Helper()

	facilityID := uuid.New()
	idx, collisions := directory.BuildIndex([]directory.Facility{
		{ID: facilityID, DisplayName: "King Hospital", Aliases: []string{"king hospital"}},
	})
	require.Empty(t, collisions)
	return idx, facilityID
}

func testAppointment(patientID uuid.UUID, status appointment.Status) appointment.Appointment {
	now := time.Now()
	return appointment.Appointment{
		ID:              uuid.New(),
		PatientID:       patientID,
		PatientName:     "Ada Obi",
		FacilityNameRaw: "King Hospital",
		Service:         "Dermatology",
		ScheduledAt:     now.AddDate(0, 0, 7),
		Status:          status,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestReconcile_CreatesConversationAndRequestMessage(t *testing.T) {
	store := newMemStore()
	rec := NewReconciler(store, zerolog.Nop())
	idx, facilityID := testDirectory(t)
	patientID := uuid.New()
	appt := testAppointment(patientID, appointment.StatusPending)

	outcome, err := rec.Reconcile(context.Background(), appt, idx)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCreated, outcome.Status)
	assert.Equal(t, 1, outcome.MessagesAppended)

	conv, err := store.FindConversation(context.Background(), patientID, facilityID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Obi", conv.PatientDisplayName)
	assert.Equal(t, "King Hospital", conv.FacilityDisplayName)
	assert.Equal(t, 1, conv.UnreadForFacility, "request message is unread for the facility")
	assert.Equal(t, 0, conv.UnreadForPatient)

	page, err := store.ListMessages(context.Background(), conv.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	msg := page.Messages[0]
	assert.Equal(t, KindAppointmentRequest, msg.Kind)
	assert.Equal(t, RolePatient, msg.SenderRole)
	require.NotNil(t, msg.SourceAppointmentID)
	assert.Equal(t, appt.ID, *msg.SourceAppointmentID)
	assert.Contains(t, msg.Body, "Ada Obi")
	assert.Contains(t, msg.Body, "Dermatology")
}

func TestReconcile_IsIdempotent(t *testing.T) {
	store := newMemStore()
	rec := NewReconciler(store, zerolog.Nop())
	idx, _ := testDirectory(t)
	appt := testAppointment(uuid.New(), appointment.StatusPending)

	first, err := rec.Reconcile(context.Background(), appt, idx)
	require.NoError(t, err)
	require.Equal(t, OutcomeCreated, first.Status)

	for i := 0; i < 5; i++ {
		again, err := rec.Reconcile(context.Background(), appt, idx)
		require.NoError(t, err)
		assert.Equal(t, OutcomeExists, again.Status)
		assert.Zero(t, again.MessagesAppended, "rerun %d must write nothing", i)
	}

	assert.Equal(t, 1, store.conversationCount())
	assert.Equal(t, 1, store.messageCount(first.ConversationID))
}

func TestReconcile_StatusTransitionAppendsExactlyTheConfirmation(t *testing.T) {
	store := newMemStore()
	rec := NewReconciler(store, zerolog.Nop())
	idx, _ := testDirectory(t)
	appt := testAppointment(uuid.New(), appointment.StatusPending)

	// Reconcile repeatedly while pending.
	var convID uuid.UUID
	for i := 0; i < 3; i++ {
		outcome, err := rec.Reconcile(context.Background(), appt, idx)
		require.NoError(t, err)
		convID = outcome.ConversationID
	}
	require.Equal(t, 1, store.messageCount(convID))

	// Confirm and reconcile repeatedly again.
	appt.Status = appointment.StatusConfirmed
	outcome, err := rec.Reconcile(context.Background(), appt, idx)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.MessagesAppended)

	for i := 0; i < 3; i++ {
		again, err := rec.Reconcile(context.Background(), appt, idx)
		require.NoError(t, err)
		assert.Zero(t, again.MessagesAppended)
	}

	require.Equal(t, 2, store.messageCount(convID))

	page, err := store.ListMessages(context.Background(), convID, "", 10)
	require.NoError(t, err)
	assert.Equal(t, KindAppointmentRequest, page.Messages[0].Kind)
	assert.Equal(t, KindAppointmentConfirmation, page.Messages[1].Kind)
	assert.Equal(t, RoleFacility, page.Messages[1].SenderRole)
}

func TestReconcile_SamePairAppointmentsShareOneConversation(t *testing.T) {
	store := newMemStore()
	rec := NewReconciler(store, zerolog.Nop())
	idx, _ := testDirectory(t)
	patientID := uuid.New()

	a1 := testAppointment(patientID, appointment.StatusPending)
	a2 := testAppointment(patientID, appointment.StatusPending)
	a2.FacilityNameRaw = "king Hospital" // case variant of the same facility

	o1, err := rec.Reconcile(context.Background(), a1, idx)
	require.NoError(t, err)
	o2, err := rec.Reconcile(context.Background(), a2, idx)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCreated, o1.Status)
	assert.Equal(t, OutcomeExists, o2.Status)
	assert.Equal(t, o1.ConversationID, o2.ConversationID)
	assert.Equal(t, 1, store.conversationCount())
	assert.Equal(t, 2, store.messageCount(o1.ConversationID), "one request message per appointment")
}

func TestReconcile_ConcurrentSamePairYieldsOneConversation(t *testing.T) {
	store := newMemStore()
	rec := NewReconciler(store, zerolog.Nop())
	idx, _ := testDirectory(t)
	patientID := uuid.New()

	a1 := testAppointment(patientID, appointment.StatusConfirmed)
	a2 := testAppointment(patientID, appointment.StatusConfirmed)

	const rounds = 20
	var wg sync.WaitGroup
	errs := make(chan error, rounds*2)

	for i := 0; i < rounds; i++ {
		for _, appt := range []appointment.Appointment{a1, a2} {
			wg.Add(1)
			go func(a appointment.Appointment) {
				defer wg.Done()
				if _, err := rec.Reconcile(context.Background(), a, idx); err != nil {
					errs <- err
				}
			}(appt)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent reconcile error: %v", err)
	}

	require.Equal(t, 1, store.conversationCount())

	// Two confirmed appointments warrant four seed messages in total, no
	// matter how many reconciles raced.
	var convID uuid.UUID
	for id := range store.convs {
		convID = id
	}
	assert.Equal(t, 4, store.messageCount(convID))
}

func TestReconcile_UnresolvedFacilitySkips(t *testing.T) {
	store := newMemStore()
	rec := NewReconciler(store, zerolog.Nop())
	idx, _ := testDirectory(t)

	appt := testAppointment(uuid.New(), appointment.StatusPending)
	appt.FacilityNameRaw = "Completely Unknown Clinic"

	outcome, err := rec.Reconcile(context.Background(), appt, idx)
	require.NoError(t, err, "unresolved facilities are skip-and-report, not errors")
	assert.Equal(t, OutcomeSkipped, outcome.Status)
	assert.Equal(t, SkipUnresolvedFacility, outcome.SkipReason)
	assert.Zero(t, store.conversationCount())
}

func TestReconcile_RenameDoesNotTouchExistingConversations(t *testing.T) {
	store := newMemStore()
	rec := NewReconciler(store, zerolog.Nop())
	idx, facilityID := testDirectory(t)
	patientID := uuid.New()

	first := testAppointment(patientID, appointment.StatusPending)
	o1, err := rec.Reconcile(context.Background(), first, idx)
	require.NoError(t, err)

	// The facility renames; the directory index for the next sweep reflects
	// it, with the old name kept as an alias.
	renamed, collisions := directory.BuildIndex([]directory.Facility{
		{ID: facilityID, DisplayName: "King Royal Hospital", Aliases: []string{"King Hospital"}},
	})
	require.Empty(t, collisions)

	second := testAppointment(patientID, appointment.StatusPending)
	o2, err := rec.Reconcile(context.Background(), second, renamed)
	require.NoError(t, err)
	require.Equal(t, o1.ConversationID, o2.ConversationID)

	conv, err := store.GetConversation(context.Background(), o1.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "King Hospital", conv.FacilityDisplayName,
		"creation-time snapshot must survive a rename")
}
