package conversation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const conversationCols = `
	id, patient_id, facility_id, patient_display_name, facility_display_name,
	last_message_text, last_message_at, unread_for_patient, unread_for_facility,
	archived_for_patient, archived_for_facility, created_at, updated_at`

const messageCols = `
	id, conversation_id, seq, sender_id, sender_role, kind, body,
	source_appointment_id, read_by_patient, read_by_facility, created_at`

// Helpers

func scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	var lastMessageAt *time.Time

	err := row.Scan(
		&c.ID,
		&c.PatientID,
		&c.FacilityID,
		&c.PatientDisplayName,
		&c.FacilityDisplayName,
		&c.LastMessageText,
		&lastMessageAt,
		&c.UnreadForPatient,
		&c.UnreadForFacility,
		&c.ArchivedForPatient,
		&c.ArchivedForFacility,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}

	c.LastMessageAt = lastMessageAt
	return &c, nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	var m Message
	var sourceAppointmentID *uuid.UUID

	err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.Seq,
		&m.SenderID,
		&m.SenderRole,
		&m.Kind,
		&m.Body,
		&sourceAppointmentID,
		&m.ReadByPatient,
		&m.ReadByFacility,
		&m.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.SourceAppointmentID = sourceAppointmentID
	return &m, nil
}

// mapError folds transport-level failures into the store error taxonomy so
// callers can tell "retry this write" from "abandon the sweep".
func mapError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization failure, deadlock detected
			return fmt.Errorf("%s: %w: %s", op, ErrWriteConflict, pgErr.Message)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || errors.As(err, &netErr) {
		return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}

func unreadColumn(viewer SenderRole) string {
	if viewer == RolePatient {
		return "unread_for_patient"
	}
	return "unread_for_facility"
}

func readColumn(viewer SenderRole) string {
	if viewer == RolePatient {
		return "read_by_patient"
	}
	return "read_by_facility"
}

func archivedColumn(viewer SenderRole) string {
	if viewer == RolePatient {
		return "archived_for_patient"
	}
	return "archived_for_facility"
}

func viewerIDColumn(viewer SenderRole) string {
	if viewer == RolePatient {
		return "patient_id"
	}
	return "facility_id"
}

// Interface methods

func (s *PgStore) FindConversation(ctx context.Context, patientID, facilityID uuid.UUID) (*Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+conversationCols+`
		FROM conversations
		WHERE patient_id = $1 AND facility_id = $2
	`, patientID, facilityID)

	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			return nil, err
		}
		return nil, mapError("find conversation", err)
	}
	return conv, nil
}

// CreateConversationIfAbsent is the atomic find-or-create. The unique
// constraint on (patient_id, facility_id) makes the insert race-free; on
// conflict the existing row is returned instead.
func (s *PgStore) CreateConversationIfAbsent(ctx context.Context, nc NewConversation) (*Conversation, bool, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO conversations (
			id, patient_id, facility_id, patient_display_name, facility_display_name,
			last_message_text, unread_for_patient, unread_for_facility,
			archived_for_patient, archived_for_facility, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, '', 0, 0, false, false, now(), now())
		ON CONFLICT (patient_id, facility_id) DO NOTHING
		RETURNING `+conversationCols+`
	`, uuid.New(), nc.PatientID, nc.FacilityID, nc.PatientDisplayName, nc.FacilityDisplayName)

	conv, err := scanConversation(row)
	if err == nil {
		return conv, true, nil
	}
	if !errors.Is(err, ErrConversationNotFound) {
		return nil, false, mapError("create conversation", err)
	}

	// Lost the insert race (or the row predates this call); fetch the winner.
	conv, err = s.FindConversation(ctx, nc.PatientID, nc.FacilityID)
	if err != nil {
		return nil, false, err
	}
	return conv, false, nil
}

func (s *PgStore) GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+conversationCols+`
		FROM conversations
		WHERE id = $1
	`, id)

	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			return nil, err
		}
		return nil, mapError("get conversation", err)
	}
	return conv, nil
}

func (s *PgStore) ListConversationsForViewer(ctx context.Context, viewerID uuid.UUID, viewer SenderRole) ([]Conversation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+conversationCols+`
		FROM conversations
		WHERE `+viewerIDColumn(viewer)+` = $1
		ORDER BY last_message_at DESC NULLS LAST, created_at DESC
	`, viewerID)
	if err != nil {
		return nil, mapError("list conversations", err)
	}
	defer rows.Close()

	var result []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, mapError("scan conversation", err)
		}
		result = append(result, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, mapError("list conversations", err)
	}

	return result, nil
}

func (s *PgStore) MessageExists(ctx context.Context, sourceAppointmentID uuid.UUID, kind MessageKind) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM messages
			WHERE source_appointment_id = $1 AND kind = $2
		)
	`, sourceAppointmentID, kind).Scan(&exists)
	if err != nil {
		return false, mapError("message exists", err)
	}
	return exists, nil
}

// AppendMessage writes the message and the conversation summary as one
// transaction. The conversation row lock serializes appends within a thread,
// which is what makes the per-conversation seq gap-free and strictly
// increasing.
func (s *PgStore) AppendMessage(ctx context.Context, nm NewMessage) (*Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, mapError("begin append", err)
	}
	defer tx.Rollback(ctx)

	var convID uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT id FROM conversations WHERE id = $1 FOR UPDATE
	`, nm.ConversationID).Scan(&convID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, mapError("lock conversation", err)
	}

	readByPatient := nm.SenderRole == RolePatient
	readByFacility := nm.SenderRole == RoleFacility

	row := tx.QueryRow(ctx, `
		INSERT INTO messages (
			id, conversation_id, seq, sender_id, sender_role, kind, body,
			source_appointment_id, read_by_patient, read_by_facility, created_at
		)
		SELECT $1, $2, COALESCE(MAX(seq), 0) + 1, $3, $4, $5, $6, $7, $8, $9, now()
		FROM messages WHERE conversation_id = $2
		ON CONFLICT (source_appointment_id, kind) WHERE source_appointment_id IS NOT NULL
		DO NOTHING
		RETURNING `+messageCols+`
	`, uuid.New(), nm.ConversationID, nm.SenderID, nm.SenderRole, nm.Kind, nm.Body,
		nm.SourceAppointmentID, readByPatient, readByFacility)

	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// A concurrent reconcile already seeded this appointment event.
			return nil, ErrDuplicateSeedMessage
		}
		return nil, mapError("insert message", err)
	}

	counterpartUnread := unreadColumn(nm.SenderRole.Counterpart())
	_, err = tx.Exec(ctx, `
		UPDATE conversations
		SET last_message_text = $2,
		    last_message_at = $3,
		    `+counterpartUnread+` = `+counterpartUnread+` + 1,
		    updated_at = now()
		WHERE id = $1
	`, nm.ConversationID, msg.Body, msg.CreatedAt)
	if err != nil {
		return nil, mapError("update conversation summary", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapError("commit append", err)
	}

	return msg, nil
}

func (s *PgStore) ListMessages(ctx context.Context, conversationID uuid.UUID, cursor string, limit int) (*MessagePage, error) {
	afterSeq, err := decodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+messageCols+`
		FROM messages
		WHERE conversation_id = $1 AND seq > $2
		ORDER BY seq
		LIMIT $3
	`, conversationID, afterSeq, limit)
	if err != nil {
		return nil, mapError("list messages", err)
	}
	defer rows.Close()

	page := &MessagePage{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, mapError("scan message", err)
		}
		page.Messages = append(page.Messages, *m)
	}

	if err := rows.Err(); err != nil {
		return nil, mapError("list messages", err)
	}

	if len(page.Messages) == limit {
		page.NextCursor = encodeCursor(page.Messages[len(page.Messages)-1].Seq)
	}

	return page, nil
}

func (s *PgStore) MarkConversationRead(ctx context.Context, conversationID uuid.UUID, viewer SenderRole) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return mapError("begin mark read", err)
	}
	defer tx.Rollback(ctx)

	var convID uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT id FROM conversations WHERE id = $1 FOR UPDATE
	`, conversationID).Scan(&convID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrConversationNotFound
		}
		return mapError("lock conversation", err)
	}

	readCol := readColumn(viewer)
	_, err = tx.Exec(ctx, `
		UPDATE messages
		SET `+readCol+` = true
		WHERE conversation_id = $1
		  AND sender_role = $2
		  AND NOT `+readCol+`
	`, conversationID, viewer.Counterpart())
	if err != nil {
		return mapError("mark messages read", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE conversations
		SET `+unreadColumn(viewer)+` = 0,
		    updated_at = now()
		WHERE id = $1
	`, conversationID)
	if err != nil {
		return mapError("reset unread count", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return mapError("commit mark read", err)
	}

	return nil
}

func (s *PgStore) SetUnreadCount(ctx context.Context, conversationID uuid.UUID, viewer SenderRole, count int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversations
		SET `+unreadColumn(viewer)+` = $2,
		    updated_at = now()
		WHERE id = $1
	`, conversationID, count)
	if err != nil {
		return mapError("set unread count", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (s *PgStore) CountUnread(ctx context.Context, conversationID uuid.UUID, viewer SenderRole) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM messages
		WHERE conversation_id = $1
		  AND sender_role = $2
		  AND NOT `+readColumn(viewer)+`
	`, conversationID, viewer.Counterpart()).Scan(&count)
	if err != nil {
		return 0, mapError("count unread", err)
	}
	return count, nil
}

func (s *PgStore) GetUnreadAggregate(ctx context.Context, viewerID uuid.UUID, viewer SenderRole) (int, error) {
	var total int
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(`+unreadColumn(viewer)+`), 0)
		FROM conversations
		WHERE `+viewerIDColumn(viewer)+` = $1
		  AND NOT `+archivedColumn(viewer)+`
	`, viewerID).Scan(&total)
	if err != nil {
		return 0, mapError("unread aggregate", err)
	}
	return total, nil
}
