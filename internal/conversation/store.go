package conversation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrDuplicateSeedMessage = errors.New("seed message already exists for this appointment event")
	ErrInvalidCursor        = errors.New("invalid message cursor")

	// ErrWriteConflict is transient; callers retry with the same inputs,
	// which is safe because every write here is idempotent.
	ErrWriteConflict = errors.New("store write conflict")

	// ErrStoreUnavailable aborts the current sweep; the whole sweep is
	// rerun later from scratch.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// NewConversation carries the creation-time snapshot for find-or-create.
type NewConversation struct {
	PatientID           uuid.UUID
	FacilityID          uuid.UUID
	PatientDisplayName  string
	FacilityDisplayName string
}

type NewMessage struct {
	ConversationID      uuid.UUID
	SenderID            uuid.UUID
	SenderRole          SenderRole
	Kind                MessageKind
	Body                string
	SourceAppointmentID *uuid.UUID
}

// MessagePage is one page of an ordered listing. NextCursor is empty when
// the page reached the end of the conversation.
type MessagePage struct {
	Messages   []Message
	NextCursor string
}

// Store is the persistence contract the sync engine runs against. Two
// operations carry the concurrency load: CreateConversationIfAbsent must be
// an atomic find-or-create on the (patient, facility) pair, and
// AppendMessage must assign the next per-conversation sequence, write the
// message, refresh the conversation summary and bump the counterpart's
// unread count as one transaction.
type Store interface {
	FindConversation(ctx context.Context, patientID, facilityID uuid.UUID) (*Conversation, error)
	CreateConversationIfAbsent(ctx context.Context, nc NewConversation) (conv *Conversation, created bool, err error)
	GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error)
	ListConversationsForViewer(ctx context.Context, viewerID uuid.UUID, viewer SenderRole) ([]Conversation, error)

	MessageExists(ctx context.Context, sourceAppointmentID uuid.UUID, kind MessageKind) (bool, error)
	// AppendMessage returns ErrDuplicateSeedMessage when a seed message with
	// the same (SourceAppointmentID, Kind) already exists.
	AppendMessage(ctx context.Context, nm NewMessage) (*Message, error)
	ListMessages(ctx context.Context, conversationID uuid.UUID, cursor string, limit int) (*MessagePage, error)

	// MarkConversationRead zeroes the viewer's unread count and flags all
	// counterpart messages as read by the viewer, transactionally.
	MarkConversationRead(ctx context.Context, conversationID uuid.UUID, viewer SenderRole) error
	SetUnreadCount(ctx context.Context, conversationID uuid.UUID, viewer SenderRole, count int) error
	// CountUnread derives the viewer's unread count from the messages
	// themselves, for audit and repair.
	CountUnread(ctx context.Context, conversationID uuid.UUID, viewer SenderRole) (int, error)
	// GetUnreadAggregate sums the viewer's unread counts across their
	// conversations, excluding ones archived for that viewer.
	GetUnreadAggregate(ctx context.Context, viewerID uuid.UUID, viewer SenderRole) (int, error)
}

// Cursors are opaque to clients; inside they are just the last seq seen.

func encodeCursor(seq int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(seq, 10)))
}

func decodeCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	seq, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || seq < 0 {
		return 0, ErrInvalidCursor
	}
	return seq, nil
}
