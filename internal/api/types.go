package api

import (
	"time"

	"github.com/google/uuid"
)

type PostMessageRequest struct {
	SenderID   string `json:"sender_id"`
	SenderRole string `json:"sender_role"`
	Body       string `json:"body"`
}

type OpenConversationRequest struct {
	ViewerRole string `json:"viewer_role"`
}

type ConversationResponse struct {
	ID                  uuid.UUID  `json:"id"`
	PatientID           uuid.UUID  `json:"patient_id"`
	FacilityID          uuid.UUID  `json:"facility_id"`
	PatientDisplayName  string     `json:"patient_display_name"`
	FacilityDisplayName string     `json:"facility_display_name"`
	LastMessageText     string     `json:"last_message_text"`
	LastMessageAt       *time.Time `json:"last_message_at,omitempty"`
	UnreadCount         int        `json:"unread_count"`
	CreatedAt           time.Time  `json:"created_at"`
}

type MessageResponse struct {
	ID                  uuid.UUID  `json:"id"`
	ConversationID      uuid.UUID  `json:"conversation_id"`
	Seq                 int64      `json:"seq"`
	SenderID            uuid.UUID  `json:"sender_id"`
	SenderRole          string     `json:"sender_role"`
	Kind                string     `json:"kind"`
	Body                string     `json:"body"`
	SourceAppointmentID *uuid.UUID `json:"source_appointment_id,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

type MessagePageResponse struct {
	Messages   []MessageResponse `json:"messages"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type UnreadResponse struct {
	ViewerID   uuid.UUID `json:"viewer_id"`
	ViewerRole string    `json:"viewer_role"`
	Unread     int       `json:"unread"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
