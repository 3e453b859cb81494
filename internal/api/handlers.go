package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/careloop/clinic-inbox/internal/conversation"
)

func listConversationsHandler(store conversation.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewerID, viewer, ok := viewerParams(w, r)
		if !ok {
			return
		}

		convs, err := store.ListConversationsForViewer(r.Context(), viewerID, viewer)
		if err != nil {
			handleStoreError(w, err)
			return
		}

		resp := make([]ConversationResponse, 0, len(convs))
		for _, c := range convs {
			resp = append(resp, ConversationResponse{
				ID:                  c.ID,
				PatientID:           c.PatientID,
				FacilityID:          c.FacilityID,
				PatientDisplayName:  c.PatientDisplayName,
				FacilityDisplayName: c.FacilityDisplayName,
				LastMessageText:     c.LastMessageText,
				LastMessageAt:       c.LastMessageAt,
				UnreadCount:         c.UnreadFor(viewer),
				CreatedAt:           c.CreatedAt,
			})
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func listMessagesHandler(store conversation.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convID, ok := pathConversationID(w, r)
		if !ok {
			return
		}

		limit := 0
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer")
				return
			}
			limit = n
		}

		page, err := store.ListMessages(r.Context(), convID, r.URL.Query().Get("cursor"), limit)
		if err != nil {
			handleStoreError(w, err)
			return
		}

		resp := MessagePageResponse{
			Messages:   make([]MessageResponse, 0, len(page.Messages)),
			NextCursor: page.NextCursor,
		}
		for _, m := range page.Messages {
			resp.Messages = append(resp.Messages, messageResponse(&m))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func postMessageHandler(store conversation.Store, counter *conversation.Counter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convID, ok := pathConversationID(w, r)
		if !ok {
			return
		}

		var req PostMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		senderID, err := uuid.Parse(req.SenderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_sender_id", "sender_id must be a valid UUID")
			return
		}

		role := conversation.SenderRole(req.SenderRole)
		if !role.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_sender_role", "sender_role must be patient or facility")
			return
		}

		if req.Body == "" {
			writeError(w, http.StatusBadRequest, "empty_body", "message body is required")
			return
		}

		msg, err := store.AppendMessage(r.Context(), conversation.NewMessage{
			ConversationID: convID,
			SenderID:       senderID,
			SenderRole:     role,
			Kind:           conversation.KindFreeText,
			Body:           req.Body,
		})
		if err != nil {
			handleStoreError(w, err)
			return
		}

		if err := counter.OnMessageAppended(r.Context(), msg); err != nil {
			// The message is committed at this point, so the client still
			// gets its 201; a stale badge expires on its own TTL.
			log.Warn().
				Err(err).
				Str("conversation_id", convID.String()).
				Str("request_id", GetRequestID(r.Context())).
				Msg("badge invalidation failed after append")
		}

		writeJSON(w, http.StatusCreated, messageResponse(msg))
	}
}

func openConversationHandler(counter *conversation.Counter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convID, ok := pathConversationID(w, r)
		if !ok {
			return
		}

		var req OpenConversationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		viewer := conversation.SenderRole(req.ViewerRole)
		if !viewer.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_viewer_role", "viewer_role must be patient or facility")
			return
		}

		if err := counter.OnConversationOpened(r.Context(), convID, viewer); err != nil {
			handleStoreError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func unreadHandler(counter *conversation.Counter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewerID, viewer, ok := viewerParams(w, r)
		if !ok {
			return
		}

		total, err := counter.Aggregate(r.Context(), viewerID, viewer)
		if err != nil {
			handleStoreError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, UnreadResponse{
			ViewerID:   viewerID,
			ViewerRole: string(viewer),
			Unread:     total,
		})
	}
}

func syncRunHandler(runner *conversation.LockedRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := runner.Run(r.Context())
		if err != nil {
			if errors.Is(err, conversation.ErrSweepInProgress) {
				writeError(w, http.StatusConflict, "sweep_in_progress", err.Error())
				return
			}
			handleStoreError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, summary)
	}
}

// Helpers

func pathConversationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_conversation_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func viewerParams(w http.ResponseWriter, r *http.Request) (uuid.UUID, conversation.SenderRole, bool) {
	viewerID, err := uuid.Parse(r.URL.Query().Get("viewer_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_viewer_id", "viewer_id must be a valid UUID")
		return uuid.Nil, "", false
	}

	viewer := conversation.SenderRole(r.URL.Query().Get("role"))
	if !viewer.Valid() {
		writeError(w, http.StatusBadRequest, "invalid_viewer_role", "role must be patient or facility")
		return uuid.Nil, "", false
	}

	return viewerID, viewer, true
}

func messageResponse(m *conversation.Message) MessageResponse {
	return MessageResponse{
		ID:                  m.ID,
		ConversationID:      m.ConversationID,
		Seq:                 m.Seq,
		SenderID:            m.SenderID,
		SenderRole:          string(m.SenderRole),
		Kind:                string(m.Kind),
		Body:                m.Body,
		SourceAppointmentID: m.SourceAppointmentID,
		CreatedAt:           m.CreatedAt,
	}
}

func handleStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, conversation.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, "conversation_not_found", err.Error())
	case errors.Is(err, conversation.ErrInvalidCursor):
		writeError(w, http.StatusBadRequest, "invalid_cursor", err.Error())
	case errors.Is(err, conversation.ErrWriteConflict):
		writeError(w, http.StatusConflict, "write_conflict", "transient conflict, please retry")
	case errors.Is(err, conversation.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
