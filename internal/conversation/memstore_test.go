package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore is an in-memory Store for engine tests. A single mutex stands in
// for the transactional guarantees the Postgres store gets from row locks
// and unique constraints, so the concurrency-sensitive contract points
// (atomic find-or-create, seed-message uniqueness, seq assignment) behave
// the same way.
type memStore struct {
	mu       sync.Mutex
	convs    map[uuid.UUID]*Conversation
	byPair   map[[2]uuid.UUID]uuid.UUID
	msgs     map[uuid.UUID][]Message
	seedSeen map[seedKey]struct{}
}

type seedKey struct {
	apptID uuid.UUID
	kind   MessageKind
}

func newMemStore() *memStore {
	return &memStore{
		convs:    make(map[uuid.UUID]*Conversation),
		byPair:   make(map[[2]uuid.UUID]uuid.UUID),
		msgs:     make(map[uuid.UUID][]Message),
		seedSeen: make(map[seedKey]struct{}),
	}
}

func (s *memStore) FindConversation(_ context.Context, patientID, facilityID uuid.UUID) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byPair[[2]uuid.UUID{patientID, facilityID}]
	if !ok {
		return nil, ErrConversationNotFound
	}
	c := *s.convs[id]
	return &c, nil
}

func (s *memStore) CreateConversationIfAbsent(_ context.Context, nc NewConversation) (*Conversation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair := [2]uuid.UUID{nc.PatientID, nc.FacilityID}
	if id, ok := s.byPair[pair]; ok {
		c := *s.convs[id]
		return &c, false, nil
	}

	now := time.Now()
	conv := &Conversation{
		ID:                  uuid.New(),
		PatientID:           nc.PatientID,
		FacilityID:          nc.FacilityID,
		PatientDisplayName:  nc.PatientDisplayName,
		FacilityDisplayName: nc.FacilityDisplayName,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	s.convs[conv.ID] = conv
	s.byPair[pair] = conv.ID

	c := *conv
	return &c, true, nil
}

func (s *memStore) GetConversation(_ context.Context, id uuid.UUID) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.convs[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	c := *conv
	return &c, nil
}

func (s *memStore) ListConversationsForViewer(_ context.Context, viewerID uuid.UUID, viewer SenderRole) ([]Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []Conversation
	for _, conv := range s.convs {
		id := conv.PatientID
		if viewer == RoleFacility {
			id = conv.FacilityID
		}
		if id == viewerID {
			result = append(result, *conv)
		}
	}
	return result, nil
}

func (s *memStore) MessageExists(_ context.Context, sourceAppointmentID uuid.UUID, kind MessageKind) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.seedSeen[seedKey{sourceAppointmentID, kind}]
	return ok, nil
}

func (s *memStore) AppendMessage(_ context.Context, nm NewMessage) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.convs[nm.ConversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}

	if nm.SourceAppointmentID != nil {
		key := seedKey{*nm.SourceAppointmentID, nm.Kind}
		if _, dup := s.seedSeen[key]; dup {
			return nil, ErrDuplicateSeedMessage
		}
		s.seedSeen[key] = struct{}{}
	}

	msgs := s.msgs[nm.ConversationID]
	var nextSeq int64 = 1
	if len(msgs) > 0 {
		nextSeq = msgs[len(msgs)-1].Seq + 1
	}

	now := time.Now()
	msg := Message{
		ID:                  uuid.New(),
		ConversationID:      nm.ConversationID,
		Seq:                 nextSeq,
		SenderID:            nm.SenderID,
		SenderRole:          nm.SenderRole,
		Kind:                nm.Kind,
		Body:                nm.Body,
		SourceAppointmentID: nm.SourceAppointmentID,
		ReadByPatient:       nm.SenderRole == RolePatient,
		ReadByFacility:      nm.SenderRole == RoleFacility,
		CreatedAt:           now,
	}
	s.msgs[nm.ConversationID] = append(msgs, msg)

	conv.LastMessageText = msg.Body
	t := msg.CreatedAt
	conv.LastMessageAt = &t
	conv.UpdatedAt = now
	if nm.SenderRole == RolePatient {
		conv.UnreadForFacility++
	} else {
		conv.UnreadForPatient++
	}

	m := msg
	return &m, nil
}

func (s *memStore) ListMessages(_ context.Context, conversationID uuid.UUID, cursor string, limit int) (*MessagePage, error) {
	afterSeq, err := decodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	page := &MessagePage{}
	for _, m := range s.msgs[conversationID] {
		if m.Seq <= afterSeq {
			continue
		}
		page.Messages = append(page.Messages, m)
		if len(page.Messages) == limit {
			break
		}
	}

	if len(page.Messages) == limit {
		page.NextCursor = encodeCursor(page.Messages[len(page.Messages)-1].Seq)
	}
	return page, nil
}

func (s *memStore) MarkConversationRead(_ context.Context, conversationID uuid.UUID, viewer SenderRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.convs[conversationID]
	if !ok {
		return ErrConversationNotFound
	}

	msgs := s.msgs[conversationID]
	for i := range msgs {
		if msgs[i].SenderRole != viewer.Counterpart() {
			continue
		}
		if viewer == RolePatient {
			msgs[i].ReadByPatient = true
		} else {
			msgs[i].ReadByFacility = true
		}
	}

	if viewer == RolePatient {
		conv.UnreadForPatient = 0
	} else {
		conv.UnreadForFacility = 0
	}
	conv.UpdatedAt = time.Now()
	return nil
}

func (s *memStore) SetUnreadCount(_ context.Context, conversationID uuid.UUID, viewer SenderRole, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.convs[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	if viewer == RolePatient {
		conv.UnreadForPatient = count
	} else {
		conv.UnreadForFacility = count
	}
	return nil
}

func (s *memStore) CountUnread(_ context.Context, conversationID uuid.UUID, viewer SenderRole) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, m := range s.msgs[conversationID] {
		if m.SenderRole == viewer.Counterpart() && !m.ReadBy(viewer) {
			count++
		}
	}
	return count, nil
}

func (s *memStore) GetUnreadAggregate(_ context.Context, viewerID uuid.UUID, viewer SenderRole) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, conv := range s.convs {
		if viewer == RolePatient {
			if conv.PatientID == viewerID && !conv.ArchivedForPatient {
				total += conv.UnreadForPatient
			}
		} else {
			if conv.FacilityID == viewerID && !conv.ArchivedForFacility {
				total += conv.UnreadForFacility
			}
		}
	}
	return total, nil
}

// setArchived flips a viewer's archive flag, standing in for the external
// UI layer that owns archival.
func (s *memStore) setArchived(conversationID uuid.UUID, viewer SenderRole, archived bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv := s.convs[conversationID]
	if viewer == RolePatient {
		conv.ArchivedForPatient = archived
	} else {
		conv.ArchivedForFacility = archived
	}
}

func (s *memStore) messageCount(conversationID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs[conversationID])
}

func (s *memStore) conversationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convs)
}
