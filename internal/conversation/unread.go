package conversation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BadgeCache caches per-viewer unread aggregates. Implementations must treat
// Invalidate as the signal that any cached value for the viewer is stale.
type BadgeCache interface {
	Get(ctx context.Context, viewerID, viewerRole string) (int, bool, error)
	Set(ctx context.Context, viewerID, viewerRole string, count int) error
	Invalidate(ctx context.Context, viewerID, viewerRole string) error
}

// RecomputeResult reports a from-scratch recount and whether the stored
// counters had drifted from it.
type RecomputeResult struct {
	PatientUnread  int
	FacilityUnread int
	Repaired       bool
}

// Counter owns the unread protocol. The per-message increment itself happens
// inside the store's append transaction; Counter handles the rest: resets on
// open, audit recomputes, the viewer aggregate, and badge invalidation.
type Counter struct {
	store  Store
	badges BadgeCache
	log    zerolog.Logger
}

func NewCounter(store Store, badges BadgeCache, log zerolog.Logger) *Counter {
	return &Counter{
		store:  store,
		badges: badges,
		log:    log.With().Str("component", "unread").Logger(),
	}
}

// OnMessageAppended invalidates the counterpart's badge after an append. The
// unread increment was already applied transactionally with the message.
func (c *Counter) OnMessageAppended(ctx context.Context, msg *Message) error {
	conv, err := c.store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("load conversation for badge invalidation: %w", err)
	}

	viewer := msg.SenderRole.Counterpart()
	c.invalidate(ctx, conv, viewer)
	return nil
}

// OnConversationOpened resets the viewer's unread count to zero and marks
// the counterpart's messages read, then drops the viewer's badge.
func (c *Counter) OnConversationOpened(ctx context.Context, conversationID uuid.UUID, viewer SenderRole) error {
	if err := c.store.MarkConversationRead(ctx, conversationID, viewer); err != nil {
		return fmt.Errorf("mark conversation read: %w", err)
	}

	conv, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("load conversation after open: %w", err)
	}

	c.invalidate(ctx, conv, viewer)
	return nil
}

// Recompute derives both unread counts from the messages themselves and
// repairs the stored counters if they drifted. The incremental counters and
// this recount must agree; drift means a bug or manual data surgery, so it
// is logged loudly.
func (c *Counter) Recompute(ctx context.Context, conversationID uuid.UUID) (RecomputeResult, error) {
	conv, err := c.store.GetConversation(ctx, conversationID)
	if err != nil {
		return RecomputeResult{}, err
	}

	var result RecomputeResult
	result.PatientUnread, err = c.store.CountUnread(ctx, conversationID, RolePatient)
	if err != nil {
		return result, err
	}
	result.FacilityUnread, err = c.store.CountUnread(ctx, conversationID, RoleFacility)
	if err != nil {
		return result, err
	}

	if conv.UnreadForPatient != result.PatientUnread {
		c.log.Warn().
			Str("conversation_id", conversationID.String()).
			Int("stored", conv.UnreadForPatient).
			Int("recomputed", result.PatientUnread).
			Msg("patient unread counter drifted, repairing")
		if err := c.store.SetUnreadCount(ctx, conversationID, RolePatient, result.PatientUnread); err != nil {
			return result, err
		}
		result.Repaired = true
		c.invalidate(ctx, conv, RolePatient)
	}

	if conv.UnreadForFacility != result.FacilityUnread {
		c.log.Warn().
			Str("conversation_id", conversationID.String()).
			Int("stored", conv.UnreadForFacility).
			Int("recomputed", result.FacilityUnread).
			Msg("facility unread counter drifted, repairing")
		if err := c.store.SetUnreadCount(ctx, conversationID, RoleFacility, result.FacilityUnread); err != nil {
			return result, err
		}
		result.Repaired = true
		c.invalidate(ctx, conv, RoleFacility)
	}

	return result, nil
}

// Aggregate returns the badge value for a viewer, served from cache when
// fresh.
func (c *Counter) Aggregate(ctx context.Context, viewerID uuid.UUID, viewer SenderRole) (int, error) {
	if c.badges != nil {
		if n, ok, err := c.badges.Get(ctx, viewerID.String(), string(viewer)); err == nil && ok {
			return n, nil
		} else if err != nil {
			c.log.Warn().Err(err).Msg("badge cache read failed, falling back to store")
		}
	}

	total, err := c.store.GetUnreadAggregate(ctx, viewerID, viewer)
	if err != nil {
		return 0, fmt.Errorf("unread aggregate: %w", err)
	}

	if c.badges != nil {
		if err := c.badges.Set(ctx, viewerID.String(), string(viewer), total); err != nil {
			c.log.Warn().Err(err).Msg("badge cache write failed")
		}
	}

	return total, nil
}

// invalidate is best effort; a stale badge self-heals on TTL expiry.
func (c *Counter) invalidate(ctx context.Context, conv *Conversation, viewer SenderRole) {
	if c.badges == nil {
		return
	}

	viewerID := conv.PatientID
	if viewer == RoleFacility {
		viewerID = conv.FacilityID
	}

	if err := c.badges.Invalidate(ctx, viewerID.String(), string(viewer)); err != nil {
		c.log.Warn().
			Err(err).
			Str("conversation_id", conv.ID.String()).
			Str("viewer_role", string(viewer)).
			Msg("badge invalidation failed")
	}
}
