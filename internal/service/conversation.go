package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/lalith-99/relaychat/internal/apperr"
	"github.com/lalith-99/relaychat/internal/auth"
	"github.com/lalith-99/relaychat/internal/events"
	"github.com/lalith-99/relaychat/internal/models"
	"github.com/lalith-99/relaychat/internal/repository"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type ConversationService struct {
	store  repository.Store
	bus    Publisher
	logger *zap.Logger
}

func NewConversationService(store repository.Store, bus Publisher, logger *zap.Logger) *ConversationService {
	return &ConversationService{store: store, bus: bus, logger: logger}
}

// List returns the caller's conversations, most recently updated first.
func (s *ConversationService) List(ctx context.Context, who *auth.Identity) ([]models.Conversation, error) {
	if err := requireIdentity(who); err != nil {
		return nil, err
	}
	convs, err := s.store.Conversations().ListForUser(ctx, who.UserID)
	if err != nil {
		return nil, fail(s.logger, "list conversations", err)
	}
	return convs, nil
}

// Create starts a conversation between the caller and participantIDs.
//
// Why compare participant sets instead of just inserting?
//   - Two people should share one thread. Starting a "new" conversation
//     with exactly the same members is almost always a double click or a
//     second device, so it is reported as a conflict. The comparison is
//     order-independent and exact: {A,B} does not conflict with {A,B,C}.
//
// The creator is always a member, is the admin, and starts with
// has_seen_latest_message = true. Everyone else starts unseen.
func (s *ConversationService) Create(ctx context.Context, who *auth.Identity, participantIDs []uuid.UUID) (*models.Conversation, error) {
	if err := requireIdentity(who); err != nil {
		return nil, err
	}

	ids := lo.Uniq(append([]uuid.UUID{who.UserID}, participantIDs...))
	if len(ids) < 2 {
		return nil, apperr.Invalid("a conversation needs at least one other participant")
	}

	var created *models.Conversation
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Repos) error {
		n, err := tx.Users().CountExisting(ctx, ids)
		if err != nil {
			return err
		}
		if n != len(ids) {
			return apperr.NotFound("one or more users do not exist")
		}

		existing, err := tx.Conversations().ListForUser(ctx, who.UserID)
		if err != nil {
			return err
		}
		for _, c := range existing {
			if sameMembers(c.ParticipantIDs(), ids) {
				return apperr.Conflict("conversation already exists")
			}
		}

		conv, err := tx.Conversations().Create(ctx, who.UserID)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := tx.Participants().Add(ctx, conv.ID, id, id == who.UserID); err != nil {
				return err
			}
		}

		created, err = tx.Conversations().GetByID(ctx, conv.ID)
		return err
	})
	if err != nil {
		return nil, fail(s.logger, "create conversation", err)
	}

	publish(s.bus, s.logger, events.ConversationCreated{Conversation: created.Clone()})
	return created, nil
}

func sameMembers(a, b []uuid.UUID) bool {
	if len(a) != len(b) {
		return false
	}
	onlyA, onlyB := lo.Difference(a, b)
	return len(onlyA) == 0 && len(onlyB) == 0
}

// UpdateParticipants replaces the member set of a conversation with
// participantIDs.
//
// The removal and the additions are one transaction, so readers see
// either the old set or the new one. The published event carries the
// diff because "I was removed" and "someone else was removed" need
// different handling on the receiving side.
//
// If the admin is removed, the role passes to the longest-standing
// remaining member (or the first added one, if nobody remains).
func (s *ConversationService) UpdateParticipants(ctx context.Context, who *auth.Identity, conversationID uuid.UUID, participantIDs []uuid.UUID) (*models.Conversation, error) {
	if err := requireIdentity(who); err != nil {
		return nil, err
	}

	ids := lo.Uniq(participantIDs)
	if len(ids) == 0 {
		return nil, apperr.Invalid("participant list must not be empty")
	}

	var (
		updated        *models.Conversation
		added, removed []uuid.UUID
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Repos) error {
		conv, err := tx.Conversations().GetByID(ctx, conversationID)
		if err != nil {
			return err
		}
		if conv == nil {
			return apperr.NotFound("conversation not found")
		}
		if !conv.HasParticipant(who.UserID) {
			return apperr.Unauthorized("not a participant of this conversation")
		}

		n, err := tx.Users().CountExisting(ctx, ids)
		if err != nil {
			return err
		}
		if n != len(ids) {
			return apperr.NotFound("one or more users do not exist")
		}

		current := conv.ParticipantIDs()
		removed, added = lo.Difference(current, ids)

		if len(removed) > 0 {
			if err := tx.Participants().Remove(ctx, conversationID, removed); err != nil {
				return err
			}
		}
		for _, id := range added {
			if err := tx.Participants().Add(ctx, conversationID, id, true); err != nil {
				return err
			}
		}

		if lo.Contains(removed, conv.AdminID) {
			next := nextAdmin(current, removed, added)
			if err := tx.Conversations().SetAdmin(ctx, conversationID, next); err != nil {
				return err
			}
		} else if err := tx.Conversations().Touch(ctx, conversationID); err != nil {
			return err
		}

		updated, err = tx.Conversations().GetByID(ctx, conversationID)
		return err
	})
	if err != nil {
		return nil, fail(s.logger, "update participants", err)
	}

	publish(s.bus, s.logger, events.ConversationUpdated{
		Conversation:   updated.Clone(),
		AddedUserIDs:   added,
		RemovedUserIDs: removed,
	})
	return updated, nil
}

func nextAdmin(current, removed, added []uuid.UUID) uuid.UUID {
	for _, id := range current {
		if !lo.Contains(removed, id) {
			return id
		}
	}
	return added[0]
}

// Delete removes the conversation with all its participants and messages.
// Subscribers are told through one ConversationDeleted event that carries
// the membership as it was before the delete.
func (s *ConversationService) Delete(ctx context.Context, who *auth.Identity, conversationID uuid.UUID) error {
	if err := requireIdentity(who); err != nil {
		return err
	}

	var members []uuid.UUID
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Repos) error {
		conv, err := tx.Conversations().GetByID(ctx, conversationID)
		if err != nil {
			return err
		}
		if conv == nil {
			return apperr.NotFound("conversation not found")
		}
		if !conv.HasParticipant(who.UserID) {
			return apperr.Unauthorized("not a participant of this conversation")
		}
		members = conv.ParticipantIDs()

		if _, err := tx.Messages().DeleteByConversation(ctx, conversationID); err != nil {
			return err
		}
		if err := tx.Participants().RemoveAll(ctx, conversationID); err != nil {
			return err
		}
		return tx.Conversations().Delete(ctx, conversationID)
	})
	if err != nil {
		return fail(s.logger, "delete conversation", err)
	}

	publish(s.bus, s.logger, events.ConversationDeleted{ID: conversationID, ParticipantIDs: members})
	return nil
}

// MarkAsRead sets the caller's has_seen_latest_message flag. It is
// idempotent and publishes nothing: the reading client has already
// updated its own cache, and nobody else cares.
func (s *ConversationService) MarkAsRead(ctx context.Context, who *auth.Identity, userID, conversationID uuid.UUID) error {
	if err := requireIdentity(who); err != nil {
		return err
	}
	if !who.Is(userID) {
		return apperr.Unauthorized("cannot mark a conversation as read for another user")
	}

	p, err := s.store.Participants().Get(ctx, conversationID, userID)
	if err != nil {
		return fail(s.logger, "mark conversation as read", err)
	}
	if p == nil {
		return apperr.NotFound("participant not found")
	}
	if p.HasSeenLatestMessage {
		return nil
	}

	if err := s.store.Participants().SetSeen(ctx, conversationID, userID, true); err != nil {
		return fail(s.logger, "mark conversation as read", err)
	}
	return nil
}

// ModifyAdmin hands the admin role to another participant. Only the
// current admin may do this.
func (s *ConversationService) ModifyAdmin(ctx context.Context, who *auth.Identity, conversationID, userID uuid.UUID) (*models.Conversation, error) {
	if err := requireIdentity(who); err != nil {
		return nil, err
	}

	var (
		updated *models.Conversation
		changed bool
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Repos) error {
		conv, err := tx.Conversations().GetByID(ctx, conversationID)
		if err != nil {
			return err
		}
		if conv == nil {
			return apperr.NotFound("conversation not found")
		}
		if conv.AdminID != who.UserID {
			return apperr.Unauthorized("only the admin can hand over the admin role")
		}
		if !conv.HasParticipant(userID) {
			return apperr.NotFound("user is not a participant of this conversation")
		}
		if conv.AdminID == userID {
			updated = conv
			return nil
		}

		if err := tx.Conversations().SetAdmin(ctx, conversationID, userID); err != nil {
			return err
		}
		changed = true
		updated, err = tx.Conversations().GetByID(ctx, conversationID)
		return err
	})
	if err != nil {
		return nil, fail(s.logger, "modify admin", err)
	}

	if changed {
		publish(s.bus, s.logger, events.ConversationUpdated{Conversation: updated.Clone()})
	}
	return updated, nil
}
