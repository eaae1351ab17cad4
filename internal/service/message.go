package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lalith-99/relaychat/internal/apperr"
	"github.com/lalith-99/relaychat/internal/auth"
	"github.com/lalith-99/relaychat/internal/events"
	"github.com/lalith-99/relaychat/internal/models"
	"github.com/lalith-99/relaychat/internal/repository"
	"go.uber.org/zap"
)

// DefaultMaxMessageLength applies when NewMessageService gets a
// non-positive limit.
const DefaultMaxMessageLength = 4000

type MessageService struct {
	store     repository.Store
	bus       Publisher
	logger    *zap.Logger
	maxLength int
}

func NewMessageService(store repository.Store, bus Publisher, logger *zap.Logger, maxLength int) *MessageService {
	if maxLength <= 0 {
		maxLength = DefaultMaxMessageLength
	}
	return &MessageService{store: store, bus: bus, logger: logger, maxLength: maxLength}
}

// List returns the messages of a conversation, newest first. Only
// participants may read them.
func (s *MessageService) List(ctx context.Context, who *auth.Identity, conversationID uuid.UUID) ([]models.Message, error) {
	if err := requireIdentity(who); err != nil {
		return nil, err
	}

	conv, err := s.store.Conversations().GetByID(ctx, conversationID)
	if err != nil {
		return nil, fail(s.logger, "list messages", err)
	}
	if conv == nil {
		return nil, apperr.NotFound("conversation not found")
	}
	if !conv.HasParticipant(who.UserID) {
		return nil, apperr.Unauthorized("not a participant of this conversation")
	}

	msgs, err := s.store.Messages().ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, fail(s.logger, "list messages", err)
	}
	return msgs, nil
}

// SendMessageInput is a message as submitted by its sender. ID is chosen
// by the client.
type SendMessageInput struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversation_id"`
	SenderID       uuid.UUID `json:"sender_id"`
	Body           string    `json:"body"`
}

type SendResult struct {
	Message *models.Message `json:"message"`

	// Duplicate is set when a message with the same id and the same
	// content already existed. Nothing was written or published.
	Duplicate bool `json:"duplicate"`
}

// Send stores a message and moves the conversation forward.
//
// One transaction covers:
//   - the message row
//   - conversations.latest_message_id (and updated_at)
//   - has_seen_latest_message: true for the sender, false for everyone else
//
// After the commit two events go out: MessageSent on the conversation's
// own topic for open threads, and ConversationUpdated so conversation
// lists can re-sort and refresh their preview without subscribing to
// every thread.
//
// Why is a repeated id not an error?
//   - Clients retry when a response is lost. The retry carries the same
//     id and the same body, and must not produce a second message. A
//     reused id with different content is a real conflict.
func (s *MessageService) Send(ctx context.Context, who *auth.Identity, in SendMessageInput) (*SendResult, error) {
	if err := requireIdentity(who); err != nil {
		return nil, err
	}
	if !who.Is(in.SenderID) {
		return nil, apperr.Unauthorized("cannot send a message as another user")
	}
	if in.ID == uuid.Nil {
		return nil, apperr.Invalid("message id is required")
	}
	body := strings.TrimSpace(in.Body)
	if err := validate.Var(body, fmt.Sprintf("required,max=%d", s.maxLength)); err != nil {
		return nil, apperr.Invalid(fmt.Sprintf("message body must be between 1 and %d characters", s.maxLength))
	}

	var (
		result = &SendResult{}
		conv   *models.Conversation
	)
	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Repos) error {
		existing, err := tx.Messages().GetByID(ctx, in.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			if existing.ConversationID != in.ConversationID || existing.SenderID != in.SenderID || existing.Body != body {
				return apperr.Conflict("message id already used")
			}
			result.Message = existing
			result.Duplicate = true
			return nil
		}

		p, err := tx.Participants().Get(ctx, in.ConversationID, in.SenderID)
		if err != nil {
			return err
		}
		if p == nil {
			c, err := tx.Conversations().GetByID(ctx, in.ConversationID)
			if err != nil {
				return err
			}
			if c == nil {
				return apperr.NotFound("conversation not found")
			}
			return apperr.Unauthorized("not a participant of this conversation")
		}

		msg, err := tx.Messages().Create(ctx, models.Message{
			ID:             in.ID,
			ConversationID: in.ConversationID,
			SenderID:       in.SenderID,
			Body:           body,
		})
		if err != nil {
			return err
		}
		if err := tx.Conversations().SetLatestMessage(ctx, in.ConversationID, msg.ID); err != nil {
			return err
		}
		if err := tx.Participants().SetSeen(ctx, in.ConversationID, in.SenderID, true); err != nil {
			return err
		}
		if err := tx.Participants().MarkUnseenExcept(ctx, in.ConversationID, in.SenderID); err != nil {
			return err
		}

		result.Message = msg
		conv, err = tx.Conversations().GetByID(ctx, in.ConversationID)
		return err
	})
	if errors.Is(err, repository.ErrDuplicate) {
		// A concurrent send with the same id committed between our lookup
		// and our insert.
		return nil, apperr.Conflict("message id already used")
	}
	if err != nil {
		return nil, fail(s.logger, "send message", err)
	}
	if result.Duplicate {
		s.logger.Debug("duplicate send ignored", zap.Stringer("message_id", in.ID))
		return result, nil
	}

	publish(s.bus, s.logger, events.MessageSent{Message: *result.Message})
	publish(s.bus, s.logger, events.ConversationUpdated{Conversation: conv.Clone()})
	return result, nil
}
