package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/lalith-99/relaychat/internal/apperr"
	"github.com/lalith-99/relaychat/internal/events"
	"github.com/stretchr/testify/require"
)

func TestMessageService_Send(t *testing.T) {
	t.Run("updates latest message and seen flags, then publishes twice", func(t *testing.T) {
		req := require.New(t)
		ctx := context.Background()
		f := newFixture(t)
		a, b, c := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "carol")
		conv := f.conversation(t, a, b, c)
		req.NoError(f.conversations.MarkAsRead(ctx, b, b.UserID, conv.ID))

		msgSub := f.bus.Subscribe(events.MessageSentTopic(conv.ID))
		updSub := f.bus.Subscribe(events.TopicConversationUpdated)

		// When: bob sends
		id := uuid.New()
		res, err := f.messages.Send(ctx, b, SendMessageInput{ID: id, ConversationID: conv.ID, SenderID: b.UserID, Body: "  hello  "})

		// Then
		req.NoError(err)
		req.False(res.Duplicate)
		req.Equal(id, res.Message.ID)
		req.Equal("hello", res.Message.Body)
		req.Equal("bob", res.Message.Sender.Username)

		got, err := f.store.Conversations().GetByID(ctx, conv.ID)
		req.NoError(err)
		req.NotNil(got.LatestMessageID)
		req.Equal(id, *got.LatestMessageID)
		req.True(seen(got, b.UserID))
		req.False(seen(got, a.UserID))
		req.False(seen(got, c.UserID))

		sent := drain(msgSub)
		req.Len(sent, 1)
		req.Equal(id, sent[0].(events.MessageSent).Message.ID)

		updated := drain(updSub)
		req.Len(updated, 1)
		evt := updated[0].(events.ConversationUpdated)
		req.Equal(id, evt.Conversation.LatestMessage.ID)
		req.Empty(evt.RemovedUserIDs)
	})

	t.Run("retrying with the same id and payload is a no-op", func(t *testing.T) {
		req := require.New(t)
		ctx := context.Background()
		f := newFixture(t)
		a, b := f.user(t, "alice"), f.user(t, "bob")
		conv := f.conversation(t, a, b)
		in := SendMessageInput{ID: uuid.New(), ConversationID: conv.ID, SenderID: a.UserID, Body: "once"}

		_, err := f.messages.Send(ctx, a, in)
		req.NoError(err)
		sub := f.bus.Subscribe(events.MessageSentTopic(conv.ID))

		// When
		res, err := f.messages.Send(ctx, a, in)

		// Then
		req.NoError(err)
		req.True(res.Duplicate)
		req.Empty(drain(sub))
		msgs, err := f.store.Messages().ListByConversation(ctx, conv.ID)
		req.NoError(err)
		req.Len(msgs, 1)

		// Same id, different body
		in.Body = "twice"
		_, err = f.messages.Send(ctx, a, in)
		req.ErrorIs(err, apperr.ErrConflict)
	})

	t.Run("a failing write leaves nothing behind and publishes nothing", func(t *testing.T) {
		req := require.New(t)
		ctx := context.Background()
		f := newFixture(t)
		a, b := f.user(t, "alice"), f.user(t, "bob")
		conv := f.conversation(t, a, b)
		msgSub := f.bus.Subscribe(events.MessageSentTopic(conv.ID))
		updSub := f.bus.Subscribe(events.TopicConversationUpdated)

		// Given: the last write of the transaction fails
		f.store.SetFault(func(op string) error {
			if op == "participants.MarkUnseenExcept" {
				return errors.New("connection reset")
			}
			return nil
		})

		// When
		_, err := f.messages.Send(ctx, a, SendMessageInput{ID: uuid.New(), ConversationID: conv.ID, SenderID: a.UserID, Body: "lost"})

		// Then
		req.ErrorIs(err, apperr.ErrStore)
		req.Equal("send message failed", apperr.PublicMessage(err))

		f.store.SetFault(nil)
		msgs, err := f.store.Messages().ListByConversation(ctx, conv.ID)
		req.NoError(err)
		req.Empty(msgs)
		got, err := f.store.Conversations().GetByID(ctx, conv.ID)
		req.NoError(err)
		req.Nil(got.LatestMessageID)
		req.True(seen(got, a.UserID))
		req.Empty(drain(msgSub))
		req.Empty(drain(updSub))
	})

	t.Run("guards", func(t *testing.T) {
		req := require.New(t)
		ctx := context.Background()
		f := newFixture(t)
		a, b, eve := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "eve")
		conv := f.conversation(t, a, b)

		// sender must be the caller
		_, err := f.messages.Send(ctx, a, SendMessageInput{ID: uuid.New(), ConversationID: conv.ID, SenderID: b.UserID, Body: "x"})
		req.ErrorIs(err, apperr.ErrUnauthorized)

		// sender must be a participant
		_, err = f.messages.Send(ctx, eve, SendMessageInput{ID: uuid.New(), ConversationID: conv.ID, SenderID: eve.UserID, Body: "x"})
		req.ErrorIs(err, apperr.ErrUnauthorized)

		// conversation must exist
		_, err = f.messages.Send(ctx, a, SendMessageInput{ID: uuid.New(), ConversationID: uuid.New(), SenderID: a.UserID, Body: "x"})
		req.ErrorIs(err, apperr.ErrNotFound)

		// body limits (fixture allows 20 characters)
		_, err = f.messages.Send(ctx, a, SendMessageInput{ID: uuid.New(), ConversationID: conv.ID, SenderID: a.UserID, Body: "   "})
		req.ErrorIs(err, apperr.ErrInvalid)
		_, err = f.messages.Send(ctx, a, SendMessageInput{ID: uuid.New(), ConversationID: conv.ID, SenderID: a.UserID, Body: strings.Repeat("x", 21)})
		req.ErrorIs(err, apperr.ErrInvalid)

		// id is required
		_, err = f.messages.Send(ctx, a, SendMessageInput{ConversationID: conv.ID, SenderID: a.UserID, Body: "x"})
		req.ErrorIs(err, apperr.ErrInvalid)
	})
}

func TestMessageService_List(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	a, b, eve := f.user(t, "alice"), f.user(t, "bob"), f.user(t, "eve")
	conv := f.conversation(t, a, b)
	first := f.send(t, a, conv.ID, "first")
	second := f.send(t, b, conv.ID, "second")

	msgs, err := f.messages.List(ctx, b, conv.ID)
	req.NoError(err)
	req.Len(msgs, 2)
	req.Equal(second.ID, msgs[0].ID, "newest first")
	req.Equal(first.ID, msgs[1].ID)

	_, err = f.messages.List(ctx, eve, conv.ID)
	req.ErrorIs(err, apperr.ErrUnauthorized)
	_, err = f.messages.List(ctx, a, uuid.New())
	req.ErrorIs(err, apperr.ErrNotFound)
}
