package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/lalith-99/relaychat/internal/models"
	"github.com/lalith-99/relaychat/internal/repository"
	"github.com/stretchr/testify/require"
)

func seedUser(t *testing.T, s *Store, email string) *models.User {
	t.Helper()
	u, err := s.Users().Create(context.Background(), email, email, "hash")
	require.NoError(t, err)
	return u
}

func TestInTx_CommitMakesWritesVisible(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := New()
	alice := seedUser(t, s, "alice@example.com")

	var convID uuid.UUID
	err := s.InTx(ctx, func(ctx context.Context, tx repository.Repos) error {
		c, err := tx.Conversations().Create(ctx, alice.ID)
		if err != nil {
			return err
		}
		convID = c.ID
		// Not visible outside the transaction yet
		outside, _ := s.Conversations().GetByID(context.Background(), c.ID)
		req.Nil(outside)
		return tx.Participants().Add(ctx, c.ID, alice.ID, true)
	})
	req.NoError(err)

	c, err := s.Conversations().GetByID(ctx, convID)
	req.NoError(err)
	req.NotNil(c)
	req.Len(c.Participants, 1)
	req.True(c.Participants[0].HasSeenLatestMessage)
}

func TestInTx_ErrorRollsBackEverything(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := New()
	alice := seedUser(t, s, "alice@example.com")
	boom := errors.New("boom")

	var convID uuid.UUID
	err := s.InTx(ctx, func(ctx context.Context, tx repository.Repos) error {
		c, err := tx.Conversations().Create(ctx, alice.ID)
		if err != nil {
			return err
		}
		convID = c.ID
		if err := tx.Participants().Add(ctx, c.ID, alice.ID, true); err != nil {
			return err
		}
		return boom
	})
	req.ErrorIs(err, boom)

	c, err := s.Conversations().GetByID(ctx, convID)
	req.NoError(err)
	req.Nil(c)
	list, err := s.Conversations().ListForUser(ctx, alice.ID)
	req.NoError(err)
	req.Empty(list)
}

func TestInTx_NestedIsRejected(t *testing.T) {
	s := New()
	err := s.InTx(context.Background(), func(ctx context.Context, _ repository.Repos) error {
		return s.InTx(ctx, func(context.Context, repository.Repos) error { return nil })
	})
	require.ErrorIs(t, err, ErrNestedTx)
}

func TestFault_FailsNamedWrite(t *testing.T) {
	req := require.New(t)
	s := New()
	injected := errors.New("disk full")
	s.SetFault(func(op string) error {
		if op == "users.Create" {
			return injected
		}
		return nil
	})

	_, err := s.Users().Create(context.Background(), "a@example.com", "a", "h")
	req.ErrorIs(err, injected)

	s.SetFault(nil)
	_, err = s.Users().Create(context.Background(), "a@example.com", "a", "h")
	req.NoError(err)
}

func TestConstraints(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := New()
	alice := seedUser(t, s, "alice@example.com")
	bob := seedUser(t, s, "bob@example.com")

	// unique email
	_, err := s.Users().Create(ctx, "ALICE@example.com", "x", "h")
	req.ErrorIs(err, repository.ErrDuplicate)

	// unique username
	req.NoError(s.Users().SetUsername(ctx, alice.ID, "alice"))
	req.ErrorIs(s.Users().SetUsername(ctx, bob.ID, "alice"), repository.ErrDuplicate)

	// one participant row per (conversation, user)
	c, err := s.Conversations().Create(ctx, alice.ID)
	req.NoError(err)
	req.NoError(s.Participants().Add(ctx, c.ID, alice.ID, true))
	req.ErrorIs(s.Participants().Add(ctx, c.ID, alice.ID, false), repository.ErrDuplicate)

	// foreign keys
	req.ErrorIs(s.Participants().Add(ctx, uuid.New(), alice.ID, true), repository.ErrForeignKey)
	_, err = s.Messages().Create(ctx, models.Message{ID: uuid.New(), ConversationID: uuid.New(), SenderID: alice.ID, Body: "x"})
	req.ErrorIs(err, repository.ErrForeignKey)

	// unique message id
	id := uuid.New()
	_, err = s.Messages().Create(ctx, models.Message{ID: id, ConversationID: c.ID, SenderID: alice.ID, Body: "x"})
	req.NoError(err)
	_, err = s.Messages().Create(ctx, models.Message{ID: id, ConversationID: c.ID, SenderID: alice.ID, Body: "x"})
	req.ErrorIs(err, repository.ErrDuplicate)
}

func TestSearch_ExcludesCallerAndIsCaseInsensitive(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := New()
	for _, name := range []string{"alice", "Alicia", "bob"} {
		u := seedUser(t, s, name+"@example.com")
		req.NoError(s.Users().SetUsername(ctx, u.ID, name))
	}

	found, err := s.Users().Search(ctx, "ALI", "alice")
	req.NoError(err)
	req.Len(found, 1)
	req.Equal("Alicia", *found[0].Username)
}
