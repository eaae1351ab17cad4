package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/relaychat/internal/auth"
	"github.com/lalith-99/relaychat/internal/events"
	"github.com/lalith-99/relaychat/internal/models"
	"github.com/lalith-99/relaychat/internal/pubsub"
	"github.com/lalith-99/relaychat/internal/repository/memory"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	store         *memory.Store
	bus           *pubsub.Bus[events.Event]
	conversations *ConversationService
	messages      *MessageService
	users         *UserService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	// Strictly increasing timestamps keep "newest first" deterministic.
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	var tick int
	store.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Millisecond)
	})

	bus := pubsub.New[events.Event](zap.NewNop(), 16)
	t.Cleanup(bus.Close)

	logger := zap.NewNop()
	return &fixture{
		store:         store,
		bus:           bus,
		conversations: NewConversationService(store, bus, logger),
		messages:      NewMessageService(store, bus, logger, 20),
		users:         NewUserService(store.Users(), "test-secret", time.Hour, logger),
	}
}

// user creates an account with a username and returns its identity.
func (f *fixture) user(t *testing.T, name string) *auth.Identity {
	t.Helper()
	ctx := context.Background()
	u, err := f.store.Users().Create(ctx, name+"@example.com", name, "hash")
	require.NoError(t, err)
	require.NoError(t, f.store.Users().SetUsername(ctx, u.ID, name))
	return &auth.Identity{UserID: u.ID, Username: name}
}

func (f *fixture) conversation(t *testing.T, creator *auth.Identity, others ...*auth.Identity) *models.Conversation {
	t.Helper()
	ids := make([]uuid.UUID, 0, len(others))
	for _, o := range others {
		ids = append(ids, o.UserID)
	}
	c, err := f.conversations.Create(context.Background(), creator, ids)
	require.NoError(t, err)
	return c
}

func (f *fixture) send(t *testing.T, who *auth.Identity, convID uuid.UUID, body string) *models.Message {
	t.Helper()
	res, err := f.messages.Send(context.Background(), who, SendMessageInput{
		ID:             uuid.New(),
		ConversationID: convID,
		SenderID:       who.UserID,
		Body:           body,
	})
	require.NoError(t, err)
	return res.Message
}

// drain returns every event already queued on sub. Publish is
// synchronous, so anything a finished call published is there.
func drain(sub *pubsub.Subscription[events.Event]) []events.Event {
	var out []events.Event
	for {
		select {
		case evt := <-sub.C():
			out = append(out, evt)
		default:
			return out
		}
	}
}

func seen(c *models.Conversation, userID uuid.UUID) bool {
	p, ok := c.Participant(userID)
	return ok && p.HasSeenLatestMessage
}
