package events

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/lalith-99/relaychat/internal/models"
	"github.com/stretchr/testify/require"
)

func TestConversationDeleted_WireFormOnlyCarriesID(t *testing.T) {
	req := require.New(t)
	id := uuid.New()
	evt := ConversationDeleted{ID: id, ParticipantIDs: []uuid.UUID{uuid.New(), uuid.New()}}

	env, err := Encode(evt)
	req.NoError(err)
	req.Equal(NameConversationDeleted, env.Type)

	var raw map[string]any
	req.NoError(json.Unmarshal(env.Payload, &raw))
	req.Equal(map[string]any{"id": id.String()}, raw)
}

func TestDecode_RestoresConcreteType(t *testing.T) {
	req := require.New(t)
	convID := uuid.New()
	msg := models.Message{ID: uuid.New(), ConversationID: convID, SenderID: uuid.New(), Body: "hi"}

	env, err := Encode(MessageSent{Message: msg})
	req.NoError(err)

	evt, err := Decode(env)
	req.NoError(err)
	sent, ok := evt.(MessageSent)
	req.True(ok)
	req.Equal(msg.ID, sent.Message.ID)
	req.Equal(MessageSentTopic(convID), sent.Topic())
}

func TestDecode_UnknownType(t *testing.T) {
	_, err := Decode(Envelope{Type: "nope", Payload: []byte(`{}`)})
	require.Error(t, err)
}

func TestConversationUpdated_Membership(t *testing.T) {
	req := require.New(t)
	added, removed, other := uuid.New(), uuid.New(), uuid.New()
	evt := ConversationUpdated{AddedUserIDs: []uuid.UUID{added}, RemovedUserIDs: []uuid.UUID{removed}}

	req.True(evt.IsAdded(added))
	req.True(evt.IsRemoved(removed))
	req.False(evt.IsAdded(other))
	req.False(evt.IsRemoved(other))
}
