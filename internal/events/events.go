// Package events defines the domain events published after a successful
// mutation and the envelope they travel in over a subscription.
package events

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lalith-99/relaychat/internal/models"
)

// Topics on the bus. Message events are published per conversation, see
// MessageSentTopic.
const (
	TopicConversationCreated = "CONVERSATION_CREATED"
	TopicConversationUpdated = "CONVERSATION_UPDATED"
	TopicConversationDeleted = "CONVERSATION_DELETED"
	topicMessageSentPrefix   = "MESSAGE_SENT:"
)

// Wire names, also used as subscription operation names.
const (
	NameConversationCreated = "conversationCreated"
	NameConversationUpdated = "conversationUpdated"
	NameConversationDeleted = "conversationDeleted"
	NameMessageSent         = "messageSent"
)

func MessageSentTopic(conversationID uuid.UUID) string {
	return topicMessageSentPrefix + conversationID.String()
}

// Event is anything published on the bus.
type Event interface {
	Topic() string
	Name() string
}

// ConversationCreated carries the new conversation in its resulting state.
type ConversationCreated struct {
	Conversation models.Conversation `json:"conversation"`
}

func (ConversationCreated) Topic() string { return TopicConversationCreated }
func (ConversationCreated) Name() string  { return NameConversationCreated }

// ConversationUpdated carries the conversation after the change. The id
// lists are only filled for participant changes, so a receiver can tell
// "I was added/removed" from "something else changed".
type ConversationUpdated struct {
	Conversation   models.Conversation `json:"conversation"`
	AddedUserIDs   []uuid.UUID         `json:"added_user_ids"`
	RemovedUserIDs []uuid.UUID         `json:"removed_user_ids"`
}

func (ConversationUpdated) Topic() string { return TopicConversationUpdated }
func (ConversationUpdated) Name() string  { return NameConversationUpdated }

func (e ConversationUpdated) IsRemoved(userID uuid.UUID) bool {
	return containsID(e.RemovedUserIDs, userID)
}

func (e ConversationUpdated) IsAdded(userID uuid.UUID) bool {
	return containsID(e.AddedUserIDs, userID)
}

// ConversationDeleted is published once per deleted conversation.
// ParticipantIDs is the membership at deletion time; it is used for
// filtering on the server and is not part of the wire payload.
type ConversationDeleted struct {
	ID             uuid.UUID   `json:"id"`
	ParticipantIDs []uuid.UUID `json:"-"`
}

func (ConversationDeleted) Topic() string { return TopicConversationDeleted }
func (ConversationDeleted) Name() string  { return NameConversationDeleted }

type MessageSent struct {
	Message models.Message `json:"message"`
}

func (e MessageSent) Topic() string { return MessageSentTopic(e.Message.ConversationID) }
func (MessageSent) Name() string    { return NameMessageSent }

func containsID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// Envelope is the serialized form of an event delivered to a client.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Encode wraps evt in an Envelope.
func Encode(evt Event) (Envelope, error) {
	raw, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s: %w", evt.Name(), err)
	}
	return Envelope{Type: evt.Name(), Payload: raw}, nil
}

// Decode turns an Envelope back into the concrete event type.
func Decode(env Envelope) (Event, error) {
	var evt Event
	switch env.Type {
	case NameConversationCreated:
		var e ConversationCreated
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", env.Type, err)
		}
		evt = e
	case NameConversationUpdated:
		var e ConversationUpdated
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", env.Type, err)
		}
		evt = e
	case NameConversationDeleted:
		var e ConversationDeleted
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", env.Type, err)
		}
		evt = e
	case NameMessageSent:
		var e MessageSent
		if err := json.Unmarshal(env.Payload, &e); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", env.Type, err)
		}
		evt = e
	default:
		return nil, fmt.Errorf("unknown event type %q", env.Type)
	}
	return evt, nil
}
