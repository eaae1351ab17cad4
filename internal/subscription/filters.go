// Package subscription decides which live events reach which subscriber.
//
// Each subscription operation pairs a bus topic with a Filter. A Filter
// sees the event and the identity of the connection it would be sent to;
// returning false drops the event for that connection only. A nil
// identity never receives anything.
package subscription

import (
	"github.com/google/uuid"
	"github.com/lalith-99/relaychat/internal/auth"
	"github.com/lalith-99/relaychat/internal/events"
)

type Filter func(evt events.Event, who *auth.Identity) bool

// ConversationCreatedFilter lets a new conversation through to its members.
func ConversationCreatedFilter(evt events.Event, who *auth.Identity) bool {
	if who == nil {
		return false
	}
	e, ok := evt.(events.ConversationCreated)
	return ok && e.Conversation.HasParticipant(who.UserID)
}

// ConversationUpdatedFilter delivers an update to:
//   - every remaining participant, whether or not they wrote the latest
//     message (the author's other sessions need it to converge)
//   - every user the update removed, so their client can drop the
//     conversation
//
// A former participant who happens to have written the latest message
// gets nothing: authorship alone is not membership. Delivering on
// authorship would hand a removed user later states of a conversation
// they can no longer read, and their cache would never drop it. Keep the
// membership check even though the author looks like an obvious extra
// recipient.
func ConversationUpdatedFilter(evt events.Event, who *auth.Identity) bool {
	if who == nil {
		return false
	}
	e, ok := evt.(events.ConversationUpdated)
	if !ok {
		return false
	}

	if e.IsRemoved(who.UserID) {
		return true
	}
	return e.Conversation.HasParticipant(who.UserID)
}

// ConversationDeletedFilter delivers to whoever was a member when the
// conversation was deleted.
func ConversationDeletedFilter(evt events.Event, who *auth.Identity) bool {
	if who == nil {
		return false
	}
	e, ok := evt.(events.ConversationDeleted)
	if !ok {
		return false
	}
	for _, id := range e.ParticipantIDs {
		if id == who.UserID {
			return true
		}
	}
	return false
}

// MessageSentFilter returns the filter for a thread subscription scoped
// to conversationID. The topic is already per conversation; the id check
// guards against a subscriber being attached to the wrong topic.
func MessageSentFilter(conversationID uuid.UUID) Filter {
	return func(evt events.Event, who *auth.Identity) bool {
		if who == nil {
			return false
		}
		e, ok := evt.(events.MessageSent)
		return ok && e.Message.ConversationID == conversationID
	}
}
