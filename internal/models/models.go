package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a person who can take part in conversations.
//
// Why is Username a pointer?
//   - Accounts are created at signup with only an email. The username is
//     chosen afterwards (PUT /v1/users/me/username), so "not chosen yet"
//     must be distinguishable from "empty string".
//   - pgx scans a NULL text column straight into a *string.
//
// PasswordHash is tagged json:"-" so a User can be returned from handlers
// without ever serializing the hash.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	Username     *string   `json:"username"`
	DisplayName  string    `json:"display_name"`
	Image        string    `json:"image,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Summary returns the reduced view of the user embedded in conversations
// and messages.
func (u User) Summary() UserSummary {
	s := UserSummary{ID: u.ID}
	if u.Username != nil {
		s.Username = *u.Username
	}
	return s
}

// UserSummary is what other people get to see about a user: enough to
// render a name next to a message, nothing more.
type UserSummary struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
}

// Participant is the join row between a conversation and a user.
//
// HasSeenLatestMessage is scoped to this (conversation, user) pair. It is
// flipped to false for everyone except the sender whenever a new message
// lands, and back to true when the user opens the conversation.
type Participant struct {
	ID                   uuid.UUID   `json:"id"`
	ConversationID       uuid.UUID   `json:"conversation_id"`
	UserID               uuid.UUID   `json:"user_id"`
	User                 UserSummary `json:"user"`
	HasSeenLatestMessage bool        `json:"has_seen_latest_message"`
	CreatedAt            time.Time   `json:"created_at"`
}

// Message is a single immutable chat message.
//
// Why is the ID a UUID supplied by the client and not generated here?
//   - The sender renders the message immediately (optimistic write) and
//     later receives the same message back over its subscription. Sharing
//     the ID lets the client match the two instead of showing it twice.
//   - A retry of the same send carries the same ID, which gives the server
//     a natural idempotency key.
type Message struct {
	ID             uuid.UUID   `json:"id"`
	ConversationID uuid.UUID   `json:"conversation_id"`
	SenderID       uuid.UUID   `json:"sender_id"`
	Sender         UserSummary `json:"sender"`
	Body           string      `json:"body"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Conversation is a set of participants exchanging messages.
//
// Unlike the other models this one is returned "populated": the store
// fills Participants and LatestMessage so a single value is enough to
// render a row of the conversation list. The same value travels inside
// subscription events.
type Conversation struct {
	ID              uuid.UUID     `json:"id"`
	AdminID         uuid.UUID     `json:"admin_id"`
	Participants    []Participant `json:"participants"`
	LatestMessageID *uuid.UUID    `json:"latest_message_id"`
	LatestMessage   *Message      `json:"latest_message"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// HasParticipant reports whether userID currently belongs to the conversation.
func (c Conversation) HasParticipant(userID uuid.UUID) bool {
	_, ok := c.Participant(userID)
	return ok
}

// Participant returns the participant row of userID, if any.
func (c Conversation) Participant(userID uuid.UUID) (Participant, bool) {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

// ParticipantIDs returns the user ids of all participants.
func (c Conversation) ParticipantIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// Clone returns a deep copy, so cached or published values can be handed
// out without sharing slices.
func (c Conversation) Clone() Conversation {
	out := c
	out.Participants = append([]Participant(nil), c.Participants...)
	if c.LatestMessageID != nil {
		id := *c.LatestMessageID
		out.LatestMessageID = &id
	}
	if c.LatestMessage != nil {
		m := *c.LatestMessage
		out.LatestMessage = &m
	}
	return out
}
