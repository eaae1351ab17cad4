package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/lalith-99/relaychat/internal/models"
)

// Why context.Context as the first parameter on every method?
//
//   - Every method may do I/O. If the HTTP request is cancelled (client
//     disconnected) or the transaction times out, the query stops too.
//   - Inside Store.InTx the same ctx is handed back to the callback, so a
//     deadline set by the caller covers the whole transaction.

// Lookups return nil, nil when the row does not exist. Callers translate
// that into a NotFound error where it matters.

// Constraint violations reported by every Store implementation. Wrapped
// errors match them with errors.Is.
var (
	ErrDuplicate  = errors.New("duplicate key")
	ErrForeignKey = errors.New("foreign key violation")
	ErrNoRows     = errors.New("no rows affected")
)

// UserRepository handles user data.
type UserRepository interface {
	// Create inserts a user. Username starts out NULL.
	Create(ctx context.Context, email, displayName, passwordHash string) (*models.User, error)

	GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)

	// SetUsername writes the username. Uniqueness is checked by the caller
	// beforehand; a concurrent writer can still win the race.
	SetUsername(ctx context.Context, userID uuid.UUID, username string) error

	// Search returns users whose username contains query, case-insensitive,
	// excluding the user named exclude.
	Search(ctx context.Context, query, exclude string) ([]models.User, error)

	// CountExisting returns how many of ids exist.
	CountExisting(ctx context.Context, ids []uuid.UUID) (int, error)
}

// ConversationRepository handles conversation rows. Reads return the
// populated form (participants + latest message).
type ConversationRepository interface {
	Create(ctx context.Context, adminID uuid.UUID) (*models.Conversation, error)
	GetByID(ctx context.Context, conversationID uuid.UUID) (*models.Conversation, error)

	// ListForUser returns every conversation userID participates in,
	// most recently updated first. Returns an empty slice, never nil.
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error)

	// SetLatestMessage points the conversation at messageID and bumps updated_at.
	SetLatestMessage(ctx context.Context, conversationID, messageID uuid.UUID) error
	SetAdmin(ctx context.Context, conversationID, userID uuid.UUID) error

	// Touch bumps updated_at so clients re-sort the conversation list.
	Touch(ctx context.Context, conversationID uuid.UUID) error

	Delete(ctx context.Context, conversationID uuid.UUID) error
}

// ParticipantRepository handles who belongs to which conversation.
type ParticipantRepository interface {
	// Add inserts one participant row. A second row for the same
	// (conversation, user) pair is rejected by the store.
	Add(ctx context.Context, conversationID, userID uuid.UUID, hasSeenLatestMessage bool) error

	// Remove deletes the rows of userIDs. No-op for users who are not members.
	Remove(ctx context.Context, conversationID uuid.UUID, userIDs []uuid.UUID) error

	RemoveAll(ctx context.Context, conversationID uuid.UUID) error

	ListUserIDs(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error)

	// Get returns the participant row, or nil, nil if userID is not a member.
	Get(ctx context.Context, conversationID, userID uuid.UUID) (*models.Participant, error)

	SetSeen(ctx context.Context, conversationID, userID uuid.UUID, seen bool) error

	// MarkUnseenExcept sets the flag false for every participant but userID.
	MarkUnseenExcept(ctx context.Context, conversationID, userID uuid.UUID) error
}

// MessageRepository handles chat message persistence.
type MessageRepository interface {
	// Create persists a message with the caller-supplied id. A duplicate id
	// is rejected by the store.
	Create(ctx context.Context, msg models.Message) (*models.Message, error)

	GetByID(ctx context.Context, messageID uuid.UUID) (*models.Message, error)

	// ListByConversation returns messages newest first.
	ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error)

	DeleteByConversation(ctx context.Context, conversationID uuid.UUID) (int64, error)
}

// Repos groups the repositories that can take part in one transaction.
type Repos interface {
	Users() UserRepository
	Conversations() ConversationRepository
	Participants() ParticipantRepository
	Messages() MessageRepository
}

// Store is the Domain Store: the repositories plus a transactional
// boundary spanning any number of their operations.
type Store interface {
	Repos

	// InTx runs fn inside one transaction. The Repos passed to fn are bound
	// to that transaction. If fn returns an error, or the commit fails,
	// nothing fn wrote becomes visible.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Repos) error) error
}
