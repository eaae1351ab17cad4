package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lalith-99/relaychat/internal/models"
)

type ParticipantStore struct {
	db DBTX
}

const participantColumns = `p.id, p.conversation_id, p.user_id, u.id, coalesce(u.username, ''), p.has_seen_latest_message, p.created_at`

func scanParticipant(row pgx.Row) (*models.Participant, error) {
	var p models.Participant
	err := row.Scan(
		&p.ID,
		&p.ConversationID,
		&p.UserID,
		&p.User.ID,
		&p.User.Username,
		&p.HasSeenLatestMessage,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Add inserts a participant row.
//
// Why not ON CONFLICT DO NOTHING?
//   - A duplicate here means the caller computed the member diff wrong.
//     Surfacing the unique violation fails the whole transaction instead of
//     silently publishing an event for a user who was already a member.
func (s *ParticipantStore) Add(ctx context.Context, conversationID, userID uuid.UUID, hasSeen bool) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO conversation_participants (conversation_id, user_id, has_seen_latest_message, created_at)
		VALUES ($1, $2, $3, clock_timestamp())`,
		conversationID, userID, hasSeen)
	if err != nil {
		return fmt.Errorf("add participant: %w", mapErr(err))
	}
	return nil
}

func (s *ParticipantStore) Remove(ctx context.Context, conversationID uuid.UUID, userIDs []uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM conversation_participants
		WHERE conversation_id = $1 AND user_id = ANY($2::uuid[])`,
		conversationID, uuidStrings(userIDs))
	if err != nil {
		return fmt.Errorf("remove participants: %w", err)
	}
	return nil
}

func (s *ParticipantStore) RemoveAll(ctx context.Context, conversationID uuid.UUID) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM conversation_participants WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("remove all participants: %w", err)
	}
	return nil
}

func (s *ParticipantStore) ListUserIDs(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, `
		SELECT user_id FROM conversation_participants
		WHERE conversation_id = $1
		ORDER BY created_at, id`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list participant ids: %w", err)
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan participant id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participant ids: %w", err)
	}
	return ids, nil
}

func (s *ParticipantStore) Get(ctx context.Context, conversationID, userID uuid.UUID) (*models.Participant, error) {
	p, err := scanParticipant(s.db.QueryRow(ctx, `
		SELECT `+participantColumns+`
		FROM conversation_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id = $1 AND p.user_id = $2`, conversationID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get participant: %w", err)
	}
	return p, nil
}

func (s *ParticipantStore) SetSeen(ctx context.Context, conversationID, userID uuid.UUID, seen bool) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE conversation_participants SET has_seen_latest_message = $3
		WHERE conversation_id = $1 AND user_id = $2`, conversationID, userID, seen)
	if err != nil {
		return fmt.Errorf("set seen: %w", err)
	}
	return expectRows(tag, "set seen")
}

func (s *ParticipantStore) MarkUnseenExcept(ctx context.Context, conversationID, userID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE conversation_participants SET has_seen_latest_message = false
		WHERE conversation_id = $1 AND user_id <> $2`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("mark unseen: %w", err)
	}
	return nil
}
