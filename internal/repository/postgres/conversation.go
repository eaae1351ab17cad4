package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lalith-99/relaychat/internal/models"
)

type ConversationStore struct {
	db DBTX
}

const conversationColumns = `c.id, c.admin_id, c.latest_message_id, c.created_at, c.updated_at`

func scanConversation(row pgx.Row) (models.Conversation, error) {
	var c models.Conversation
	err := row.Scan(&c.ID, &c.AdminID, &c.LatestMessageID, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func (s *ConversationStore) Create(ctx context.Context, adminID uuid.UUID) (*models.Conversation, error) {
	query := `
		INSERT INTO conversations AS c (admin_id, created_at, updated_at)
		VALUES ($1, now(), now())
		RETURNING ` + conversationColumns

	c, err := scanConversation(s.db.QueryRow(ctx, query, adminID))
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", mapErr(err))
	}
	c.Participants = make([]models.Participant, 0)
	return &c, nil
}

func (s *ConversationStore) GetByID(ctx context.Context, conversationID uuid.UUID) (*models.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations c WHERE c.id = $1`

	c, err := scanConversation(s.db.QueryRow(ctx, query, conversationID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}

	convs := []models.Conversation{c}
	if err := s.populate(ctx, convs); err != nil {
		return nil, err
	}
	return &convs[0], nil
}

func (s *ConversationStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = $1
		ORDER BY c.updated_at DESC, c.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	convs := make([]models.Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}

	if err := s.populate(ctx, convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// populate fills Participants and LatestMessage for every conversation in
// two queries, whatever the number of conversations.
//
// Why not one big JOIN?
//   - A conversation with N participants would come back as N rows, each
//     repeating the latest message. Two flat queries keyed by id are easier
//     to scan and don't multiply rows.
func (s *ConversationStore) populate(ctx context.Context, convs []models.Conversation) error {
	if len(convs) == 0 {
		return nil
	}

	index := make(map[uuid.UUID]int, len(convs))
	ids := make([]uuid.UUID, 0, len(convs))
	var latestIDs []uuid.UUID
	for i := range convs {
		convs[i].Participants = make([]models.Participant, 0)
		index[convs[i].ID] = i
		ids = append(ids, convs[i].ID)
		if convs[i].LatestMessageID != nil {
			latestIDs = append(latestIDs, *convs[i].LatestMessageID)
		}
	}

	rows, err := s.db.Query(ctx, `
		SELECT `+participantColumns+`
		FROM conversation_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id = ANY($1::uuid[])
		ORDER BY p.created_at, p.id`, uuidStrings(ids))
	if err != nil {
		return fmt.Errorf("load participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return fmt.Errorf("scan participant: %w", err)
		}
		i := index[p.ConversationID]
		convs[i].Participants = append(convs[i].Participants, *p)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate participants: %w", err)
	}
	rows.Close()

	if len(latestIDs) == 0 {
		return nil
	}
	msgs, err := (&MessageStore{db: s.db}).list(ctx, `m.id = ANY($1::uuid[])`, uuidStrings(latestIDs))
	if err != nil {
		return fmt.Errorf("load latest messages: %w", err)
	}
	for _, m := range msgs {
		i := index[m.ConversationID]
		convs[i].LatestMessage = &m
	}
	return nil
}

func (s *ConversationStore) exec(ctx context.Context, op, query string, args ...any) error {
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapErr(err))
	}
	return expectRows(tag, op)
}

func (s *ConversationStore) SetLatestMessage(ctx context.Context, conversationID, messageID uuid.UUID) error {
	return s.exec(ctx, "set latest message", `
		UPDATE conversations SET latest_message_id = $2, updated_at = now()
		WHERE id = $1`, conversationID, messageID)
}

func (s *ConversationStore) SetAdmin(ctx context.Context, conversationID, userID uuid.UUID) error {
	return s.exec(ctx, "set admin", `
		UPDATE conversations SET admin_id = $2, updated_at = now()
		WHERE id = $1`, conversationID, userID)
}

func (s *ConversationStore) Touch(ctx context.Context, conversationID uuid.UUID) error {
	return s.exec(ctx, "touch conversation",
		`UPDATE conversations SET updated_at = now() WHERE id = $1`, conversationID)
}

// Delete removes the conversation. Participants and messages go with it
// through ON DELETE CASCADE.
func (s *ConversationStore) Delete(ctx context.Context, conversationID uuid.UUID) error {
	return s.exec(ctx, "delete conversation",
		`DELETE FROM conversations WHERE id = $1`, conversationID)
}
