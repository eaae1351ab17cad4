package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lalith-99/relaychat/internal/models"
)

type MessageStore struct {
	db DBTX
}

const messageColumns = `m.id, m.conversation_id, m.sender_id, u.id, coalesce(u.username, ''), m.body, m.created_at`

func scanMessage(row pgx.Row) (*models.Message, error) {
	var msg models.Message
	err := row.Scan(
		&msg.ID,
		&msg.ConversationID,
		&msg.SenderID,
		&msg.Sender.ID,
		&msg.Sender.Username,
		&msg.Body,
		&msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// Create inserts a message under the id chosen by the client.
//
// The data-modifying CTE lets the insert and the sender lookup share one
// round trip. A reused id fails with a unique violation, which callers
// check for with errors.Is(err, repository.ErrDuplicate).
func (s *MessageStore) Create(ctx context.Context, msg models.Message) (*models.Message, error) {
	query := `
		WITH m AS (
			INSERT INTO messages (id, conversation_id, sender_id, body, created_at)
			VALUES ($1, $2, $3, $4, clock_timestamp())
			RETURNING id, conversation_id, sender_id, body, created_at
		)
		SELECT ` + messageColumns + `
		FROM m JOIN users u ON u.id = m.sender_id`

	out, err := scanMessage(s.db.QueryRow(ctx, query, msg.ID, msg.ConversationID, msg.SenderID, msg.Body))
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", mapErr(err))
	}
	return out, nil
}

func (s *MessageStore) GetByID(ctx context.Context, messageID uuid.UUID) (*models.Message, error) {
	msg, err := scanMessage(s.db.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages m JOIN users u ON u.id = m.sender_id
		WHERE m.id = $1`, messageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

// ListByConversation returns newest first. Ties on created_at (possible
// with clock skew between writers) fall back to id so the order is stable.
func (s *MessageStore) ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	msgs, err := s.list(ctx, `m.conversation_id = $1`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

func (s *MessageStore) list(ctx context.Context, where string, arg any) ([]models.Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages m JOIN users u ON u.id = m.sender_id
		WHERE `+where+`
		ORDER BY m.created_at DESC, m.id DESC`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

func (s *MessageStore) DeleteByConversation(ctx context.Context, conversationID uuid.UUID) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM messages WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	return tag.RowsAffected(), nil
}
