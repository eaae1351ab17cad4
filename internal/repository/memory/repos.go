package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/relaychat/internal/models"
	"github.com/lalith-99/relaychat/internal/repository"
)

type users struct{ repo }

func (r *users) Create(ctx context.Context, email, displayName, passwordHash string) (*models.User, error) {
	var out models.User
	err := r.write(ctx, "users.Create", func(st *state, now time.Time) error {
		for _, u := range st.users {
			if strings.EqualFold(u.Email, email) {
				return fmt.Errorf("insert user: %w", repository.ErrDuplicate)
			}
		}
		out = models.User{
			ID:           uuid.New(),
			Email:        email,
			DisplayName:  displayName,
			PasswordHash: passwordHash,
			CreatedAt:    now,
		}
		st.users[out.ID] = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *users) GetByID(_ context.Context, userID uuid.UUID) (*models.User, error) {
	var out *models.User
	_ = r.read(func(st *state) error {
		if u, ok := st.users[userID]; ok {
			out = &u
		}
		return nil
	})
	return out, nil
}

func (r *users) GetByEmail(_ context.Context, email string) (*models.User, error) {
	var out *models.User
	_ = r.read(func(st *state) error {
		for _, u := range st.users {
			if strings.EqualFold(u.Email, email) {
				u := u
				out = &u
				return nil
			}
		}
		return nil
	})
	return out, nil
}

func (r *users) GetByUsername(_ context.Context, username string) (*models.User, error) {
	var out *models.User
	_ = r.read(func(st *state) error {
		for _, u := range st.users {
			if u.Username != nil && *u.Username == username {
				u := u
				out = &u
				return nil
			}
		}
		return nil
	})
	return out, nil
}

func (r *users) SetUsername(ctx context.Context, userID uuid.UUID, username string) error {
	return r.write(ctx, "users.SetUsername", func(st *state, _ time.Time) error {
		u, ok := st.users[userID]
		if !ok {
			return fmt.Errorf("set username: %w", repository.ErrNoRows)
		}
		for id, other := range st.users {
			if id != userID && other.Username != nil && *other.Username == username {
				return fmt.Errorf("set username: %w", repository.ErrDuplicate)
			}
		}
		name := username
		u.Username = &name
		st.users[userID] = u
		return nil
	})
}

func (r *users) Search(_ context.Context, query, exclude string) ([]models.User, error) {
	out := make([]models.User, 0)
	q := strings.ToLower(query)
	_ = r.read(func(st *state) error {
		for _, u := range st.users {
			if u.Username == nil || *u.Username == exclude {
				continue
			}
			if strings.Contains(strings.ToLower(*u.Username), q) {
				out = append(out, u)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return *out[i].Username < *out[j].Username })
	return out, nil
}

func (r *users) CountExisting(_ context.Context, ids []uuid.UUID) (int, error) {
	n := 0
	_ = r.read(func(st *state) error {
		for _, id := range ids {
			if _, ok := st.users[id]; ok {
				n++
			}
		}
		return nil
	})
	return n, nil
}

type conversations struct{ repo }

func (r *conversations) Create(ctx context.Context, adminID uuid.UUID) (*models.Conversation, error) {
	var out models.Conversation
	err := r.write(ctx, "conversations.Create", func(st *state, now time.Time) error {
		if _, ok := st.users[adminID]; !ok {
			return fmt.Errorf("insert conversation: %w", repository.ErrForeignKey)
		}
		row := conversationRow{ID: uuid.New(), AdminID: adminID, CreatedAt: now, UpdatedAt: now}
		st.conversations[row.ID] = row
		out = st.populate(row)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *conversations) GetByID(_ context.Context, conversationID uuid.UUID) (*models.Conversation, error) {
	var out *models.Conversation
	_ = r.read(func(st *state) error {
		if row, ok := st.conversations[conversationID]; ok {
			c := st.populate(row)
			out = &c
		}
		return nil
	})
	return out, nil
}

func (r *conversations) ListForUser(_ context.Context, userID uuid.UUID) ([]models.Conversation, error) {
	out := make([]models.Conversation, 0)
	_ = r.read(func(st *state) error {
		for _, p := range st.participants {
			if p.UserID != userID {
				continue
			}
			if row, ok := st.conversations[p.ConversationID]; ok {
				out = append(out, st.populate(row))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (r *conversations) update(ctx context.Context, op string, conversationID uuid.UUID, fn func(st *state, row *conversationRow) error) error {
	return r.write(ctx, op, func(st *state, now time.Time) error {
		row, ok := st.conversations[conversationID]
		if !ok {
			return fmt.Errorf("%s: %w", op, repository.ErrNoRows)
		}
		if err := fn(st, &row); err != nil {
			return err
		}
		row.UpdatedAt = now
		st.conversations[conversationID] = row
		return nil
	})
}

func (r *conversations) SetLatestMessage(ctx context.Context, conversationID, messageID uuid.UUID) error {
	return r.update(ctx, "conversations.SetLatestMessage", conversationID, func(st *state, row *conversationRow) error {
		if _, ok := st.messages[messageID]; !ok {
			return fmt.Errorf("set latest message: %w", repository.ErrForeignKey)
		}
		id := messageID
		row.LatestMessageID = &id
		return nil
	})
}

func (r *conversations) SetAdmin(ctx context.Context, conversationID, userID uuid.UUID) error {
	return r.update(ctx, "conversations.SetAdmin", conversationID, func(st *state, row *conversationRow) error {
		if _, ok := st.users[userID]; !ok {
			return fmt.Errorf("set admin: %w", repository.ErrForeignKey)
		}
		row.AdminID = userID
		return nil
	})
}

func (r *conversations) Touch(ctx context.Context, conversationID uuid.UUID) error {
	return r.update(ctx, "conversations.Touch", conversationID, func(*state, *conversationRow) error { return nil })
}

func (r *conversations) Delete(ctx context.Context, conversationID uuid.UUID) error {
	return r.write(ctx, "conversations.Delete", func(st *state, _ time.Time) error {
		if _, ok := st.conversations[conversationID]; !ok {
			return fmt.Errorf("delete conversation: %w", repository.ErrNoRows)
		}
		// ON DELETE CASCADE
		for id, p := range st.participants {
			if p.ConversationID == conversationID {
				delete(st.participants, id)
			}
		}
		for id, m := range st.messages {
			if m.ConversationID == conversationID {
				delete(st.messages, id)
			}
		}
		delete(st.conversations, conversationID)
		return nil
	})
}

type participants struct{ repo }

func (r *participants) Add(ctx context.Context, conversationID, userID uuid.UUID, hasSeen bool) error {
	return r.write(ctx, "participants.Add", func(st *state, now time.Time) error {
		if _, ok := st.conversations[conversationID]; !ok {
			return fmt.Errorf("add participant: %w", repository.ErrForeignKey)
		}
		if _, ok := st.users[userID]; !ok {
			return fmt.Errorf("add participant: %w", repository.ErrForeignKey)
		}
		if _, ok := st.findParticipant(conversationID, userID); ok {
			return fmt.Errorf("add participant: %w", repository.ErrDuplicate)
		}
		p := participantRow{
			Participant: models.Participant{
				ID:                   uuid.New(),
				ConversationID:       conversationID,
				UserID:               userID,
				HasSeenLatestMessage: hasSeen,
				CreatedAt:            now,
			},
			seq: st.nextSeq(),
		}
		st.participants[p.ID] = p
		return nil
	})
}

func (r *participants) Remove(ctx context.Context, conversationID uuid.UUID, userIDs []uuid.UUID) error {
	return r.write(ctx, "participants.Remove", func(st *state, _ time.Time) error {
		drop := make(map[uuid.UUID]struct{}, len(userIDs))
		for _, id := range userIDs {
			drop[id] = struct{}{}
		}
		for id, p := range st.participants {
			if p.ConversationID != conversationID {
				continue
			}
			if _, ok := drop[p.UserID]; ok {
				delete(st.participants, id)
			}
		}
		return nil
	})
}

func (r *participants) RemoveAll(ctx context.Context, conversationID uuid.UUID) error {
	return r.write(ctx, "participants.RemoveAll", func(st *state, _ time.Time) error {
		for id, p := range st.participants {
			if p.ConversationID == conversationID {
				delete(st.participants, id)
			}
		}
		return nil
	})
}

func (r *participants) ListUserIDs(_ context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0)
	_ = r.read(func(st *state) error {
		for _, p := range st.participantRows(conversationID) {
			ids = append(ids, p.UserID)
		}
		return nil
	})
	return ids, nil
}

func (r *participants) Get(_ context.Context, conversationID, userID uuid.UUID) (*models.Participant, error) {
	var out *models.Participant
	_ = r.read(func(st *state) error {
		if p, ok := st.findParticipant(conversationID, userID); ok {
			part := p.Participant
			part.User = st.summary(userID)
			out = &part
		}
		return nil
	})
	return out, nil
}

func (r *participants) SetSeen(ctx context.Context, conversationID, userID uuid.UUID, seen bool) error {
	return r.write(ctx, "participants.SetSeen", func(st *state, _ time.Time) error {
		p, ok := st.findParticipant(conversationID, userID)
		if !ok {
			return fmt.Errorf("set seen: %w", repository.ErrNoRows)
		}
		p.HasSeenLatestMessage = seen
		st.participants[p.ID] = p
		return nil
	})
}

func (r *participants) MarkUnseenExcept(ctx context.Context, conversationID, userID uuid.UUID) error {
	return r.write(ctx, "participants.MarkUnseenExcept", func(st *state, _ time.Time) error {
		for id, p := range st.participants {
			if p.ConversationID == conversationID && p.UserID != userID {
				p.HasSeenLatestMessage = false
				st.participants[id] = p
			}
		}
		return nil
	})
}

type messages struct{ repo }

func (r *messages) Create(ctx context.Context, msg models.Message) (*models.Message, error) {
	var out models.Message
	err := r.write(ctx, "messages.Create", func(st *state, now time.Time) error {
		if _, ok := st.messages[msg.ID]; ok {
			return fmt.Errorf("insert message: %w", repository.ErrDuplicate)
		}
		if _, ok := st.conversations[msg.ConversationID]; !ok {
			return fmt.Errorf("insert message: %w", repository.ErrForeignKey)
		}
		if _, ok := st.users[msg.SenderID]; !ok {
			return fmt.Errorf("insert message: %w", repository.ErrForeignKey)
		}
		msg.Sender = models.UserSummary{}
		msg.CreatedAt = now
		st.messages[msg.ID] = msg
		out = st.populateMessage(msg)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *messages) GetByID(_ context.Context, messageID uuid.UUID) (*models.Message, error) {
	var out *models.Message
	_ = r.read(func(st *state) error {
		if m, ok := st.messages[messageID]; ok {
			m = st.populateMessage(m)
			out = &m
		}
		return nil
	})
	return out, nil
}

func (r *messages) ListByConversation(_ context.Context, conversationID uuid.UUID) ([]models.Message, error) {
	out := make([]models.Message, 0)
	_ = r.read(func(st *state) error {
		for _, m := range st.messages {
			if m.ConversationID == conversationID {
				out = append(out, st.populateMessage(m))
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() > out[j].ID.String()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *messages) DeleteByConversation(ctx context.Context, conversationID uuid.UUID) (int64, error) {
	var n int64
	err := r.write(ctx, "messages.DeleteByConversation", func(st *state, _ time.Time) error {
		for id, m := range st.messages {
			if m.ConversationID == conversationID {
				delete(st.messages, id)
				n++
			}
		}
		// latest_message_id ... ON DELETE SET NULL
		if row, ok := st.conversations[conversationID]; ok && n > 0 {
			row.LatestMessageID = nil
			st.conversations[conversationID] = row
		}
		return nil
	})
	return n, err
}
