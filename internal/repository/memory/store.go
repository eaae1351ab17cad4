// Package memory is an in-process implementation of repository.Store.
//
// It backs the test suites and `STORE_DRIVER=memory` runs. Transactions
// work on a private copy of the data that replaces the live copy on
// commit, so readers see either all of a transaction's writes or none.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lalith-99/relaychat/internal/models"
	"github.com/lalith-99/relaychat/internal/repository"
)

// ErrNestedTx is returned when InTx is called with a context that is
// already inside a transaction of the same store.
var ErrNestedTx = errors.New("nested transaction")

type conversationRow struct {
	ID              uuid.UUID
	AdminID         uuid.UUID
	LatestMessageID *uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type participantRow struct {
	models.Participant
	seq int64
}

type state struct {
	users         map[uuid.UUID]models.User
	conversations map[uuid.UUID]conversationRow
	participants  map[uuid.UUID]participantRow
	messages      map[uuid.UUID]models.Message
	seq           int64
}

func newState() *state {
	return &state{
		users:         make(map[uuid.UUID]models.User),
		conversations: make(map[uuid.UUID]conversationRow),
		participants:  make(map[uuid.UUID]participantRow),
		messages:      make(map[uuid.UUID]models.Message),
	}
}

func (st *state) clone() *state {
	out := &state{
		users:         make(map[uuid.UUID]models.User, len(st.users)),
		conversations: make(map[uuid.UUID]conversationRow, len(st.conversations)),
		participants:  make(map[uuid.UUID]participantRow, len(st.participants)),
		messages:      make(map[uuid.UUID]models.Message, len(st.messages)),
		seq:           st.seq,
	}
	for k, v := range st.users {
		if v.Username != nil {
			name := *v.Username
			v.Username = &name
		}
		out.users[k] = v
	}
	for k, v := range st.conversations {
		if v.LatestMessageID != nil {
			id := *v.LatestMessageID
			v.LatestMessageID = &id
		}
		out.conversations[k] = v
	}
	for k, v := range st.participants {
		out.participants[k] = v
	}
	for k, v := range st.messages {
		out.messages[k] = v
	}
	return out
}

// Store implements repository.Store.
type Store struct {
	txMu sync.Mutex // serializes writers
	mu   sync.RWMutex
	st   *state

	now   func() time.Time
	fault func(op string) error
}

var _ repository.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		st:  newState(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source. Tests use it to get distinct,
// ordered timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.now = now
}

// SetFault installs a hook called before every write with the operation
// name (e.g. "participants.MarkUnseenExcept"). A non-nil return fails
// that write. Pass nil to clear it.
func (s *Store) SetFault(fn func(op string) error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.fault = fn
}

func (s *Store) Users() repository.UserRepository                 { return &users{repo{s: s}} }
func (s *Store) Conversations() repository.ConversationRepository { return &conversations{repo{s: s}} }
func (s *Store) Participants() repository.ParticipantRepository   { return &participants{repo{s: s}} }
func (s *Store) Messages() repository.MessageRepository           { return &messages{repo{s: s}} }

type txKey struct{}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Repos) error) error {
	if ctx.Value(txKey{}) == s {
		return ErrNestedTx
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	work := s.st.clone()
	s.mu.RUnlock()

	txCtx := context.WithValue(ctx, txKey{}, s)
	if err := fn(txCtx, &txRepos{s: s, st: work}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	s.st = work
	s.mu.Unlock()
	return nil
}

type txRepos struct {
	s  *Store
	st *state
}

func (t *txRepos) Users() repository.UserRepository { return &users{repo{s: t.s, tx: t.st}} }
func (t *txRepos) Conversations() repository.ConversationRepository {
	return &conversations{repo{s: t.s, tx: t.st}}
}
func (t *txRepos) Participants() repository.ParticipantRepository {
	return &participants{repo{s: t.s, tx: t.st}}
}
func (t *txRepos) Messages() repository.MessageRepository { return &messages{repo{s: t.s, tx: t.st}} }

// repo runs operations either against a transaction's working copy (tx
// set, caller already holds txMu) or against the live state.
type repo struct {
	s  *Store
	tx *state
}

func (r repo) read(fn func(st *state) error) error {
	if r.tx != nil {
		return fn(r.tx)
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return fn(r.s.st)
}

func (r repo) write(ctx context.Context, op string, fn func(st *state, now time.Time) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.tx != nil {
		if r.s.fault != nil {
			if err := r.s.fault(op); err != nil {
				return err
			}
		}
		return fn(r.tx, r.s.now())
	}
	return r.s.InTx(ctx, func(ctx context.Context, tx repository.Repos) error {
		return repo{s: r.s, tx: tx.(*txRepos).st}.write(ctx, op, fn)
	})
}

func (st *state) nextSeq() int64 {
	st.seq++
	return st.seq
}

func (st *state) summary(userID uuid.UUID) models.UserSummary {
	if u, ok := st.users[userID]; ok {
		return u.Summary()
	}
	return models.UserSummary{ID: userID}
}

func (st *state) populateMessage(m models.Message) models.Message {
	m.Sender = st.summary(m.SenderID)
	return m
}

func (st *state) participantRows(conversationID uuid.UUID) []participantRow {
	rows := make([]participantRow, 0)
	for _, p := range st.participants {
		if p.ConversationID == conversationID {
			rows = append(rows, p)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	return rows
}

func (st *state) findParticipant(conversationID, userID uuid.UUID) (participantRow, bool) {
	for _, p := range st.participants {
		if p.ConversationID == conversationID && p.UserID == userID {
			return p, true
		}
	}
	return participantRow{}, false
}

func (st *state) populate(row conversationRow) models.Conversation {
	c := models.Conversation{
		ID:        row.ID,
		AdminID:   row.AdminID,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	for _, p := range st.participantRows(row.ID) {
		part := p.Participant
		part.User = st.summary(part.UserID)
		c.Participants = append(c.Participants, part)
	}
	if c.Participants == nil {
		c.Participants = make([]models.Participant, 0)
	}
	if row.LatestMessageID != nil {
		id := *row.LatestMessageID
		c.LatestMessageID = &id
		if m, ok := st.messages[id]; ok {
			msg := st.populateMessage(m)
			c.LatestMessage = &msg
		}
	}
	return c
}
