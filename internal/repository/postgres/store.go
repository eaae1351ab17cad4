// Package postgres implements repository.Store on top of pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lalith-99/relaychat/internal/repository"
)

// DBTX is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
//
// Why an interface here?
//   - The same repository code must run on the pool for one-off reads and
//     inside a transaction for multi-step writes. Both types already have
//     these three methods, so the repos never know which one they got.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type repos struct {
	db DBTX
}

func (r repos) Users() repository.UserRepository                 { return &UserStore{db: r.db} }
func (r repos) Conversations() repository.ConversationRepository { return &ConversationStore{db: r.db} }
func (r repos) Participants() repository.ParticipantRepository   { return &ParticipantStore{db: r.db} }
func (r repos) Messages() repository.MessageRepository           { return &MessageStore{db: r.db} }

// Store implements repository.Store.
type Store struct {
	repos
	pool *pgxpool.Pool
}

var _ repository.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{repos: repos{db: pool}, pool: pool}
}

// InTx runs fn in a read-committed transaction.
//
// Rollback is deferred unconditionally: after a successful Commit it is a
// no-op, and on every error path (including a panic in fn) it releases
// the connection with nothing written.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Repos) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, repos{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Postgres error codes, see https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// mapErr turns constraint violations into the repository sentinels so
// callers don't depend on pgconn.
func mapErr(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case uniqueViolation:
		return fmt.Errorf("%w (%s): %w", repository.ErrDuplicate, pgErr.ConstraintName, err)
	case foreignKeyViolation:
		return fmt.Errorf("%w (%s): %w", repository.ErrForeignKey, pgErr.ConstraintName, err)
	}
	return err
}

func expectRows(tag pgconn.CommandTag, op string) error {
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, repository.ErrNoRows)
	}
	return nil
}

// uuidStrings prepares ids for a `= ANY($1::uuid[])` parameter.
func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
