package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/lalith-99/relaychat/internal/models"
)

type UserStore struct {
	db DBTX
}

const userColumns = `id, email, username, display_name, image, password_hash, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.Username,
		&u.DisplayName,
		&u.Image,
		&u.PasswordHash,
		&u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Create inserts a new user row. Postgres generates the UUID and timestamp.
func (s *UserStore) Create(ctx context.Context, email, displayName, passwordHash string) (*models.User, error) {
	query := `
		INSERT INTO users (email, display_name, password_hash, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING ` + userColumns

	u, err := scanUser(s.db.QueryRow(ctx, query, email, displayName, passwordHash))
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", mapErr(err))
	}
	return u, nil
}

func (s *UserStore) get(ctx context.Context, where string, arg any) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where

	u, err := scanUser(s.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *UserStore) GetByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return s.get(ctx, `id = $1`, userID)
}

// GetByEmail matches case-insensitively, the same way the unique index
// on lower(email) does.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.get(ctx, `lower(email) = lower($1)`, email)
}

func (s *UserStore) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.get(ctx, `username = $1`, username)
}

func (s *UserStore) SetUsername(ctx context.Context, userID uuid.UUID, username string) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET username = $2 WHERE id = $1`, userID, username)
	if err != nil {
		return fmt.Errorf("set username: %w", mapErr(err))
	}
	return expectRows(tag, "set username")
}

func (s *UserStore) Search(ctx context.Context, query, exclude string) ([]models.User, error) {
	// ILIKE wildcards in the input are escaped so "a_b" means a literal underscore.
	pattern := "%" + likeEscaper.Replace(query) + "%"

	rows, err := s.db.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE username ILIKE $1 AND username <> $2
		ORDER BY username`, pattern, exclude)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *UserStore) CountExisting(ctx context.Context, ids []uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT count(*) FROM users WHERE id = ANY($1::uuid[])`, uuidStrings(ids),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}
