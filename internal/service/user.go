package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/lalith-99/relaychat/internal/apperr"
	"github.com/lalith-99/relaychat/internal/auth"
	"github.com/lalith-99/relaychat/internal/models"
	"github.com/lalith-99/relaychat/internal/repository"
	"go.uber.org/zap"
)

type UserService struct {
	users     repository.UserRepository
	jwtSecret string
	tokenTTL  time.Duration
	logger    *zap.Logger
}

func NewUserService(users repository.UserRepository, jwtSecret string, tokenTTL time.Duration, logger *zap.Logger) *UserService {
	return &UserService{users: users, jwtSecret: jwtSecret, tokenTTL: tokenTTL, logger: logger}
}

// Session is what signup, login and username changes hand back. The
// client sends Token as "Authorization: Bearer <token>" on every request
// and in the connection_init of a subscription.
type Session struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

type SignupInput struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	DisplayName string `json:"display_name" validate:"max=64"`
}

var errBadCredentials = apperr.Unauthorized("invalid email or password")

// Signup creates an account and returns a session for it. The username is
// chosen later with CreateUsername.
func (s *UserService) Signup(ctx context.Context, in SignupInput) (*Session, error) {
	in.Email = strings.TrimSpace(in.Email)
	if err := validate.Struct(in); err != nil {
		return nil, apperr.Invalid("a valid email and a password of 8 to 72 characters are required")
	}

	existing, err := s.users.GetByEmail(ctx, in.Email)
	if err != nil {
		return nil, fail(s.logger, "signup", err)
	}
	if existing != nil {
		return nil, apperr.Conflict("email already registered")
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fail(s.logger, "signup", err)
	}

	user, err := s.users.Create(ctx, in.Email, in.DisplayName, hash)
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, apperr.Conflict("email already registered")
	}
	if err != nil {
		return nil, fail(s.logger, "signup", err)
	}
	return s.session(user)
}

// Login checks the password and issues a new token.
//
// Unknown email and wrong password produce the same error. Telling them
// apart would let anyone probe which emails are registered.
func (s *UserService) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, fail(s.logger, "login", err)
	}
	if user == nil || !auth.CheckPassword(user.PasswordHash, password) {
		return nil, errBadCredentials
	}
	return s.session(user)
}

func (s *UserService) Me(ctx context.Context, who *auth.Identity) (*models.User, error) {
	if err := requireIdentity(who); err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, who.UserID)
	if err != nil {
		return nil, fail(s.logger, "get user", err)
	}
	if user == nil {
		return nil, apperr.NotFound("user not found")
	}
	return user, nil
}

type usernameInput struct {
	Username string `validate:"required,alphanum,min=3,max=32"`
}

// CreateUsername sets the caller's username and returns a session whose
// token carries it.
//
// The uniqueness check and the write are two separate steps. Two callers
// racing for the same name can both pass the check; the unique index then
// rejects the second write and it surfaces as a store failure, not as a
// conflict.
func (s *UserService) CreateUsername(ctx context.Context, who *auth.Identity, username string) (*Session, error) {
	if err := requireIdentity(who); err != nil {
		return nil, err
	}
	username = strings.TrimSpace(username)
	if err := validate.Struct(usernameInput{Username: username}); err != nil {
		return nil, apperr.Invalid("username must be 3 to 32 letters or digits")
	}

	taken, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, fail(s.logger, "create username", err)
	}
	if taken != nil && taken.ID != who.UserID {
		return nil, apperr.Conflict("username already taken")
	}

	if taken == nil {
		if err := s.users.SetUsername(ctx, who.UserID, username); err != nil {
			return nil, fail(s.logger, "create username", err)
		}
	}

	user, err := s.Me(ctx, who)
	if err != nil {
		return nil, err
	}
	return s.session(user)
}

// Search finds users whose username contains query, ignoring case. The
// caller is never in the result.
func (s *UserService) Search(ctx context.Context, who *auth.Identity, query string) ([]models.UserSummary, error) {
	me, err := s.Me(ctx, who)
	if err != nil {
		return nil, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, apperr.Invalid("search query is required")
	}

	exclude := ""
	if me.Username != nil {
		exclude = *me.Username
	}
	users, err := s.users.Search(ctx, query, exclude)
	if err != nil {
		return nil, fail(s.logger, "search users", err)
	}

	out := make([]models.UserSummary, 0, len(users))
	for _, u := range users {
		out = append(out, u.Summary())
	}
	return out, nil
}

func (s *UserService) session(user *models.User) (*Session, error) {
	username := ""
	if user.Username != nil {
		username = *user.Username
	}
	token, err := auth.GenerateToken(user.ID, user.Email, username, s.jwtSecret, s.tokenTTL)
	if err != nil {
		return nil, fail(s.logger, "issue token", err)
	}
	return &Session{Token: token, User: user}, nil
}
