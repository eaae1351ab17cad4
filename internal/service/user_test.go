package service

import (
	"context"
	"testing"
	"time"

	"github.com/lalith-99/relaychat/internal/apperr"
	"github.com/lalith-99/relaychat/internal/auth"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestUserService_SignupAndLogin(t *testing.T) {
	t.Run("signup issues a token for the new user", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)

		sess, err := f.users.Signup(context.Background(), SignupInput{Email: "new@example.com", Password: "longenough", DisplayName: "New"})

		req.NoError(err)
		claims, err := auth.ParseToken(sess.Token, "test-secret")
		req.NoError(err)
		req.Equal(sess.User.ID, claims.UserID)
		req.Empty(claims.Username, "no username chosen yet")
	})

	t.Run("signup rejects bad input and taken emails", func(t *testing.T) {
		req := require.New(t)
		ctx := context.Background()
		f := newFixture(t)
		_, err := f.users.Signup(ctx, SignupInput{Email: "taken@example.com", Password: "longenough"})
		req.NoError(err)

		_, err = f.users.Signup(ctx, SignupInput{Email: "TAKEN@example.com", Password: "longenough"})
		req.ErrorIs(err, apperr.ErrConflict)

		_, err = f.users.Signup(ctx, SignupInput{Email: "not-an-email", Password: "longenough"})
		req.ErrorIs(err, apperr.ErrInvalid)

		_, err = f.users.Signup(ctx, SignupInput{Email: "short@example.com", Password: "short"})
		req.ErrorIs(err, apperr.ErrInvalid)
	})

	t.Run("login does not say which half was wrong", func(t *testing.T) {
		req := require.New(t)
		ctx := context.Background()
		f := newFixture(t)
		_, err := f.users.Signup(ctx, SignupInput{Email: "me@example.com", Password: "correct-horse"})
		req.NoError(err)

		_, err = f.users.Login(ctx, "me@example.com", "wrong-horse")
		req.ErrorIs(err, apperr.ErrUnauthorized)
		wrongPassword := apperr.PublicMessage(err)

		_, err = f.users.Login(ctx, "nobody@example.com", "correct-horse")
		req.ErrorIs(err, apperr.ErrUnauthorized)
		req.Equal(wrongPassword, apperr.PublicMessage(err))

		sess, err := f.users.Login(ctx, "me@example.com", "correct-horse")
		req.NoError(err)
		req.NotEmpty(sess.Token)
	})
}

func TestUserService_CreateUsername(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.user(t, "alice")
	sess, err := f.users.Signup(ctx, SignupInput{Email: "b@example.com", Password: "longenough"})
	req.NoError(err)
	who := &auth.Identity{UserID: sess.User.ID}

	_, err = f.users.CreateUsername(ctx, who, "alice")
	req.ErrorIs(err, apperr.ErrConflict)

	_, err = f.users.CreateUsername(ctx, who, "no spaces")
	req.ErrorIs(err, apperr.ErrInvalid)

	sess, err = f.users.CreateUsername(ctx, who, "bob")
	req.NoError(err)
	req.Equal("bob", *sess.User.Username)
	claims, err := auth.ParseToken(sess.Token, "test-secret")
	req.NoError(err)
	req.Equal("bob", claims.Username)

	// Setting the same name again is fine
	_, err = f.users.CreateUsername(ctx, who, "bob")
	req.NoError(err)
}

func TestUserService_Search(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	alice := f.user(t, "alice")
	f.user(t, "alicia")
	f.user(t, "bob")

	found, err := f.users.Search(ctx, alice, "ALI")
	req.NoError(err)
	req.Len(found, 1)
	req.Equal("alicia", found[0].Username)

	_, err = f.users.Search(ctx, nil, "ali")
	req.ErrorIs(err, apperr.ErrUnauthorized)
}

func TestUserService_StoreFailureIsHidden(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.store.SetFault(func(op string) error {
		if op == "users.Create" {
			return context.DeadlineExceeded
		}
		return nil
	})
	svc := NewUserService(f.store.Users(), "s", time.Hour, zap.NewNop())

	_, err := svc.Signup(context.Background(), SignupInput{Email: "x@example.com", Password: "longenough"})

	req.ErrorIs(err, apperr.ErrStore)
	req.Equal("signup failed", apperr.PublicMessage(err))
}
