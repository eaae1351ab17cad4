package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func TestGenerateAndParseToken(t *testing.T) {
	req := require.New(t)
	userID := uuid.New()

	token, err := GenerateToken(userID, "a@example.com", "alice", secret, time.Hour)
	req.NoError(err)

	claims, err := ParseToken(token, secret)
	req.NoError(err)
	req.Equal(userID, claims.UserID)
	req.Equal("alice", claims.Username)
	req.Equal(&Identity{UserID: userID, Username: "alice"}, claims.Identity())
}

func TestParseToken_WrongSecret(t *testing.T) {
	token, err := GenerateToken(uuid.New(), "a@example.com", "", secret, time.Hour)
	require.NoError(t, err)

	_, err = ParseToken(token, "other-secret")
	require.Error(t, err)
}

func TestParseToken_Expired(t *testing.T) {
	token, err := GenerateToken(uuid.New(), "a@example.com", "", secret, -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken(token, secret)
	require.Error(t, err)
}

func TestParseToken_RejectsNoneAlgorithm(t *testing.T) {
	claims := Claims{UserID: uuid.New()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ParseToken(token, secret)
	require.Error(t, err)
}

func TestPassword_HashAndCheck(t *testing.T) {
	req := require.New(t)
	hash, err := HashPassword("correct horse")
	req.NoError(err)
	req.NotEqual("correct horse", hash)
	req.True(CheckPassword(hash, "correct horse"))
	req.False(CheckPassword(hash, "battery staple"))
}

func TestIdentity_ContextRoundTrip(t *testing.T) {
	req := require.New(t)
	id := &Identity{UserID: uuid.New()}

	req.Nil(FromContext(context.Background()))
	req.Same(id, FromContext(WithIdentity(context.Background(), id)))
	req.True(id.Is(id.UserID))

	var nobody *Identity
	req.False(nobody.Is(id.UserID))
}
