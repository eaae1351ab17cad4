package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the payload inside every session token.
//
// The middleware reads these back on every request and on every
// subscription handshake, so the server knows who is calling without a
// database round-trip.
//
// Username may be empty: a freshly signed-up user has not picked one yet.
// The token is reissued by the username endpoint once it is set.
type Claims struct {
	UserID   uuid.UUID `json:"user_id"`
	Email    string    `json:"email"`
	Username string    `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Identity returns the verified caller described by the claims.
func (c *Claims) Identity() *Identity {
	return &Identity{UserID: c.UserID, Username: c.Username}
}

// GenerateToken creates a signed HS256 JWT for a given user.
//
// Why HS256?
//   - One shared secret, no key pair. Issuing and verifying happen in the
//     same process, so there is nobody to hand a public key to.
func GenerateToken(userID uuid.UUID, email, username, secret string, ttl time.Duration) (string, error) {
	now := time.Now()

	claims := Claims{
		UserID:   userID,
		Email:    email,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    "relaychat",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}

	return signed, nil
}

// ParseToken validates a JWT string and extracts the claims.
//
// It verifies the signature, the expiry, and that the signing method is
// HMAC. The last check blocks "alg: none" and RSA/HMAC confusion tokens.
func ParseToken(tokenString, secret string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if claims.UserID == uuid.Nil {
		return nil, fmt.Errorf("token has no subject")
	}

	return claims, nil
}
