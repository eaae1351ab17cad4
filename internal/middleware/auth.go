package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/relaychat/internal/auth"
)

// Context keys for storing the caller in gin.Context.
//
// Why string constants instead of inline strings?
//   - Typo protection. c.Get("usr_id") compiles fine and silently returns
//     nil. With constants the compiler catches the typo.
//   - Handlers import these constants, so everyone agrees on the keys.
const (
	ContextKeyIdentity = "identity"
	ContextKeyEmail    = "email"
)

// AuthMiddleware returns a Gin middleware that requires a valid JWT.
//
// How Gin middleware works:
//   - It runs BEFORE the handler (CreateConversation, SendMessage, ...).
//   - If the token is invalid it calls c.Abort(), which stops the chain.
//     The handler never runs and the client gets a 401.
//   - If the token is valid it stores the identity with c.Set() and calls
//     c.Next(), which passes control to the next handler in the chain.
//
// Why take `secret` as a parameter?
//   - So the middleware doesn't import the config package directly.
//     main.go passes cfg.JWTSecret when wiring things up, and tests pass
//     any secret they like.
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, msg := bearerToken(c.GetHeader("Authorization"))
		if msg != "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}

		// Checks signature, expiry, and signing method.
		claims, err := auth.ParseToken(tokenString, secret)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		setClaims(c, claims)
		c.Next()
	}
}

// OptionalAuth stores the identity when a valid token is present and
// carries on without one otherwise. The subscription endpoint uses it:
// an anonymous connection is accepted and simply never receives events.
func OptionalAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if tokenString, msg := bearerToken(c.GetHeader("Authorization")); msg == "" {
			if claims, err := auth.ParseToken(tokenString, secret); err == nil {
				setClaims(c, claims)
			}
		}
		c.Next()
	}
}

// bearerToken extracts the token from "Bearer eyJhbG...". The second
// return value is the client-facing error, empty on success.
func bearerToken(header string) (string, string) {
	if header == "" {
		return "", "missing authorization header"
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", "invalid authorization format, expected: Bearer <token>"
	}
	return parts[1], ""
}

// setClaims puts the caller into both gin's context and the request's
// context.Context. The second one survives the websocket upgrade, where
// there is no gin.Context anymore.
func setClaims(c *gin.Context, claims *auth.Claims) {
	id := claims.Identity()
	c.Set(ContextKeyIdentity, id)
	c.Set(ContextKeyEmail, claims.Email)
	c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id))
}

// ---------------------------------------------------------------
// Helper functions for handlers to read the caller from context.
//
// Why helpers instead of c.Get("identity") directly in handlers?
//   - c.Get() returns (any, bool). These do the type assertion once, in
//     one place.
//   - A missing key yields nil / uuid.Nil, which every service treats as
//     "not authorized".
// ---------------------------------------------------------------

func GetIdentity(c *gin.Context) *auth.Identity {
	val, exists := c.Get(ContextKeyIdentity)
	if !exists {
		return nil
	}
	id, ok := val.(*auth.Identity)
	if !ok {
		return nil
	}
	return id
}

func GetUserID(c *gin.Context) uuid.UUID {
	if id := GetIdentity(c); id != nil {
		return id.UserID
	}
	return uuid.Nil
}

func GetEmail(c *gin.Context) string {
	val, exists := c.Get(ContextKeyEmail)
	if !exists {
		return ""
	}
	email, ok := val.(string)
	if !ok {
		return ""
	}
	return email
}
