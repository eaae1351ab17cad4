package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/relaychat/internal/middleware"
	"github.com/lalith-99/relaychat/internal/observ"
	"github.com/lalith-99/relaychat/internal/presence"
	"github.com/lalith-99/relaychat/internal/service"
	"go.uber.org/zap"
)

// Deps is everything the router wires into handlers.
type Deps struct {
	JWTSecret string
	Logger    *zap.Logger

	Users         *service.UserService
	Conversations *service.ConversationService
	Messages      *service.MessageService
	Presence      presence.Tracker

	// Subscriptions serves the websocket upgrade.
	Subscriptions gin.HandlerFunc

	// Health reports whether the store is reachable. Nil means always healthy.
	Health func(ctx context.Context) error
}

// NewRouter builds the HTTP surface.
//
//	public:         /v1/health, /v1/auth/*
//	authenticated:  /v1/conversations/*, /v1/users/*
//	optional auth:  /v1/subscriptions (the token may also arrive in
//	                connection_init, after the upgrade)
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(observ.RequestLogger(d.Logger), gin.Recovery())

	// Health check is PUBLIC, no auth required.
	// Load balancers hit this to check if the server is alive.
	r.GET("/v1/health", func(c *gin.Context) {
		if d.Health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := d.Health(ctx); err != nil {
				d.Logger.Warn("health check failed", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authH := NewAuthHandler(d.Users, d.Logger)
	r.POST("/v1/auth/signup", authH.Signup)
	r.POST("/v1/auth/login", authH.Login)

	if d.Subscriptions != nil {
		r.GET("/v1/subscriptions", middleware.OptionalAuth(d.JWTSecret), d.Subscriptions)
	}

	// All other /v1/* routes require a valid JWT.
	// The middleware runs BEFORE any handler in this group.
	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(d.JWTSecret))

	convH := NewConversationHandler(d.Conversations, d.Logger)
	v1.GET("/conversations", convH.List)
	v1.POST("/conversations", convH.Create)
	v1.DELETE("/conversations/:id", convH.Delete)
	v1.PUT("/conversations/:id/participants", convH.UpdateParticipants)
	v1.POST("/conversations/:id/read", convH.MarkAsRead)
	v1.PUT("/conversations/:id/admin", convH.ModifyAdmin)

	msgH := NewMessageHandler(d.Messages, d.Logger)
	v1.GET("/conversations/:id/messages", msgH.List)
	v1.POST("/conversations/:id/messages", msgH.Send)

	userH := NewUserHandler(d.Users, d.Presence, d.Logger)
	v1.GET("/users/me", userH.GetMe)
	v1.PUT("/users/me/username", userH.CreateUsername)
	v1.GET("/users/search", userH.Search)
	v1.GET("/users/:id/presence", userH.Presence)

	return r
}
