package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/relaychat/internal/middleware"
	"github.com/lalith-99/relaychat/internal/presence"
	"github.com/lalith-99/relaychat/internal/service"
	"go.uber.org/zap"
)

// UserHandler handles user-related operations.
type UserHandler struct {
	users    *service.UserService
	presence presence.Tracker
	logger   *zap.Logger
}

func NewUserHandler(users *service.UserService, tracker presence.Tracker, logger *zap.Logger) *UserHandler {
	return &UserHandler{users: users, presence: tracker, logger: logger}
}

// GetMe handles GET /v1/users/me
//
// Why /users/me and not /users/:id?
//   - /users/me is idiomatic for "get my own profile". The client doesn't
//     need to know its own UUID.
//   - Other people are only ever seen through search results and
//     conversation participants, which carry the public summary.
func (h *UserHandler) GetMe(c *gin.Context) {
	user, err := h.users.Me(c.Request.Context(), middleware.GetIdentity(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

type usernameRequest struct {
	Username string `json:"username" binding:"required"`
}

// CreateUsername handles PUT /v1/users/me/username
//
// The response carries a fresh token: the old one has no username in its
// claims, and subscriptions read the username from the token.
func (h *UserHandler) CreateUsername(c *gin.Context) {
	var req usernameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.users.CreateUsername(c.Request.Context(), middleware.GetIdentity(c), req.Username)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// Search handles GET /v1/users/search?username=ali
func (h *UserHandler) Search(c *gin.Context) {
	found, err := h.users.Search(c.Request.Context(), middleware.GetIdentity(c), c.Query("username"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, found)
}

// Presence handles GET /v1/users/:id/presence
func (h *UserHandler) Presence(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	online, err := h.presence.IsOnline(c.Request.Context(), id)
	if err != nil {
		h.logger.Warn("presence lookup failed", zap.String("user_id", id.String()), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "presence unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id, "online": online})
}
