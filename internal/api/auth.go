package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/relaychat/internal/service"
	"go.uber.org/zap"
)

// AuthHandler handles signup and login, the only PUBLIC endpoints.
// These don't go through AuthMiddleware because the user doesn't have
// a JWT yet (that's what these endpoints produce).
type AuthHandler struct {
	users  *service.UserService
	logger *zap.Logger
}

func NewAuthHandler(users *service.UserService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{users: users, logger: logger}
}

type signupRequest struct {
	Email       string `json:"email" binding:"required"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"display_name"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Signup handles POST /v1/auth/signup
//
// The response carries a token and the new user. The user has no username
// yet; the client asks for one next (PUT /v1/users/me/username).
func (h *AuthHandler) Signup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.users.Signup(c.Request.Context(), service.SignupInput{
		Email:       req.Email,
		Password:    req.Password,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// Login handles POST /v1/auth/login
//
// Unknown email and wrong password produce the same 401, so the endpoint
// can't be used to find out which emails are registered.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.users.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, session)
}
