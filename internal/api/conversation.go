package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/relaychat/internal/middleware"
	"github.com/lalith-99/relaychat/internal/service"
	"go.uber.org/zap"
)

// ConversationHandler holds the dependencies needed to handle conversation
// requests.
//
// Why a struct with methods, not standalone functions?
//   - Each handler method needs the service and the logger.
//   - In main.go: handler := api.NewConversationHandler(svc, logger)
//     then: v1.POST("/conversations", handler.Create)
//
// The handlers only translate HTTP to service calls. Membership checks,
// transactions and event publishing all happen in the service, so the
// websocket and HTTP paths can't drift apart.
type ConversationHandler struct {
	svc    *service.ConversationService
	logger *zap.Logger
}

func NewConversationHandler(svc *service.ConversationService, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{svc: svc, logger: logger}
}

// participantsRequest is the body of POST /v1/conversations and
// PUT /v1/conversations/:id/participants.
type participantsRequest struct {
	ParticipantIDs []uuid.UUID `json:"participant_ids" binding:"required"`
}

// List handles GET /v1/conversations
func (h *ConversationHandler) List(c *gin.Context) {
	list, err := h.svc.List(c.Request.Context(), middleware.GetIdentity(c))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// Create handles POST /v1/conversations
//
// The caller is always a participant, whether or not they list
// themselves. The same set of people as an existing conversation is a 409.
func (h *ConversationHandler) Create(c *gin.Context) {
	var req participantsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := h.svc.Create(c.Request.Context(), middleware.GetIdentity(c), req.ParticipantIDs)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

// Delete handles DELETE /v1/conversations/:id
func (h *ConversationHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), middleware.GetIdentity(c), id); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UpdateParticipants handles PUT /v1/conversations/:id/participants
//
// The body is the complete new member list, not a diff. The server works
// out who was added and removed.
func (h *ConversationHandler) UpdateParticipants(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req participantsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := h.svc.UpdateParticipants(c.Request.Context(), middleware.GetIdentity(c), id, req.ParticipantIDs)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

type markReadRequest struct {
	UserID uuid.UUID `json:"user_id"`
}

// MarkAsRead handles POST /v1/conversations/:id/read
//
// user_id is optional and defaults to the caller. Marking someone else is
// rejected by the service.
func (h *ConversationHandler) MarkAsRead(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req markReadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.UserID == uuid.Nil {
		req.UserID = middleware.GetUserID(c)
	}

	if err := h.svc.MarkAsRead(c.Request.Context(), middleware.GetIdentity(c), req.UserID, id); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type modifyAdminRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
}

// ModifyAdmin handles PUT /v1/conversations/:id/admin
func (h *ConversationHandler) ModifyAdmin(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req modifyAdminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := h.svc.ModifyAdmin(c.Request.Context(), middleware.GetIdentity(c), id, req.UserID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}
