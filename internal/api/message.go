package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/relaychat/internal/middleware"
	"github.com/lalith-99/relaychat/internal/service"
	"go.uber.org/zap"
)

type MessageHandler struct {
	svc    *service.MessageService
	logger *zap.Logger
}

func NewMessageHandler(svc *service.MessageService, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{svc: svc, logger: logger}
}

// sendMessageRequest is the body of POST /v1/conversations/:id/messages.
//
// Why does the client send the id?
//   - It renders the message before the response arrives and needs to
//     recognise the same message when it comes back over the
//     subscription. A retry with the same id is answered with the stored
//     message instead of a second copy.
//
// sender_id is optional and defaults to the caller.
type sendMessageRequest struct {
	ID       uuid.UUID `json:"id" binding:"required"`
	SenderID uuid.UUID `json:"sender_id"`
	Body     string    `json:"body" binding:"required"`
}

// Send handles POST /v1/conversations/:id/messages
//
// 201 for a new message, 200 when the id was already stored with the same
// content.
func (h *MessageHandler) Send(c *gin.Context) {
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.SenderID == uuid.Nil {
		req.SenderID = middleware.GetUserID(c)
	}

	res, err := h.svc.Send(c.Request.Context(), middleware.GetIdentity(c), service.SendMessageInput{
		ID:             req.ID,
		ConversationID: convID,
		SenderID:       req.SenderID,
		Body:           req.Body,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

// List handles GET /v1/conversations/:id/messages
func (h *MessageHandler) List(c *gin.Context) {
	convID, ok := pathID(c, "id")
	if !ok {
		return
	}

	messages, err := h.svc.List(c.Request.Context(), middleware.GetIdentity(c), convID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, messages)
}
