package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/relaychat/internal/apperr"
	"github.com/lalith-99/relaychat/internal/middleware"
	"go.uber.org/zap"
)

// writeError turns a service error into a JSON response.
//
// Why map kinds here and not inside the services?
//   - Services are shared with the subscription transport, which has no
//     status codes. The kind is the contract; HTTP is one rendering of it.
//   - Store failures are logged by the service with the driver error.
//     The client only ever sees the generic message.
//
// Unauthorized becomes 401 when the request carried no identity (bad
// credentials, missing token) and 403 when a known caller is not allowed.
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	status := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindUnauthorized:
		status = http.StatusForbidden
		if middleware.GetIdentity(c) == nil {
			status = http.StatusUnauthorized
		}
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindInvalid:
		status = http.StatusBadRequest
	default:
		logger.Warn("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	c.JSON(status, gin.H{"error": apperr.PublicMessage(err)})
}

// pathID parses a uuid path parameter. On failure it writes the 400 and
// returns false.
func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}
