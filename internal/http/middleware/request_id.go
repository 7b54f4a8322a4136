package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"brokerdesk.sg/relay/common/logger"
)

const RequestIDHeader = "X-Request-Id"

// RequestID echoes the caller's request id, or mints one, and puts it on the
// request context so every log line of the request carries it.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}

		c.Header(RequestIDHeader, requestID)
		ctx := logger.WithLogFields(c.Request.Context(), logger.LogFields{RequestID: &requestID})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
