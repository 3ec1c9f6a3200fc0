package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	requestIDHeader  = "X-Request-ID"
	contextRequestID = "requestID"
)

// RequestID tags every request with a correlation id so a log line can be
// tied back to the recorded entry it produced. A client-supplied id is kept
// only when it is a short printable token; anything else is replaced with a
// fresh UUID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if !validToken(id) {
			id = uuid.NewString()
		}

		c.Set(contextRequestID, id)
		c.Writer.Header().Set(requestIDHeader, id)

		c.Next()
	}
}

// validToken accepts 1..64 chars of [A-Za-z0-9_-].
func validToken(s string) bool {
	if s == "" || len(s) > 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		ok := c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_'
		if !ok {
			return false
		}
	}
	return true
}

// GetRequestID returns the correlation id set by RequestID, or "".
func GetRequestID(c *gin.Context) string {
	return c.GetString(contextRequestID)
}
