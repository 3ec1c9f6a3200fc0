package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AccessLog emits one line per handled request, tagged with the serving
// mode so replayed, forwarded and admin traffic can be told apart. The mode
// func is evaluated per request because the mode can switch at runtime.
func AccessLog(log *zap.Logger, mode func() string) gin.HandlerFunc {
	return func(c *gin.Context) {
		began := time.Now()
		path := c.Request.URL.Path

		c.Next()

		code := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", code),
			zap.Int("bytes", c.Writer.Size()),
			zap.Duration("took", time.Since(began)),
		}
		if id := GetRequestID(c); id != "" {
			fields = append(fields, zap.String("request_id", id))
		}
		if strings.HasPrefix(path, "/__") {
			fields = append(fields, zap.Bool("admin", true))
		} else if mode != nil {
			fields = append(fields, zap.String("mode", mode()))
		}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.Strings("errors", c.Errors.Errors()))
		}

		lvl := zapcore.InfoLevel
		switch {
		case code >= 500:
			lvl = zapcore.ErrorLevel
		case code >= 400:
			lvl = zapcore.WarnLevel
		}
		if ce := log.Check(lvl, "handled"); ce != nil {
			ce.Write(fields...)
		}
	}
}
