package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/martijn/vaultkeep/internal/api/dto"
)

// ErrorHandlerMiddleware recovers handler panics and answers any error a
// handler attached with c.Error but did not write a response for.
func ErrorHandlerMiddleware(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				requestLogger(c, logger).Error().
					Interface("panic", rec).
					Str("path", c.Request.URL.Path).
					Msg("handler panicked")
				abortWith(c, http.StatusInternalServerError, "an unexpected error occurred")
			}
		}()

		c.Next()

		if c.Writer.Written() {
			return
		}
		if last := c.Errors.Last(); last != nil {
			code := http.StatusInternalServerError
			if last.IsType(gin.ErrorTypeBind) {
				code = http.StatusBadRequest
			}
			abortWith(c, code, last.Error())
		}
	}
}

// requestLogger prefers the request-scoped logger set by RequestLogger.
func requestLogger(c *gin.Context, fallback zerolog.Logger) *zerolog.Logger {
	if l := zerolog.Ctx(c.Request.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &fallback
}

func abortWith(c *gin.Context, code int, message string) {
	c.AbortWithStatusJSON(code, dto.ErrorResponse{
		Error:   http.StatusText(code),
		Message: message,
		Code:    code,
	})
}
