package http

import (
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/layer-3/glytch/core"
	"github.com/layer-3/glytch/ports"
)

const (
	// SessionCookie carries the signed browser session id
	SessionCookie = "glytch_session"

	sessionLifetime = 24 * time.Hour
	ctxSessionID    = "sessionID"
)

// SessionMiddleware resolves the browser session from its cookie, minting a
// new one when the cookie is missing or does not verify
func SessionMiddleware(tokenizer ports.Tokenizer, secure bool, logger watermill.LoggerAdapter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if raw, err := c.Cookie(SessionCookie); err == nil && raw != "" {
			if session, err := tokenizer.TokenToSession(raw); err == nil {
				c.Set(ctxSessionID, session.ID)
				c.Next()
				return
			}
		}

		now := time.Now()
		session := &core.BrowserSession{
			ID:        uuid.NewString(),
			IssuedAt:  now,
			ExpiresAt: now.Add(sessionLifetime),
		}
		token, err := tokenizer.SessionToToken(session)
		if err != nil {
			logger.Error("Failed to issue session cookie", err, nil)
			c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody("InternalError", "Failed to create session"))
			return
		}

		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(SessionCookie, token, int(sessionLifetime/time.Second), "/", "", secure, true)
		c.Set(ctxSessionID, session.ID)
		c.Next()
	}
}

// RequestLogger logs one line per request
func RequestLogger(logger watermill.LoggerAdapter) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := watermill.LogFields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			var err error
			if last := c.Errors.Last(); last != nil {
				err = last.Err
			}
			logger.Error("Request failed", err, fields)
			return
		}
		logger.Debug("Request handled", fields)
	}
}

func sessionID(c *gin.Context) string {
	return c.GetString(ctxSessionID)
}
