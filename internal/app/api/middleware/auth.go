package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/saasbill/internal/app/service/identity"
	"github.com/fatflowers/saasbill/pkg/logctx"
	"github.com/fatflowers/saasbill/pkg/response"
)

const (
	SessionCookie   = "session_token"
	HeaderAdminAuth = "X-Admin-Token"

	// KeyUserEmail holds the session email in gin.Context.
	KeyUserEmail = "user_email"
)

// SessionReader resolves a session token to its identity.
type SessionReader interface {
	GetSession(ctx context.Context, token string) (*identity.Session, error)
}

// SessionAuthMiddleware requires a valid session, read from the bearer
// token or the session cookie. The user id is set on gin.Context, the
// request context and the request logger.
func SessionAuthMiddleware(sessions SessionReader, base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := sessionToken(c)
		sess, err := sessions.GetSession(c.Request.Context(), token)
		if err != nil || sess == nil || sess.UserID == "" {
			logctx.FromGin(c, base).Infow("session_rejected", "has_token", token != "", "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error("Unauthorized"))
			return
		}

		c.Set(logctx.KeyUserID, sess.UserID)
		c.Set(KeyUserEmail, sess.Email)
		ctx := context.WithValue(c.Request.Context(), logctx.KeyUserID, sess.UserID)
		c.Request = c.Request.WithContext(ctx)
		setLogger(c, logctx.FromGin(c, base).With("user_id", sess.UserID))

		c.Next()
	}
}

func sessionToken(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	if v, err := c.Cookie(SessionCookie); err == nil {
		return v
	}
	return ""
}

// AdminTokenMiddleware guards the admin group. An empty configured token
// disables the admin API.
func AdminTokenMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(HeaderAdminAuth)
		if token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeUnauthorized, "invalid admin token"))
			return
		}
		c.Next()
	}
}
