package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dkeye/MicRoom/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	ctxClientToken = "client_token"
	ctxUserID      = "user_id"
	sessionUserKey = "user_id"
)

var errUnauthorized = errors.New("invalid or expired token")

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set(ctxClientToken, token)
		c.Next()
	}
}

// IdentityMiddleware resolves the caller. A bearer token wins and is
// remembered in the cookie session; without one the caller is a guest
// keyed by the client token.
func IdentityMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		if raw := bearer(c); raw != "" {
			user, err := ParseToken(secret, raw)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "message": err.Error()})
				return
			}
			if sess.Get(sessionUserKey) != string(user) {
				sess.Set(sessionUserKey, string(user))
				if err := sess.Save(); err != nil {
					log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
				}
			}
			c.Set(ctxUserID, string(user))
			c.Next()
			return
		}
		if v, ok := sess.Get(sessionUserKey).(string); ok && v != "" {
			c.Set(ctxUserID, v)
			c.Next()
			return
		}
		c.Set(ctxUserID, "guest-"+c.GetString(ctxClientToken))
		c.Next()
	}
}

// bearer reads the Authorization header, or the token query parameter
// since browsers cannot set headers on a WebSocket upgrade.
func bearer(c *gin.Context) string {
	if h := c.GetHeader("Authorization"); h != "" {
		parts := strings.SplitN(h, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return strings.TrimSpace(parts[1])
		}
		return h
	}
	return c.Query("token")
}

func IssueToken(secret []byte, user domain.UserID, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   string(user),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func ParseToken(secret []byte, raw string) (domain.UserID, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", errUnauthorized
	}
	user, err := domain.ParseUserID(claims.Subject)
	if err != nil {
		return "", errUnauthorized
	}
	return user, nil
}

func callerOf(c *gin.Context) domain.UserID {
	return domain.UserID(c.GetString(ctxUserID))
}
