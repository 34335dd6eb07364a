package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/music-vote-rooms/pkg/jwt"
)

// Context keys set by the middlewares.
const (
	UserIDKey      = "user_id"
	AccessTokenKey = "access_token"
)

// sessionToken reads the session JWT from the cookie, a bearer header, or
// the token query parameter used by websocket clients.
func sessionToken(c *gin.Context) string {
	if token, _ := c.Cookie(cookieName); token != "" {
		return token
	}
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.Query("token")
}

// authenticate validates the session token and sets the user id, aborting
// the request when there is none.
func authenticate(c *gin.Context) bool {
	token := sessionToken(c)
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "No session token"})
		return false
	}
	claims, err := jwt.ValidateToken(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return false
	}
	c.Set(UserIDKey, claims.UserID)
	return true
}

// Session requires a valid session token and sets the user id.
func Session() gin.HandlerFunc {
	return func(c *gin.Context) {
		if authenticate(c) {
			c.Next()
		}
	}
}

// OptionalSession sets the user id when a valid session token is present and
// lets anonymous requests through.
func OptionalSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := sessionToken(c); token != "" {
			if claims, err := jwt.ValidateToken(token); err == nil {
				c.Set(UserIDKey, claims.UserID)
			}
		}
		c.Next()
	}
}

// AuthMiddleware requires a session and a usable Spotify access token,
// refreshing an expired one on the way.
func (h *Handler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !authenticate(c) {
			return
		}

		userID := c.GetString(UserIDKey)
		tokenInfo, err := h.freshTokens(c.Request.Context(), userID, false)
		if err != nil {
			h.log.Debug("no usable spotify token", zap.String("user_id", userID), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token not found"})
			return
		}

		c.Set(AccessTokenKey, tokenInfo.AccessToken)
		c.Next()
	}
}
