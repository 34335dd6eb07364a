package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/music-vote-rooms/internal/room"
	"github.com/music-vote-rooms/internal/spotify"
	"github.com/music-vote-rooms/pkg/jwt"
	"github.com/music-vote-rooms/pkg/models"
	"github.com/music-vote-rooms/pkg/redis"
)

const (
	cookieName      = "auth_token"
	stateCookieName = "oauth_state"
)

// OAuthClient is the part of the Spotify client the login flow needs.
type OAuthClient interface {
	GetAuthURL(state string) string
	ExchangeToken(ctx context.Context, code string) (*spotify.TokenResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*spotify.TokenResponse, error)
	GetUser(ctx context.Context, accessToken string) (*spotify.User, error)
}

type TokenStore interface {
	StoreTokens(ctx context.Context, userID string, token *redis.TokenInfo) error
	GetTokens(ctx context.Context, userID string) (*redis.TokenInfo, error)
	RefreshToken(ctx context.Context, userID, accessToken string, expiresAt time.Time) error
	DeleteToken(ctx context.Context, userID string) error
}

type UserStore interface {
	UpsertUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

type Handler struct {
	spotifyClient OAuthClient
	tokenStore    TokenStore
	users         UserStore
	frontendURL   string
	secureCookie  bool
	log           *zap.Logger
}

func NewHandler(spotifyClient OAuthClient, tokenStore TokenStore, users UserStore, frontendURL string, secureCookie bool, log *zap.Logger) *Handler {
	return &Handler{
		spotifyClient: spotifyClient,
		tokenStore:    tokenStore,
		users:         users,
		frontendURL:   frontendURL,
		secureCookie:  secureCookie,
		log:           log,
	}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	auth := r.Group("/auth")
	{
		// Public routes
		auth.GET("/login", h.login)
		auth.GET("/callback", h.callback)

		session := auth.Group("", Session())
		session.POST("/refresh", h.refresh)
		session.POST("/logout", h.logout)

		// Protected routes (require a usable Spotify credential)
		protected := auth.Group("", h.AuthMiddleware())
		protected.GET("/user", h.user)
		protected.GET("/status", h.status)
	}
}

func (h *Handler) status(c *gin.Context) {
	if _, err := h.spotifyClient.GetUser(c.Request.Context(), c.GetString(AccessTokenKey)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid access token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) user(c *gin.Context) {
	user, err := h.users.GetUserByID(c.Request.Context(), c.GetString(UserIDKey))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}

func (h *Handler) login(c *gin.Context) {
	state := uuid.New().String()
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	c.JSON(http.StatusOK, gin.H{"url": h.spotifyClient.GetAuthURL(state)})
}

func (h *Handler) callback(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "code is required"})
		return
	}
	if state, err := c.Cookie(stateCookieName); err != nil || state != c.Query("state") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state mismatch"})
		return
	}

	ctx := c.Request.Context()
	token, err := h.spotifyClient.ExchangeToken(ctx, code)
	if err != nil {
		h.log.Warn("token exchange failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	profile, err := h.spotifyClient.GetUser(ctx, token.AccessToken)
	if err != nil {
		h.log.Warn("failed to load spotify profile", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	user := &models.User{
		SpotifyID:   profile.ID,
		DisplayName: profile.DisplayName,
		Email:       profile.Email,
	}
	if len(profile.Images) > 0 {
		user.ImageURL = profile.Images[0].URL
	}
	if err := h.users.UpsertUser(ctx, user); err != nil {
		h.log.Error("failed to save user", zap.String("spotify_id", profile.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save user"})
		return
	}

	tokenInfo := &redis.TokenInfo{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.ExpiresAt.UTC(),
	}
	if err := h.tokenStore.StoreTokens(ctx, user.ID.String(), tokenInfo); err != nil {
		h.log.Error("failed to store tokens", zap.String("user_id", user.ID.String()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store tokens"})
		return
	}

	jwtToken, err := jwt.GenerateToken(user.ID.String())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	http.SetCookie(c.Writer, &http.Cookie{
		Name:     cookieName,
		Value:    jwtToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	h.log.Info("host logged in", zap.String("user_id", user.ID.String()), zap.String("name", user.DisplayName))

	c.Redirect(http.StatusFound, h.frontendURL+"/dashboard")
}

func (h *Handler) refresh(c *gin.Context) {
	if _, err := h.freshTokens(c.Request.Context(), c.GetString(UserIDKey), true); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, redis.ErrTokenNotFound) {
			status = http.StatusUnauthorized
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "token refreshed"})
}

func (h *Handler) logout(c *gin.Context) {
	if err := h.tokenStore.DeleteToken(c.Request.Context(), c.GetString(UserIDKey)); err != nil {
		h.log.Warn("failed to delete tokens", zap.Error(err))
	}
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
	})
	c.Status(http.StatusNoContent)
}

// freshTokens returns the user's tokens, refreshing the access token first
// when it has expired or force is set.
func (h *Handler) freshTokens(ctx context.Context, userID string, force bool) (*redis.TokenInfo, error) {
	tokenInfo, err := h.tokenStore.GetTokens(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !force && !tokenInfo.Expired(time.Now()) {
		return tokenInfo, nil
	}

	newToken, err := h.spotifyClient.RefreshToken(ctx, tokenInfo.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	tokenInfo.AccessToken = newToken.AccessToken
	tokenInfo.ExpiresAt = newToken.ExpiresAt.UTC()
	if newToken.RefreshToken != "" {
		tokenInfo.RefreshToken = newToken.RefreshToken
	}
	if err := h.tokenStore.StoreTokens(ctx, userID, tokenInfo); err != nil {
		return nil, err
	}
	return tokenInfo, nil
}

// LoadHost assembles the host identity and credential of a logged-in user
// for opening a room.
func (h *Handler) LoadHost(ctx context.Context, userID string) (room.Host, error) {
	user, err := h.users.GetUserByID(ctx, userID)
	if err != nil {
		return room.Host{}, fmt.Errorf("load user %s: %w", userID, err)
	}
	tokens, err := h.freshTokens(ctx, userID, false)
	if err != nil {
		return room.Host{}, fmt.Errorf("load tokens %s: %w", userID, err)
	}
	return room.Host{
		UserID:       userID,
		Name:         user.DisplayName,
		ImageURL:     user.ImageURL,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	}, nil
}
