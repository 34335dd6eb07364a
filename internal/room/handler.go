package room

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/music-vote-rooms/pkg/models"
)

// HostLoader resolves a logged-in user into a room host.
type HostLoader interface {
	LoadHost(ctx context.Context, userID string) (Host, error)
}

// History lists tracks a room has played.
type History interface {
	RecentTracks(ctx context.Context, code string, limit int) ([]*models.PlayedTrack, error)
}

type Handler struct {
	service *Service
	hosts   HostLoader
	history History
	log     *zap.Logger
}

func NewHandler(service *Service, hosts HostLoader, history History, log *zap.Logger) *Handler {
	return &Handler{service: service, hosts: hosts, history: history, log: log}
}

// RegisterRoutes mounts the room endpoints. requireHost must authenticate
// the user and ensure a Spotify credential; requireSession only the user.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup, requireHost, requireSession gin.HandlerFunc) {
	rooms := r.Group("/rooms")
	{
		rooms.GET("", h.directory)
		rooms.POST("", requireHost, h.createRoom)
		rooms.GET("/mine", requireSession, h.mine)
		rooms.GET("/:id", h.getRoom)
		rooms.GET("/:id/history", h.getHistory)
	}
}

// StatusOf maps room errors to HTTP status codes.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRejected):
		return http.StatusBadRequest
	case errors.Is(err, ErrInsufficientTracks):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrExpired):
		return http.StatusUnauthorized
	case errors.Is(err, ErrUpstreamUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, ErrIDSpaceExhausted):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *Handler) directory(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.service.Directory()})
}

type createRoomResponse struct {
	RoomID    string `json:"roomId"`
	OldRoomID string `json:"oldRoomId,omitempty"`
}

func (h *Handler) createRoom(c *gin.Context) {
	userID := c.GetString("user_id") // Set by auth middleware
	host, err := h.hosts.LoadHost(c.Request.Context(), userID)
	if err != nil {
		h.log.Warn("failed to load host", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}

	room, oldID, err := h.service.CreateRoom(c.Request.Context(), host)
	if err != nil {
		c.JSON(StatusOf(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, createRoomResponse{RoomID: room.ID, OldRoomID: oldID})
}

func (h *Handler) mine(c *gin.Context) {
	roomID, ok := h.service.RoomOfHost(c.GetString("user_id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no room"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"roomId": roomID})
}

func (h *Handler) getRoom(c *gin.Context) {
	entry, ok := h.service.Registry().Entry(strings.ToUpper(c.Param("id")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (h *Handler) getHistory(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit <= 0 || limit > 100 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
		return
	}
	if h.history == nil {
		c.JSON(http.StatusOK, gin.H{"tracks": []*models.PlayedTrack{}})
		return
	}

	tracks, err := h.history.RecentTracks(c.Request.Context(), strings.ToUpper(c.Param("id")), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tracks": tracks})
}
