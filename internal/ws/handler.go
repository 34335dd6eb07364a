package ws

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/music-vote-rooms/internal/room"
)

type Handler struct {
	rooms    *room.Service
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHandler accepts upgrades from the given origins; an empty list accepts
// any origin.
func NewHandler(rooms *room.Service, allowedOrigins []string, log *zap.Logger) *Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Handler{
		rooms: rooms,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(allowed) == 0 || origin == "" || allowed[origin]
			},
		},
		log: log,
	}
}

// HandleWebSocket serves one client of a room. The user id, if any, comes
// from the optional session middleware.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	roomID := strings.ToUpper(c.Param("roomId"))
	if roomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "room_id is required"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("failed to upgrade connection", zap.Error(err))
		return
	}

	client := newClient(h.rooms, conn, roomID, c.GetString("user_id"), h.log.With(
		zap.String("room_id", roomID),
		zap.String("conn_id", uuid.New().String()),
	))
	go client.writePump()
	client.readPump()
}
