package ws

import (
	"encoding/json"
	"errors"

	"github.com/music-vote-rooms/internal/room"
)

// Inbound events.
const (
	EventJoinRoom        = "join-room"
	EventChooseName      = "choose-name"
	EventCastVote        = "cast-vote"
	EventChangePlaylist  = "change-playlist"
	EventChangeVolume    = "change-volume"
	EventTogglePlaystate = "toggle-playstate"
	EventSkip            = "skip"
	EventCloseRoom       = "close-room"
	EventResolveDup      = "resolve-duplicate-room"
)

// Outbound events.
const (
	EventFullProjection = "full-projection"
	EventPatch          = "patch"
	EventNameRequired   = "name-required"
	EventNameRejected   = "name-rejected"
	EventRoomClosed     = "room-closed"
	EventDuplicateRoom  = "duplicate-room-detected"
	EventError          = "error"
)

// Envelope is the frame of every websocket message in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type chooseNameData struct {
	Name string `json:"name"`
}

type castVoteData struct {
	TrackID room.Choice `json:"trackId"`
}

type changePlaylistData struct {
	PlaylistID string `json:"playlistId"`
}

type changeVolumeData struct {
	Volume int `json:"volume"`
}

type resolveDuplicateData struct {
	// Keep is "old" or "new".
	Keep string `json:"keep"`
}

type nameRejectedData struct {
	Reason  room.NameRejection `json:"reason"`
	Message string             `json:"message"`
}

type roomClosedData struct {
	Reason     string `json:"reason"`
	NextRoomID string `json:"nextRoomId,omitempty"`
}

type duplicateRoomData struct {
	OldRoomID string `json:"oldRoomId"`
}

type errorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func encode(eventType string, data interface{}) ([]byte, error) {
	env := Envelope{Type: eventType}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// errorCode classifies an error for clients.
func errorCode(err error) string {
	switch {
	case errors.Is(err, room.ErrNotFound):
		return "not_found"
	case errors.Is(err, room.ErrRejected):
		return "rejected"
	case errors.Is(err, room.ErrInsufficientTracks):
		return "insufficient_tracks"
	case errors.Is(err, room.ErrExpired):
		return "expired"
	case errors.Is(err, room.ErrUpstreamUnavailable):
		return "upstream_unavailable"
	}
	return "internal"
}
