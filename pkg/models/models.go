package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a host account, created on the first Spotify login.
type User struct {
	ID          uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	SpotifyID   string    `json:"spotify_id" gorm:"size:64;unique"`
	DisplayName string    `json:"display_name"`
	ImageURL    string    `json:"image_url"`
	Email       string    `json:"email"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RoomRecord is the archived lifecycle of a room. Live state is never stored.
type RoomRecord struct {
	ID          uuid.UUID  `json:"id" gorm:"type:char(36);primaryKey"`
	Code        string     `json:"code" gorm:"size:5;index"`
	HostID      string     `json:"host_id" gorm:"size:36;index"`
	CloseReason string     `json:"close_reason"`
	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at"`
}

// PlayedTrack is one track started by a room.
type PlayedTrack struct {
	ID        uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	RoomCode  string    `json:"room_code" gorm:"size:5;index"`
	TrackID   string    `json:"track_id" gorm:"size:64"`
	TrackName string    `json:"track_name"`
	Artist    string    `json:"artist"`
	Votes     int       `json:"votes"`
	PlayedAt  time.Time `json:"played_at"`
}
