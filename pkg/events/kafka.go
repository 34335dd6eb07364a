package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type EventType string

const (
	EventTypeRoomCreated        EventType = "room_created"
	EventTypeRoomClosed         EventType = "room_closed"
	EventTypeSongStarted        EventType = "song_started"
	EventTypeCandidatesRerolled EventType = "candidates_rerolled"
	EventTypeUserJoined         EventType = "user_joined"
	EventTypeUserLeft           EventType = "user_left"
)

type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	RoomID    string          `json:"room_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// KafkaClient publishes room events, keyed by room id so that one room's
// events stay ordered within a partition.
type KafkaClient struct {
	writer *kafka.Writer
}

func NewKafkaClient(brokers []string, topic string) *KafkaClient {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
	}

	return &KafkaClient{writer: writer}
}

// NewEvent wraps payload in an event envelope.
func NewEvent(roomID string, eventType EventType, payload interface{}) (Event, error) {
	event := Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		RoomID:    roomID,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("failed to marshal payload: %w", err)
		}
		event.Payload = raw
	}
	return event, nil
}

func (k *KafkaClient) PublishRoomEvent(ctx context.Context, roomID string, eventType EventType, payload interface{}) error {
	event, err := NewEvent(roomID, eventType, payload)
	if err != nil {
		return err
	}

	messageJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(roomID),
		Value: messageJSON,
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

func (k *KafkaClient) Close() error {
	if err := k.writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	return nil
}

// Event payload types
type RoomCreatedPayload struct {
	HostName string `json:"host_name"`
}

type RoomClosedPayload struct {
	Reason string `json:"reason"`
}

type SongStartedPayload struct {
	TrackID   string `json:"track_id"`
	TrackName string `json:"track_name"`
	Artist    string `json:"artist"`
	Votes     int    `json:"votes"`
}

type UserJoinedPayload struct {
	UserName string `json:"user_name"`
}
