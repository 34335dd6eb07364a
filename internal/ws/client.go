package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/music-vote-rooms/internal/room"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	commandTimeout = 15 * time.Second
)

// Client is one websocket connection. Inbound events are handled on the read
// goroutine; everything written to the socket goes through writePump, which
// also owns the diff baseline.
type Client struct {
	rooms  *room.Service
	conn   *websocket.Conn
	roomID string
	userID string
	log    *zap.Logger

	send    chan []byte
	updates chan *room.Snapshot
	closed  chan roomClosedData
	done    chan struct{}
	stop    sync.Once
	isHost  atomic.Bool
	seat    atomic.Uint64

	// Read goroutine only.
	joined    bool
	attached  bool
	duplicate bool
	voter     room.Voter
}

func newClient(rooms *room.Service, conn *websocket.Conn, roomID, userID string, log *zap.Logger) *Client {
	return &Client{
		rooms:   rooms,
		conn:    conn,
		roomID:  roomID,
		userID:  userID,
		log:     log,
		send:    make(chan []byte, 16),
		updates: make(chan *room.Snapshot, 1),
		closed:  make(chan roomClosedData, 1),
		done:    make(chan struct{}),
	}
}

// Update keeps only the newest pending snapshot by revision; the writer diffs
// against whatever it sent last, so skipped intermediate states are never
// lost.
func (c *Client) Update(s *room.Snapshot) {
	for {
		select {
		case c.updates <- s:
			return
		default:
		}
		select {
		case pending := <-c.updates:
			if pending.Revision > s.Revision {
				s = pending
			}
		default:
		}
	}
}

func (c *Client) Closed(reason string) {
	c.closeWith(roomClosedData{Reason: reason})
}

// SeatTaken closes this socket when a newer host socket took its seat.
func (c *Client) SeatTaken(seat uint64) {
	if c.isHost.Load() && c.seat.Load() != seat {
		c.closeWith(roomClosedData{Reason: room.ReasonHostMoved})
	}
}

func (c *Client) closeWith(data roomClosedData) {
	select {
	case c.closed <- data:
	default:
	}
}

func (c *Client) shutdown() {
	c.stop.Do(func() { close(c.done) })
}

func (c *Client) emit(eventType string, data interface{}) {
	msg, err := encode(eventType, data)
	if err != nil {
		c.log.Error("failed to encode message", zap.String("type", eventType), zap.Error(err))
		return
	}
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		c.log.Warn("send buffer full, dropping message", zap.String("type", eventType))
	}
}

func (c *Client) emitError(err error) {
	c.emit(EventError, errorData{Code: errorCode(err), Message: err.Error()})
}

func (c *Client) readPump() {
	defer func() {
		c.leave()
		c.shutdown()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket error", zap.Error(err))
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			c.emitError(fmt.Errorf("malformed message: %w", room.ErrRejected))
			continue
		}
		if err := c.dispatch(env); err != nil {
			if room.IsGone(err) {
				return
			}
			c.log.Debug("event failed", zap.String("type", env.Type), zap.Error(err))
			c.emitError(err)
		}
	}
}

func decode(data json.RawMessage, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("missing data: %w", room.ErrRejected)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("malformed data: %w", room.ErrRejected)
	}
	return nil
}

func (c *Client) dispatch(env Envelope) error {
	if env.Type == EventJoinRoom {
		return c.join()
	}
	if !c.joined {
		return fmt.Errorf("join the room first: %w", room.ErrRejected)
	}

	switch env.Type {
	case EventChooseName:
		var d chooseNameData
		if err := decode(env.Data, &d); err != nil {
			return err
		}
		return c.chooseName(d.Name)
	case EventResolveDup:
		var d resolveDuplicateData
		if err := decode(env.Data, &d); err != nil {
			return err
		}
		return c.resolveDuplicate(d.Keep)
	}

	if !c.attached {
		return fmt.Errorf("choose a name first: %w", room.ErrRejected)
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch env.Type {
	case EventCastVote:
		var d castVoteData
		if err := decode(env.Data, &d); err != nil {
			return err
		}
		_, err := c.rooms.Vote(ctx, c.roomID, c.voter, d.TrackID)
		return err
	case EventChangePlaylist:
		var d changePlaylistData
		if err := decode(env.Data, &d); err != nil {
			return err
		}
		return c.rooms.ChangePlaylist(ctx, c.roomID, c.voter, d.PlaylistID)
	case EventChangeVolume:
		var d changeVolumeData
		if err := decode(env.Data, &d); err != nil {
			return err
		}
		return c.rooms.ChangeVolume(ctx, c.roomID, c.voter, d.Volume)
	case EventTogglePlaystate:
		return c.rooms.TogglePlaystate(ctx, c.roomID, c.voter)
	case EventSkip:
		return c.rooms.DecideAndPlay(ctx, c.roomID, c.voter)
	case EventCloseRoom:
		return c.rooms.Close(c.roomID, c.voter)
	}
	return fmt.Errorf("unknown event %q: %w", env.Type, room.ErrRejected)
}

func (c *Client) join() error {
	if c.joined {
		return fmt.Errorf("already joined: %w", room.ErrRejected)
	}
	adm, err := c.rooms.Join(c.roomID, c.userID)
	switch {
	case errors.Is(err, room.ErrNotFound):
		c.closeWith(roomClosedData{Reason: "Room does not exist"})
		return nil
	case errors.Is(err, room.ErrExpired):
		c.closeWith(roomClosedData{Reason: room.ReasonInactive})
		return nil
	}
	if err != nil {
		return err
	}
	c.joined = true

	switch adm.Role {
	case room.JoinAsHost:
		return c.attach(adm.Voter)
	case room.JoinDuplicate:
		c.duplicate = true
		c.voter = adm.Voter
		c.emit(EventDuplicateRoom, duplicateRoomData{OldRoomID: adm.DuplicateOf})
	default:
		c.emit(EventNameRequired, nil)
	}
	return nil
}

func (c *Client) chooseName(requested string) error {
	if c.attached {
		return fmt.Errorf("already in the room: %w", room.ErrRejected)
	}
	name, err := c.rooms.ChooseName(c.roomID, requested)
	var rejected *room.NameRejectedError
	if errors.As(err, &rejected) {
		c.emit(EventNameRejected, nameRejectedData{Reason: rejected.Reason, Message: rejected.Reason.Message()})
		return nil
	}
	if err != nil {
		return err
	}
	return c.attach(room.Voter{Name: name})
}

func (c *Client) resolveDuplicate(keep string) error {
	if c.attached {
		return fmt.Errorf("no duplicate to resolve: %w", room.ErrRejected)
	}
	var keepOld bool
	switch keep {
	case "new":
	case "old":
		keepOld = true
	default:
		return fmt.Errorf("keep must be old or new: %w", room.ErrRejected)
	}

	oldRoomID, err := c.rooms.ResolveDuplicate(c.roomID, c.userID, keepOld)
	if err != nil {
		return err
	}
	c.duplicate = false
	if keepOld {
		c.closeWith(roomClosedData{Reason: room.ReasonReplaced, NextRoomID: oldRoomID})
		return nil
	}
	return c.attach(c.voter)
}

// attach subscribes the client and queues the full projection.
func (c *Client) attach(v room.Voter) error {
	c.seat.Store(v.Seat)
	c.isHost.Store(v.Host)
	if err := c.rooms.Attach(c.roomID, c); err != nil {
		return err
	}
	c.voter = v
	c.attached = true

	snap, err := c.rooms.Snapshot(c.roomID)
	if err != nil {
		return err
	}
	c.Update(snap)
	return nil
}

func (c *Client) leave() {
	if c.attached {
		c.rooms.Detach(c.roomID, c)
		c.rooms.Leave(c.roomID, c.voter)
		return
	}
	if c.duplicate {
		// The host left while choosing between rooms; start the grace clock.
		c.rooms.Leave(c.roomID, c.voter)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	var baseline *room.Snapshot

	for {
		select {
		case <-c.done:
			c.write(websocket.CloseMessage, []byte{})
			return

		case msg := <-c.send:
			if !c.write(websocket.TextMessage, msg) {
				return
			}

		case snap := <-c.updates:
			if baseline != nil && snap.Revision < baseline.Revision {
				continue
			}
			patch := room.Diff(baseline, snap, room.View{Host: c.isHost.Load()})
			eventType := EventPatch
			if baseline == nil {
				eventType = EventFullProjection
			}
			baseline = snap
			if patch == nil {
				continue
			}
			msg, err := encode(eventType, patch)
			if err != nil {
				c.log.Error("failed to encode patch", zap.Error(err))
				continue
			}
			if !c.write(websocket.TextMessage, msg) {
				return
			}

		case data := <-c.closed:
			c.flushSend()
			if msg, err := encode(EventRoomClosed, data); err == nil {
				c.write(websocket.TextMessage, msg)
			}
			c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, data.Reason))
			return

		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

// flushSend writes direct messages that were queued before the room closed.
func (c *Client) flushSend() {
	for {
		select {
		case msg := <-c.send:
			c.write(websocket.TextMessage, msg)
		default:
			return
		}
	}
}

func (c *Client) write(messageType int, data []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		c.log.Debug("write failed", zap.Error(err))
		return false
	}
	return true
}
