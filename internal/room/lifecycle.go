package room

import (
	"fmt"
	"time"
)

// JoinRole is how a connecting socket was admitted.
type JoinRole int

const (
	// JoinNeedsName: the socket is not the host and must choose a name.
	JoinNeedsName JoinRole = iota
	JoinAsHost
	// JoinDuplicate: the host already owns another room and has to pick one.
	JoinDuplicate
)

func (j JoinRole) String() string {
	switch j {
	case JoinAsHost:
		return "host"
	case JoinDuplicate:
		return "duplicate"
	}
	return "participant"
}

// claimHost decides whether the socket of userID takes the host seat and
// returns the seat generation it holds.
//
// The first host socket after creation is trusted without further checks; it
// is the one window where that happens. Later sockets of the host account
// take the seat over, retiring any socket still holding it, as long as the
// host has not been away longer than grace.
func (r *Room) claimHost(userID, duplicateOf string, now time.Time, grace time.Duration) (JoinRole, uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return JoinNeedsName, 0, fmt.Errorf("room %s: %w", r.ID, ErrNotFound)
	}
	if userID == "" || userID != r.hostUserID {
		return JoinNeedsName, 0, nil
	}

	if !r.firstConnectionConsumed {
		r.firstConnectionConsumed = true
		r.hostSeat++
		r.hostDisconnectedAt = nil
		if duplicateOf != "" {
			r.pendingDuplicate = duplicateOf
			return JoinDuplicate, r.hostSeat, nil
		}
		return JoinAsHost, r.hostSeat, nil
	}

	switch {
	case r.pendingDuplicate != "":
		return JoinNeedsName, 0, fmt.Errorf("room %s is waiting for the host to pick a room: %w", r.ID, ErrRejected)
	case r.hostDisconnectedAt != nil && now.Sub(*r.hostDisconnectedAt) > grace:
		return JoinNeedsName, 0, fmt.Errorf("room %s: %w", r.ID, ErrExpired)
	}
	r.hostSeat++
	r.hostDisconnectedAt = nil
	return JoinAsHost, r.hostSeat, nil
}

// keepAfterDuplicate seats the host in this room once the other room is gone.
func (r *Room) keepAfterDuplicate(oldRoomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return fmt.Errorf("room %s: %w", r.ID, ErrNotFound)
	}
	if r.pendingDuplicate == "" || r.pendingDuplicate != oldRoomID {
		return fmt.Errorf("room %s has no pending choice for %s: %w", r.ID, oldRoomID, ErrRejected)
	}
	r.pendingDuplicate = ""
	r.hostDisconnectedAt = nil
	return nil
}

func (r *Room) pendingDuplicateOf() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pendingDuplicate
}

// hostLeft starts the grace clock when the socket holding seat goes away.
// A retired seat leaving changes nothing.
func (r *Room) hostLeft(seat uint64, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if seat != r.hostSeat {
		return false
	}
	if r.hostDisconnectedAt == nil {
		r.hostDisconnectedAt = &now
	}
	return true
}
