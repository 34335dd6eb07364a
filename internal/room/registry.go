package room

import (
	"math/rand"
	"sort"
	"sync"
	"time"
)

// Registry owns the set of live rooms. Lock order is registry before room:
// code holding a room lock never calls back into the registry.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	rng   *rand.Rand
	grace time.Duration
}

func NewRegistry(grace time.Duration, seed int64) *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
		rng:   rand.New(rand.NewSource(seed)),
		grace: grace,
	}
}

// Create allocates a room with a fresh code for the host.
func (g *Registry) Create(host Host, playlists []*Playlist, now time.Time) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := uniqueRoomCode(g.rng, func(code string) bool {
		_, taken := g.rooms[code]
		return taken
	})
	if err != nil {
		return nil, err
	}
	r := newRoom(id, host, playlists, now, g.rng.Int63())
	g.rooms[id] = r
	return r, nil
}

func (g *Registry) Get(id string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rooms[id]
	return r, ok
}

// live reports whether r is still the registered room for its id.
func (g *Registry) live(r *Room) bool {
	cur, ok := g.Get(r.ID)
	return ok && cur == r
}

// Remove unregisters the room and marks it closed. It returns false if the
// room was already gone.
func (g *Registry) Remove(id string) (*Room, bool) {
	g.mu.Lock()
	r, ok := g.rooms[id]
	if ok {
		delete(g.rooms, id)
	}
	g.mu.Unlock()
	if !ok {
		return nil, false
	}

	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return r, true
}

// FindByHost returns another live room owned by the same host account.
func (g *Registry) FindByHost(userID, exceptID string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for id, r := range g.rooms {
		if id != exceptID && r.hostUserID == userID {
			return r, true
		}
	}
	return nil, false
}

// Rooms returns the live rooms ordered by creation time.
func (g *Registry) Rooms() []*Room {
	g.mu.RLock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool { return rooms[i].CreatedAt.Before(rooms[j].CreatedAt) })
	return rooms
}

func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// expiredLocked reports whether the room's host has been away longer than
// grace. A room whose host never connected counts as away since creation.
func (g *Registry) expiredLocked(r *Room, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hostDisconnectedAt != nil && now.Sub(*r.hostDisconnectedAt) > g.grace
}

// Sweep removes idle rooms and returns them.
func (g *Registry) Sweep(now time.Time) []*Room {
	g.mu.Lock()
	var evicted []*Room
	for id, r := range g.rooms {
		if g.expiredLocked(r, now) {
			delete(g.rooms, id)
			evicted = append(evicted, r)
		}
	}
	g.mu.Unlock()

	for _, r := range evicted {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
	}
	return evicted
}

// DirectoryEntry is one row of the public room listing.
type DirectoryEntry struct {
	RoomID          string `json:"roomId"`
	HostDisplayName string `json:"hostDisplayName"`
	CoverImageURL   string `json:"coverImageUrl"`
}

func (g *Registry) Directory() []DirectoryEntry {
	rooms := g.Rooms()
	entries := make([]DirectoryEntry, 0, len(rooms))
	for _, r := range rooms {
		entries = append(entries, r.directoryEntry())
	}
	return entries
}

// Entry returns the directory row of one room.
func (g *Registry) Entry(id string) (DirectoryEntry, bool) {
	r, ok := g.Get(id)
	if !ok {
		return DirectoryEntry{}, false
	}
	return r.directoryEntry(), true
}

// directoryEntry uses the active playlist's cover, falling back to the host
// avatar.
func (r *Room) directoryEntry() DirectoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := DirectoryEntry{RoomID: r.ID, HostDisplayName: r.host.Name, CoverImageURL: r.host.ImageURL}
	if p := r.activePlaylistLocked(); p != nil && p.ImageURL != "" {
		e.CoverImageURL = p.ImageURL
	}
	return e
}
