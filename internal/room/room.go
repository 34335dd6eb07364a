package room

import (
	"encoding/json"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/music-vote-rooms/internal/spotify"
)

const (
	CandidateCount = 4
	maxNameLength  = 15
)

type Artist struct {
	Name string `json:"name"`
}

type Track struct {
	ID         string
	Name       string
	Artists    []Artist
	ImageURL   string
	DurationMs int
}

func (t Track) clone() Track {
	t.Artists = append([]Artist(nil), t.Artists...)
	return t
}

func (t Track) firstArtist() string {
	if len(t.Artists) == 0 {
		return ""
	}
	return t.Artists[0].Name
}

type Candidate struct {
	Track
	VoteCount int
}

// Playlist is one of the host's playlists. Tracks stays nil until the
// playlist is activated and its tracks are fetched.
type Playlist struct {
	ID         string
	Name       string
	ImageURL   string
	URL        string
	TrackTotal int
	Tracks     []Track
}

func (p *Playlist) materialized() bool { return p.Tracks != nil }

type ChoiceKind int

const (
	NoVote ChoiceKind = iota
	TrackVote
	SkipVote
)

const skipWire = "skip"

// Choice is a voter's current vote.
type Choice struct {
	Kind    ChoiceKind
	TrackID string
}

func VoteFor(trackID string) Choice { return Choice{Kind: TrackVote, TrackID: trackID} }

func Skip() Choice { return Choice{Kind: SkipVote} }

// ParseChoice maps the wire value of a vote to a Choice.
func ParseChoice(s string) Choice {
	switch s {
	case "":
		return Choice{}
	case skipWire:
		return Skip()
	}
	return VoteFor(s)
}

func (c Choice) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case TrackVote:
		return json.Marshal(c.TrackID)
	case SkipVote:
		return json.Marshal(skipWire)
	}
	return []byte("null"), nil
}

func (c *Choice) UnmarshalJSON(data []byte) error {
	var s *string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == nil {
		*c = Choice{}
		return nil
	}
	*c = ParseChoice(*s)
	return nil
}

// Host is the account whose player and playlists drive the room.
type Host struct {
	UserID       string
	Name         string
	ImageURL     string
	AccessToken  string
	RefreshToken string
	Vote         Choice
}

type Participant struct {
	Name string `json:"name"`
	Vote Choice `json:"voted"`
}

// Voter identifies who casts a vote or issues a command in a room.
type Voter struct {
	Host bool
	Name string
	// Seat is the host seat generation the socket holds. A newer host
	// socket bumps it, which retires the older one.
	Seat uint64
}

type PlayerSnapshot struct {
	IsPlaying  bool
	ProgressMs int
	DurationMs int
	Volume     int
	DeviceID   string
	Track      Track
}

// Progress is the played share of the track in percent, rounded to 2 decimals.
func (p *PlayerSnapshot) Progress() float64 {
	if p.DurationMs <= 0 {
		return 0
	}
	return math.Round(float64(p.ProgressMs)/float64(p.DurationMs)*10000) / 100
}

func (p *PlayerSnapshot) TimeLeftMs() int { return p.DurationMs - p.ProgressMs }

func (p *PlayerSnapshot) clone() *PlayerSnapshot {
	if p == nil {
		return nil
	}
	c := *p
	c.Track = p.Track.clone()
	return &c
}

// Room is one listening session. All fields are guarded by mu; callers in this
// package take the lock for the duration of one logical operation and never
// across calls to the external player.
type Room struct {
	ID         string
	CreatedAt  time.Time
	hostUserID string

	mu                      sync.Mutex
	host                    Host
	participants            []Participant
	playlists               []*Playlist
	activePlaylistID        string
	candidates              []Candidate
	player                  *PlayerSnapshot
	hostDisconnectedAt      *time.Time
	autoAdvanceArmed        bool
	firstConnectionConsumed bool
	pendingDuplicate        string
	hostSeat                uint64
	refreshFailures         int
	revision                uint64
	closed                  bool
	rng                     *rand.Rand
}

func newRoom(id string, host Host, playlists []*Playlist, now time.Time, seed int64) *Room {
	host.Vote = Choice{}
	// The grace clock runs from creation until the host first connects.
	created := now
	return &Room{
		ID:                 id,
		CreatedAt:          now,
		hostUserID:         host.UserID,
		host:               host,
		playlists:          playlists,
		hostDisconnectedAt: &created,
		rng:                rand.New(rand.NewSource(seed)),
	}
}

// HostUserID never changes over the room's life.
func (r *Room) HostUserID() string { return r.hostUserID }

func (r *Room) touch() { r.revision++ }

func (r *Room) playlistByIDLocked(id string) *Playlist {
	for _, p := range r.playlists {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (r *Room) activePlaylistLocked() *Playlist {
	if r.activePlaylistID == "" {
		return nil
	}
	return r.playlistByIDLocked(r.activePlaylistID)
}

func (r *Room) candidateLocked(trackID string) *Candidate {
	for i := range r.candidates {
		if r.candidates[i].ID == trackID {
			return &r.candidates[i]
		}
	}
	return nil
}

func (r *Room) participantLocked(name string) *Participant {
	for i := range r.participants {
		if r.participants[i].Name == name {
			return &r.participants[i]
		}
	}
	return nil
}

// voteSlotLocked resolves the vote storage of a voter, or nil if unknown.
func (r *Room) voteSlotLocked(v Voter) *Choice {
	if v.Host {
		return &r.host.Vote
	}
	if p := r.participantLocked(v.Name); p != nil {
		return &p.Vote
	}
	return nil
}

func (r *Room) playingTrackIDLocked() string {
	if r.player == nil {
		return ""
	}
	return r.player.Track.ID
}

func (r *Room) hostAttachedLocked() bool {
	return r.firstConnectionConsumed && r.hostDisconnectedAt == nil && r.pendingDuplicate == ""
}

// validateName trims the requested name and checks it against the room.
func (r *Room) validateNameLocked(requested string) (string, error) {
	name := strings.TrimSpace(requested)
	switch {
	case name == "":
		return "", &NameRejectedError{Reason: NameEmpty}
	case utf8.RuneCountInString(name) > maxNameLength:
		return "", &NameRejectedError{Reason: NameTooLong}
	case name == r.host.Name || r.participantLocked(name) != nil:
		return "", &NameRejectedError{Reason: NameTaken}
	}
	return name, nil
}

// AddParticipant registers a named participant and returns the stored name.
func (r *Room) AddParticipant(requested string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrNotFound
	}
	name, err := r.validateNameLocked(requested)
	if err != nil {
		return "", err
	}
	r.participants = append(r.participants, Participant{Name: name})
	r.touch()
	return name, nil
}

// RemoveParticipant drops a participant and withdraws their vote.
func (r *Room) RemoveParticipant(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.participants {
		if r.participants[i].Name != name {
			continue
		}
		r.withdrawLocked(r.participants[i].Vote)
		r.participants = append(r.participants[:i], r.participants[i+1:]...)
		r.touch()
		return true
	}
	return false
}

// applyPlaybackLocked replaces the player snapshot with the polled state.
func (r *Room) applyPlaybackLocked(pb *spotify.Playback) {
	var next *PlayerSnapshot
	if pb != nil && pb.Device != nil && pb.Item != nil {
		next = &PlayerSnapshot{
			IsPlaying:  pb.IsPlaying,
			ProgressMs: pb.ProgressMs,
			DurationMs: pb.Item.Duration,
			Volume:     pb.Device.VolumePercent,
			DeviceID:   pb.Device.ID,
			Track:      trackFromSpotify(*pb.Item),
		}
	}
	if !playerEqual(r.player, next) {
		r.player = next
		r.touch()
	}
}

// autoAdvanceDueLocked updates the advance latch and reports whether the next
// track should be started now.
func (r *Room) autoAdvanceDueLocked() bool {
	if r.player == nil || r.activePlaylistID == "" {
		return false
	}
	left := r.player.TimeLeftMs()
	switch {
	case left < autoAdvanceWindowMs && !r.autoAdvanceArmed:
		r.autoAdvanceArmed = true
		return true
	case r.player.ProgressMs > autoAdvanceWindowMs && left > autoAdvanceWindowMs && r.autoAdvanceArmed:
		r.autoAdvanceArmed = false
	}
	return false
}

func trackFromSpotify(t spotify.Track) Track {
	track := Track{ID: t.ID, Name: t.Name, DurationMs: t.Duration}
	for _, a := range t.Artists {
		track.Artists = append(track.Artists, Artist{Name: a.Name})
	}
	if len(t.Album.Images) > 0 {
		track.ImageURL = t.Album.Images[0].URL
	}
	return track
}

func playlistFromSpotify(p spotify.Playlist) *Playlist {
	pl := &Playlist{ID: p.ID, Name: p.Name, URL: p.ExternalURLs.Spotify, TrackTotal: p.Tracks.Total}
	if len(p.Images) > 0 {
		pl.ImageURL = p.Images[0].URL
	}
	return pl
}

// PlaylistsFromSpotify converts the upstream playlist listing.
func PlaylistsFromSpotify(in []spotify.Playlist) []*Playlist {
	out := make([]*Playlist, 0, len(in))
	for _, p := range in {
		out = append(out, playlistFromSpotify(p))
	}
	return out
}

func tracksFromSpotify(in []spotify.Track) []Track {
	out := make([]Track, 0, len(in))
	for _, t := range in {
		out = append(out, trackFromSpotify(t))
	}
	return out
}
