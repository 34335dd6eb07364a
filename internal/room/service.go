package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/music-vote-rooms/internal/spotify"
	"github.com/music-vote-rooms/pkg/events"
)

const (
	ReasonClosedByHost = "Room has been closed"
	ReasonExpired      = "host session expired"
	ReasonInactive     = "Room was closed due to inactivity"
	ReasonReplaced     = "Host chose another room"
	ReasonHostMoved    = "Host connected from another window"

	sideEffectTimeout = 5 * time.Second
)

var errRoomGone = fmt.Errorf("room no longer exists: %w", ErrNotFound)

// Player is the external playback service.
type Player interface {
	GetCurrentPlayback(ctx context.Context, accessToken string) (*spotify.Playback, error)
	PlayTrack(ctx context.Context, accessToken, deviceID, trackID string) error
	SkipToNext(ctx context.Context, accessToken string) error
	Pause(ctx context.Context, accessToken string) error
	Resume(ctx context.Context, accessToken string) error
	SetVolume(ctx context.Context, accessToken string, percent int) error
	ListPlaylists(ctx context.Context, accessToken string) ([]spotify.Playlist, error)
	ListPlaylistTracks(ctx context.Context, accessToken, playlistID string) ([]spotify.Track, error)
	RefreshToken(ctx context.Context, refreshToken string) (*spotify.TokenResponse, error)
}

// TokenStore keeps the host's refreshed credential where the auth layer
// reads it.
type TokenStore interface {
	RefreshToken(ctx context.Context, userID, accessToken string, expiresAt time.Time) error
}

type EventPublisher interface {
	PublishRoomEvent(ctx context.Context, roomID string, eventType events.EventType, payload interface{}) error
}

// Archive records room lifecycles and played tracks.
type Archive interface {
	RoomOpened(ctx context.Context, code, hostUserID string) error
	RoomClosed(ctx context.Context, code, reason string) error
	TrackPlayed(ctx context.Context, code, trackID, trackName, artist string, votes int) error
}

// Subscriber is an attached client. No method may block.
type Subscriber interface {
	Update(s *Snapshot)
	Closed(reason string)
	// SeatTaken tells clients that a host socket now holds seat; a client
	// holding an older host seat must go.
	SeatTaken(seat uint64)
}

type Settings struct {
	// TickInterval <= 0 disables the background loops; Tick and Sweep can
	// then be driven by the caller.
	TickInterval         time.Duration
	PlaylistRefreshTicks int
	TokenRefreshTicks    int
	SweepTicks           int
	HostGrace            time.Duration
}

type Service struct {
	registry *Registry
	player   Player
	tokens   TokenStore
	events   EventPublisher
	archive  Archive
	log      *zap.Logger
	settings Settings
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	loops map[string]context.CancelFunc
	subs  map[string]map[Subscriber]struct{}

	sideEffects sync.WaitGroup
}

type Option func(*Service)

func WithTokenStore(t TokenStore) Option { return func(s *Service) { s.tokens = t } }

func WithEvents(e EventPublisher) Option { return func(s *Service) { s.events = e } }

func WithArchive(a Archive) Option { return func(s *Service) { s.archive = a } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithSeed(seed int64) Option {
	return func(s *Service) { s.registry = NewRegistry(s.settings.HostGrace, seed) }
}

func NewService(player Player, settings Settings, log *zap.Logger, opts ...Option) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		player:   player,
		tokens:   nopTokens{},
		events:   nopEvents{},
		archive:  nopArchive{},
		log:      log,
		settings: settings,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		loops:    make(map[string]context.CancelFunc),
		subs:     make(map[string]map[Subscriber]struct{}),
	}
	s.registry = NewRegistry(settings.HostGrace, time.Now().UnixNano())
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Registry() *Registry { return s.registry }

func (s *Service) room(id string) (*Room, error) {
	r, ok := s.registry.Get(id)
	if !ok {
		return nil, fmt.Errorf("room %s: %w", id, ErrNotFound)
	}
	return r, nil
}

// CreateRoom opens a room for the host with the host's current playlists. It
// also returns the id of another room the host already owns, if any.
func (s *Service) CreateRoom(ctx context.Context, host Host) (*Room, string, error) {
	playlists, err := s.player.ListPlaylists(ctx, host.AccessToken)
	if err != nil {
		return nil, "", upstream("list playlists", err)
	}

	r, err := s.registry.Create(host, PlaylistsFromSpotify(playlists), s.now())
	if err != nil {
		return nil, "", fmt.Errorf("failed to create room: %w", err)
	}
	var oldID string
	if old, ok := s.registry.FindByHost(host.UserID, r.ID); ok {
		oldID = old.ID
	}

	s.startLoop(r)
	s.log.Info("room created",
		zap.String("room_id", r.ID),
		zap.String("host", host.Name),
		zap.Int("playlists", len(playlists)))

	s.sideEffect(func(ctx context.Context) {
		if err := s.archive.RoomOpened(ctx, r.ID, host.UserID); err != nil {
			s.log.Warn("failed to archive room", zap.String("room_id", r.ID), zap.Error(err))
		}
		s.publishCtx(ctx, r.ID, events.EventTypeRoomCreated, events.RoomCreatedPayload{HostName: host.Name})
	})
	return r, oldID, nil
}

// RoomOfHost returns the id of a live room owned by the host account.
func (s *Service) RoomOfHost(userID string) (string, bool) {
	r, ok := s.registry.FindByHost(userID, "")
	if !ok {
		return "", false
	}
	return r.ID, true
}

func (s *Service) Directory() []DirectoryEntry {
	return s.registry.Directory()
}

// Admission is the outcome of Join.
type Admission struct {
	Role JoinRole
	// Voter is set for JoinAsHost and JoinDuplicate.
	Voter Voter
	// DuplicateOf is the host's other room for JoinDuplicate.
	DuplicateOf string
}

// Join admits a socket to the room. userID is the authenticated account of
// the socket, empty for anonymous participants.
func (s *Service) Join(roomID, userID string) (Admission, error) {
	r, err := s.room(roomID)
	if err != nil {
		return Admission{}, err
	}

	var duplicateOf string
	if userID != "" && userID == r.HostUserID() {
		if old, ok := s.registry.FindByHost(userID, r.ID); ok {
			duplicateOf = old.ID
		}
	}

	role, seat, err := r.claimHost(userID, duplicateOf, s.now(), s.settings.HostGrace)
	if err != nil {
		return Admission{Role: role}, err
	}
	adm := Admission{Role: role}
	switch role {
	case JoinAsHost:
		adm.Voter = Voter{Host: true, Seat: seat}
		s.log.Info("host connected", zap.String("room_id", r.ID), zap.Uint64("seat", seat))
		s.seatTaken(r.ID, seat)
	case JoinDuplicate:
		adm.Voter = Voter{Host: true, Seat: seat}
		adm.DuplicateOf = duplicateOf
		s.log.Info("host owns another room", zap.String("room_id", r.ID), zap.String("old_room_id", duplicateOf))
	}
	return adm, nil
}

func (s *Service) seatTaken(roomID string, seat uint64) {
	s.mu.Lock()
	subs := make([]Subscriber, 0, len(s.subs[roomID]))
	for sub := range s.subs[roomID] {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	for _, sub := range subs {
		sub.SeatTaken(seat)
	}
}

// ChooseName adds an anonymous socket as a named participant.
func (s *Service) ChooseName(roomID, name string) (string, error) {
	r, err := s.room(roomID)
	if err != nil {
		return "", err
	}
	stored, err := r.AddParticipant(name)
	if err != nil {
		return "", err
	}
	s.log.Info("participant joined", zap.String("room_id", r.ID), zap.String("name", stored))
	s.broadcast(r)
	s.publish(r.ID, events.EventTypeUserJoined, events.UserJoinedPayload{UserName: stored})
	return stored, nil
}

// ResolveDuplicate applies the host's choice between the room in roomID and
// the older room it already owned. Exactly one of the two is deleted. The id
// of the older room is returned.
func (s *Service) ResolveDuplicate(roomID, userID string, keepOld bool) (string, error) {
	r, err := s.room(roomID)
	if err != nil {
		return "", err
	}
	if userID == "" || userID != r.HostUserID() {
		return "", fmt.Errorf("only the host can resolve a duplicate room: %w", ErrRejected)
	}
	oldID := r.pendingDuplicateOf()
	if oldID == "" {
		return "", fmt.Errorf("room %s has no pending duplicate: %w", r.ID, ErrRejected)
	}

	if keepOld {
		s.closeRoom(r.ID, ReasonReplaced)
		s.log.Info("host kept the older room", zap.String("room_id", oldID))
		return oldID, nil
	}
	s.closeRoom(oldID, ReasonReplaced)
	if err := r.keepAfterDuplicate(oldID); err != nil {
		return "", err
	}
	s.log.Info("host kept the new room", zap.String("room_id", r.ID))
	return oldID, nil
}

// Leave is called when a socket goes away.
func (s *Service) Leave(roomID string, v Voter) {
	r, ok := s.registry.Get(roomID)
	if !ok {
		return
	}
	if v.Host {
		if r.hostLeft(v.Seat, s.now()) {
			s.log.Info("host disconnected", zap.String("room_id", r.ID))
		}
		return
	}
	if v.Name == "" || !r.RemoveParticipant(v.Name) {
		return
	}
	s.log.Info("participant left", zap.String("room_id", r.ID), zap.String("name", v.Name))
	s.broadcast(r)
	s.publish(r.ID, events.EventTypeUserLeft, events.UserJoinedPayload{UserName: v.Name})
}

// Vote records a vote and rerolls the candidates when it completes a skip
// quorum.
func (s *Service) Vote(ctx context.Context, roomID string, v Voter, c Choice) (VoteOutcome, error) {
	r, err := s.room(roomID)
	if err != nil {
		return VoteRecorded, err
	}

	r.mu.Lock()
	outcome, err := r.castVoteLocked(v, c)
	skips, voters := r.skipVotesLocked(), len(r.participants)+1
	r.mu.Unlock()
	if err != nil {
		return outcome, err
	}
	s.broadcast(r)

	if c.Kind == SkipVote {
		s.log.Info("skip vote",
			zap.String("room_id", r.ID),
			zap.Int("skips", skips),
			zap.Int("voters", voters),
			zap.Stringer("outcome", outcome))
	}
	if outcome == RerollDue {
		if err := s.reroll(ctx, r); err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}

// reroll replaces the candidates without touching playback.
func (s *Service) reroll(ctx context.Context, r *Room) error {
	r.mu.Lock()
	activeID := r.activePlaylistID
	r.mu.Unlock()
	if activeID == "" {
		return nil
	}

	err := s.withPlaylistTracks(ctx, r, activeID, func(p *Playlist) error {
		return r.selectCandidatesLocked(p, r.playingTrackIDLocked())
	})
	if err != nil {
		return err
	}
	s.log.Info("candidates rerolled", zap.String("room_id", r.ID))
	s.broadcast(r)
	s.publish(r.ID, events.EventTypeCandidatesRerolled, nil)
	return nil
}

// ChangePlaylist activates one of the host's playlists and draws the first
// candidates from it.
func (s *Service) ChangePlaylist(ctx context.Context, roomID string, v Voter, playlistID string) error {
	r, err := s.room(roomID)
	if err != nil {
		return err
	}
	if !v.Host {
		return fmt.Errorf("only the host can change the playlist: %w", ErrRejected)
	}

	r.mu.Lock()
	p := r.playlistByIDLocked(playlistID)
	same := r.activePlaylistID == playlistID
	r.mu.Unlock()
	if p == nil {
		return fmt.Errorf("playlist %s: %w", playlistID, ErrNotFound)
	}
	if same {
		return nil
	}

	err = s.withPlaylistTracks(ctx, r, playlistID, func(p *Playlist) error {
		if err := r.selectCandidatesLocked(p, r.playingTrackIDLocked()); err != nil {
			return err
		}
		r.activePlaylistID = p.ID
		r.touch()
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("playlist changed", zap.String("room_id", r.ID), zap.String("playlist_id", playlistID))
	s.broadcast(r)
	return nil
}

// withPlaylistTracks runs fn under the room lock once the playlist's tracks
// are fetched. The fetch itself happens without the lock.
func (s *Service) withPlaylistTracks(ctx context.Context, r *Room, playlistID string, fn func(p *Playlist) error) error {
	for attempt := 0; attempt < 2; attempt++ {
		if err := s.ensureTracks(ctx, r, playlistID); err != nil {
			return err
		}
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return errRoomGone
		}
		p := r.playlistByIDLocked(playlistID)
		if p == nil {
			r.mu.Unlock()
			return fmt.Errorf("playlist %s: %w", playlistID, ErrNotFound)
		}
		if p.materialized() {
			err := fn(p)
			r.mu.Unlock()
			return err
		}
		// Replaced by a catalogue refresh while fetching; fetch again.
		r.mu.Unlock()
	}
	return fmt.Errorf("playlist %s changed while loading: %w", playlistID, ErrUpstreamUnavailable)
}

func (s *Service) ensureTracks(ctx context.Context, r *Room, playlistID string) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errRoomGone
	}
	p := r.playlistByIDLocked(playlistID)
	if p == nil {
		r.mu.Unlock()
		return fmt.Errorf("playlist %s: %w", playlistID, ErrNotFound)
	}
	if p.materialized() {
		r.mu.Unlock()
		return nil
	}
	token := r.host.AccessToken
	r.mu.Unlock()

	tracks, err := s.player.ListPlaylistTracks(ctx, token, playlistID)
	if err != nil {
		return upstream("list playlist tracks", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errRoomGone
	}
	if p := r.playlistByIDLocked(playlistID); p != nil && !p.materialized() {
		p.Tracks = tracksFromSpotify(tracks)
	}
	return nil
}

// DecideAndPlay starts the most voted candidate and draws new candidates.
// Without an active playlist it just skips to the next track upstream.
func (s *Service) DecideAndPlay(ctx context.Context, roomID string, v Voter) error {
	if !v.Host {
		return fmt.Errorf("only the host can skip: %w", ErrRejected)
	}
	r, err := s.room(roomID)
	if err != nil {
		return err
	}
	return s.advance(ctx, r)
}

func (s *Service) advance(ctx context.Context, r *Room) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errRoomGone
	}
	token := r.host.AccessToken
	var deviceID string
	if r.player != nil {
		deviceID = r.player.DeviceID
	}
	activeID := r.activePlaylistID
	winner, ok := r.pickWinnerLocked()
	winner = Candidate{Track: winner.Track.clone(), VoteCount: winner.VoteCount}
	r.mu.Unlock()

	if activeID == "" || !ok {
		if err := s.player.SkipToNext(ctx, token); err != nil {
			return upstream("skip to next", err)
		}
		s.log.Info("skipped to next track", zap.String("room_id", r.ID))
		return nil
	}

	if err := s.player.PlayTrack(ctx, token, deviceID, winner.ID); err != nil {
		return upstream("play track", err)
	}
	s.log.Info("track started",
		zap.String("room_id", r.ID),
		zap.String("track", winner.Name),
		zap.Int("votes", winner.VoteCount))
	s.sideEffect(func(ctx context.Context) {
		if err := s.archive.TrackPlayed(ctx, r.ID, winner.ID, winner.Name, winner.firstArtist(), winner.VoteCount); err != nil {
			s.log.Warn("failed to archive played track", zap.String("room_id", r.ID), zap.Error(err))
		}
		s.publishCtx(ctx, r.ID, events.EventTypeSongStarted, events.SongStartedPayload{
			TrackID:   winner.ID,
			TrackName: winner.Name,
			Artist:    winner.firstArtist(),
			Votes:     winner.VoteCount,
		})
	})

	err := s.withPlaylistTracks(ctx, r, activeID, func(p *Playlist) error {
		return r.selectCandidatesLocked(p, winner.ID)
	})
	s.broadcast(r)
	return err
}

// TogglePlaystate pauses a playing player and resumes a paused one.
func (s *Service) TogglePlaystate(ctx context.Context, roomID string, v Voter) error {
	if !v.Host {
		return fmt.Errorf("only the host can pause: %w", ErrRejected)
	}
	r, err := s.room(roomID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.player == nil {
		r.mu.Unlock()
		return fmt.Errorf("nothing is playing: %w", ErrNotFound)
	}
	playing := r.player.IsPlaying
	token := r.host.AccessToken
	r.mu.Unlock()

	if playing {
		err = s.player.Pause(ctx, token)
	} else {
		err = s.player.Resume(ctx, token)
	}
	if err != nil {
		return upstream("toggle playstate", err)
	}
	s.log.Info("playstate toggled", zap.String("room_id", r.ID), zap.Bool("playing", !playing))
	return nil
}

func (s *Service) ChangeVolume(ctx context.Context, roomID string, v Voter, percent int) error {
	if !v.Host {
		return fmt.Errorf("only the host can change the volume: %w", ErrRejected)
	}
	r, err := s.room(roomID)
	if err != nil {
		return err
	}
	if percent < 0 {
		percent = 0
	} else if percent > 100 {
		percent = 100
	}

	r.mu.Lock()
	token := r.host.AccessToken
	r.mu.Unlock()

	if err := s.player.SetVolume(ctx, token, percent); err != nil {
		return upstream("set volume", err)
	}
	s.log.Info("volume changed", zap.String("room_id", r.ID), zap.Int("volume", percent))
	return nil
}

// Close deletes the room on the host's request, regardless of grace.
func (s *Service) Close(roomID string, v Voter) error {
	if !v.Host {
		return fmt.Errorf("only the host can close the room: %w", ErrRejected)
	}
	if !s.closeRoom(roomID, ReasonClosedByHost) {
		return fmt.Errorf("room %s: %w", roomID, ErrNotFound)
	}
	return nil
}

func (s *Service) closeRoom(roomID, reason string) bool {
	r, ok := s.registry.Remove(roomID)
	if !ok {
		return false
	}
	s.finish(r, reason)
	return true
}

// finish tears down what is attached to an already unregistered room.
func (s *Service) finish(r *Room, reason string) {
	s.mu.Lock()
	if cancel, ok := s.loops[r.ID]; ok {
		cancel()
		delete(s.loops, r.ID)
	}
	subs := s.subs[r.ID]
	delete(s.subs, r.ID)
	s.mu.Unlock()

	for sub := range subs {
		sub.Closed(reason)
	}
	s.log.Info("room closed", zap.String("room_id", r.ID), zap.String("reason", reason))

	s.sideEffect(func(ctx context.Context) {
		if err := s.archive.RoomClosed(ctx, r.ID, reason); err != nil {
			s.log.Warn("failed to archive room close", zap.String("room_id", r.ID), zap.Error(err))
		}
		s.publishCtx(ctx, r.ID, events.EventTypeRoomClosed, events.RoomClosedPayload{Reason: reason})
	})
}

// Sweep evicts rooms whose host stayed away past the grace period.
func (s *Service) Sweep() int {
	evicted := s.registry.Sweep(s.now())
	for _, r := range evicted {
		s.finish(r, ReasonInactive)
	}
	return len(evicted)
}

// Attach registers a client for broadcasts of the room.
func (s *Service) Attach(roomID string, sub Subscriber) error {
	if _, err := s.room(roomID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[roomID] == nil {
		s.subs[roomID] = make(map[Subscriber]struct{})
	}
	s.subs[roomID][sub] = struct{}{}
	return nil
}

func (s *Service) Detach(roomID string, sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.subs[roomID]; ok {
		delete(m, sub)
		if len(m) == 0 {
			delete(s.subs, roomID)
		}
	}
}

// Snapshot returns the current state of a room.
func (s *Service) Snapshot(roomID string) (*Snapshot, error) {
	r, err := s.room(roomID)
	if err != nil {
		return nil, err
	}
	return r.Snapshot(), nil
}

func (s *Service) broadcast(r *Room) {
	s.mu.Lock()
	subs := make([]Subscriber, 0, len(s.subs[r.ID]))
	for sub := range s.subs[r.ID] {
		subs = append(subs, sub)
	}
	s.mu.Unlock()
	if len(subs) == 0 {
		return
	}

	snap := r.Snapshot()
	for _, sub := range subs {
		sub.Update(snap)
	}
}

func (s *Service) sideEffect(fn func(ctx context.Context)) {
	s.sideEffects.Add(1)
	go func() {
		defer s.sideEffects.Done()
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (s *Service) publish(roomID string, eventType events.EventType, payload interface{}) {
	s.sideEffect(func(ctx context.Context) {
		s.publishCtx(ctx, roomID, eventType, payload)
	})
}

func (s *Service) publishCtx(ctx context.Context, roomID string, eventType events.EventType, payload interface{}) {
	if err := s.events.PublishRoomEvent(ctx, roomID, eventType, payload); err != nil {
		s.log.Warn("failed to publish event",
			zap.String("room_id", roomID),
			zap.String("type", string(eventType)),
			zap.Error(err))
	}
}

// Shutdown stops every reconciliation loop and waits for pending side effects.
func (s *Service) Shutdown() {
	s.cancel()
	s.mu.Lock()
	s.loops = make(map[string]context.CancelFunc)
	s.mu.Unlock()
	s.sideEffects.Wait()
}

// IsGone reports whether err only says the room disappeared meanwhile.
func IsGone(err error) bool {
	return errors.Is(err, errRoomGone)
}

type nopTokens struct{}

func (nopTokens) RefreshToken(context.Context, string, string, time.Time) error { return nil }

type nopEvents struct{}

func (nopEvents) PublishRoomEvent(context.Context, string, events.EventType, interface{}) error {
	return nil
}

type nopArchive struct{}

func (nopArchive) RoomOpened(context.Context, string, string) error { return nil }

func (nopArchive) RoomClosed(context.Context, string, string) error { return nil }

func (nopArchive) TrackPlayed(context.Context, string, string, string, string, int) error {
	return nil
}
