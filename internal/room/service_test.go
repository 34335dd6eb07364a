package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/music-vote-rooms/internal/spotify"
)

type fakePlayer struct {
	mu sync.Mutex

	playlists   []spotify.Playlist
	tracks      map[string][]spotify.Track
	playback    *spotify.Playback
	playbackErr error
	refreshErr  error
	refreshed   *spotify.TokenResponse

	pollTokens []string
	played     []string
	devices    []string
	skips      int
	pauses     int
	resumes    int
	volume     int
	lists      int
	refreshes  int

	onTracks func()
}

func (f *fakePlayer) GetCurrentPlayback(_ context.Context, token string) (*spotify.Playback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pollTokens = append(f.pollTokens, token)
	return f.playback, f.playbackErr
}

func (f *fakePlayer) PlayTrack(_ context.Context, _, deviceID, trackID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.played = append(f.played, trackID)
	f.devices = append(f.devices, deviceID)
	return nil
}

func (f *fakePlayer) SkipToNext(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.skips++
	return nil
}

func (f *fakePlayer) Pause(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauses++
	return nil
}

func (f *fakePlayer) Resume(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumes++
	return nil
}

func (f *fakePlayer) SetVolume(_ context.Context, _ string, percent int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.volume = percent
	return nil
}

func (f *fakePlayer) ListPlaylists(context.Context, string) ([]spotify.Playlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	return append([]spotify.Playlist(nil), f.playlists...), nil
}

func (f *fakePlayer) ListPlaylistTracks(_ context.Context, _, playlistID string) ([]spotify.Track, error) {
	f.mu.Lock()
	hook := f.onTracks
	tracks := f.tracks[playlistID]
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return tracks, nil
}

func (f *fakePlayer) RefreshToken(context.Context, string) (*spotify.TokenResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refreshed, nil
}

func (f *fakePlayer) playedTracks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.played...)
}

func (f *fakePlayer) setPlayback(pb *spotify.Playback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playback = pb
}

func spotifyTracks(n int) []spotify.Track {
	out := make([]spotify.Track, n)
	for i := range out {
		out[i] = spotify.Track{
			ID:       fmt.Sprintf("t%d", i),
			Name:     fmt.Sprintf("Track %d", i),
			Artists:  []spotify.Artist{{Name: "Artist"}},
			Duration: 200000,
		}
	}
	return out
}

func newFakePlayer() *fakePlayer {
	p := &fakePlayer{tracks: map[string][]spotify.Track{
		"p1": spotifyTracks(12),
		"p2": spotifyTracks(3),
	}}
	for _, id := range []string{"p1", "p2"} {
		pl := spotify.Playlist{ID: id, Name: "Playlist " + id}
		pl.Tracks.Total = len(p.tracks[id])
		p.playlists = append(p.playlists, pl)
	}
	return p
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeSubscriber struct {
	mu     sync.Mutex
	snaps  []*Snapshot
	closed []string
	seats  []uint64
}

func (s *fakeSubscriber) Update(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps = append(s.snaps, snap)
}

func (s *fakeSubscriber) Closed(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, reason)
}

func (s *fakeSubscriber) SeatTaken(seat uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seats = append(s.seats, seat)
}

func (s *fakeSubscriber) closeReasons() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.closed...)
}

type fakeTokens struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (f *fakeTokens) RefreshToken(_ context.Context, userID, access string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[userID] = access
	return nil
}

func newTestService(t *testing.T, p *fakePlayer, opts ...Option) (*Service, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: epoch}
	settings := Settings{
		PlaylistRefreshTicks: 300,
		TokenRefreshTicks:    3500,
		SweepTicks:           30,
		HostGrace:            time.Minute,
	}
	opts = append([]Option{WithSeed(1), WithClock(clock.Now)}, opts...)
	s := NewService(p, settings, zap.NewNop(), opts...)
	t.Cleanup(s.Shutdown)
	return s, clock
}

// openRoom creates a room for u1, seats the host and activates p1.
func openRoom(t *testing.T, s *Service) (*Room, Voter) {
	t.Helper()
	ctx := context.Background()
	r, old, err := s.CreateRoom(ctx, testHost("u1", "Hosty"))
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	if old != "" {
		t.Fatalf("unexpected old room %s", old)
	}
	adm, err := s.Join(r.ID, "u1")
	if err != nil || adm.Role != JoinAsHost {
		t.Fatalf("Join: %s, %v", adm.Role, err)
	}
	if err := s.ChangePlaylist(ctx, r.ID, adm.Voter, "p1"); err != nil {
		t.Fatalf("ChangePlaylist: %v", err)
	}
	return r, adm.Voter
}

func TestCreateRoomLoadsPlaylists(t *testing.T) {
	s, _ := newTestService(t, newFakePlayer())
	r, _, err := s.CreateRoom(context.Background(), testHost("u1", "Hosty"))
	if err != nil {
		t.Fatal(err)
	}
	snap := r.Snapshot()
	if len(snap.Playlists) != 2 || snap.ActivePlaylist != nil || len(snap.Candidates) != 0 {
		t.Errorf("snapshot = %+v", snap)
	}
	if id, ok := s.RoomOfHost("u1"); !ok || id != r.ID {
		t.Errorf("RoomOfHost = %s, %v", id, ok)
	}

	_, old, err := s.CreateRoom(context.Background(), testHost("u1", "Hosty"))
	if err != nil {
		t.Fatal(err)
	}
	if old != r.ID {
		t.Errorf("old room = %q, want %s", old, r.ID)
	}
}

func TestChangePlaylist(t *testing.T) {
	s, _ := newTestService(t, newFakePlayer())
	r, _ := openRoom(t, s)
	ctx := context.Background()

	snap := r.Snapshot()
	if snap.ActivePlaylist == nil || snap.ActivePlaylist.ID != "p1" || len(snap.Candidates) != CandidateCount {
		t.Fatalf("snapshot = %+v", snap)
	}

	if err := s.ChangePlaylist(ctx, r.ID, Voter{Name: "x"}, "p1"); !errors.Is(err, ErrRejected) {
		t.Errorf("participant change: %v", err)
	}
	if err := s.ChangePlaylist(ctx, r.ID, Voter{Host: true}, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown playlist: %v", err)
	}
	if err := s.ChangePlaylist(ctx, r.ID, Voter{Host: true}, "p2"); !errors.Is(err, ErrInsufficientTracks) {
		t.Errorf("small playlist: %v", err)
	}
	if after := r.Snapshot(); after.ActivePlaylist.ID != "p1" {
		t.Errorf("active playlist changed to %s after failure", after.ActivePlaylist.ID)
	}
}

func TestSkipQuorumRerollsCandidates(t *testing.T) {
	s, _ := newTestService(t, newFakePlayer())
	r, _ := openRoom(t, s)
	ctx := context.Background()
	for _, name := range []string{"Alice", "Bob"} {
		if _, err := s.ChooseName(r.ID, name); err != nil {
			t.Fatal(err)
		}
	}
	before := r.Snapshot()

	if _, err := s.Vote(ctx, r.ID, Voter{Name: "Bob"}, VoteFor(before.Candidates[0].ID)); err != nil {
		t.Fatal(err)
	}
	if outcome, err := s.Vote(ctx, r.ID, Voter{Host: true}, Skip()); err != nil || outcome != QuorumNotMet {
		t.Fatalf("first skip: %s, %v", outcome, err)
	}
	outcome, err := s.Vote(ctx, r.ID, Voter{Name: "Alice"}, Skip())
	if err != nil || outcome != RerollDue {
		t.Fatalf("second skip: %s, %v", outcome, err)
	}

	after := r.Snapshot()
	if after.Host.Vote != (Choice{}) {
		t.Errorf("host vote survived reroll: %v", after.Host.Vote)
	}
	for _, p := range after.Participants {
		if p.Vote != (Choice{}) {
			t.Errorf("%s vote survived reroll: %v", p.Name, p.Vote)
		}
	}
	for _, c := range after.Candidates {
		if c.VoteCount != 0 {
			t.Errorf("candidate %s kept %d votes", c.ID, c.VoteCount)
		}
	}
	if before.Candidates[0].ID == after.Candidates[0].ID {
		t.Error("slot 0 not replaced")
	}
}

func playbackAt(trackID string, progress, duration int) *spotify.Playback {
	return &spotify.Playback{
		Device:     &spotify.Device{ID: "device-1", VolumePercent: 60},
		Item:       &spotify.Track{ID: trackID, Name: trackID, Duration: duration},
		ProgressMs: progress,
		IsPlaying:  true,
	}
}

func TestAutoAdvanceLatch(t *testing.T) {
	p := newFakePlayer()
	s, _ := newTestService(t, p)
	r, _ := openRoom(t, s)
	ctx := context.Background()

	winner := r.Snapshot().Candidates[2].ID
	if _, err := s.Vote(ctx, r.ID, Voter{Host: true}, VoteFor(winner)); err != nil {
		t.Fatal(err)
	}

	p.setPlayback(playbackAt("current", 198500, 200000))
	if err := s.Tick(ctx, r.ID, 1); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	played := p.playedTracks()
	if len(played) != 1 || played[0] != winner {
		t.Fatalf("played = %v, want [%s]", played, winner)
	}
	if p.devices[0] != "device-1" {
		t.Errorf("device = %q", p.devices[0])
	}
	for _, c := range r.Snapshot().Candidates {
		if c.ID == winner {
			t.Error("winner is still a candidate")
		}
	}

	if err := s.Tick(ctx, r.ID, 2); err != nil {
		t.Fatal(err)
	}
	if got := len(p.playedTracks()); got != 1 {
		t.Fatalf("advanced twice for one track end: %d", got)
	}

	p.setPlayback(playbackAt(winner, 10000, 200000))
	if err := s.Tick(ctx, r.ID, 3); err != nil {
		t.Fatal(err)
	}
	p.setPlayback(playbackAt(winner, 199000, 200000))
	if err := s.Tick(ctx, r.ID, 4); err != nil {
		t.Fatal(err)
	}
	if got := len(p.playedTracks()); got != 2 {
		t.Errorf("played %d tracks, want 2 after the latch reset", got)
	}
}

func TestPlayingCandidateIsReplaced(t *testing.T) {
	p := newFakePlayer()
	s, _ := newTestService(t, p)
	r, host := openRoom(t, s)
	ctx := context.Background()
	if _, err := s.ChooseName(r.ID, "Alice"); err != nil {
		t.Fatal(err)
	}

	before := r.Snapshot()
	playing := before.Candidates[1].ID
	kept := before.Candidates[2].ID
	if _, err := s.Vote(ctx, r.ID, host, VoteFor(playing)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Vote(ctx, r.ID, Voter{Name: "Alice"}, VoteFor(kept)); err != nil {
		t.Fatal(err)
	}
	voted := r.Snapshot().Revision

	p.setPlayback(playbackAt(playing, 10000, 200000))
	if err := s.Tick(ctx, r.ID, 1); err != nil {
		t.Fatal(err)
	}

	after := r.Snapshot()
	if after.Revision <= voted {
		t.Errorf("revision %d not bumped past %d", after.Revision, voted)
	}
	if len(after.Candidates) != CandidateCount {
		t.Fatalf("candidates = %v", after.Candidates)
	}
	seen := map[string]bool{}
	for i, c := range after.Candidates {
		if c.ID == playing {
			t.Errorf("slot %d still holds the playing track", i)
		}
		if seen[c.ID] {
			t.Errorf("slot %d duplicates %s", i, c.ID)
		}
		seen[c.ID] = true
		if i != 1 && c.ID != before.Candidates[i].ID {
			t.Errorf("slot %d changed from %s to %s", i, before.Candidates[i].ID, c.ID)
		}
	}
	if after.Candidates[1].VoteCount != 0 {
		t.Errorf("replacement carries %d votes", after.Candidates[1].VoteCount)
	}
	if after.Candidates[2].VoteCount != 1 {
		t.Errorf("untouched slot lost its vote: %d", after.Candidates[2].VoteCount)
	}
	if after.Host.Vote != (Choice{}) {
		t.Errorf("host still votes for the playing track: %v", after.Host.Vote)
	}
	if len(after.Participants) != 1 || after.Participants[0].Vote != VoteFor(kept) {
		t.Errorf("participants = %+v", after.Participants)
	}
	if len(p.playedTracks()) != 0 {
		t.Errorf("played = %v", p.playedTracks())
	}

	if err := s.Tick(ctx, r.ID, 2); err != nil {
		t.Fatal(err)
	}
	if again := r.Snapshot(); again.Revision != after.Revision {
		t.Errorf("steady playback bumped revision %d -> %d", after.Revision, again.Revision)
	}
}

func TestPeriodicRefreshesFollowHostPresence(t *testing.T) {
	p := newFakePlayer()
	p.refreshed = &spotify.TokenResponse{AccessToken: "fresh", ExpiresAt: epoch.Add(time.Hour)}
	s, _ := newTestService(t, p)
	r, host := openRoom(t, s)
	ctx := context.Background()

	counts := func() (int, int) {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.lists, p.refreshes
	}
	lists, refreshes := counts()

	if err := s.Tick(ctx, r.ID, 299); err != nil {
		t.Fatal(err)
	}
	if l, rf := counts(); l != lists || rf != refreshes {
		t.Errorf("off-period tick: lists %d -> %d, refreshes %d -> %d", lists, l, refreshes, rf)
	}

	if err := s.Tick(ctx, r.ID, 300); err != nil {
		t.Fatal(err)
	}
	if l, _ := counts(); l != lists+1 {
		t.Errorf("playlist refresh tick: lists = %d, want %d", l, lists+1)
	}
	if err := s.Tick(ctx, r.ID, 3500); err != nil {
		t.Fatal(err)
	}
	if _, rf := counts(); rf != refreshes+1 {
		t.Errorf("token refresh tick: refreshes = %d, want %d", rf, refreshes+1)
	}

	s.Leave(r.ID, host)
	lists, refreshes = counts()
	for _, n := range []int{600, 7000} {
		if err := s.Tick(ctx, r.ID, n); err != nil {
			t.Fatal(err)
		}
	}
	if l, rf := counts(); l != lists || rf != refreshes {
		t.Errorf("host away: lists %d -> %d, refreshes %d -> %d", lists, l, refreshes, rf)
	}
}

func TestDecideAndPlayWithoutPlaylistSkips(t *testing.T) {
	p := newFakePlayer()
	s, _ := newTestService(t, p)
	r, _, err := s.CreateRoom(context.Background(), testHost("u1", "Hosty"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.DecideAndPlay(context.Background(), r.ID, Voter{Host: true}); err != nil {
		t.Fatal(err)
	}
	if p.skips != 1 || len(p.played) != 0 {
		t.Errorf("skips = %d, played = %v", p.skips, p.played)
	}
	if err := s.DecideAndPlay(context.Background(), r.ID, Voter{Name: "a"}); !errors.Is(err, ErrRejected) {
		t.Errorf("participant skip: %v", err)
	}
}

func TestExpiredCredentialClosesRoom(t *testing.T) {
	p := newFakePlayer()
	s, _ := newTestService(t, p)
	r, _ := openRoom(t, s)
	sub := &fakeSubscriber{}
	if err := s.Attach(r.ID, sub); err != nil {
		t.Fatal(err)
	}

	p.playbackErr = fmt.Errorf("poll: %w", spotify.ErrUnauthorized)
	p.refreshErr = errors.New("invalid_grant")

	if err := s.Tick(context.Background(), r.ID, 1); err != nil {
		t.Fatalf("first failure closed the room: %v", err)
	}
	if _, ok := s.Registry().Get(r.ID); !ok {
		t.Fatal("room removed after one failure")
	}

	if err := s.Tick(context.Background(), r.ID, 2); !errors.Is(err, ErrExpired) {
		t.Fatalf("second failure: %v", err)
	}
	if _, ok := s.Registry().Get(r.ID); ok {
		t.Error("room still registered")
	}
	if reasons := sub.closeReasons(); len(reasons) != 1 || reasons[0] != ReasonExpired {
		t.Errorf("close reasons = %v", reasons)
	}
}

func TestRefreshedCredentialIsUsed(t *testing.T) {
	p := newFakePlayer()
	tokens := &fakeTokens{tokens: map[string]string{}}
	s, _ := newTestService(t, p, WithTokenStore(tokens))
	r, _ := openRoom(t, s)

	p.playbackErr = spotify.ErrUnauthorized
	p.refreshed = &spotify.TokenResponse{AccessToken: "fresh", ExpiresAt: epoch.Add(time.Hour)}
	if err := s.Tick(context.Background(), r.ID, 1); err != nil {
		t.Fatal(err)
	}

	p.mu.Lock()
	p.playbackErr = nil
	p.mu.Unlock()
	if err := s.Tick(context.Background(), r.ID, 2); err != nil {
		t.Fatal(err)
	}

	p.mu.Lock()
	last := p.pollTokens[len(p.pollTokens)-1]
	p.mu.Unlock()
	if last != "fresh" {
		t.Errorf("polled with %q, want fresh", last)
	}
	if tokens.tokens["u1"] != "fresh" {
		t.Errorf("stored token = %q", tokens.tokens["u1"])
	}
}

func TestRoomDeletedDuringUpstreamCall(t *testing.T) {
	p := newFakePlayer()
	s, _ := newTestService(t, p)
	r, _, err := s.CreateRoom(context.Background(), testHost("u1", "Hosty"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Join(r.ID, "u1"); err != nil {
		t.Fatal(err)
	}

	p.onTracks = func() {
		if err := s.Close(r.ID, Voter{Host: true}); err != nil {
			t.Errorf("Close: %v", err)
		}
	}
	err = s.ChangePlaylist(context.Background(), r.ID, Voter{Host: true}, "p1")
	if !IsGone(err) {
		t.Fatalf("err = %v, want room gone", err)
	}
	if err := s.Tick(context.Background(), r.ID, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("tick on deleted room: %v", err)
	}
}

func TestHostControls(t *testing.T) {
	p := newFakePlayer()
	s, _ := newTestService(t, p)
	r, _ := openRoom(t, s)
	ctx := context.Background()
	host := Voter{Host: true}

	if err := s.TogglePlaystate(ctx, r.ID, host); !errors.Is(err, ErrNotFound) {
		t.Errorf("toggle without player: %v", err)
	}

	p.setPlayback(playbackAt("x", 1000, 200000))
	if err := s.Tick(ctx, r.ID, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.TogglePlaystate(ctx, r.ID, host); err != nil {
		t.Fatal(err)
	}
	if p.pauses != 1 {
		t.Errorf("pauses = %d", p.pauses)
	}

	if err := s.ChangeVolume(ctx, r.ID, host, 150); err != nil {
		t.Fatal(err)
	}
	if p.volume != 100 {
		t.Errorf("volume = %d, want clamped 100", p.volume)
	}
	if err := s.ChangeVolume(ctx, r.ID, Voter{Name: "a"}, 10); !errors.Is(err, ErrRejected) {
		t.Errorf("participant volume: %v", err)
	}
	if err := s.Close(r.ID, Voter{Name: "a"}); !errors.Is(err, ErrRejected) {
		t.Errorf("participant close: %v", err)
	}
}

func TestResolveDuplicate(t *testing.T) {
	for _, keepOld := range []bool{false, true} {
		t.Run(fmt.Sprintf("keepOld=%v", keepOld), func(t *testing.T) {
			s, _ := newTestService(t, newFakePlayer())
			ctx := context.Background()
			oldRoom, _, err := s.CreateRoom(ctx, testHost("u1", "Hosty"))
			if err != nil {
				t.Fatal(err)
			}
			oldSub := &fakeSubscriber{}
			if err := s.Attach(oldRoom.ID, oldSub); err != nil {
				t.Fatal(err)
			}
			newRoom, _, err := s.CreateRoom(ctx, testHost("u1", "Hosty"))
			if err != nil {
				t.Fatal(err)
			}

			adm, err := s.Join(newRoom.ID, "u1")
			if err != nil || adm.Role != JoinDuplicate || adm.DuplicateOf != oldRoom.ID {
				t.Fatalf("Join = %+v, %v", adm, err)
			}
			if _, err := s.ResolveDuplicate(newRoom.ID, "intruder", keepOld); !errors.Is(err, ErrRejected) {
				t.Errorf("non-host resolve: %v", err)
			}

			got, err := s.ResolveDuplicate(newRoom.ID, "u1", keepOld)
			if err != nil || got != oldRoom.ID {
				t.Fatalf("ResolveDuplicate = %s, %v", got, err)
			}
			_, oldAlive := s.Registry().Get(oldRoom.ID)
			_, newAlive := s.Registry().Get(newRoom.ID)
			if oldAlive != keepOld || newAlive == keepOld {
				t.Errorf("old alive %v, new alive %v", oldAlive, newAlive)
			}
			if !keepOld && len(oldSub.closeReasons()) != 1 {
				t.Error("subscriber of the dropped room not notified")
			}
		})
	}
}

func TestLeaveAndSweep(t *testing.T) {
	s, clock := newTestService(t, newFakePlayer())
	r, host := openRoom(t, s)
	ctx := context.Background()

	if _, err := s.ChooseName(r.ID, "Alice"); err != nil {
		t.Fatal(err)
	}
	cand := r.Snapshot().Candidates[0].ID
	if _, err := s.Vote(ctx, r.ID, Voter{Name: "Alice"}, VoteFor(cand)); err != nil {
		t.Fatal(err)
	}
	s.Leave(r.ID, Voter{Name: "Alice"})
	snap := r.Snapshot()
	if len(snap.Participants) != 0 || snap.Candidates[0].VoteCount != 0 {
		t.Errorf("after leave: %+v", snap)
	}

	s.Leave(r.ID, host)
	clock.Advance(30 * time.Second)
	if n := s.Sweep(); n != 0 {
		t.Fatalf("swept %d within grace", n)
	}
	clock.Advance(31 * time.Second)
	if n := s.Sweep(); n != 1 {
		t.Fatalf("swept %d after grace", n)
	}
	if _, err := s.Join(r.ID, "u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("join evicted room: %v", err)
	}
}

func TestHostReconnectRetiresStaleSocket(t *testing.T) {
	s, clock := newTestService(t, newFakePlayer())
	r, stale := openRoom(t, s)
	staleSub := &fakeSubscriber{}
	if err := s.Attach(r.ID, staleSub); err != nil {
		t.Fatal(err)
	}

	clock.Advance(5 * time.Second)
	adm, err := s.Join(r.ID, "u1")
	if err != nil || adm.Role != JoinAsHost {
		t.Fatalf("reconnecting host: %+v, %v", adm, err)
	}
	if adm.Voter.Seat == stale.Seat {
		t.Fatal("reconnect did not take a new seat")
	}
	staleSub.mu.Lock()
	seats := append([]uint64(nil), staleSub.seats...)
	staleSub.mu.Unlock()
	if len(seats) != 1 || seats[0] != adm.Voter.Seat {
		t.Errorf("seat notifications = %v", seats)
	}

	// The old socket is only noticed gone later.
	s.Detach(r.ID, staleSub)
	s.Leave(r.ID, stale)
	clock.Advance(61 * time.Second)
	if n := s.Sweep(); n != 0 {
		t.Fatalf("room evicted while the host is connected: %d", n)
	}

	s.Leave(r.ID, adm.Voter)
	clock.Advance(61 * time.Second)
	if n := s.Sweep(); n != 1 {
		t.Errorf("swept %d after the current host left", n)
	}
}
