package room

import "reflect"

const (
	placeholderPlaylistName  = "Host is selecting"
	placeholderPlaylistImage = "https://via.placeholder.com/152x152"
	placeholderTrackName     = "Spotify isn't running"
	placeholderTrackImage    = "https://via.placeholder.com/75x75"
	placeholderTrackArtist   = "Start Spotify"
)

// Snapshot is a deep copy of the client-visible room state. It is never
// mutated after creation, so one snapshot can serve as the diff baseline of
// several clients.
type Snapshot struct {
	Revision       uint64
	Host           HostState
	Candidates     []Candidate
	ActivePlaylist *PlaylistSummary
	Participants   []Participant
	Player         *PlayerSnapshot
	Playlists      []PlaylistSummary
}

type HostState struct {
	Name     string
	ImageURL string
	Vote     Choice
}

type PlaylistSummary struct {
	ID         string
	Name       string
	ImageURL   string
	URL        string
	TrackTotal int
}

// Snapshot copies the current state under the room lock.
func (r *Room) Snapshot() *Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Room) snapshotLocked() *Snapshot {
	s := &Snapshot{
		Revision: r.revision,
		Host: HostState{
			Name:     r.host.Name,
			ImageURL: r.host.ImageURL,
			Vote:     r.host.Vote,
		},
		Candidates:   make([]Candidate, len(r.candidates)),
		Participants: append([]Participant{}, r.participants...),
		Player:       r.player.clone(),
		Playlists:    make([]PlaylistSummary, 0, len(r.playlists)),
	}
	for i, c := range r.candidates {
		s.Candidates[i] = Candidate{Track: c.Track.clone(), VoteCount: c.VoteCount}
	}
	for _, p := range r.playlists {
		s.Playlists = append(s.Playlists, summarize(p))
	}
	if p := r.activePlaylistLocked(); p != nil {
		sum := summarize(p)
		s.ActivePlaylist = &sum
	}
	return s
}

func summarize(p *Playlist) PlaylistSummary {
	return PlaylistSummary{ID: p.ID, Name: p.Name, ImageURL: p.ImageURL, URL: p.URL, TrackTotal: p.TrackTotal}
}

// View selects what a recipient gets to see.
type View struct {
	Host bool
}

type HostView struct {
	Name     string `json:"name,omitempty"`
	ImageURL string `json:"img,omitempty"`
	Voted    Choice `json:"voted"`
}

// TrackView is a candidate slot. A slot whose track did not change carries
// only the vote count.
type TrackView struct {
	ID        string   `json:"id,omitempty"`
	Name      string   `json:"name,omitempty"`
	Artists   []Artist `json:"artists,omitempty"`
	ImageURL  string   `json:"img,omitempty"`
	VoteCount int      `json:"voteCount"`
}

type PlaylistView struct {
	Name     string `json:"name"`
	ImageURL string `json:"img"`
	URL      string `json:"url"`
}

type PlayerTrackView struct {
	ID       string   `json:"id,omitempty"`
	Name     string   `json:"name"`
	ImageURL string   `json:"img"`
	Artists  []Artist `json:"artists"`
}

type PlayerView struct {
	Progress  float64          `json:"progress"`
	IsPlaying bool             `json:"isPlaying"`
	Volume    int              `json:"volume"`
	Track     *PlayerTrackView `json:"track,omitempty"`
}

type PlaylistRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Patch is both the full projection sent on first contact and the sparse
// update sent afterwards. A nil section means "unchanged"; a nil entry in
// CandidateTracks means that slot is unchanged.
type Patch struct {
	Host            *HostView      `json:"host,omitempty"`
	CandidateTracks *[]*TrackView  `json:"candidateTracks,omitempty"`
	ActivePlaylist  *PlaylistView  `json:"activePlaylist,omitempty"`
	Participants    *[]Participant `json:"participants,omitempty"`
	PlayerSnapshot  *PlayerView    `json:"playerSnapshot,omitempty"`
	Playlists       *[]PlaylistRef `json:"playlists,omitempty"`
}

func (p *Patch) Empty() bool {
	return p == nil || (p.Host == nil && p.CandidateTracks == nil && p.ActivePlaylist == nil &&
		p.Participants == nil && p.PlayerSnapshot == nil && p.Playlists == nil)
}

// Project renders the full state for a recipient, with placeholders where the
// room has nothing to show yet.
func Project(s *Snapshot, v View) *Patch {
	tracks := make([]*TrackView, len(s.Candidates))
	for i, c := range s.Candidates {
		tracks[i] = fullTrackView(c)
	}
	participants := participantsView(s.Participants)
	p := &Patch{
		Host: &HostView{
			Name:     s.Host.Name,
			ImageURL: s.Host.ImageURL,
			Voted:    s.Host.Vote,
		},
		CandidateTracks: &tracks,
		ActivePlaylist:  playlistView(s.ActivePlaylist),
		Participants:    &participants,
		PlayerSnapshot:  playerView(s.Player, true),
	}
	if v.Host {
		refs := playlistRefs(s.Playlists)
		p.Playlists = &refs
	}
	return p
}

// Diff returns what changed between the baseline a client holds and the
// current snapshot, or nil when nothing did. A nil baseline yields the full
// projection.
func Diff(baseline, current *Snapshot, v View) *Patch {
	if baseline == nil {
		return Project(current, v)
	}
	if baseline.Revision == current.Revision && baseline.Revision != 0 {
		return nil
	}

	p := &Patch{}
	if baseline.Host.Vote != current.Host.Vote {
		p.Host = &HostView{Voted: current.Host.Vote}
	}
	p.CandidateTracks = diffCandidates(baseline.Candidates, current.Candidates)
	if !sameName(baseline.ActivePlaylist, current.ActivePlaylist) {
		p.ActivePlaylist = playlistView(current.ActivePlaylist)
	}
	if !reflect.DeepEqual(baseline.Participants, current.Participants) {
		participants := participantsView(current.Participants)
		p.Participants = &participants
	}
	if !playerEqual(baseline.Player, current.Player) {
		p.PlayerSnapshot = playerView(current.Player, trackIdentity(baseline.Player) != trackIdentity(current.Player))
	}
	if v.Host && !reflect.DeepEqual(baseline.Playlists, current.Playlists) {
		refs := playlistRefs(current.Playlists)
		p.Playlists = &refs
	}

	if p.Empty() {
		return nil
	}
	return p
}

func diffCandidates(old, cur []Candidate) *[]*TrackView {
	if reflect.DeepEqual(old, cur) {
		return nil
	}
	out := make([]*TrackView, len(cur))
	if len(old) != len(cur) {
		for i, c := range cur {
			out[i] = fullTrackView(c)
		}
		return &out
	}
	for i := range cur {
		switch {
		case reflect.DeepEqual(old[i], cur[i]):
		case sameTrack(old[i].Track, cur[i].Track):
			out[i] = &TrackView{VoteCount: cur[i].VoteCount}
		default:
			out[i] = fullTrackView(cur[i])
		}
	}
	return &out
}

func sameTrack(a, b Track) bool {
	return a.ID == b.ID && a.Name == b.Name && a.ImageURL == b.ImageURL && reflect.DeepEqual(a.Artists, b.Artists)
}

func fullTrackView(c Candidate) *TrackView {
	return &TrackView{
		ID:        c.ID,
		Name:      c.Name,
		Artists:   append([]Artist{}, c.Artists...),
		ImageURL:  c.ImageURL,
		VoteCount: c.VoteCount,
	}
}

// sameName compares active playlists by name only; cover or url changes alone
// are not pushed.
func sameName(a, b *PlaylistSummary) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Name == b.Name
}

func playlistView(p *PlaylistSummary) *PlaylistView {
	if p == nil {
		return &PlaylistView{Name: placeholderPlaylistName, ImageURL: placeholderPlaylistImage}
	}
	return &PlaylistView{Name: p.Name, ImageURL: p.ImageURL, URL: p.URL}
}

func participantsView(in []Participant) []Participant {
	return append([]Participant{}, in...)
}

func playlistRefs(in []PlaylistSummary) []PlaylistRef {
	refs := make([]PlaylistRef, 0, len(in))
	for _, p := range in {
		refs = append(refs, PlaylistRef{ID: p.ID, Name: p.Name})
	}
	return refs
}

func playerView(p *PlayerSnapshot, withTrack bool) *PlayerView {
	v := &PlayerView{}
	if p != nil {
		v.Progress = p.Progress()
		v.IsPlaying = p.IsPlaying
		v.Volume = p.Volume
	}
	if !withTrack {
		return v
	}
	if p == nil {
		v.Track = &PlayerTrackView{
			Name:     placeholderTrackName,
			ImageURL: placeholderTrackImage,
			Artists:  []Artist{{Name: placeholderTrackArtist}},
		}
		return v
	}
	v.Track = &PlayerTrackView{
		ID:       p.Track.ID,
		Name:     p.Track.Name,
		ImageURL: p.Track.ImageURL,
		Artists:  append([]Artist{}, p.Track.Artists...),
	}
	return v
}

func trackIdentity(p *PlayerSnapshot) string {
	if p == nil {
		return ""
	}
	return p.Track.ID
}

func playerEqual(a, b *PlayerSnapshot) bool {
	return reflect.DeepEqual(a, b)
}
