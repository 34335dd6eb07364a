package room

import (
	"fmt"
	"math/rand"
)

// drawCandidates picks CandidateCount distinct tracks uniformly at random.
//
// A track is never drawn twice and never equals exclude. It also avoids the
// previous candidate still occupying a slot that has not been replaced yet,
// unless that leaves nothing to draw from.
func drawCandidates(rng *rand.Rand, tracks []Track, exclude string, previous []Candidate) ([]Candidate, error) {
	seen := make(map[string]bool, len(tracks))
	pool := make([]Track, 0, len(tracks))
	for _, t := range tracks {
		if t.ID == "" || t.ID == exclude || seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		pool = append(pool, t)
	}
	if len(pool) < CandidateCount {
		return nil, fmt.Errorf("%w: %d available", ErrInsufficientTracks, len(pool))
	}

	chosen := make(map[string]bool, CandidateCount)
	selected := make([]Candidate, 0, CandidateCount)
	for slot := 0; slot < CandidateCount; slot++ {
		stale := make(map[string]bool, len(previous))
		for j := slot; j < len(previous); j++ {
			stale[previous[j].ID] = true
		}

		eligible := make([]Track, 0, len(pool))
		fallback := make([]Track, 0, len(pool))
		for _, t := range pool {
			if chosen[t.ID] {
				continue
			}
			fallback = append(fallback, t)
			if !stale[t.ID] {
				eligible = append(eligible, t)
			}
		}
		if len(eligible) == 0 {
			eligible = fallback
		}

		pick := eligible[rng.Intn(len(eligible))]
		chosen[pick.ID] = true
		selected = append(selected, Candidate{Track: pick.clone()})
	}
	return selected, nil
}

// selectCandidatesLocked replaces the candidate set from a materialized
// playlist and clears every vote. On error the room is left unchanged.
func (r *Room) selectCandidatesLocked(p *Playlist, exclude string) error {
	selected, err := drawCandidates(r.rng, p.Tracks, exclude, r.candidates)
	if err != nil {
		return err
	}

	r.host.Vote = Choice{}
	for i := range r.participants {
		r.participants[i].Vote = Choice{}
	}
	for i := range r.candidates {
		r.candidates[i].VoteCount = 0
	}
	r.candidates = selected
	r.touch()
	return nil
}

// replacePlayingCandidateLocked redraws the slot holding the track that is
// playing right now, when the host started it outside the room. Votes for
// that slot are withdrawn; the other slots keep theirs.
func (r *Room) replacePlayingCandidateLocked(p *Playlist) error {
	playing := r.playingTrackIDLocked()
	slot := r.candidateLocked(playing)
	if playing == "" || slot == nil {
		return nil
	}

	taken := make(map[string]bool, len(r.candidates)+1)
	taken[playing] = true
	for _, c := range r.candidates {
		taken[c.ID] = true
	}
	pool := make([]Track, 0, len(p.Tracks))
	for _, t := range p.Tracks {
		if t.ID == "" || taken[t.ID] {
			continue
		}
		taken[t.ID] = true
		pool = append(pool, t)
	}
	if len(pool) == 0 {
		return fmt.Errorf("%w: no replacement for %s", ErrInsufficientTracks, playing)
	}

	stale := VoteFor(playing)
	if r.host.Vote == stale {
		r.host.Vote = Choice{}
	}
	for i := range r.participants {
		if r.participants[i].Vote == stale {
			r.participants[i].Vote = Choice{}
		}
	}
	*slot = Candidate{Track: pool[r.rng.Intn(len(pool))].clone()}
	r.touch()
	return nil
}
