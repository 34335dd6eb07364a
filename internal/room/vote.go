package room

import "fmt"

// Skip votes only count while the playing track is at most this far along.
const skipProgressGate = 90.0

type VoteOutcome int

const (
	VoteRecorded VoteOutcome = iota
	// QuorumNotMet: a skip vote was recorded but too few voters agree yet.
	QuorumNotMet
	// RerollDue: the skip quorum is reached and the candidates must be replaced.
	RerollDue
)

func (o VoteOutcome) String() string {
	switch o {
	case QuorumNotMet:
		return "quorum_not_met"
	case RerollDue:
		return "reroll_due"
	}
	return "recorded"
}

func (r *Room) withdrawLocked(c Choice) {
	if c.Kind != TrackVote {
		return
	}
	if t := r.candidateLocked(c.TrackID); t != nil && t.VoteCount > 0 {
		t.VoteCount--
	}
}

// castVoteLocked moves a voter's choice and keeps the per-track tallies in
// step with it.
func (r *Room) castVoteLocked(v Voter, c Choice) (VoteOutcome, error) {
	slot := r.voteSlotLocked(v)
	if slot == nil {
		return VoteRecorded, fmt.Errorf("voter %q: %w", v.Name, ErrNotFound)
	}

	var target *Candidate
	if c.Kind == TrackVote {
		if target = r.candidateLocked(c.TrackID); target == nil {
			return VoteRecorded, fmt.Errorf("track %q is not up for vote: %w", c.TrackID, ErrRejected)
		}
	}

	r.withdrawLocked(*slot)
	*slot = c
	if target != nil {
		target.VoteCount++
	}
	r.touch()

	if c.Kind != SkipVote {
		return VoteRecorded, nil
	}
	if r.player != nil && r.player.Progress() > skipProgressGate {
		return QuorumNotMet, nil
	}
	if r.activePlaylistID != "" && r.skipQuorumLocked() {
		return RerollDue, nil
	}
	return QuorumNotMet, nil
}

func (r *Room) skipVotesLocked() int {
	skips := 0
	if r.host.Vote.Kind == SkipVote {
		skips++
	}
	for _, p := range r.participants {
		if p.Vote.Kind == SkipVote {
			skips++
		}
	}
	return skips
}

// skipQuorumLocked compares against two thirds of everyone present, host
// included, without rounding.
func (r *Room) skipQuorumLocked() bool {
	voters := float64(len(r.participants) + 1)
	return float64(r.skipVotesLocked()) >= 2*voters/3
}

// pickWinnerLocked returns the most voted candidate, breaking ties uniformly
// at random.
func (r *Room) pickWinnerLocked() (Candidate, bool) {
	if len(r.candidates) == 0 {
		return Candidate{}, false
	}
	best := r.candidates[0].VoteCount
	for _, c := range r.candidates[1:] {
		if c.VoteCount > best {
			best = c.VoteCount
		}
	}
	var tied []Candidate
	for _, c := range r.candidates {
		if c.VoteCount == best {
			tied = append(tied, c)
		}
	}
	return tied[r.rng.Intn(len(tied))], true
}
