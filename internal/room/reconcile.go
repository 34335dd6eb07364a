package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/music-vote-rooms/internal/spotify"
)

const (
	// The next track is started when less than this is left of the current one.
	autoAdvanceWindowMs = 3000

	maxRefreshFailures = 2
	pollTimeout        = 5 * time.Second
)

func every(n, period int) bool {
	return period > 0 && n%period == 0
}

func (s *Service) startLoop(r *Room) {
	if s.settings.TickInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.mu.Lock()
	s.loops[r.ID] = cancel
	s.mu.Unlock()

	go s.reconcile(ctx, r.ID)
}

// reconcile polls the host's player for one room until the room is gone.
func (s *Service) reconcile(ctx context.Context, roomID string) {
	ticker := time.NewTicker(s.settings.TickInterval)
	defer ticker.Stop()

	n := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n++
			if err := s.Tick(ctx, roomID, n); errors.Is(err, ErrNotFound) {
				return
			}
		}
	}
}

// Tick runs the n-th reconciliation pass of a room: poll playback, advance
// when the track is about to end, refresh the catalogue and the credential
// on their periods, and push the result to attached clients.
func (s *Service) Tick(ctx context.Context, roomID string, n int) error {
	r, err := s.room(roomID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	token := r.host.AccessToken
	hostHere := r.hostAttachedLocked()
	r.mu.Unlock()

	pollCtx, cancel := context.WithTimeout(ctx, pollTimeout)
	pb, err := s.player.GetCurrentPlayback(pollCtx, token)
	cancel()

	switch {
	case errors.Is(err, spotify.ErrUnauthorized):
		s.log.Warn("host credential rejected", zap.String("room_id", r.ID))
		if err := s.refreshCredential(ctx, r); errors.Is(err, ErrExpired) {
			return err
		}
	case err != nil:
		s.log.Warn("failed to poll playback", zap.String("room_id", r.ID), zap.Error(err))
	default:
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return errRoomGone
		}
		r.applyPlaybackLocked(pb)
		due := r.autoAdvanceDueLocked()
		activeID := r.activePlaylistID
		playingCandidate := activeID != "" && r.candidateLocked(r.playingTrackIDLocked()) != nil
		r.mu.Unlock()

		switch {
		case due:
			if err := s.advance(ctx, r); err != nil {
				if IsGone(err) {
					return err
				}
				s.log.Warn("failed to start next track", zap.String("room_id", r.ID), zap.Error(err))
			}
		case playingCandidate:
			// The host started one of the candidates from their own player.
			if err := s.withPlaylistTracks(ctx, r, activeID, r.replacePlayingCandidateLocked); err != nil {
				if IsGone(err) {
					return err
				}
				s.log.Warn("failed to replace playing candidate", zap.String("room_id", r.ID), zap.Error(err))
			}
		}
	}

	if hostHere && every(n, s.settings.PlaylistRefreshTicks) {
		if err := s.refreshCatalogue(ctx, r); err != nil {
			s.log.Warn("failed to refresh playlists", zap.String("room_id", r.ID), zap.Error(err))
		}
	}
	if hostHere && every(n, s.settings.TokenRefreshTicks) {
		if err := s.refreshCredential(ctx, r); errors.Is(err, ErrExpired) {
			return err
		} else if err != nil {
			s.log.Warn("failed to refresh credential", zap.String("room_id", r.ID), zap.Error(err))
		}
	}

	if !s.registry.live(r) {
		return errRoomGone
	}
	s.broadcast(r)
	return nil
}

func (s *Service) refreshCatalogue(ctx context.Context, r *Room) error {
	r.mu.Lock()
	token := r.host.AccessToken
	r.mu.Unlock()

	playlists, err := s.player.ListPlaylists(ctx, token)
	if err != nil {
		return upstream("list playlists", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errRoomGone
	}
	change := r.mergePlaylistsLocked(PlaylistsFromSpotify(playlists))
	r.mu.Unlock()

	if !change.empty() {
		s.log.Info("playlists refreshed",
			zap.String("room_id", r.ID),
			zap.Int("added", change.Added),
			zap.Int("replaced", change.Replaced),
			zap.Int("removed", change.Removed))
	}
	return nil
}

// refreshCredential swaps the host's access token. After maxRefreshFailures
// consecutive failures the room is closed and ErrExpired returned.
func (s *Service) refreshCredential(ctx context.Context, r *Room) error {
	r.mu.Lock()
	refreshToken := r.host.RefreshToken
	userID := r.hostUserID
	r.mu.Unlock()

	tok, err := s.player.RefreshToken(ctx, refreshToken)
	if err != nil {
		r.mu.Lock()
		r.refreshFailures++
		failures := r.refreshFailures
		r.mu.Unlock()

		if failures >= maxRefreshFailures {
			s.closeRoom(r.ID, ReasonExpired)
			return fmt.Errorf("room %s: %w", r.ID, ErrExpired)
		}
		return upstream("refresh token", err)
	}

	r.mu.Lock()
	r.host.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		r.host.RefreshToken = tok.RefreshToken
	}
	r.refreshFailures = 0
	r.mu.Unlock()

	if err := s.tokens.RefreshToken(ctx, userID, tok.AccessToken, tok.ExpiresAt); err != nil {
		s.log.Warn("failed to store refreshed token", zap.String("room_id", r.ID), zap.Error(err))
	}
	s.log.Debug("host credential refreshed", zap.String("room_id", r.ID))
	return nil
}

// Run is the janitor: it evicts idle rooms every SweepTicks ticks until ctx
// is done, then stops all room loops.
func (s *Service) Run(ctx context.Context) {
	defer s.Shutdown()
	if s.settings.TickInterval <= 0 || s.settings.SweepTicks <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(s.settings.TickInterval * time.Duration(s.settings.SweepTicks))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.log.Info("evicted idle rooms", zap.Int("count", n))
			}
		}
	}
}
