package room

// catalogueChange summarises a playlist refresh for logging.
type catalogueChange struct {
	Added, Replaced, Removed int
}

func (c catalogueChange) empty() bool { return c == catalogueChange{} }

// mergePlaylistsLocked folds a fresh upstream listing into the host's
// playlists. Known playlists whose track count changed are replaced, which
// drops their fetched tracks. Playlists gone upstream are removed unless
// active.
func (r *Room) mergePlaylistsLocked(fetched []*Playlist) catalogueChange {
	var change catalogueChange
	present := make(map[string]bool, len(fetched))

	for _, np := range fetched {
		present[np.ID] = true
		idx := -1
		for i, p := range r.playlists {
			if p.ID == np.ID {
				idx = i
				break
			}
		}
		if idx < 0 {
			r.playlists = append(r.playlists, np)
			change.Added++
			continue
		}

		if r.playlists[idx].TrackTotal != np.TrackTotal {
			r.playlists[idx] = np
			change.Replaced++
		}
	}

	kept := r.playlists[:0]
	for _, p := range r.playlists {
		if present[p.ID] || p.ID == r.activePlaylistID {
			kept = append(kept, p)
			continue
		}
		change.Removed++
	}
	r.playlists = kept

	if !change.empty() {
		r.touch()
	}
	return change
}
