package client

import (
	"time"

	"github.com/DoyleJ11/jamsync/internal/catalog"
	"github.com/DoyleJ11/jamsync/internal/player"
	"github.com/DoyleJ11/jamsync/pkg/types"
)

// Reconcile computes the local playback target for snapshot s. src is only
// used when it belongs to the snapshot's current song.
func Reconcile(s types.Session, src player.Source, receivedAt, now time.Time) player.Target {
	if src.SongID != s.CurrentSong.SongID {
		src = player.Source{}
	}
	return player.Target{
		Source:   src,
		Position: Position(s, receivedAt, now),
		Playing:  s.IsPlaying(),
	}
}

// Position derives where playback of s should be at local time now, given
// that the snapshot arrived at receivedAt. Elapsed time is measured on the
// server clock up to the broadcast and on the local clock afterwards, so a
// constant offset between the two clocks cancels out.
func Position(s types.Session, receivedAt, now time.Time) float64 {
	pos := s.CurrentSong.PlaybackPositionAtStart
	if !s.IsPlaying() {
		return pos
	}

	var elapsed time.Duration
	if s.ServerTime.IsZero() {
		elapsed = now.Sub(s.CurrentSong.StartedAt)
	} else {
		elapsed = s.ServerTime.Sub(s.CurrentSong.StartedAt) + now.Sub(receivedAt)
	}
	if elapsed > 0 {
		pos += elapsed.Seconds()
	}
	return pos
}

// Newer reports whether version should replace last. The first snapshot of
// a session is always accepted.
func Newer(version, last int, seen bool) bool {
	return !seen || version > last
}

// SourceOf turns a catalog entry into something the player can load.
func SourceOf(songID string, song catalog.Song) player.Source {
	return player.Source{
		SongID:       songID,
		AdaptiveURL:  song.AdaptiveStreamURL,
		FallbackURL:  song.FallbackURL,
		DurationHint: song.DurationHint,
	}
}
