package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/jamsync/internal/catalog"
	"github.com/DoyleJ11/jamsync/internal/player"
	"github.com/DoyleJ11/jamsync/pkg/types"
)

var t0 = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func snapshot(state string, startedAt time.Time, at float64, serverTime time.Time) types.Session {
	return types.Session{
		ID:            "s1",
		Queue:         []string{"A", "B"},
		CurrentSong:   types.CurrentSong{SongID: "A", StartedAt: startedAt, PlaybackPositionAtStart: at},
		PlaybackState: state,
		ServerTime:    serverTime,
	}
}

func TestPosition_Paused(t *testing.T) {
	s := snapshot(types.ActionPaused, t0, 42, t0.Add(time.Minute))
	require.Equal(t, 42.0, Position(s, t0, t0.Add(time.Hour)))
}

func TestPosition_PlayingUsesServerTime(t *testing.T) {
	// Local clock runs 10 minutes behind the server; the offset cancels out.
	s := snapshot(types.ActionPlaying, t0, 5, t0.Add(20*time.Second))
	receivedAt := t0.Add(20*time.Second - 10*time.Minute)
	now := receivedAt.Add(3 * time.Second)

	require.InDelta(t, 28.0, Position(s, receivedAt, now), 1e-9)
}

func TestPosition_WithoutServerTime(t *testing.T) {
	s := snapshot(types.ActionPlaying, t0, 5, time.Time{})
	require.InDelta(t, 15.0, Position(s, t0, t0.Add(10*time.Second)), 1e-9)
}

func TestPosition_NeverRewindsBeforeAnchor(t *testing.T) {
	s := snapshot(types.ActionPlaying, t0.Add(time.Minute), 5, t0)
	require.Equal(t, 5.0, Position(s, t0, t0))
}

func TestReconcile(t *testing.T) {
	s := snapshot(types.ActionPlaying, t0, 0, t0.Add(2*time.Second))
	src := player.Source{SongID: "A", FallbackURL: "http://cdn/a.mp3"}

	target := Reconcile(s, src, t0.Add(2*time.Second), t0.Add(3*time.Second))
	assert.Equal(t, src, target.Source)
	assert.True(t, target.Playing)
	assert.InDelta(t, 3.0, target.Position, 1e-9)

	// A source resolved for another song is never loaded.
	stale := Reconcile(s, player.Source{SongID: "B"}, t0, t0)
	assert.True(t, stale.Source.IsZero())
}

func TestNewer(t *testing.T) {
	assert.True(t, Newer(0, 0, false))
	assert.True(t, Newer(3, 2, true))
	assert.False(t, Newer(2, 2, true))
	assert.False(t, Newer(1, 2, true))
}

func TestSourceOf(t *testing.T) {
	src := SourceOf("A", catalog.Song{AdaptiveStreamURL: "http://cdn/a.m3u8", FallbackURL: "http://cdn/a.mp3", DurationHint: 180})
	require.Equal(t, player.Source{SongID: "A", AdaptiveURL: "http://cdn/a.m3u8", FallbackURL: "http://cdn/a.mp3", DurationHint: 180}, src)
}
