package engine

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newJam() Session {
	s := NewSession("s1", "ABC123", "host", "A", t0)
	s.Participants = append(s.Participants, "guest", "dj")
	s.HasControlPermissions = append(s.HasControlPermissions, "dj")
	s.Queue = append(s.Queue, "B", "C")
	return s
}

func ptr(f float64) *float64 { return &f }

func approx(t *testing.T, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("got %.6f, want %.6f", got, want)
	}
}

func TestNewSession_Defaults(t *testing.T) {
	s := NewSession("s1", "ABC123", "host", "A", t0)

	require.Equal(t, []string{"host"}, s.Participants)
	require.Equal(t, []string{"host"}, s.HasControlPermissions)
	require.Equal(t, []string{"A"}, s.Queue)
	require.Equal(t, CurrentSong{SongID: "A", StartedAt: t0}, s.CurrentSong)
	require.Equal(t, StatePaused, s.PlaybackState)
}

func TestPositionAt_DerivedFromAnchor(t *testing.T) {
	s := newJam()
	s.CurrentSong.PlaybackPositionAtStart = 12

	approx(t, s.PositionAt(t0.Add(5*time.Second)), 12) // paused: frozen

	s.PlaybackState = StatePlaying
	approx(t, s.PositionAt(t0.Add(5*time.Second)), 17)
	approx(t, s.PositionAt(t0.Add(-time.Second)), 12) // observation before anchor never rewinds
}

func TestControlPlayback_PauseResumeNeverJumps(t *testing.T) {
	s := newJam()
	now := t0

	steps := []struct {
		after  time.Duration
		action PlaybackState
	}{
		{1 * time.Second, StatePlaying},
		{10 * time.Second, StatePaused},
		{30 * time.Second, StatePlaying},
		{2500 * time.Millisecond, StatePaused},
		{time.Second, StatePlaying},
	}

	want := 0.0
	playing := false
	for _, step := range steps {
		now = now.Add(step.after)
		if playing {
			want += step.after.Seconds()
		}
		_, next, err := Apply(s, Command{Type: CmdControlPlayback, CallerID: "host", Action: step.action}, now)
		require.NoError(t, err)
		approx(t, next.CurrentSong.PlaybackPositionAtStart, want)
		approx(t, next.PositionAt(now), want)
		s = next
		playing = step.action == StatePlaying
	}

	approx(t, s.PositionAt(now.Add(4*time.Second)), want+4)
}

func TestControlPlayback_HintOverridesDerivedPosition(t *testing.T) {
	s := newJam()
	s.PlaybackState = StatePlaying

	_, next, err := Apply(s, Command{Type: CmdControlPlayback, CallerID: "dj", Action: StatePaused, PositionHint: ptr(42)}, t0.Add(time.Minute))
	require.NoError(t, err)
	approx(t, next.PositionAt(t0.Add(2*time.Minute)), 42)
	require.Equal(t, StatePaused, next.PlaybackState)
}

func TestSeekThenPause_FromTwoControllers(t *testing.T) {
	s := newJam()
	s.PlaybackState = StatePlaying

	seekAt := t0.Add(3 * time.Second)
	_, s, err := Apply(s, Command{Type: CmdSeek, CallerID: "host", Position: 90}, seekAt)
	require.NoError(t, err)
	require.Equal(t, StatePlaying, s.PlaybackState)

	pauseAt := seekAt.Add(50 * time.Millisecond)
	_, s, err = Apply(s, Command{Type: CmdControlPlayback, CallerID: "dj", Action: StatePaused}, pauseAt)
	require.NoError(t, err)

	require.Equal(t, StatePaused, s.PlaybackState)
	approx(t, s.PositionAt(pauseAt.Add(time.Hour)), 90.05)
}

func TestChangeSong_ResetsAnchorAndPlays(t *testing.T) {
	s := newJam()
	s.CurrentSong.PlaybackPositionAtStart = 77

	events, next, err := Apply(s, Command{Type: CmdChangeSong, CallerID: "host", SongID: "C"}, t0.Add(time.Second))
	require.NoError(t, err)
	require.True(t, ContainsEvent(events, EvtSongChanged))
	require.Equal(t, CurrentSong{SongID: "C", StartedAt: t0.Add(time.Second)}, next.CurrentSong)
	require.Equal(t, StatePlaying, next.PlaybackState)
}

func TestCommands_Rejected(t *testing.T) {
	cases := []struct {
		name     string
		cmd      Command
		wantErr  error
		wantCode string
	}{
		{
			name:     "stranger cannot seek",
			cmd:      Command{Type: CmdSeek, CallerID: "stranger", Position: 3},
			wantErr:  ErrUnauthorized,
			wantCode: CodeUnauthorized,
		},
		{
			name:     "listener cannot pause",
			cmd:      Command{Type: CmdControlPlayback, CallerID: "guest", Action: StatePaused},
			wantErr:  ErrForbidden,
			wantCode: CodeForbidden,
		},
		{
			name:     "listener cannot queue",
			cmd:      Command{Type: CmdAddToQueue, CallerID: "guest", SongID: "Z"},
			wantErr:  ErrForbidden,
			wantCode: CodeForbidden,
		},
		{
			name:     "change to song outside queue",
			cmd:      Command{Type: CmdChangeSong, CallerID: "host", SongID: "Z"},
			wantErr:  ErrSongNotInQueue,
			wantCode: CodeNotFound,
		},
		{
			name:     "controller that is not creator cannot grant",
			cmd:      Command{Type: CmdGiveControl, CallerID: "dj", TargetID: "guest"},
			wantErr:  ErrNotCreator,
			wantCode: CodeForbidden,
		},
		{
			name:     "grant to non participant",
			cmd:      Command{Type: CmdGiveControl, CallerID: "host", TargetID: "stranger"},
			wantErr:  ErrParticipantNotFound,
			wantCode: CodeNotFound,
		},
		{
			name:     "revoke creator",
			cmd:      Command{Type: CmdRevokeControl, CallerID: "host", TargetID: "host"},
			wantErr:  ErrRevokeCreator,
			wantCode: CodeForbidden,
		},
		{
			name:     "negative seek",
			cmd:      Command{Type: CmdSeek, CallerID: "host", Position: -1},
			wantErr:  ErrInvalidCommand,
			wantCode: CodeInvalidCommand,
		},
		{
			name:     "bogus action",
			cmd:      Command{Type: CmdControlPlayback, CallerID: "host", Action: "stopped"},
			wantErr:  ErrInvalidCommand,
			wantCode: CodeInvalidCommand,
		},
		{
			name:     "non creator ends session",
			cmd:      Command{Type: CmdEnd, CallerID: "dj"},
			wantErr:  ErrNotCreator,
			wantCode: CodeForbidden,
		},
		{
			name:     "stranger leaves",
			cmd:      Command{Type: CmdLeave, CallerID: "stranger"},
			wantErr:  ErrUnauthorized,
			wantCode: CodeUnauthorized,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newJam()
			before := s.Clone()

			events, next, err := Apply(s, tc.cmd, t0.Add(time.Second))
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("want %v, got %v", tc.wantErr, err)
			}
			require.Equal(t, tc.wantCode, Code(err))
			require.Nil(t, events)
			require.Equal(t, before, next, "rejected command must not change state")
			require.Equal(t, before, s, "input session must not be mutated")
		})
	}
}

func TestApply_DoesNotAliasInput(t *testing.T) {
	s := newJam()
	before := s.Clone()

	_, next, err := Apply(s, Command{Type: CmdAddToQueue, CallerID: "dj", SongID: "A"}, t0)
	require.NoError(t, err)
	next.Queue[0] = "mutated"
	next.Participants[0] = "mutated"

	require.Equal(t, before, s)
	require.Equal(t, []string{"mutated", "B", "C", "A"}, next.Queue)
}

func TestAddToQueue_AllowsDuplicates(t *testing.T) {
	s := newJam()

	_, s, err := Apply(s, Command{Type: CmdAddToQueue, CallerID: "host", SongID: "B"}, t0)
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B", "C", "B"}, s.Queue)
}

func TestControlPermission_CreatorAlwaysHoldsIt(t *testing.T) {
	s := newJam()

	_, s, err := Apply(s, Command{Type: CmdGiveControl, CallerID: "host", TargetID: "guest"}, t0)
	require.NoError(t, err)
	require.True(t, s.CanControl("guest"))

	_, s, err = Apply(s, Command{Type: CmdGiveControl, CallerID: "host", TargetID: "guest"}, t0)
	require.NoError(t, err)
	require.Equal(t, []string{"host", "dj", "guest"}, s.HasControlPermissions, "grant is idempotent")

	_, s, err = Apply(s, Command{Type: CmdRevokeControl, CallerID: "host", TargetID: "dj"}, t0)
	require.NoError(t, err)
	require.False(t, s.CanControl("dj"))

	_, _, err = Apply(s, Command{Type: CmdRevokeControl, CallerID: "host", TargetID: "host"}, t0)
	require.ErrorIs(t, err, ErrRevokeCreator)
	require.True(t, s.CanControl("host"))
}

func TestJoin_IsIdempotent(t *testing.T) {
	s := newJam()

	events, s, err := Apply(s, Command{Type: CmdJoin, CallerID: "newbie"}, t0)
	require.NoError(t, err)
	require.True(t, ContainsEvent(events, EvtParticipantJoined))
	require.False(t, s.CanControl("newbie"))

	events, again, err := Apply(s, Command{Type: CmdJoin, CallerID: "newbie"}, t0)
	require.NoError(t, err)
	require.Empty(t, events)
	require.Equal(t, s, again)
}

func TestLeave(t *testing.T) {
	t.Run("controller leaves, session continues", func(t *testing.T) {
		events, s, err := Apply(newJam(), Command{Type: CmdLeave, CallerID: "dj"}, t0)
		require.NoError(t, err)
		_, ended := EndReason(events)
		require.False(t, ended)
		require.Equal(t, []string{"host", "guest"}, s.Participants)
		require.Equal(t, []string{"host"}, s.HasControlPermissions)
	})

	t.Run("creator leaves, session terminates", func(t *testing.T) {
		events, s, err := Apply(newJam(), Command{Type: CmdLeave, CallerID: "host"}, t0)
		require.NoError(t, err)
		reason, ended := EndReason(events)
		require.True(t, ended)
		require.Equal(t, ReasonCreatorLeft, reason)
		require.Contains(t, s.HasControlPermissions, "host")
	})

	t.Run("creator ends explicitly", func(t *testing.T) {
		events, _, err := Apply(newJam(), Command{Type: CmdEnd, CallerID: "host"}, t0)
		require.NoError(t, err)
		require.True(t, ContainsEvent(events, EvtSessionEnded))
	})
}

func TestUnsupportedCommand(t *testing.T) {
	_, _, err := Apply(newJam(), Command{Type: "Dance", CallerID: "host"}, t0)
	require.ErrorIs(t, err, ErrUnsupportedCommand)
}
