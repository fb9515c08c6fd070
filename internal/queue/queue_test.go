package queue

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func current(t *testing.T, q Queue) string {
	t.Helper()
	id, ok := q.Current()
	require.True(t, ok)
	return id
}

func TestNext_SingleEntryWrapsToItself(t *testing.T) {
	q := New([]string{"A"}, 0)
	q = q.Next()
	require.Equal(t, 0, q.Index())
	require.Equal(t, "A", current(t, q))

	q = q.Previous()
	require.Equal(t, "A", current(t, q))
}

func TestNextPrevious_Wraparound(t *testing.T) {
	q := New([]string{"A", "B", "C"}, 2)
	require.Equal(t, "A", current(t, q.Next()))
	require.Equal(t, "C", current(t, New([]string{"A", "B", "C"}, 0).Previous()))
}

func TestEmptyQueue(t *testing.T) {
	q := New(nil, 0)
	_, ok := q.Current()
	require.False(t, ok)
	require.Equal(t, 0, q.Next().Index())

	_, action := q.OnTrackEnd()
	require.Equal(t, EndStop, action)
}

func TestOnTrackEnd(t *testing.T) {
	songs := []string{"A", "B", "C"}

	tests := []struct {
		name    string
		repeat  RepeatMode
		index   int
		action  EndAction
		current string
	}{
		{"off at last index stops", RepeatOff, 2, EndStop, "C"},
		{"off in the middle advances", RepeatOff, 1, EndAdvance, "C"},
		{"all at last index wraps", RepeatAll, 2, EndAdvance, "A"},
		{"one replays", RepeatOne, 1, EndReplay, "B"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := New(songs, tt.index).WithRepeat(tt.repeat)
			next, action := q.OnTrackEnd()
			assert.Equal(t, tt.action, action)
			assert.Equal(t, tt.current, current(t, next))
		})
	}
}

func TestShuffle_CurrentFirst(t *testing.T) {
	q := New([]string{"A", "B", "C", "D", "E"}, 2)
	s := q.WithShuffle(true, rand.New(rand.NewPCG(1, 2)))

	require.True(t, s.IsShuffled())
	require.Equal(t, 0, s.Index())
	require.Equal(t, "C", current(t, s))
	require.Equal(t, "C", s.Shuffled()[0])
	require.ElementsMatch(t, q.Songs(), s.Shuffled())
	require.Equal(t, q.Songs(), s.Songs(), "original order is untouched")
}

func TestShuffle_RoundTripRestoresIndex(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 7))
	for start := 0; start < 4; start++ {
		q := New([]string{"A", "B", "C", "D"}, start)
		back := q.WithShuffle(true, rng).WithShuffle(false, rng)
		require.False(t, back.IsShuffled())
		require.Equal(t, start, back.Index())
	}
}

func TestShuffle_RoundTripWithDuplicates(t *testing.T) {
	q := New([]string{"A", "B", "A", "A"}, 3)
	back := q.WithShuffle(true, rand.New(rand.NewPCG(3, 4))).WithShuffle(false, nil)
	require.Equal(t, 3, back.Index(), "position, not id, identifies the entry")
}

func TestShuffle_NavigateThenUnshuffle(t *testing.T) {
	q := New([]string{"A", "B", "C", "D"}, 0).WithShuffle(true, rand.New(rand.NewPCG(9, 9)))
	q = q.Next()
	want := current(t, q)

	q = q.WithShuffle(false, nil)
	require.Equal(t, want, current(t, q))
	require.Equal(t, want, q.Songs()[q.Index()])
}

func TestAppend(t *testing.T) {
	q := New([]string{"A", "B"}, 1)
	q2 := q.Append("C", "A")
	require.Equal(t, []string{"A", "B", "C", "A"}, q2.Songs())
	require.Equal(t, []string{"A", "B"}, q.Songs(), "receiver is immutable")
	require.Equal(t, "B", current(t, q2))

	s := New([]string{"A", "B"}, 0).WithShuffle(true, rand.New(rand.NewPCG(1, 1))).Append("Z")
	require.Equal(t, "Z", s.Shuffled()[2])
	require.Equal(t, "A", current(t, s))
}

func TestMove_KeepsCurrentSelected(t *testing.T) {
	q := New([]string{"A", "B", "C", "D"}, 1) // B

	moved, err := q.Move(3, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"D", "A", "B", "C"}, moved.Songs())
	require.Equal(t, "B", current(t, moved))

	moved, err = q.Move(1, 3)
	require.NoError(t, err)
	require.Equal(t, []string{"A", "C", "D", "B"}, moved.Songs())
	require.Equal(t, "B", current(t, moved))

	moved, err = q.Move(0, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"B", "C", "A", "D"}, moved.Songs())
	require.Equal(t, 0, moved.Index())

	_, err = q.Move(0, 9)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestCycleRepeat(t *testing.T) {
	q := New([]string{"A"}, 0)
	require.Equal(t, RepeatOff, q.Repeat())
	q = q.CycleRepeat()
	require.Equal(t, RepeatAll, q.Repeat())
	q = q.CycleRepeat()
	require.Equal(t, RepeatOne, q.Repeat())
	q = q.CycleRepeat()
	require.Equal(t, RepeatOff, q.Repeat())
}

func TestJumpTo(t *testing.T) {
	q, err := New([]string{"A", "B"}, 0).JumpTo(1)
	require.NoError(t, err)
	require.Equal(t, "B", current(t, q))

	_, err = q.JumpTo(-1)
	require.ErrorIs(t, err, ErrIndexOutOfRange)
}
