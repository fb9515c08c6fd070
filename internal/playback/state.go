package playback

import (
	"math/rand/v2"
	"slices"

	"github.com/DoyleJ11/jamsync/internal/player"
	"github.com/DoyleJ11/jamsync/internal/queue"
	"github.com/DoyleJ11/jamsync/pkg/types"
)

// restartThreshold is how far into a track PreviousSong restarts it instead
// of moving back.
const restartThreshold = 10.0

// CodeSessionEnded marks the notice shown when a jam ends under us.
const CodeSessionEnded = "SessionEnded"

// Notice is a non-fatal problem surfaced to whoever renders the state.
type Notice struct {
	Code    string
	Message string
}

// State is the single value a UI renders. Transitions never mutate a State
// in place.
type State struct {
	CurrentSong      string
	Source           player.Source // resolved for CurrentSong, zero until known
	Queue            queue.Queue
	IsPlaying        bool
	PlaybackPosition float64
	Duration         float64
	Volume           float64
	IsMuted          bool
	Mode             Mode
	Session          *types.Session // last broadcast while jamming
	Notice           *Notice
}

func initialState() State {
	return State{Queue: queue.New(nil, 0), Volume: 1, Mode: Solo{}}
}

// EffectiveVolume is what the element should be playing at.
func (st State) EffectiveVolume() float64 {
	if st.IsMuted {
		return 0
	}
	return st.Volume
}

func (st State) target() player.Target {
	src := st.Source
	if src.SongID != st.CurrentSong {
		src = player.Source{}
	}
	return player.Target{Source: src, Position: st.PlaybackPosition, Playing: st.IsPlaying}
}

// withEntry selects q's current entry from the start.
func (st State) withEntry(q queue.Queue) State {
	st.Queue = q
	song, _ := q.Current()
	if song != st.CurrentSong {
		st.Source = player.Source{}
		st.Duration = 0
	}
	st.CurrentSong = song
	st.PlaybackPosition = 0
	return st
}

// loadSong replaces the queue with songs (or just songID when empty) and
// starts songID. Shuffle is regenerated around the new song.
func (st State) loadSong(songID string, songs []string, rng *rand.Rand) State {
	if len(songs) == 0 {
		songs = []string{songID}
	}
	index := slices.Index(songs, songID)
	if index < 0 {
		songs = append(slices.Clone(songs), songID)
		index = len(songs) - 1
	}

	q := queue.New(songs, index).WithRepeat(st.Queue.Repeat())
	if st.Queue.IsShuffled() {
		q = q.WithShuffle(true, rng)
	}
	st = st.withEntry(q)
	st.Source = player.Source{}
	st.Duration = 0
	st.IsPlaying = true
	return st
}

func (st State) play() State {
	if st.CurrentSong != "" {
		st.IsPlaying = true
	}
	return st
}

func (st State) pause() State {
	st.IsPlaying = false
	return st
}

func (st State) seek(position float64) State {
	if position < 0 {
		position = 0
	}
	st.PlaybackPosition = position
	return st
}

func (st State) next() State {
	if st.Queue.Len() == 0 {
		return st
	}
	return st.withEntry(st.Queue.Next())
}

func (st State) previous() State {
	if st.Queue.Len() == 0 {
		return st
	}
	if st.PlaybackPosition > restartThreshold {
		return st.seek(0)
	}
	return st.withEntry(st.Queue.Previous())
}

// addToQueue appends songID, starting it when nothing is loaded.
func (st State) addToQueue(songID string) State {
	if st.Queue.Len() == 0 {
		return st.loadSong(songID, nil, nil)
	}
	st.Queue = st.Queue.Append(songID)
	return st
}

// jumpTo starts the entry at index of the active sequence.
func (st State) jumpTo(index int) (State, error) {
	q, err := st.Queue.JumpTo(index)
	if err != nil {
		return st, err
	}
	st = st.withEntry(q)
	st.IsPlaying = true
	return st, nil
}

func (st State) reorder(from, to int) (State, error) {
	q, err := st.Queue.Move(from, to)
	if err != nil {
		return st, err
	}
	st.Queue = q
	return st, nil
}

func (st State) toggleShuffle(rng *rand.Rand) State {
	st.Queue = st.Queue.WithShuffle(!st.Queue.IsShuffled(), rng)
	return st
}

func (st State) cycleRepeat() State {
	st.Queue = st.Queue.CycleRepeat()
	return st
}

func (st State) setVolume(v float64) State {
	st.Volume = min(max(v, 0), 1)
	return st
}

func (st State) toggleMute() State {
	st.IsMuted = !st.IsMuted
	return st
}

// trackEnded applies the repeat policy to a natural end of track. The bool
// reports whether a new entry was selected.
func (st State) trackEnded() (State, bool) {
	q, action := st.Queue.OnTrackEnd()
	switch action {
	case queue.EndReplay:
		st.PlaybackPosition = 0
		st.IsPlaying = true
		return st, false
	case queue.EndAdvance:
		st = st.withEntry(q)
		st.IsPlaying = true
		return st, true
	default:
		st.PlaybackPosition = 0
		st.IsPlaying = false
		return st, false
	}
}

// fromSnapshot overwrites playback fields with an authoritative broadcast.
// Repeat mode, volume and mute stay local.
func (st State) fromSnapshot(s types.Session, src player.Source, position float64, self string) State {
	index := max(slices.Index(s.Queue, s.CurrentSong.SongID), 0)
	q := queue.New(s.Queue, index).WithRepeat(st.Queue.Repeat())

	if s.CurrentSong.SongID != st.CurrentSong {
		st.Duration = 0
	}
	st.Queue = q
	st.CurrentSong = s.CurrentSong.SongID
	st.Source = src
	st.IsPlaying = s.IsPlaying()
	st.PlaybackPosition = position
	st.Session = &s

	role := RoleListener
	if s.CanControl(self) {
		role = RoleController
	}
	st.Mode = Jamming{SessionID: s.ID, JoinCode: s.JoinCode, Role: role, Creator: s.Creator == self}
	return st
}

// solo drops jam state and keeps everything else exactly as rendered.
func (st State) solo() State {
	st.Mode = Solo{}
	st.Session = nil
	return st
}

func (st State) notice(code, message string) State {
	st.Notice = &Notice{Code: code, Message: message}
	return st
}
