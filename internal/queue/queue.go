package queue

import (
	"errors"
	"math/rand/v2"
	"slices"
)

var ErrIndexOutOfRange = errors.New("index out of range")

type RepeatMode string

const (
	RepeatOff RepeatMode = "off"
	RepeatAll RepeatMode = "all"
	RepeatOne RepeatMode = "one"
)

// EndAction is what the player does when the current track ends naturally.
type EndAction int

const (
	EndReplay EndAction = iota // seek to 0 and play the same entry
	EndAdvance                 // move to the returned index and play
	EndStop                    // pause at 0 on the same entry
)

// Queue is an immutable play order. Entries are addressed by position, so a
// song id may appear more than once. Every method returns a new Queue.
type Queue struct {
	songs  []string
	order  []int // positions into songs, current entry first when built; nil unless shuffled
	index  int   // into the active sequence
	repeat RepeatMode
}

func New(songs []string, index int) Queue {
	q := Queue{songs: slices.Clone(songs), repeat: RepeatOff}
	if index >= 0 && index < len(songs) {
		q.index = index
	}
	return q
}

func (q Queue) Len() int { return len(q.songs) }

// Songs returns the queue in its original order.
func (q Queue) Songs() []string { return slices.Clone(q.songs) }

// Shuffled returns the shuffled sequence, or nil when shuffle is off.
func (q Queue) Shuffled() []string {
	if q.order == nil {
		return nil
	}
	out := make([]string, len(q.order))
	for i, pos := range q.order {
		out[i] = q.songs[pos]
	}
	return out
}

// Active returns whichever sequence governs navigation.
func (q Queue) Active() []string {
	if q.order != nil {
		return q.Shuffled()
	}
	return q.Songs()
}

func (q Queue) Index() int         { return q.index }
func (q Queue) IsShuffled() bool   { return q.order != nil }
func (q Queue) Repeat() RepeatMode { return q.repeat }
func (q Queue) IsLast() bool       { return q.index == len(q.songs)-1 }

func (q Queue) WithRepeat(m RepeatMode) Queue {
	q.repeat = m
	return q
}

// Position is the index in the original order of the current entry.
func (q Queue) Position() int {
	if q.order != nil && q.index < len(q.order) {
		return q.order[q.index]
	}
	return q.index
}

func (q Queue) Current() (string, bool) {
	if len(q.songs) == 0 {
		return "", false
	}
	return q.songs[q.Position()], true
}

// Next advances with wraparound; a single entry wraps onto itself.
func (q Queue) Next() Queue {
	if len(q.songs) == 0 {
		return q
	}
	q.index = (q.index + 1) % len(q.songs)
	return q
}

func (q Queue) Previous() Queue {
	if len(q.songs) == 0 {
		return q
	}
	q.index = (q.index - 1 + len(q.songs)) % len(q.songs)
	return q
}

// JumpTo selects an index of the active sequence.
func (q Queue) JumpTo(index int) (Queue, error) {
	if index < 0 || index >= len(q.songs) {
		return q, ErrIndexOutOfRange
	}
	q.index = index
	return q, nil
}

// Append adds songs to the end. While shuffled they are also appended to the
// shuffled sequence so the current entry keeps its index.
func (q Queue) Append(ids ...string) Queue {
	q = q.clone()
	for _, id := range ids {
		q.songs = append(q.songs, id)
		if q.order != nil {
			q.order = append(q.order, len(q.songs)-1)
		}
	}
	return q
}

// Move reorders the active sequence, keeping the current entry selected.
func (q Queue) Move(from, to int) (Queue, error) {
	n := len(q.songs)
	if from < 0 || from >= n || to < 0 || to >= n {
		return q, ErrIndexOutOfRange
	}
	if from == to {
		return q, nil
	}
	q = q.clone()

	if q.order != nil {
		q.order = move(q.order, from, to)
	} else {
		positions := make([]int, n)
		for i := range positions {
			positions[i] = i
		}
		positions = move(positions, from, to)
		songs := make([]string, n)
		for i, pos := range positions {
			songs[i] = q.songs[pos]
		}
		q.songs = songs
	}
	q.index = shiftIndex(q.index, from, to)
	return q, nil
}

// WithShuffle turns shuffle on or off. Turning it on puts the current entry
// first followed by a random permutation of the rest; turning it off restores
// the index of the current entry in the original order.
func (q Queue) WithShuffle(on bool, rng *rand.Rand) Queue {
	if on == q.IsShuffled() {
		return q
	}
	q = q.clone()
	if !on {
		q.index = q.Position()
		q.order = nil
		return q
	}
	if len(q.songs) == 0 {
		q.order = []int{}
		return q
	}

	current := q.index
	rest := make([]int, 0, len(q.songs)-1)
	for i := range q.songs {
		if i != current {
			rest = append(rest, i)
		}
	}
	shuffle := rand.Shuffle
	if rng != nil {
		shuffle = rng.Shuffle
	}
	shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })

	q.order = append([]int{current}, rest...)
	q.index = 0
	return q
}

// CycleRepeat steps off -> all -> one -> off.
func (q Queue) CycleRepeat() Queue {
	switch q.repeat {
	case RepeatOff:
		q.repeat = RepeatAll
	case RepeatAll:
		q.repeat = RepeatOne
	default:
		q.repeat = RepeatOff
	}
	return q
}

// OnTrackEnd applies the repeat policy for a natural end of track.
func (q Queue) OnTrackEnd() (Queue, EndAction) {
	if len(q.songs) == 0 {
		return q, EndStop
	}
	switch q.repeat {
	case RepeatOne:
		return q, EndReplay
	case RepeatAll:
		return q.Next(), EndAdvance
	default:
		if q.IsLast() {
			return q, EndStop
		}
		return q.Next(), EndAdvance
	}
}

func (q Queue) clone() Queue {
	q.songs = slices.Clone(q.songs)
	if q.order != nil {
		q.order = slices.Clone(q.order)
	}
	return q
}

func move(s []int, from, to int) []int {
	v := s[from]
	s = slices.Delete(s, from, from+1)
	return slices.Insert(s, to, v)
}

func shiftIndex(index, from, to int) int {
	switch {
	case index == from:
		return to
	case from < index && index <= to:
		return index - 1
	case to <= index && index < from:
		return index + 1
	default:
		return index
	}
}
