package player

import (
	"errors"
	"fmt"
)

var ErrMedia = errors.New("media error")
var ErrNoSource = errors.New("song has no playable source")

type SourceKind int

const (
	SourceAdaptive SourceKind = iota
	SourceFallback
)

func (k SourceKind) String() string {
	if k == SourceAdaptive {
		return "adaptive"
	}
	return "fallback"
}

// Source is everything needed to stream one song.
type Source struct {
	SongID       string
	AdaptiveURL  string
	FallbackURL  string
	DurationHint float64
}

func (s Source) IsZero() bool { return s.SongID == "" }

// Target is the playback the engine should converge to.
type Target struct {
	Source   Source
	Position float64
	Playing  bool
}

// Media is what an element is asked to load.
type Media struct {
	URL          string
	Kind         SourceKind
	DurationHint float64
}

type EventType int

const (
	EventLoaded EventType = iota
	EventTimeUpdate
	EventEnded
	EventError
)

// Event is emitted by an element. Time and Duration are in seconds.
type Event struct {
	Type     EventType
	Time     float64
	Duration float64
	Err      error
}

// Element is a media element: it loads one source at a time and reports
// progress through Events. Load may fail synchronously or later through an
// EventError.
type Element interface {
	SupportsAdaptive() bool
	Load(m Media) error
	Play() error
	Pause()
	Seek(position float64)
	Position() float64
	SetVolume(v float64)
	Events() <-chan Event
}

// MediaError reports that a song could not be played from any source.
type MediaError struct {
	SongID string
	Source SourceKind
	Err    error
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("playing %s from %s source failed: %v", e.SongID, e.Source, e.Err)
}

func (e *MediaError) Unwrap() error { return e.Err }

func (e *MediaError) Is(target error) bool { return target == ErrMedia }
