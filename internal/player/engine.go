package player

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

const DefaultDriftThreshold = 1500 * time.Millisecond

// Engine adapts a Target onto an Element. It is not safe for concurrent use;
// the playback store drives it from a single goroutine.
type Engine struct {
	el        Element
	threshold float64
	log       *zap.Logger

	source   Source
	kind     SourceKind
	fellBack bool
	failed   bool
	playing  bool
	target   Target
	lastTime float64
	duration float64
}

func NewEngine(el Element, threshold time.Duration, log *zap.Logger) *Engine {
	if threshold <= 0 {
		threshold = DefaultDriftThreshold
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{el: el, threshold: threshold.Seconds(), log: log}
}

func (e *Engine) Events() <-chan Event { return e.el.Events() }

// Duration is the last duration reported for the loaded source.
func (e *Engine) Duration() float64 { return e.duration }

// Failed reports whether every source of the loaded song failed.
func (e *Engine) Failed() bool { return e.failed }

func (e *Engine) SetVolume(v float64) { e.el.SetVolume(v) }

// Sync converges the element on t. A new song is loaded from its adaptive
// source when supported, else from its fallback. On a loaded song the element
// is only seeked when its position drifts beyond the threshold.
func (e *Engine) Sync(t Target) error {
	e.target = t
	if t.Source.IsZero() {
		e.pause()
		return nil
	}

	if t.Source != e.source {
		return e.load(t.Source, t.Position)
	}
	if e.failed {
		return nil
	}

	if drift := math.Abs(e.el.Position() - t.Position); drift > e.threshold {
		e.log.Debug("correcting drift",
			zap.String("song_id", t.Source.SongID),
			zap.Float64("drift", drift),
			zap.Float64("target", t.Position))
		e.el.Seek(t.Position)
		e.lastTime = t.Position
	}
	return e.applyPlaying()
}

// Handle digests an element event. Fatal errors on the adaptive source are
// retried once from the fallback source, resuming at the last known
// position. A failure with nothing left to try returns a *MediaError.
func (e *Engine) Handle(ev Event) error {
	switch ev.Type {
	case EventLoaded:
		if ev.Duration > 0 {
			e.duration = ev.Duration
		}
	case EventTimeUpdate:
		e.lastTime = ev.Time
	case EventEnded:
		e.playing = false
	case EventError:
		if e.source.IsZero() || e.failed {
			return nil
		}
		return e.fail(ev.Err)
	}
	return nil
}

func (e *Engine) load(src Source, position float64) error {
	e.source = src
	e.fellBack = false
	e.failed = false
	e.playing = false
	e.lastTime = position
	e.duration = src.DurationHint

	kind := SourceFallback
	if src.AdaptiveURL != "" && e.el.SupportsAdaptive() {
		kind = SourceAdaptive
	}
	if kind == SourceFallback {
		e.fellBack = true
	}
	return e.start(kind)
}

func (e *Engine) start(kind SourceKind) error {
	e.kind = kind
	url := e.source.FallbackURL
	if kind == SourceAdaptive {
		url = e.source.AdaptiveURL
	}
	if url == "" {
		return e.fail(ErrNoSource)
	}

	e.log.Debug("loading source",
		zap.String("song_id", e.source.SongID),
		zap.Stringer("kind", kind),
		zap.Float64("position", e.lastTime))
	if err := e.el.Load(Media{URL: url, Kind: kind, DurationHint: e.source.DurationHint}); err != nil {
		return e.fail(err)
	}
	e.playing = false
	if e.lastTime > 0 {
		e.el.Seek(e.lastTime)
	}
	return e.applyPlaying()
}

func (e *Engine) fail(cause error) error {
	if !e.fellBack {
		e.fellBack = true
		e.log.Warn("adaptive source failed, trying fallback",
			zap.String("song_id", e.source.SongID),
			zap.Error(cause))
		return e.start(SourceFallback)
	}
	e.failed = true
	e.playing = false
	e.el.Pause()
	err := &MediaError{SongID: e.source.SongID, Source: e.kind, Err: cause}
	e.log.Warn("playback failed", zap.Error(err))
	return err
}

func (e *Engine) applyPlaying() error {
	if e.target.Playing == e.playing {
		return nil
	}
	if !e.target.Playing {
		e.pause()
		return nil
	}
	if err := e.el.Play(); err != nil {
		return fmt.Errorf("play %s: %w", e.source.SongID, err)
	}
	e.playing = true
	return nil
}

func (e *Engine) pause() {
	if e.playing {
		e.el.Pause()
		e.playing = false
	}
}
