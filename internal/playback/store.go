package playback

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/jamsync/internal/catalog"
	"github.com/DoyleJ11/jamsync/internal/client"
	"github.com/DoyleJ11/jamsync/internal/engine"
	"github.com/DoyleJ11/jamsync/internal/player"
	"github.com/DoyleJ11/jamsync/internal/streamcount"
	"github.com/DoyleJ11/jamsync/internal/telemetry"
)

var ErrStopped = errors.New("playback store stopped")

const (
	dialTimeout      = 10 * time.Second
	resolveTimeout   = 5 * time.Second
	telemetryTimeout = 5 * time.Second
)

// Conn is the store's view of a connection to the session authority.
// *client.Adapter implements it.
type Conn interface {
	Messages() <-chan client.Message
	StartJam(songID string) error
	JoinJam(joinCode string) error
	ControlPlayback(sessionID string, playing bool, positionHint *float64) error
	ChangeSong(sessionID, songID string) error
	Seek(sessionID string, position float64) error
	AddToQueue(sessionID, songID string) error
	GiveControl(sessionID, targetID string) error
	RevokeControl(sessionID, targetID string) error
	EndJam(sessionID string) error
	Leave(sessionID string) error
	Close()
}

// Dialer opens a fresh connection for every jam.
type Dialer func(ctx context.Context) (Conn, error)

type Options struct {
	Participant     string // own participant id, used to derive the jam role
	Element         player.Element
	DriftThreshold  time.Duration
	Songs           catalog.Lookup // resolves songs in solo mode
	Sink            telemetry.Sink
	Dial            Dialer // nil disables jamming
	StreamThreshold time.Duration
	Rand            *rand.Rand
	Now             func() time.Time
	Log             *zap.Logger
}

// Store owns the playback state. A single goroutine applies every intent,
// element event and session message, then drives the player engine.
type Store struct {
	opts   Options
	log    *zap.Logger
	inbox  chan msg
	ctx    context.Context
	cancel context.CancelFunc

	// loop goroutine only
	state    State
	engine   *player.Engine
	reporter streamcount.Reporter
	conn     Conn
	dialing  bool

	subMu sync.Mutex
	subs  map[chan State]struct{}
}

func New(parent context.Context, opts Options) *Store {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sink == nil {
		opts.Sink = telemetry.Nop{}
	}

	ctx, cancel := context.WithCancel(parent)
	s := &Store{
		opts:     opts,
		log:      opts.Log,
		inbox:    make(chan msg, 64),
		ctx:      ctx,
		cancel:   cancel,
		state:    initialState(),
		engine:   player.NewEngine(opts.Element, opts.DriftThreshold, opts.Log.Named("player")),
		reporter: streamcount.New(opts.StreamThreshold),
		subs:     make(map[chan State]struct{}),
	}
	go s.loop()
	return s
}

// Done is closed once the store has stopped.
func (s *Store) Done() <-chan struct{} { return s.ctx.Done() }

func (s *Store) Stop() { s.cancel() }

// LoadSong starts songID with queue as the new queue (just songID when empty).
func (s *Store) LoadSong(songID string, queue ...string) error {
	return s.send(loadSong{songID: songID, songs: queue})
}

func (s *Store) Play() error {
	return s.send(play{})
}

func (s *Store) Pause() error {
	return s.send(pause{})
}

func (s *Store) Seek(position float64) error {
	return s.send(seek{position: position})
}

func (s *Store) NextSong() error {
	return s.send(nextSong{})
}

func (s *Store) PreviousSong() error {
	return s.send(previousSong{})
}

func (s *Store) AddToQueue(songID string) error {
	return s.send(addToQueue{songID: songID})
}

// JumpTo starts the entry at index of the queue as currently played
// (shuffled order when shuffle is on).
func (s *Store) JumpTo(index int) error {
	return s.send(jumpTo{index: index})
}

func (s *Store) ReorderQueue(from, to int) error {
	return s.send(reorder{from: from, to: to})
}

func (s *Store) ToggleShuffle() error {
	return s.send(toggleShuffle{})
}

func (s *Store) CycleRepeatMode() error {
	return s.send(cycleRepeat{})
}

func (s *Store) SetVolume(v float64) error {
	return s.send(setVolume{volume: v})
}

func (s *Store) ToggleMute() error {
	return s.send(toggleMute{})
}

// StartJam opens a jam on the current song.
func (s *Store) StartJam() error {
	return s.send(startJam{})
}

func (s *Store) JoinJam(joinCode string) error {
	return s.send(joinJam{joinCode: joinCode})
}

// LeaveJam returns to solo immediately, keeping playback as it is.
func (s *Store) LeaveJam() error {
	return s.send(leaveJam{})
}

func (s *Store) EndJam() error {
	return s.send(endJam{})
}

func (s *Store) GiveControl(target string) error {
	return s.send(giveControl{target: target})
}

func (s *Store) RevokeControl(target string) error {
	return s.send(revokeControl{target: target})
}

// State returns the current state.
func (s *Store) State(ctx context.Context) (State, error) {
	reply := make(chan State, 1)
	if err := s.send(getState{reply: reply}); err != nil {
		return State{}, err
	}
	select {
	case st := <-reply:
		return st, nil
	case <-ctx.Done():
		return State{}, ctx.Err()
	case <-s.ctx.Done():
		return State{}, ErrStopped
	}
}

// Subscribe returns a channel receiving every new state. Slow readers miss
// intermediate states.
func (s *Store) Subscribe() (ch chan State, cancel func()) {
	ch = make(chan State, 16)

	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	cancel = func() {
		s.subMu.Lock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
		s.subMu.Unlock()
	}
	return ch, cancel
}

func (s *Store) send(m msg) error {
	if !s.post(m) {
		return ErrStopped
	}
	return nil
}

func (s *Store) post(m msg) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}
	select {
	case s.inbox <- m:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *Store) loop() {
	defer s.teardown()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev := <-s.engine.Events():
			s.handleElement(ev)
		case m := <-s.inbox:
			s.handle(m)
		}
		s.publish()
	}
}

func (s *Store) handle(m msg) {
	j, jamming := IsJamming(s.state.Mode)

	switch m := m.(type) {
	case getState:
		m.reply <- s.state

	case loadSong, play, pause, seek, nextSong, previousSong, addToQueue, jumpTo:
		if jamming {
			s.redirect(j, m)
			return
		}
		s.applySolo(m)

	case reorder, toggleShuffle:
		if jamming {
			s.state = s.state.notice(engine.CodeInvalidCommand, "the jam owns the queue order")
			return
		}
		s.applySolo(m)

	case cycleRepeat:
		s.state = s.state.cycleRepeat()

	case setVolume:
		s.state = s.state.setVolume(m.volume)
		s.engine.SetVolume(s.state.EffectiveVolume())

	case toggleMute:
		s.state = s.state.toggleMute()
		s.engine.SetVolume(s.state.EffectiveVolume())

	case startJam, joinJam, leaveJam, endJam, giveControl, revokeControl:
		s.handleJamIntent(m)

	case dialed:
		s.handleDialed(m)

	case fromSession:
		if m.conn != s.conn {
			return
		}
		s.handleSession(m.m)

	case sessionClosed:
		if m.conn != s.conn {
			return
		}
		s.conn = nil
		if jamming {
			s.state = s.state.solo().notice(engine.CodeTransportError, "connection to the jam was lost")
		}

	case resolved:
		if jamming || m.songID != s.state.CurrentSong {
			return
		}
		if m.err != nil {
			s.log.Warn("song lookup failed", zap.String("song_id", m.songID), zap.Error(m.err))
			s.state = s.state.pause().notice(engine.Code(m.err), fmt.Sprintf("song %s: %v", m.songID, m.err))
			s.syncSolo()
			return
		}
		s.state.Source = m.src
		s.syncSolo()
	}
}

func (s *Store) applySolo(m msg) {
	prevSong := s.state.CurrentSong
	entryChanged := false

	switch m := m.(type) {
	case loadSong:
		s.state = s.state.loadSong(m.songID, m.songs, s.opts.Rand)
		entryChanged = true
	case addToQueue:
		s.state = s.state.addToQueue(m.songID)
		entryChanged = prevSong == "" && s.state.CurrentSong != ""
	case play:
		s.state = s.state.play()
	case pause:
		s.state = s.state.pause()
	case seek:
		s.state = s.state.seek(m.position)
	case nextSong:
		s.state = s.state.next()
		entryChanged = s.state.Queue.Len() > 0
	case previousSong:
		restarting := s.state.PlaybackPosition > restartThreshold
		s.state = s.state.previous()
		entryChanged = !restarting && s.state.Queue.Len() > 0
	case jumpTo:
		st, err := s.state.jumpTo(m.index)
		if err != nil {
			s.state = s.state.notice(engine.CodeInvalidCommand, fmt.Sprintf("jump to %d: %v", m.index, err))
			return
		}
		s.state = st
		entryChanged = true
	case reorder:
		st, err := s.state.reorder(m.from, m.to)
		if err != nil {
			s.state = s.state.notice(engine.CodeInvalidCommand, fmt.Sprintf("move %d to %d: %v", m.from, m.to, err))
			return
		}
		s.state = st
		return
	case toggleShuffle:
		s.state = s.state.toggleShuffle(s.opts.Rand)
		return
	}

	if entryChanged {
		s.enterTrack(prevSong)
	}
	s.syncSolo()
}

// enterTrack arms the reporter for the new entry and resolves its song when
// it differs from prevSong.
func (s *Store) enterTrack(prevSong string) {
	song := s.state.CurrentSong
	s.reporter = s.reporter.Load(song)
	if song == "" || (song == prevSong && s.state.Source.SongID == song) {
		return
	}
	s.resolve(song)
}

func (s *Store) resolve(songID string) {
	if s.opts.Songs == nil {
		s.state = s.state.notice(engine.CodeNotFound, "no song catalog configured")
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, resolveTimeout)
		defer cancel()
		song, err := s.opts.Songs.Song(ctx, songID)
		s.post(resolved{songID: songID, src: client.SourceOf(songID, song), err: err})
	}()
}

func (s *Store) syncSolo() {
	s.sync(s.state.target())
}

func (s *Store) sync(t player.Target) {
	if err := s.engine.Sync(t); err != nil {
		s.mediaFailed(err)
	}
}

// mediaFailed surfaces a playback failure. Solo playback stops; a jam keeps
// mirroring the authority.
func (s *Store) mediaFailed(err error) {
	s.log.Warn("playback error", zap.String("song_id", s.state.CurrentSong), zap.Error(err))
	if _, jamming := IsJamming(s.state.Mode); !jamming {
		s.state = s.state.pause()
	}
	s.state = s.state.notice(engine.CodeMediaError, err.Error())
}

func (s *Store) handleElement(ev player.Event) {
	err := s.engine.Handle(ev)

	switch ev.Type {
	case player.EventLoaded:
		s.state.Duration = s.engine.Duration()

	case player.EventTimeUpdate:
		s.state.PlaybackPosition = ev.Time
		var fired bool
		s.reporter, fired = s.reporter.Observe(ev.Time)
		if fired {
			s.reportStream(s.reporter.SongID())
		}

	case player.EventEnded:
		s.reporter = s.reporter.End()
		s.trackEnded()
	}

	if err != nil {
		s.mediaFailed(err)
	}
}

func (s *Store) trackEnded() {
	if j, jamming := IsJamming(s.state.Mode); jamming {
		s.jamTrackEnded(j)
		return
	}
	prevSong := s.state.CurrentSong
	st, advanced := s.state.trackEnded()
	s.state = st
	if advanced {
		s.enterTrack(prevSong)
	}
	s.syncSolo()
}

func (s *Store) reportStream(songID string) {
	s.log.Info("song streamed", zap.String("song_id", songID))
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryTimeout)
		defer cancel()
		if err := s.opts.Sink.SongStreamed(ctx, songID); err != nil {
			s.log.Warn("failed to report stream", zap.String("song_id", songID), zap.Error(err))
		}
	}()
}

func (s *Store) publish() {
	st := s.state

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- st:
		default:
		}
	}
}

func (s *Store) teardown() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.engine.Sync(player.Target{})

	s.subMu.Lock()
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
	s.subMu.Unlock()
}
