package jam

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/jamsync/internal/engine"
)

type Msg interface{ isJamMsg() }

type FromClient struct {
	ConnID string // errors are delivered to this connection only
	Cmd    engine.Command
}

func (FromClient) isJamMsg() {}

// Attach registers a connection of an existing participant (the creator right
// after CreateSession) and sends it the current snapshot.
type Attach struct {
	ConnID        string
	ParticipantID string
	Outbox        chan Outbound
}

func (Attach) isJamMsg() {}

// Join adds ParticipantID to the session and registers its connection.
type Join struct {
	ConnID        string
	ParticipantID string
	Outbox        chan Outbound
}

func (Join) isJamMsg() {}

// Resync re-sends the current snapshot to an already attached connection.
type Resync struct{ ConnID string }

func (Resync) isJamMsg() {}

// Detach unregisters a connection. When it was the participant's last one the
// participant is removed from the session.
type Detach struct{ ConnID string }

func (Detach) isJamMsg() {}

type Shutdown struct{ Reason string }

func (Shutdown) isJamMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isJamMsg() {}

type OutboundKind int

const (
	KindUpdated OutboundKind = iota
	KindEnded
	KindError
)

// Outbound is what a connection receives from the session.
type Outbound struct {
	Kind       OutboundKind
	Version    int
	Session    engine.Session
	ServerTime time.Time
	Reason     string // KindEnded
	Err        error  // KindError
}

type View struct {
	Version    int
	NumClients int
	Session    engine.Session
}

// Observer receives counters about the session's command flow.
type Observer interface {
	CommandApplied(cmd engine.CommandType)
	CommandRejected(cmd engine.CommandType, code string)
	SubscriberDropped()
	SessionEnded(reason string)
}

// Archiver persists snapshots. Record must not block.
type Archiver interface {
	Record(s engine.Session, ended bool)
}

type Options struct {
	Now      func() time.Time
	Log      *zap.Logger
	Observer Observer
	Archive  Archiver
	OnEnd    func(s engine.Session) // called from the session goroutine once it ends
}

type subscriber struct {
	participant string
	outbox      chan Outbound
}

const ReasonShutdown = "server shutting down"

type Session struct {
	id       string
	joinCode string

	inbox   chan Msg
	state   engine.Session
	version int
	clients map[string]subscriber
	opts    Options
	log     *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc

	// senders hold the read lock while enqueueing; end takes the write lock
	// so nothing lands in the inbox after it has been drained.
	sendMu sync.RWMutex
	closed bool
}

func New(parent context.Context, initial engine.Session, opts Options) *Session {
	ctx, cancel := context.WithCancel(parent)

	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}

	s := &Session{
		id:       initial.ID,
		joinCode: initial.JoinCode,
		inbox:    make(chan Msg, 64),
		state:    initial,
		clients:  make(map[string]subscriber),
		opts:     opts,
		log:      opts.Log.With(zap.String("session_id", initial.ID), zap.String("join_code", initial.JoinCode)),
		ctx:      ctx,
		cancel:   cancel,
	}
	if opts.Archive != nil {
		opts.Archive.Record(initial, false)
	}

	go s.loop()
	return s
}

func (s *Session) ID() string       { return s.id }
func (s *Session) JoinCode() string { return s.joinCode }

// Done is closed once the session has ended.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Send delivers m unless the session has already ended. A Join or Attach
// accepted while the session is ending still gets an error and a closed
// outbox.
func (s *Session) Send(m Msg) bool {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return false
	}
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

// State returns the current view of the session.
func (s *Session) State(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if !s.Send(GetState{Reply: reply}) {
		return View{}, engine.ErrSessionNotFound
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	case <-s.Done():
		return View{}, engine.ErrSessionNotFound
	}
}

func (s *Session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.end(ReasonShutdown)
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case Attach:
				s.register(msg.ConnID, subscriber{participant: msg.ParticipantID, outbox: msg.Outbox})
				s.sendTo(msg.ConnID, s.snapshot())

			case Join:
				cmd := engine.Command{Type: engine.CmdJoin, CallerID: msg.ParticipantID}
				events, next, err := engine.Apply(s.state, cmd, s.opts.Now())
				if err != nil {
					s.reject(cmd, err)
					trySend(msg.Outbox, Outbound{Kind: KindError, Err: err})
					close(msg.Outbox)
					break
				}
				s.register(msg.ConnID, subscriber{participant: msg.ParticipantID, outbox: msg.Outbox})
				if len(events) == 0 {
					// Already a participant: only the new connection needs the snapshot.
					s.sendTo(msg.ConnID, s.snapshot())
					break
				}
				if s.commit(cmd, events, next) {
					return
				}

			case Resync:
				s.sendTo(msg.ConnID, s.snapshot())

			case Detach:
				sub, ok := s.clients[msg.ConnID]
				if !ok {
					break
				}
				delete(s.clients, msg.ConnID)
				close(sub.outbox)
				if s.leaveIfOrphaned(sub.participant) {
					return
				}

			case FromClient:
				events, next, err := engine.Apply(s.state, msg.Cmd, s.opts.Now())
				if err != nil {
					s.reject(msg.Cmd, err)
					s.sendTo(msg.ConnID, Outbound{Kind: KindError, Err: err})
					break
				}
				if msg.Cmd.Type == engine.CmdLeave {
					s.dropParticipant(msg.Cmd.CallerID)
				}
				if s.commit(msg.Cmd, events, next) {
					return
				}

			case GetState:
				msg.Reply <- View{
					Version:    s.version,
					NumClients: len(s.clients),
					Session:    s.state,
				}

			case Shutdown:
				reason := msg.Reason
				if reason == "" {
					reason = ReasonShutdown
				}
				s.end(reason)
				return
			}
		}
	}
}

// commit installs an accepted state, broadcasts it and reports whether the
// session ended.
func (s *Session) commit(cmd engine.Command, events []engine.Event, next engine.Session) bool {
	s.state = next
	s.version++
	s.opts.Observer.CommandApplied(cmd.Type)
	s.log.Debug("command applied",
		zap.String("command", string(cmd.Type)),
		zap.String("caller", cmd.CallerID),
		zap.Int("version", s.version))

	if reason, ended := engine.EndReason(events); ended {
		s.end(reason)
		return true
	}
	if s.opts.Archive != nil {
		s.opts.Archive.Record(s.state, false)
	}

	for _, participant := range s.broadcast(s.snapshot()) {
		if s.leaveIfOrphaned(participant) {
			return true
		}
	}
	return false
}

// register adds a connection, closing the outbox of any earlier registration
// under the same id.
func (s *Session) register(connID string, sub subscriber) {
	if old, ok := s.clients[connID]; ok && old.outbox != sub.outbox {
		close(old.outbox)
	}
	s.clients[connID] = sub
}

func (s *Session) reject(cmd engine.Command, err error) {
	code := engine.Code(err)
	s.opts.Observer.CommandRejected(cmd.Type, code)
	s.log.Debug("command rejected",
		zap.String("command", string(cmd.Type)),
		zap.String("caller", cmd.CallerID),
		zap.String("code", code),
		zap.Error(err))
}

// leaveIfOrphaned removes participant from the session when none of its
// connections remain attached.
func (s *Session) leaveIfOrphaned(participant string) bool {
	for _, sub := range s.clients {
		if sub.participant == participant {
			return false
		}
	}
	cmd := engine.Command{Type: engine.CmdLeave, CallerID: participant}
	events, next, err := engine.Apply(s.state, cmd, s.opts.Now())
	if err != nil {
		// Not a participant anymore (already left).
		return false
	}
	s.log.Info("participant disconnected", zap.String("participant", participant))
	return s.commit(cmd, events, next)
}

func (s *Session) dropParticipant(participant string) {
	for id, sub := range s.clients {
		if sub.participant == participant {
			trySend(sub.outbox, Outbound{Kind: KindEnded, Reason: "left the session"})
			close(sub.outbox)
			delete(s.clients, id)
		}
	}
}

func (s *Session) snapshot() Outbound {
	return Outbound{Kind: KindUpdated, Version: s.version, Session: s.state, ServerTime: s.opts.Now()}
}

func (s *Session) sendTo(connID string, out Outbound) {
	sub, ok := s.clients[connID]
	if !ok {
		return
	}
	if !trySend(sub.outbox, out) {
		s.drop(connID, sub)
	}
}

// broadcast sends out to every connection, dropping the slow ones. It returns
// the participants whose connection was dropped.
func (s *Session) broadcast(out Outbound) []string {
	var dropped []string
	for id, sub := range s.clients {
		if !trySend(sub.outbox, out) {
			s.drop(id, sub)
			dropped = append(dropped, sub.participant)
		}
	}
	return dropped
}

func (s *Session) drop(connID string, sub subscriber) {
	close(sub.outbox)
	delete(s.clients, connID)
	s.opts.Observer.SubscriberDropped()
	s.log.Warn("dropping slow connection",
		zap.String("conn_id", connID),
		zap.String("participant", sub.participant))
}

func (s *Session) end(reason string) {
	for id, sub := range s.clients {
		trySend(sub.outbox, Outbound{Kind: KindEnded, Version: s.version, Session: s.state, Reason: reason})
		close(sub.outbox)
		delete(s.clients, id)
	}
	if s.opts.Archive != nil {
		s.opts.Archive.Record(s.state, true)
	}
	s.opts.Observer.SessionEnded(reason)
	s.log.Info("session ended", zap.String("reason", reason))
	if s.opts.OnEnd != nil {
		s.opts.OnEnd(s.state)
	}
	s.cancel()

	s.sendMu.Lock()
	s.closed = true
	s.sendMu.Unlock()
	s.drain()
}

// drain answers whatever was queued behind the message that ended the
// session. New connections get NotFound and a closed outbox.
func (s *Session) drain() {
	for {
		select {
		case m := <-s.inbox:
			var outbox chan Outbound
			switch msg := m.(type) {
			case Attach:
				outbox = msg.Outbox
			case Join:
				outbox = msg.Outbox
			default:
				continue
			}
			trySend(outbox, Outbound{Kind: KindError, Err: engine.ErrSessionNotFound})
			close(outbox)
		default:
			return
		}
	}
}

func trySend(ch chan Outbound, out Outbound) bool {
	select {
	case ch <- out:
		return true
	default:
		return false
	}
}

type nopObserver struct{}

func (nopObserver) CommandApplied(engine.CommandType)          {}
func (nopObserver) CommandRejected(engine.CommandType, string) {}
func (nopObserver) SubscriberDropped()                         {}
func (nopObserver) SessionEnded(string)                        {}
