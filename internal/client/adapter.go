package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/jamsync/internal/catalog"
	"github.com/DoyleJ11/jamsync/internal/engine"
	"github.com/DoyleJ11/jamsync/internal/player"
	"github.com/DoyleJ11/jamsync/pkg/types"
)

var ErrClosed = errors.New("jam connection closed")
var ErrBacklog = errors.New("jam connection backlog full")

const (
	writeTimeout   = 3 * time.Second
	resolveTimeout = 5 * time.Second
)

// Message is what the adapter delivers to its consumer.
type Message interface{ isMessage() }

// SessionUpdated carries an authoritative snapshot newer than any
// previously delivered one for the same session.
type SessionUpdated struct {
	Version    int
	Session    types.Session
	ReceivedAt time.Time
	Source     player.Source // resolved for Session.CurrentSong; zero when ResolveErr is set
	ResolveErr error
}

type SessionEnded struct {
	SessionID string
	Reason    string
}

type ErrorReceived struct {
	Code    string
	Reason  string
	Message string
}

// Disconnected reports a transport failure. It is the last message.
type Disconnected struct{ Err error }

func (SessionUpdated) isMessage() {}
func (SessionEnded) isMessage()   {}
func (ErrorReceived) isMessage()  {}
func (Disconnected) isMessage()   {}

// Target is the local playback target for the snapshot at now.
func (m SessionUpdated) Target(now time.Time) player.Target {
	return Reconcile(m.Session, m.Source, m.ReceivedAt, now)
}

type Options struct {
	URL    string // ws:// or wss:// endpoint of the authority
	Token  string
	Songs  catalog.Lookup // nil leaves Source empty
	Log    *zap.Logger
	Now    func() time.Time
	Buffer int
}

type outgoing struct {
	msg        types.ClientMessage
	closeAfter bool
}

// Adapter is one participant's connection to the authority. Intents are
// fire and forget; replies arrive on Messages in the order the authority
// sent them.
type Adapter struct {
	conn  *websocket.Conn
	opts  Options
	log   *zap.Logger
	out   chan outgoing
	msgs  chan Message
	ctx   context.Context
	stop  context.CancelFunc
	once  sync.Once
	quiet atomic.Bool // set when we close on purpose

	versions map[string]int // reader goroutine only
}

func Dial(ctx context.Context, opts Options) (*Adapter, error) {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 16
	}

	conn, _, err := websocket.Dial(ctx, opts.URL, &websocket.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + opts.Token}},
	})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.URL, err)
	}

	runCtx, stop := context.WithCancel(context.Background())
	a := &Adapter{
		conn:     conn,
		opts:     opts,
		log:      opts.Log,
		out:      make(chan outgoing, opts.Buffer),
		msgs:     make(chan Message, opts.Buffer),
		ctx:      runCtx,
		stop:     stop,
		versions: make(map[string]int),
	}
	go a.writeLoop()
	go a.readLoop()
	return a, nil
}

// Messages is closed once the connection is gone.
func (a *Adapter) Messages() <-chan Message { return a.msgs }

func (a *Adapter) StartJam(songID string) error {
	return a.send(types.ClientMessage{Type: types.MsgStartJam, SongID: songID})
}

func (a *Adapter) JoinJam(joinCode string) error {
	return a.send(types.ClientMessage{Type: types.MsgJoinJam, JoinCode: joinCode})
}

func (a *Adapter) ControlPlayback(sessionID string, playing bool, positionHint *float64) error {
	action := types.ActionPaused
	if playing {
		action = types.ActionPlaying
	}
	return a.send(types.ClientMessage{Type: types.MsgControlPlayback, SessionID: sessionID, Action: action, PositionHint: positionHint})
}

func (a *Adapter) ChangeSong(sessionID, songID string) error {
	return a.send(types.ClientMessage{Type: types.MsgChangeSong, SessionID: sessionID, SongID: songID})
}

func (a *Adapter) Seek(sessionID string, position float64) error {
	return a.send(types.ClientMessage{Type: types.MsgSeek, SessionID: sessionID, Position: &position})
}

func (a *Adapter) AddToQueue(sessionID, songID string) error {
	return a.send(types.ClientMessage{Type: types.MsgAddToQueue, SessionID: sessionID, SongID: songID})
}

func (a *Adapter) GiveControl(sessionID, targetID string) error {
	return a.send(types.ClientMessage{Type: types.MsgGiveControl, SessionID: sessionID, TargetID: targetID})
}

func (a *Adapter) RevokeControl(sessionID, targetID string) error {
	return a.send(types.ClientMessage{Type: types.MsgRevokeControl, SessionID: sessionID, TargetID: targetID})
}

func (a *Adapter) EndJam(sessionID string) error {
	return a.send(types.ClientMessage{Type: types.MsgEndJam, SessionID: sessionID})
}

// Leave is immediate: leave-jam is written and the socket closed without
// waiting for the authority. No further messages are delivered.
func (a *Adapter) Leave(sessionID string) error {
	a.quiet.Store(true)
	err := a.enqueue(outgoing{msg: types.ClientMessage{Type: types.MsgLeaveJam, SessionID: sessionID}, closeAfter: true})
	if err != nil {
		a.Close()
	}
	return err
}

func (a *Adapter) Close() {
	a.quiet.Store(true)
	a.shutdown(websocket.StatusNormalClosure, "bye")
}

func (a *Adapter) send(m types.ClientMessage) error {
	return a.enqueue(outgoing{msg: m})
}

func (a *Adapter) enqueue(o outgoing) error {
	if a.ctx.Err() != nil {
		return ErrClosed
	}
	select {
	case a.out <- o:
		return nil
	case <-a.ctx.Done():
		return ErrClosed
	default:
		return ErrBacklog
	}
}

func (a *Adapter) shutdown(code websocket.StatusCode, reason string) {
	a.once.Do(func() {
		a.stop()
		_ = a.conn.Close(code, reason)
	})
}

func (a *Adapter) writeLoop() {
	for {
		select {
		case <-a.ctx.Done():
			return
		case o := <-a.out:
			payload, err := json.Marshal(o.msg)
			if err != nil {
				a.log.Error("failed to encode message", zap.String("type", o.msg.Type), zap.Error(err))
				continue
			}
			ctx, cancel := context.WithTimeout(a.ctx, writeTimeout)
			err = a.conn.Write(ctx, websocket.MessageText, payload)
			cancel()
			if err != nil || o.closeAfter {
				if err != nil {
					a.log.Debug("write failed", zap.Error(err))
				}
				a.shutdown(websocket.StatusNormalClosure, "bye")
				return
			}
		}
	}
}

func (a *Adapter) readLoop() {
	defer close(a.msgs)
	for {
		_, data, err := a.conn.Read(a.ctx)
		if err != nil {
			if !a.quiet.Load() {
				a.deliver(Disconnected{Err: fmt.Errorf("%s: %w", engine.CodeTransportError, err)})
			}
			a.shutdown(websocket.StatusNormalClosure, "bye")
			return
		}
		receivedAt := a.opts.Now()
		if a.quiet.Load() {
			// Left or closed locally; nothing more is delivered.
			continue
		}

		var msg types.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			a.log.Warn("dropping undecodable message", zap.Error(err))
			continue
		}

		switch msg.Type {
		case types.MsgSessionUpdated:
			if msg.Session == nil {
				continue
			}
			last, seen := a.versions[msg.Session.ID]
			if !Newer(msg.Version, last, seen) {
				a.log.Debug("dropping stale snapshot",
					zap.String("session_id", msg.Session.ID),
					zap.Int("version", msg.Version),
					zap.Int("last", last))
				continue
			}
			a.versions[msg.Session.ID] = msg.Version
			a.deliver(a.resolve(msg.Version, *msg.Session, receivedAt))

		case types.MsgSessionEnded:
			ended := SessionEnded{}
			if msg.Ended != nil {
				ended = SessionEnded{SessionID: msg.Ended.SessionID, Reason: msg.Ended.Reason}
			}
			a.quiet.Store(true)
			a.deliver(ended)
			a.shutdown(websocket.StatusNormalClosure, "session ended")
			return

		case types.MsgError:
			if msg.Error != nil {
				a.deliver(ErrorReceived{Code: msg.Error.Code, Reason: msg.Error.Reason, Message: msg.Error.Message})
			}
		}
	}
}

func (a *Adapter) resolve(version int, s types.Session, receivedAt time.Time) SessionUpdated {
	u := SessionUpdated{Version: version, Session: s, ReceivedAt: receivedAt}
	if a.opts.Songs == nil || s.CurrentSong.SongID == "" {
		return u
	}
	ctx, cancel := context.WithTimeout(a.ctx, resolveTimeout)
	defer cancel()
	song, err := a.opts.Songs.Song(ctx, s.CurrentSong.SongID)
	if err != nil {
		u.ResolveErr = err
		return u
	}
	u.Source = SourceOf(s.CurrentSong.SongID, song)
	return u
}

// deliver blocks until the consumer takes m; an undrained consumer stalls
// this connection only.
func (a *Adapter) deliver(m Message) {
	select {
	case a.msgs <- m:
	case <-a.ctx.Done():
		// Still hand over terminal messages if the consumer is ready.
		select {
		case a.msgs <- m:
		default:
		}
	}
}
