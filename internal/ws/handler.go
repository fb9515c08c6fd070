package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/jamsync/internal/catalog"
	"github.com/DoyleJ11/jamsync/internal/engine"
	"github.com/DoyleJ11/jamsync/internal/hub"
	"github.com/DoyleJ11/jamsync/internal/jam"
	"github.com/DoyleJ11/jamsync/pkg/types"
)

const (
	writeTimeout  = 3 * time.Second
	pingInterval  = 20 * time.Second
	lookupTimeout = 5 * time.Second

	reasonDropped = "connection too slow, removed from session"
)

type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// ConnObserver is told about websocket connections opening and closing.
type ConnObserver interface {
	ConnOpened()
	ConnClosed()
}

type Options struct {
	Hub        *hub.Hub
	Auth       Authenticator
	Songs      catalog.Lookup // nil disables song validation
	OutboxSize int
	Log        *zap.Logger
	Conns      ConnObserver
	// OriginPatterns is passed to websocket.Accept; empty means same origin only.
	OriginPatterns []string
}

func Handler(opts Options) http.HandlerFunc {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = 16
	}

	return func(w http.ResponseWriter, r *http.Request) {
		participant, err := opts.Auth.Authenticate(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: opts.OriginPatterns})
		if err != nil {
			opts.Log.Debug("websocket accept failed", zap.Error(err))
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		if opts.Conns != nil {
			opts.Conns.ConnOpened()
			defer opts.Conns.ConnClosed()
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		c := &connection{
			id:          uuid.NewString(),
			participant: participant,
			conn:        conn,
			opts:        opts,
			log:         opts.Log.With(zap.String("participant", participant)),
			ctx:         ctx,
			cancel:      cancel,
			writes:      make(chan types.ServerMessage, opts.OutboxSize),
			sessions:    make(map[string]*jam.Session),
		}
		c.log.Debug("connection opened", zap.String("conn_id", c.id))

		go c.writeLoop()
		go c.keepalive()

		c.readLoop()
		c.detachAll()
		c.log.Debug("connection closed", zap.String("conn_id", c.id))
	}
}

type connection struct {
	id          string
	participant string
	conn        *websocket.Conn
	opts        Options
	log         *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	writes      chan types.ServerMessage

	mu       sync.Mutex
	sessions map[string]*jam.Session // attached on this connection, by session id
	forwards sync.WaitGroup
}

func (c *connection) readLoop() {
	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if c.ctx.Err() == nil {
					c.log.Debug("read failed", zap.Error(err))
				}
			}
			return
		}

		var cm types.ClientMessage
		if err := json.Unmarshal(data, &cm); err != nil {
			c.send(errorMessage(fmt.Errorf("bad json: %w", engine.ErrInvalidCommand)))
			continue
		}
		if err := c.dispatch(cm); err != nil {
			c.send(errorMessage(err))
		}
	}
}

func (c *connection) dispatch(cm types.ClientMessage) error {
	switch cm.Type {
	case types.MsgStartJam:
		if err := c.validateSong(cm.SongID); err != nil {
			return err
		}
		s, err := c.opts.Hub.Create(c.ctx, c.participant, cm.SongID)
		if err != nil {
			return err
		}
		c.attach(s, false)
		return nil

	case types.MsgJoinJam:
		s, err := c.opts.Hub.Lookup(c.ctx, cm.JoinCode)
		if err != nil {
			return fmt.Errorf("join code %q: %w", cm.JoinCode, err)
		}
		c.attach(s, true)
		return nil
	}

	cmd, err := toEngineCommand(cm, c.participant)
	if err != nil {
		return err
	}
	if cmd.Type == engine.CmdAddToQueue {
		if err := c.validateSong(cmd.SongID); err != nil {
			return err
		}
	}

	s, err := c.attached(cm.SessionID)
	if err != nil {
		return err
	}
	if !s.Send(jam.FromClient{ConnID: c.id, Cmd: cmd}) {
		return fmt.Errorf("session %q: %w", cm.SessionID, engine.ErrSessionNotFound)
	}
	return nil
}

// attached returns the session if this connection is subscribed to it.
func (c *connection) attached(sessionID string) (*jam.Session, error) {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	c.mu.Unlock()
	if ok {
		return s, nil
	}
	if _, err := c.opts.Hub.Get(c.ctx, sessionID); err != nil {
		return nil, fmt.Errorf("session %q: %w", sessionID, err)
	}
	return nil, fmt.Errorf("session %q: join it first: %w", sessionID, engine.ErrUnauthorized)
}

func (c *connection) attach(s *jam.Session, join bool) {
	c.mu.Lock()
	_, already := c.sessions[s.ID()]
	c.mu.Unlock()
	if already {
		// Rejoining on the same connection only refreshes its snapshot.
		if !s.Send(jam.Resync{ConnID: c.id}) {
			c.send(errorMessage(engine.ErrSessionNotFound))
		}
		return
	}

	outbox := make(chan jam.Outbound, c.opts.OutboxSize)
	var msg jam.Msg = jam.Attach{ConnID: c.id, ParticipantID: c.participant, Outbox: outbox}
	if join {
		msg = jam.Join{ConnID: c.id, ParticipantID: c.participant, Outbox: outbox}
	}
	c.mu.Lock()
	c.sessions[s.ID()] = s
	c.mu.Unlock()

	if !s.Send(msg) {
		c.mu.Lock()
		delete(c.sessions, s.ID())
		c.mu.Unlock()
		c.send(errorMessage(fmt.Errorf("session %q: %w", s.ID(), engine.ErrSessionNotFound)))
		return
	}

	c.forwards.Add(1)
	go c.forward(s, outbox)
}

// forward relays one session's outbound messages onto the connection.
func (c *connection) forward(s *jam.Session, outbox <-chan jam.Outbound) {
	defer c.forwards.Done()
	defer func() {
		c.mu.Lock()
		delete(c.sessions, s.ID())
		c.mu.Unlock()
	}()

	attached, ended := false, false
	for out := range outbox {
		switch out.Kind {
		case jam.KindUpdated:
			attached = true
		case jam.KindEnded:
			ended = true
		}
		c.send(toServerMessage(s.ID(), out))
	}
	if attached && !ended && c.ctx.Err() == nil {
		// Closed without an end notice: the session dropped this connection.
		c.send(types.ServerMessage{
			Type:  types.MsgSessionEnded,
			Ended: &types.SessionEnded{SessionID: s.ID(), Reason: reasonDropped},
		})
	}
}

func (c *connection) detachAll() {
	c.mu.Lock()
	sessions := make([]*jam.Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		s.Send(jam.Detach{ConnID: c.id})
	}
	c.cancel()
	c.forwards.Wait()
}

func (c *connection) validateSong(songID string) error {
	if songID == "" {
		return fmt.Errorf("missing songId: %w", engine.ErrInvalidCommand)
	}
	if c.opts.Songs == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(c.ctx, lookupTimeout)
	defer cancel()
	if _, err := c.opts.Songs.Song(ctx, songID); err != nil {
		if errors.Is(err, engine.ErrSongNotFound) {
			return err
		}
		c.log.Warn("song lookup failed", zap.String("song_id", songID), zap.Error(err))
		return fmt.Errorf("song %q could not be verified: %w", songID, engine.ErrSongNotFound)
	}
	return nil
}

// send queues msg for the writer. It gives up once the connection is closing.
func (c *connection) send(msg types.ServerMessage) {
	select {
	case c.writes <- msg:
	case <-c.ctx.Done():
	}
}

func (c *connection) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.writes:
			payload, err := json.Marshal(msg)
			if err != nil {
				c.log.Error("failed to encode message", zap.String("type", msg.Type), zap.Error(err))
				continue
			}
			ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err = c.conn.Write(ctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				c.log.Debug("write failed, closing connection", zap.Error(err))
				c.cancel()
				return
			}
		}
	}
}

func (c *connection) keepalive() {
	t := time.NewTicker(pingInterval)
	defer t.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				c.cancel()
				return
			}
		}
	}
}
