package hub

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/jamsync/internal/engine"
	"github.com/DoyleJ11/jamsync/internal/jam"
)

const DefaultCodeLength = 6

var ErrHubClosed = errors.New("hub closed")

type HubMsg interface{ isHubMsg() }

type CreateSession struct {
	CreatorID string
	SongID    string
	Reply     chan *jam.Session
}

type GetSession struct {
	ID    string
	Reply chan *jam.Session // nil when unknown
}

type FindByCode struct {
	Code  string
	Reply chan *jam.Session // nil when no active session matches
}

type RemoveSession struct {
	ID string
}

type CountSessions struct {
	Reply chan int
}

type ShutdownHub struct{}

func (CreateSession) isHubMsg() {}
func (GetSession) isHubMsg()    {}
func (FindByCode) isHubMsg()    {}
func (RemoveSession) isHubMsg() {}
func (CountSessions) isHubMsg() {}
func (ShutdownHub) isHubMsg()   {}

type Options struct {
	Session    jam.Options // template for every session; OnEnd is owned by the hub
	CodeLength int
	Log        *zap.Logger
}

type Hub struct {
	inbox    chan HubMsg
	sessions map[string]*jam.Session // by session id
	codes    map[string]string       // upper-cased join code -> session id
	opts     Options
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewHub(parent context.Context, opts Options) *Hub {
	ctx, cancel := context.WithCancel(parent)
	if opts.CodeLength <= 0 {
		opts.CodeLength = DefaultCodeLength
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Session.Log == nil {
		opts.Session.Log = opts.Log
	}
	if opts.Session.Now == nil {
		opts.Session.Now = time.Now
	}
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		sessions: make(map[string]*jam.Session),
		codes:    make(map[string]string),
		opts:     opts,
		log:      opts.Log,
		ctx:      ctx,
		cancel:   cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			// Sessions are children of h.ctx and shut themselves down.
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case CreateSession:
				code, err := h.uniqueCode()
				if err != nil {
					h.log.Error("failed to generate join code", zap.Error(err))
					msg.Reply <- nil
					break
				}
				initial := engine.NewSession(uuid.NewString(), code, msg.CreatorID, msg.SongID, h.opts.Session.Now())

				opts := h.opts.Session
				opts.OnEnd = h.forget
				s := jam.New(h.ctx, initial, opts)
				h.sessions[s.ID()] = s
				h.codes[code] = s.ID()
				h.log.Info("session created",
					zap.String("session_id", s.ID()),
					zap.String("join_code", code),
					zap.String("creator", msg.CreatorID))
				msg.Reply <- s

			case GetSession:
				msg.Reply <- h.sessions[msg.ID] // May be nil

			case FindByCode:
				id, ok := h.codes[NormalizeCode(msg.Code)]
				if !ok {
					msg.Reply <- nil
					break
				}
				msg.Reply <- h.sessions[id]

			case RemoveSession:
				if s, ok := h.sessions[msg.ID]; ok {
					delete(h.codes, s.JoinCode())
					delete(h.sessions, msg.ID)
				}

			case CountSessions:
				msg.Reply <- len(h.sessions)

			case ShutdownHub:
				for _, s := range h.sessions {
					s.Send(jam.Shutdown{})
				}
				clear(h.sessions)
				clear(h.codes)
				h.cancel()
			}
		}
	}
}

// forget runs on the ending session's goroutine.
func (h *Hub) forget(s engine.Session) {
	go func() {
		select {
		case h.inbox <- RemoveSession{ID: s.ID}:
		case <-h.ctx.Done():
		}
	}()
}

func (h *Hub) uniqueCode() (string, error) {
	for {
		c, err := GenerateCode(h.opts.CodeLength)
		if err != nil {
			return "", err
		}
		if _, taken := h.codes[c]; !taken {
			return c, nil
		}
		h.log.Debug("collision on join code, regenerating")
	}
}

// Create starts a new session owned by creatorID.
func (h *Hub) Create(ctx context.Context, creatorID, songID string) (*jam.Session, error) {
	reply := make(chan *jam.Session, 1)
	s, err := request(ctx, h, CreateSession{CreatorID: creatorID, SongID: songID, Reply: reply}, reply)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, errors.New("failed to create session")
	}
	return s, nil
}

// Get returns the live session with the given id.
func (h *Hub) Get(ctx context.Context, id string) (*jam.Session, error) {
	reply := make(chan *jam.Session, 1)
	s, err := request(ctx, h, GetSession{ID: id, Reply: reply}, reply)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, engine.ErrSessionNotFound
	}
	return s, nil
}

// Lookup finds an active session by join code, ignoring case.
func (h *Hub) Lookup(ctx context.Context, code string) (*jam.Session, error) {
	reply := make(chan *jam.Session, 1)
	s, err := request(ctx, h, FindByCode{Code: code, Reply: reply}, reply)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, engine.ErrSessionNotFound
	}
	return s, nil
}

func (h *Hub) Count(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	return request(ctx, h, CountSessions{Reply: reply}, reply)
}

func (h *Hub) Shutdown() {
	select {
	case h.inbox <- ShutdownHub{}:
	case <-h.ctx.Done():
	}
}

func request[T any](ctx context.Context, h *Hub, msg HubMsg, reply chan T) (T, error) {
	var zero T
	select {
	case h.inbox <- msg:
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-h.ctx.Done():
		return zero, ErrHubClosed
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-h.ctx.Done():
		return zero, ErrHubClosed
	}
}

func GenerateCode(length int) (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, length)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}

func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
