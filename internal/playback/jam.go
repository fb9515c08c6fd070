package playback

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/DoyleJ11/jamsync/internal/client"
	"github.com/DoyleJ11/jamsync/internal/engine"
	"github.com/DoyleJ11/jamsync/internal/queue"
)

func (s *Store) handleJamIntent(m msg) {
	j, jamming := IsJamming(s.state.Mode)

	switch m := m.(type) {
	case startJam:
		if s.busy(jamming) {
			return
		}
		song := s.state.CurrentSong
		if song == "" {
			s.state = s.state.notice(engine.CodeInvalidCommand, "load a song before starting a jam")
			return
		}
		s.dial(func(c Conn) error { return c.StartJam(song) })

	case joinJam:
		if s.busy(jamming) {
			return
		}
		code := m.joinCode
		s.dial(func(c Conn) error { return c.JoinJam(code) })

	case leaveJam:
		if s.conn == nil {
			return
		}
		sessionID := ""
		if jamming {
			sessionID = j.SessionID
		}
		// Leave closes the socket itself once leave-jam is written.
		if sessionID == "" || s.conn.Leave(sessionID) != nil {
			s.conn.Close()
		}
		s.conn = nil
		s.state = s.state.solo()
		s.log.Info("left jam", zap.String("session_id", sessionID))

	case endJam:
		if !jamming {
			return
		}
		if !j.Creator {
			s.state = s.state.notice(engine.CodeForbidden, "only the creator can end the jam")
			return
		}
		s.deliver(s.conn.EndJam(j.SessionID))

	case giveControl, revokeControl:
		if !jamming {
			return
		}
		if !j.Creator {
			s.state = s.state.notice(engine.CodeForbidden, "only the creator manages control")
			return
		}
		if g, ok := m.(giveControl); ok {
			s.deliver(s.conn.GiveControl(j.SessionID, g.target))
		} else {
			s.deliver(s.conn.RevokeControl(j.SessionID, m.(revokeControl).target))
		}
	}
}

// busy reports, with a notice, that a jam is already open or opening.
func (s *Store) busy(jamming bool) bool {
	switch {
	case s.opts.Dial == nil:
		s.state = s.state.notice(engine.CodeInvalidCommand, "jamming is not configured")
	case jamming, s.dialing, s.conn != nil:
		s.state = s.state.notice(engine.CodeInvalidCommand, "already in a jam")
	default:
		return false
	}
	return true
}

func (s *Store) dial(then func(Conn) error) {
	s.dialing = true
	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, dialTimeout)
		defer cancel()
		conn, err := s.opts.Dial(ctx)
		if !s.post(dialed{conn: conn, err: err, then: then}) && conn != nil {
			conn.Close()
		}
	}()
}

func (s *Store) handleDialed(m dialed) {
	s.dialing = false
	if m.err != nil {
		s.log.Warn("jam connection failed", zap.Error(m.err))
		s.state = s.state.notice(engine.CodeTransportError, m.err.Error())
		return
	}
	s.conn = m.conn
	go s.pump(m.conn)
	s.deliver(m.then(m.conn))
}

// pump feeds a connection's messages into the inbox until it closes.
func (s *Store) pump(conn Conn) {
	for m := range conn.Messages() {
		if !s.post(fromSession{conn: conn, m: m}) {
			conn.Close()
			return
		}
	}
	s.post(sessionClosed{conn: conn})
}

func (s *Store) deliver(err error) {
	if err != nil {
		s.state = s.state.notice(engine.CodeTransportError, err.Error())
	}
}

func (s *Store) handleSession(m client.Message) {
	_, jamming := IsJamming(s.state.Mode)

	switch m := m.(type) {
	case client.SessionUpdated:
		s.applySnapshot(m)

	case client.SessionEnded:
		s.conn = nil
		s.state = s.state.solo().notice(CodeSessionEnded, m.Reason)
		s.log.Info("jam ended", zap.String("session_id", m.SessionID), zap.String("reason", m.Reason))

	case client.ErrorReceived:
		s.state = s.state.notice(m.Code, m.Message)
		if !jamming || m.Reason == engine.ErrReasonSessionNotFound {
			// A failed start/join, or a session that no longer exists.
			s.conn.Close()
			s.conn = nil
			s.state = s.state.solo()
		}

	case client.Disconnected:
		s.conn = nil
		s.state = s.state.solo().notice(engine.CodeTransportError, m.Err.Error())
		s.log.Warn("jam connection lost", zap.Error(m.Err))
	}
}

func (s *Store) applySnapshot(u client.SessionUpdated) {
	prev := s.state
	target := u.Target(s.opts.Now())

	src := u.Source
	if src.IsZero() && u.ResolveErr == nil && prev.Source.SongID == u.Session.CurrentSong.SongID {
		src = prev.Source
		target.Source = src
	}

	st := prev.fromSnapshot(u.Session, src, target.Position, s.opts.Participant)
	if u.ResolveErr != nil {
		st = st.notice(engine.Code(u.ResolveErr), fmt.Sprintf("song %s: %v", u.Session.CurrentSong.SongID, u.ResolveErr))
	}
	if _, was := IsJamming(prev.Mode); !was {
		s.log.Info("jamming", zap.String("session_id", u.Session.ID), zap.String("join_code", u.Session.JoinCode))
	}
	if st.CurrentSong != prev.CurrentSong {
		s.reporter = s.reporter.Load(st.CurrentSong)
	}
	s.state = st
	s.sync(target)
}

// redirect turns a playback intent into a command for the authority. Nothing
// is applied locally; the broadcast is the acknowledgment.
func (s *Store) redirect(j Jamming, m msg) {
	if j.Role != RoleController {
		s.state = s.state.notice(engine.CodeForbidden, "you do not have control of this jam")
		return
	}
	id := j.SessionID
	q := s.state.Queue

	var err error
	switch m := m.(type) {
	case play:
		err = s.conn.ControlPlayback(id, true, nil)
	case pause:
		err = s.conn.ControlPlayback(id, false, nil)
	case seek:
		err = s.conn.Seek(id, max(m.position, 0))
	case nextSong:
		err = s.changeTo(id, q.Next())
	case previousSong:
		if s.state.PlaybackPosition > restartThreshold {
			err = s.conn.Seek(id, 0)
		} else {
			err = s.changeTo(id, q.Previous())
		}
	case addToQueue:
		err = s.conn.AddToQueue(id, m.songID)
	case jumpTo:
		songs := q.Active()
		if m.index < 0 || m.index >= len(songs) {
			s.state = s.state.notice(engine.CodeInvalidCommand, fmt.Sprintf("jump to %d: %v", m.index, queue.ErrIndexOutOfRange))
			return
		}
		err = s.conn.ChangeSong(id, songs[m.index])
	case loadSong:
		if !slices.Contains(q.Songs(), m.songID) {
			err = s.conn.AddToQueue(id, m.songID)
		}
		if err == nil {
			err = s.conn.ChangeSong(id, m.songID)
		}
	}
	s.deliver(err)
}

func (s *Store) changeTo(sessionID string, q queue.Queue) error {
	song, ok := q.Current()
	if !ok {
		return nil
	}
	return s.conn.ChangeSong(sessionID, song)
}

// jamTrackEnded applies the repeat policy on behalf of the jam. Only the
// creator does; everyone else waits for the resulting broadcast.
func (s *Store) jamTrackEnded(j Jamming) {
	if !j.Creator {
		return
	}
	q, action := s.state.Queue.OnTrackEnd()
	var err error
	switch action {
	case queue.EndReplay:
		err = s.conn.Seek(j.SessionID, 0)
	case queue.EndAdvance:
		err = s.changeTo(j.SessionID, q)
	default:
		start := 0.0
		err = s.conn.ControlPlayback(j.SessionID, false, &start)
	}
	s.deliver(err)
}
