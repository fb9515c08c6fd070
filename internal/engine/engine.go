package engine

import (
	"fmt"
	"slices"
	"time"
)

type PlaybackState string

const (
	StatePlaying PlaybackState = "playing"
	StatePaused  PlaybackState = "paused"
)

// CurrentSong is the anchor the current position is derived from.
type CurrentSong struct {
	SongID                  string
	StartedAt               time.Time
	PlaybackPositionAtStart float64 // seconds
}

type Session struct {
	ID                    string
	JoinCode              string
	Creator               string
	Participants          []string
	HasControlPermissions []string
	Queue                 []string
	CurrentSong           CurrentSong
	PlaybackState         PlaybackState
}

type CommandType string

const (
	CmdJoin            CommandType = "Join"
	CmdLeave           CommandType = "Leave"
	CmdEnd             CommandType = "End"
	CmdControlPlayback CommandType = "ControlPlayback"
	CmdChangeSong      CommandType = "ChangeSong"
	CmdSeek            CommandType = "Seek"
	CmdAddToQueue      CommandType = "AddToQueue"
	CmdGiveControl     CommandType = "GiveControl"
	CmdRevokeControl   CommandType = "RevokeControl"
)

/*
	CmdJoin            -> EvtParticipantJoined
	CmdLeave           -> EvtParticipantLeft (+ EvtSessionEnded if creator or last participant)
	CmdEnd             -> EvtSessionEnded
	CmdControlPlayback -> EvtPlaybackChanged
	CmdChangeSong      -> EvtSongChanged
	CmdSeek            -> EvtSeeked
	CmdAddToQueue      -> EvtSongQueued
	CmdGiveControl     -> EvtControlGranted
	CmdRevokeControl   -> EvtControlRevoked
*/

type Command struct {
	Type     CommandType
	CallerID string

	Action       PlaybackState // ControlPlayback
	PositionHint *float64      // ControlPlayback, explicit seek when set
	Position     float64       // Seek
	SongID       string        // ChangeSong, AddToQueue
	TargetID     string        // GiveControl, RevokeControl
}

type EventType string

const (
	EvtParticipantJoined EventType = "ParticipantJoined"
	EvtParticipantLeft   EventType = "ParticipantLeft"
	EvtPlaybackChanged   EventType = "PlaybackChanged"
	EvtSongChanged       EventType = "SongChanged"
	EvtSeeked            EventType = "Seeked"
	EvtSongQueued        EventType = "SongQueued"
	EvtControlGranted    EventType = "ControlGranted"
	EvtControlRevoked    EventType = "ControlRevoked"
	EvtSessionEnded      EventType = "SessionEnded"
)

type Event struct {
	Type     EventType
	ActorID  string
	TargetID string
	SongID   string
	Reason   string
}

const (
	ReasonCreatorLeft = "creator left the session"
	ReasonEmpty       = "all participants left"
	ReasonEnded       = "session ended by creator"
)

// Apply validates cmd against s and returns the resulting session. s is never
// mutated: a rejected command leaves the caller's copy exactly as it was.
func Apply(s Session, cmd Command, now time.Time) ([]Event, Session, error) {
	switch cmd.Type {
	case CmdJoin:
		if cmd.CallerID == "" {
			return nil, s, fmt.Errorf("join: %w", ErrInvalidCommand)
		}
		if isParticipant(s, cmd.CallerID) {
			return nil, s, nil
		}
		next := s.Clone()
		next.Participants = append(next.Participants, cmd.CallerID)
		return []Event{{Type: EvtParticipantJoined, ActorID: cmd.CallerID}}, next, nil

	case CmdLeave:
		if !isParticipant(s, cmd.CallerID) {
			return nil, s, fmt.Errorf("leave: %w", ErrUnauthorized)
		}
		next := s.Clone()
		next.Participants = remove(next.Participants, cmd.CallerID)
		events := []Event{{Type: EvtParticipantLeft, ActorID: cmd.CallerID}}

		switch {
		case cmd.CallerID == s.Creator:
			// Ownership is not transferred; the creator keeps control until the session is gone.
			events = append(events, Event{Type: EvtSessionEnded, Reason: ReasonCreatorLeft})
		case len(next.Participants) == 0:
			events = append(events, Event{Type: EvtSessionEnded, Reason: ReasonEmpty})
		default:
			next.HasControlPermissions = remove(next.HasControlPermissions, cmd.CallerID)
		}
		return events, next, nil

	case CmdEnd:
		if err := requireParticipant(s, cmd); err != nil {
			return nil, s, err
		}
		if cmd.CallerID != s.Creator {
			return nil, s, fmt.Errorf("end session: %w", ErrNotCreator)
		}
		return []Event{{Type: EvtSessionEnded, ActorID: cmd.CallerID, Reason: ReasonEnded}}, s, nil

	case CmdControlPlayback:
		if err := requireControl(s, cmd); err != nil {
			return nil, s, err
		}
		if cmd.Action != StatePlaying && cmd.Action != StatePaused {
			return nil, s, fmt.Errorf("control playback %q: %w", cmd.Action, ErrInvalidCommand)
		}
		pos := s.PositionAt(now)
		if cmd.PositionHint != nil {
			if *cmd.PositionHint < 0 {
				return nil, s, fmt.Errorf("control playback: position %.2f: %w", *cmd.PositionHint, ErrInvalidCommand)
			}
			pos = *cmd.PositionHint
		}
		next := s.Clone()
		next.CurrentSong = CurrentSong{SongID: s.CurrentSong.SongID, StartedAt: now, PlaybackPositionAtStart: pos}
		next.PlaybackState = cmd.Action
		return []Event{{Type: EvtPlaybackChanged, ActorID: cmd.CallerID}}, next, nil

	case CmdChangeSong:
		if err := requireControl(s, cmd); err != nil {
			return nil, s, err
		}
		if !slices.Contains(s.Queue, cmd.SongID) {
			return nil, s, fmt.Errorf("change song %q: %w", cmd.SongID, ErrSongNotInQueue)
		}
		next := s.Clone()
		next.CurrentSong = CurrentSong{SongID: cmd.SongID, StartedAt: now}
		next.PlaybackState = StatePlaying
		return []Event{{Type: EvtSongChanged, ActorID: cmd.CallerID, SongID: cmd.SongID}}, next, nil

	case CmdSeek:
		if err := requireControl(s, cmd); err != nil {
			return nil, s, err
		}
		if cmd.Position < 0 {
			return nil, s, fmt.Errorf("seek to %.2f: %w", cmd.Position, ErrInvalidCommand)
		}
		next := s.Clone()
		next.CurrentSong = CurrentSong{SongID: s.CurrentSong.SongID, StartedAt: now, PlaybackPositionAtStart: cmd.Position}
		return []Event{{Type: EvtSeeked, ActorID: cmd.CallerID}}, next, nil

	case CmdAddToQueue:
		if err := requireControl(s, cmd); err != nil {
			return nil, s, err
		}
		if cmd.SongID == "" {
			return nil, s, fmt.Errorf("add to queue: %w", ErrInvalidCommand)
		}
		next := s.Clone()
		next.Queue = append(next.Queue, cmd.SongID)
		if next.CurrentSong.SongID == "" {
			next.CurrentSong = CurrentSong{SongID: cmd.SongID, StartedAt: now}
		}
		return []Event{{Type: EvtSongQueued, ActorID: cmd.CallerID, SongID: cmd.SongID}}, next, nil

	case CmdGiveControl, CmdRevokeControl:
		if err := requireParticipant(s, cmd); err != nil {
			return nil, s, err
		}
		if cmd.CallerID != s.Creator {
			return nil, s, fmt.Errorf("%s: %w", cmd.Type, ErrNotCreator)
		}
		if !isParticipant(s, cmd.TargetID) {
			return nil, s, fmt.Errorf("%s %q: %w", cmd.Type, cmd.TargetID, ErrParticipantNotFound)
		}
		next := s.Clone()
		if cmd.Type == CmdGiveControl {
			if !slices.Contains(next.HasControlPermissions, cmd.TargetID) {
				next.HasControlPermissions = append(next.HasControlPermissions, cmd.TargetID)
			}
			return []Event{{Type: EvtControlGranted, ActorID: cmd.CallerID, TargetID: cmd.TargetID}}, next, nil
		}
		if cmd.TargetID == s.Creator {
			return nil, s, fmt.Errorf("revoke control: %w", ErrRevokeCreator)
		}
		next.HasControlPermissions = remove(next.HasControlPermissions, cmd.TargetID)
		return []Event{{Type: EvtControlRevoked, ActorID: cmd.CallerID, TargetID: cmd.TargetID}}, next, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}

func requireParticipant(s Session, cmd Command) error {
	if !isParticipant(s, cmd.CallerID) {
		return fmt.Errorf("%s: %w", cmd.Type, ErrUnauthorized)
	}
	return nil
}

func requireControl(s Session, cmd Command) error {
	if err := requireParticipant(s, cmd); err != nil {
		return err
	}
	if !s.CanControl(cmd.CallerID) {
		return fmt.Errorf("%s: %w", cmd.Type, ErrForbidden)
	}
	return nil
}

func isParticipant(s Session, id string) bool {
	return id != "" && slices.Contains(s.Participants, id)
}

func remove(ids []string, id string) []string {
	return slices.DeleteFunc(ids, func(v string) bool { return v == id })
}
