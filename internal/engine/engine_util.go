package engine

import (
	"slices"
	"time"
)

func NewSession(id, joinCode, creatorID, initialSongID string, now time.Time) Session {
	return Session{
		ID:                    id,
		JoinCode:              joinCode,
		Creator:               creatorID,
		Participants:          []string{creatorID},
		HasControlPermissions: []string{creatorID},
		Queue:                 []string{initialSongID},
		CurrentSong:           CurrentSong{SongID: initialSongID, StartedAt: now},
		PlaybackState:         StatePaused,
	}
}

// Clone returns a copy that shares no slices with s.
func (s Session) Clone() Session {
	c := s
	c.Participants = slices.Clone(s.Participants)
	c.HasControlPermissions = slices.Clone(s.HasControlPermissions)
	c.Queue = slices.Clone(s.Queue)
	return c
}

// PositionAt derives the playback position (seconds) at now from the anchor.
func (s Session) PositionAt(now time.Time) float64 {
	pos := s.CurrentSong.PlaybackPositionAtStart
	if s.PlaybackState != StatePlaying {
		return pos
	}
	if elapsed := now.Sub(s.CurrentSong.StartedAt).Seconds(); elapsed > 0 {
		pos += elapsed
	}
	return pos
}

func (s Session) CanControl(id string) bool {
	return id != "" && slices.Contains(s.HasControlPermissions, id)
}

func ContainsEvent(events []Event, eventType EventType) bool {
	for _, event := range events {
		if event.Type == eventType {
			return true
		}
	}
	return false
}

// EndReason reports why events terminated the session, if they did.
func EndReason(events []Event) (string, bool) {
	for _, event := range events {
		if event.Type == EvtSessionEnded {
			return event.Reason, true
		}
	}
	return "", false
}
