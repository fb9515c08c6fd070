package types

import "time"

// Session is the full snapshot broadcast in every session-updated message.
type Session struct {
	ID                    string      `json:"id"`
	JoinCode              string      `json:"joinCode"`
	Creator               string      `json:"creator"`
	Participants          []string    `json:"participants"`
	HasControlPermissions []string    `json:"hasControlPermissions"`
	Queue                 []string    `json:"queue"`
	CurrentSong           CurrentSong `json:"currentSong"`
	PlaybackState         string      `json:"playbackState"` // "playing" | "paused"
	ServerTime            time.Time   `json:"serverTime"`
}

type CurrentSong struct {
	SongID                  string    `json:"songId"`
	StartedAt               time.Time `json:"startedAt"`
	PlaybackPositionAtStart float64   `json:"playbackPositionAtStart"`
}

func (s Session) IsPlaying() bool { return s.PlaybackState == ActionPlaying }

func (s Session) CanControl(id string) bool {
	for _, p := range s.HasControlPermissions {
		if p == id {
			return true
		}
	}
	return false
}
