package types

// Client -> Server
const (
	MsgStartJam        = "start-jam"        // songId
	MsgJoinJam         = "join-jam"         // joinCode
	MsgControlPlayback = "control-playback" // sessionId, action, positionHint?
	MsgChangeSong      = "change-song"      // sessionId, songId
	MsgSeek            = "seek"             // sessionId, position
	MsgAddToQueue      = "add-to-queue"     // sessionId, songId
	MsgGiveControl     = "give-control"     // sessionId, targetId
	MsgRevokeControl   = "revoke-control"   // sessionId, targetId
	MsgLeaveJam        = "leave-jam"        // sessionId
	MsgEndJam          = "end-jam"          // sessionId
)

// Server -> Client
const (
	MsgSessionUpdated = "session-updated"
	MsgSessionEnded   = "session-ended"
	MsgError          = "error"
)

// Playback actions carried by control-playback.
const (
	ActionPlaying = "playing"
	ActionPaused  = "paused"
)

type ClientMessage struct {
	Type         string   `json:"type"`
	SessionID    string   `json:"sessionId,omitempty"`
	SongID       string   `json:"songId,omitempty"`
	JoinCode     string   `json:"joinCode,omitempty"`
	Action       string   `json:"action,omitempty"`
	PositionHint *float64 `json:"positionHint,omitempty"`
	Position     *float64 `json:"position,omitempty"`
	TargetID     string   `json:"targetId,omitempty"`
}

type ServerMessage struct {
	Type    string         `json:"type"`
	Version int            `json:"version,omitempty"`
	Session *Session       `json:"session,omitempty"`
	Ended   *SessionEnded  `json:"ended,omitempty"`
	Error   *ErrorResponse `json:"error,omitempty"`
}

type SessionEnded struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Reason  string `json:"reason,omitempty"` // e.g. "session-not-found"
	Message string `json:"message"`
}

// SongStreamed is the telemetry payload sent once a song counts as played.
type SongStreamed struct {
	SongID string `json:"songId"`
}
