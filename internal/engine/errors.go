package engine

import "errors"

var ErrUnauthorized = errors.New("caller is not a participant")
var ErrForbidden = errors.New("caller lacks control permission")
var ErrNotCreator = errors.New("only the session creator may do this")
var ErrRevokeCreator = errors.New("creator control cannot be revoked")
var ErrSessionNotFound = errors.New("session not found")
var ErrSongNotInQueue = errors.New("song is not in the queue")
var ErrSongNotFound = errors.New("song not found")
var ErrParticipantNotFound = errors.New("participant not found")
var ErrInvalidCommand = errors.New("invalid command")
var ErrUnsupportedCommand = errors.New("unsupported command")

// Error codes sent to clients in error events.
const (
	CodeUnauthorized   = "Unauthorized"
	CodeForbidden      = "Forbidden"
	CodeNotFound       = "NotFound"
	CodeInvalidCommand = "InvalidCommand"
	CodeMediaError     = "MediaError"
	CodeTransportError = "TransportError"
)

// ErrReasonSessionNotFound refines CodeNotFound when the session itself is
// gone, as opposed to a song or participant inside it.
const ErrReasonSessionNotFound = "session-not-found"

// ErrorReason returns the refinement carried next to Code, or "".
func ErrorReason(err error) string {
	if errors.Is(err, ErrSessionNotFound) {
		return ErrReasonSessionNotFound
	}
	return ""
}

// Code classifies err into the protocol error taxonomy.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrNotCreator), errors.Is(err, ErrRevokeCreator):
		return CodeForbidden
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrSongNotInQueue),
		errors.Is(err, ErrSongNotFound), errors.Is(err, ErrParticipantNotFound):
		return CodeNotFound
	default:
		return CodeInvalidCommand
	}
}
