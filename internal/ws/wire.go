package ws

import (
	"fmt"
	"slices"
	"time"

	"github.com/DoyleJ11/jamsync/internal/engine"
	"github.com/DoyleJ11/jamsync/internal/jam"
	"github.com/DoyleJ11/jamsync/pkg/types"
)

// ToWire converts an engine session into the broadcast snapshot.
func ToWire(s engine.Session, serverTime time.Time) types.Session {
	return types.Session{
		ID:                    s.ID,
		JoinCode:              s.JoinCode,
		Creator:               s.Creator,
		Participants:          slices.Clone(s.Participants),
		HasControlPermissions: slices.Clone(s.HasControlPermissions),
		Queue:                 slices.Clone(s.Queue),
		CurrentSong: types.CurrentSong{
			SongID:                  s.CurrentSong.SongID,
			StartedAt:               s.CurrentSong.StartedAt,
			PlaybackPositionAtStart: s.CurrentSong.PlaybackPositionAtStart,
		},
		PlaybackState: string(s.PlaybackState),
		ServerTime:    serverTime,
	}
}

func errorMessage(err error) types.ServerMessage {
	return types.ServerMessage{
		Type:  types.MsgError,
		Error: &types.ErrorResponse{Code: engine.Code(err), Reason: engine.ErrorReason(err), Message: err.Error()},
	}
}

func toServerMessage(sessionID string, out jam.Outbound) types.ServerMessage {
	switch out.Kind {
	case jam.KindEnded:
		return types.ServerMessage{
			Type:  types.MsgSessionEnded,
			Ended: &types.SessionEnded{SessionID: sessionID, Reason: out.Reason},
		}
	case jam.KindError:
		return errorMessage(out.Err)
	default:
		snap := ToWire(out.Session, out.ServerTime)
		return types.ServerMessage{Type: types.MsgSessionUpdated, Version: out.Version, Session: &snap}
	}
}

// toEngineCommand maps a client message onto a session command issued by
// caller. Identity always comes from the authenticated connection.
func toEngineCommand(m types.ClientMessage, caller string) (engine.Command, error) {
	cmd := engine.Command{CallerID: caller}

	switch m.Type {
	case types.MsgControlPlayback:
		cmd.Type = engine.CmdControlPlayback
		switch m.Action {
		case types.ActionPlaying:
			cmd.Action = engine.StatePlaying
		case types.ActionPaused:
			cmd.Action = engine.StatePaused
		default:
			return engine.Command{}, fmt.Errorf("action %q: %w", m.Action, engine.ErrInvalidCommand)
		}
		cmd.PositionHint = m.PositionHint
	case types.MsgChangeSong:
		cmd.Type = engine.CmdChangeSong
		cmd.SongID = m.SongID
	case types.MsgSeek:
		if m.Position == nil {
			return engine.Command{}, fmt.Errorf("seek without position: %w", engine.ErrInvalidCommand)
		}
		cmd.Type = engine.CmdSeek
		cmd.Position = *m.Position
	case types.MsgAddToQueue:
		cmd.Type = engine.CmdAddToQueue
		cmd.SongID = m.SongID
	case types.MsgGiveControl:
		cmd.Type = engine.CmdGiveControl
		cmd.TargetID = m.TargetID
	case types.MsgRevokeControl:
		cmd.Type = engine.CmdRevokeControl
		cmd.TargetID = m.TargetID
	case types.MsgLeaveJam:
		cmd.Type = engine.CmdLeave
	case types.MsgEndJam:
		cmd.Type = engine.CmdEnd
	default:
		return engine.Command{}, fmt.Errorf("message type %q: %w", m.Type, engine.ErrUnsupportedCommand)
	}
	return cmd, nil
}
