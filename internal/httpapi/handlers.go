package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/jamsync/internal/engine"
	"github.com/DoyleJ11/jamsync/internal/hub"
	"github.com/DoyleJ11/jamsync/internal/store"
	"github.com/DoyleJ11/jamsync/internal/ws"
	"github.com/DoyleJ11/jamsync/pkg/types"
)

type sessionResponse struct {
	Version int           `json:"version"`
	Session types.Session `json:"session"`
}

type errorResponse struct {
	Error types.ErrorResponse `json:"error"`
}

// GetSession serves the snapshot of the active session matching {code}.
func GetSession(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "code")

		s, err := h.Lookup(r.Context(), code)
		if err != nil {
			writeError(w, log, err)
			return
		}
		view, err := s.State(r.Context())
		if err != nil {
			writeError(w, log, err)
			return
		}

		writeJSON(w, http.StatusOK, sessionResponse{
			Version: view.Version,
			Session: ws.ToWire(view.Session, time.Now()),
		})
	}
}

const (
	defaultArchiveLimit = 20
	maxArchiveLimit     = 200
)

type archivedSession struct {
	ID           string     `json:"id"`
	JoinCode     string     `json:"joinCode"`
	Creator      string     `json:"creator"`
	Participants []string   `json:"participants"`
	Queue        []string   `json:"queue"`
	LastSong     string     `json:"lastSong"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
}

// ListEnded serves the most recently ended sessions from the archive,
// ?limit=N of them.
func ListEnded(archive store.Reader, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultArchiveLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				writeError(w, log, fmt.Errorf("limit %q: %w", raw, engine.ErrInvalidCommand))
				return
			}
			limit = min(n, maxArchiveLimit)
		}

		recs, err := archive.Ended(r.Context(), limit)
		if err != nil {
			writeError(w, log, fmt.Errorf("list archive: %w", err))
			return
		}
		out := make([]archivedSession, 0, len(recs))
		for _, rec := range recs {
			out = append(out, archivedSession{
				ID:           rec.ID,
				JoinCode:     rec.JoinCode,
				Creator:      rec.Creator,
				Participants: rec.Participants,
				Queue:        rec.Queue,
				LastSong:     rec.CurrentSongID,
				EndedAt:      rec.EndedAt,
			})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	status := http.StatusInternalServerError
	code := engine.Code(err)
	switch {
	case errors.Is(err, hub.ErrHubClosed):
		status = http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrInvalidCommand):
		status = http.StatusBadRequest
	case code == engine.CodeNotFound:
		status = http.StatusNotFound
	case code == engine.CodeUnauthorized:
		status = http.StatusUnauthorized
	case code == engine.CodeForbidden:
		status = http.StatusForbidden
	default:
		log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Error: types.ErrorResponse{Code: code, Message: err.Error()}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
