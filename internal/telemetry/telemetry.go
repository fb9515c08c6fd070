package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/DoyleJ11/jamsync/pkg/types"
)

// Sink receives analytics events. Callers treat delivery as best effort.
type Sink interface {
	SongStreamed(ctx context.Context, songID string) error
}

// HTTP posts events to {base}/events/song-streamed.
type HTTP struct {
	base   string
	client *http.Client
}

func NewHTTP(baseURL string, timeout time.Duration) *HTTP {
	return &HTTP{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

func (h *HTTP) SongStreamed(ctx context.Context, songID string) error {
	body, err := json.Marshal(types.SongStreamed{SongID: songID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.base+"/events/song-streamed", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("song-streamed %q: %w", songID, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("song-streamed %q: %w", songID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("song-streamed %q: unexpected status %d", songID, resp.StatusCode)
	}
	return nil
}

type Nop struct{}

func (Nop) SongStreamed(context.Context, string) error { return nil }
