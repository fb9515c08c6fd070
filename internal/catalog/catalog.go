package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/DoyleJ11/jamsync/internal/engine"
)

// Song is the streamable description of a catalog entry.
type Song struct {
	ID                string  `json:"id"`
	AdaptiveStreamURL string  `json:"adaptiveStreamUrl"`
	FallbackURL       string  `json:"fallbackUrl"`
	DurationHint      float64 `json:"durationHint"`
}

type Lookup interface {
	Song(ctx context.Context, id string) (Song, error)
}

// HTTP resolves songs through GET {base}/songs/{id}/stream.
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

func (c *HTTP) Song(ctx context.Context, id string) (Song, error) {
	if id == "" {
		return Song{}, fmt.Errorf("song lookup: %w", engine.ErrInvalidCommand)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/songs/"+url.PathEscape(id)+"/stream", nil)
	if err != nil {
		return Song{}, fmt.Errorf("song lookup %q: %w", id, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Song{}, fmt.Errorf("song lookup %q: %w", id, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Song{}, fmt.Errorf("song %q: %w", id, engine.ErrSongNotFound)
	case resp.StatusCode != http.StatusOK:
		return Song{}, fmt.Errorf("song lookup %q: unexpected status %d", id, resp.StatusCode)
	}

	var s Song
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return Song{}, fmt.Errorf("song lookup %q: decode: %w", id, err)
	}
	if s.ID == "" {
		s.ID = id
	}
	if s.AdaptiveStreamURL == "" && s.FallbackURL == "" {
		return Song{}, fmt.Errorf("song %q has no stream: %w", id, engine.ErrSongNotFound)
	}
	return s, nil
}

// Cached keeps the most recent successful lookups in memory. Failures are
// never cached.
type Cached struct {
	next  Lookup
	cache *lru.Cache[string, Song]
}

func NewCached(next Lookup, size int) (*Cached, error) {
	cache, err := lru.New[string, Song](size)
	if err != nil {
		return nil, fmt.Errorf("song cache: %w", err)
	}
	return &Cached{next: next, cache: cache}, nil
}

func (c *Cached) Song(ctx context.Context, id string) (Song, error) {
	if s, ok := c.cache.Get(id); ok {
		return s, nil
	}
	s, err := c.next.Song(ctx, id)
	if err != nil {
		return Song{}, err
	}
	c.cache.Add(id, s)
	return s, nil
}

func (c *Cached) Len() int { return c.cache.Len() }

// Static serves songs from a fixed map.
type Static map[string]Song

func (s Static) Song(_ context.Context, id string) (Song, error) {
	song, ok := s[id]
	if !ok {
		return Song{}, fmt.Errorf("song %q: %w", id, engine.ErrSongNotFound)
	}
	if song.ID == "" {
		song.ID = id
	}
	return song, nil
}
