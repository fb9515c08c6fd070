package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/jamsync/internal/engine"
)

func newCatalogServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/songs/{id}/stream", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		id := chi.URLParam(r, "id")
		switch id {
		case "A":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(Song{
				AdaptiveStreamURL: "http://cdn/A/master.m3u8",
				FallbackURL:       "http://cdn/A.mp3",
				DurationHint:      180,
			})
		case "broken":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTP_Song(t *testing.T) {
	var hits atomic.Int32
	srv := newCatalogServer(t, &hits)
	c := NewHTTP(srv.URL+"/", time.Second)

	s, err := c.Song(context.Background(), "A")
	require.NoError(t, err)
	require.Equal(t, "A", s.ID)
	require.Equal(t, "http://cdn/A/master.m3u8", s.AdaptiveStreamURL)
	require.Equal(t, 180.0, s.DurationHint)

	_, err = c.Song(context.Background(), "nope")
	require.ErrorIs(t, err, engine.ErrSongNotFound)
	require.Equal(t, engine.CodeNotFound, engine.Code(err))

	_, err = c.Song(context.Background(), "broken")
	require.Error(t, err)
	require.NotErrorIs(t, err, engine.ErrSongNotFound)
}

func TestCached_OnlyCachesHits(t *testing.T) {
	var hits atomic.Int32
	srv := newCatalogServer(t, &hits)
	c, err := NewCached(NewHTTP(srv.URL, time.Second), 2)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := c.Song(context.Background(), "A")
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, hits.Load())

	for i := 0; i < 2; i++ {
		_, err := c.Song(context.Background(), "nope")
		require.ErrorIs(t, err, engine.ErrSongNotFound)
	}
	require.EqualValues(t, 3, hits.Load())
	require.Equal(t, 1, c.Len())
}

func TestStatic(t *testing.T) {
	s := Static{"A": {FallbackURL: "file:///a.mp3"}}

	song, err := s.Song(context.Background(), "A")
	require.NoError(t, err)
	require.Equal(t, "A", song.ID)

	_, err = s.Song(context.Background(), "B")
	require.ErrorIs(t, err, engine.ErrSongNotFound)
}
