package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/jamsync/internal/engine"
)

type fakeWriter struct {
	mu   sync.Mutex
	recs []SessionRecord
	err  error
}

func (f *fakeWriter) Save(_ context.Context, rec SessionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.recs = append(f.recs, rec)
	return nil
}

func (f *fakeWriter) saved() []SessionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SessionRecord(nil), f.recs...)
}

var t0 = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func TestNewRecord(t *testing.T) {
	s := engine.NewSession("s1", "ABC123", "host", "A", t0)
	s.Queue = append(s.Queue, "B")

	rec := NewRecord(s, false, t0)
	require.Equal(t, "s1", rec.ID)
	require.Equal(t, []string{"A", "B"}, rec.Queue)
	require.Equal(t, "paused", rec.PlaybackState)
	require.Nil(t, rec.EndedAt)

	rec.Queue[0] = "Z"
	require.Equal(t, "A", s.Queue[0], "record must not alias the session")

	ended := NewRecord(s, true, t0.Add(time.Minute))
	require.True(t, ended.Ended)
	require.Equal(t, t0.Add(time.Minute), *ended.EndedAt)
}

func TestRecorder_WritesInOrder(t *testing.T) {
	w := &fakeWriter{}
	r := NewRecorder(w, 8, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Run(ctx)
		close(done)
	}()

	s := engine.NewSession("s1", "ABC123", "host", "A", t0)
	r.Record(s, false)
	r.Record(s, true)

	require.Eventually(t, func() bool { return len(w.saved()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	recs := w.saved()
	require.False(t, recs[0].Ended)
	require.True(t, recs[1].Ended)
}

func TestRecorder_DropsWhenFullAndFlushesOnStop(t *testing.T) {
	w := &fakeWriter{}
	r := NewRecorder(w, 1, nil)
	s := engine.NewSession("s1", "ABC123", "host", "A", t0)

	r.Record(s, false)
	r.Record(s, true) // buffer full, dropped without blocking

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Run(ctx))

	recs := w.saved()
	require.Len(t, recs, 1)
	require.False(t, recs[0].Ended)
}

func TestRecorder_WriteErrorsAreLogged(t *testing.T) {
	w := &fakeWriter{err: errors.New("db down")}
	r := NewRecorder(w, 1, nil)
	r.Record(engine.NewSession("s1", "ABC123", "host", "A", t0), false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, r.Run(ctx))
	require.Empty(t, w.saved())
}
