package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/jamsync/internal/engine"
)

// Recorder archives session snapshots in the background. Record never blocks
// the calling session: when the buffer is full the snapshot is dropped.
type Recorder struct {
	w       Writer
	pending chan SessionRecord
	log     *zap.Logger
	now     func() time.Time
	timeout time.Duration
}

func NewRecorder(w Writer, buffer int, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{
		w:       w,
		pending: make(chan SessionRecord, buffer),
		log:     log,
		now:     time.Now,
		timeout: 5 * time.Second,
	}
}

func (r *Recorder) Record(s engine.Session, ended bool) {
	select {
	case r.pending <- NewRecord(s, ended, r.now()):
	default:
		r.log.Warn("archive buffer full, dropping snapshot", zap.String("session_id", s.ID))
	}
}

// Run writes queued records until ctx is cancelled, then flushes what is
// already buffered.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.flush()
			return nil
		case rec := <-r.pending:
			r.save(context.Background(), rec)
		}
	}
}

func (r *Recorder) flush() {
	for {
		select {
		case rec := <-r.pending:
			r.save(context.Background(), rec)
		default:
			return
		}
	}
}

func (r *Recorder) save(parent context.Context, rec SessionRecord) {
	ctx, cancel := context.WithTimeout(parent, r.timeout)
	defer cancel()
	if err := r.w.Save(ctx, rec); err != nil {
		r.log.Error("failed to archive session",
			zap.String("session_id", rec.ID),
			zap.Bool("ended", rec.Ended),
			zap.Error(err))
	}
}
