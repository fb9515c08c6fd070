package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/jamsync/internal/catalog"
	"github.com/DoyleJ11/jamsync/internal/hub"
	"github.com/DoyleJ11/jamsync/internal/platform/logger"
	"github.com/DoyleJ11/jamsync/internal/platform/metrics"
	"github.com/DoyleJ11/jamsync/internal/store"
	"github.com/DoyleJ11/jamsync/internal/ws"
)

type Deps struct {
	Hub            *hub.Hub
	Auth           ws.Authenticator
	Songs          catalog.Lookup // optional
	Archive        store.Reader   // optional, enables /archive/sessions
	Metrics        *metrics.Metrics
	Log            *zap.Logger
	OutboxSize     int
	OriginPatterns []string
}

func SetupRoutes(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(d.Log.Named("http")))
	r.Use(metrics.RequestMiddleware(d.Metrics))

	r.Get("/healthz", Healthz)
	r.Method(http.MethodGet, "/metrics", d.Metrics.Handler(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if n, err := d.Hub.Count(ctx); err == nil {
			d.Metrics.SetActiveSessions(n)
		}
	}))
	r.Get("/sessions/{code}", GetSession(d.Hub, d.Log))
	if d.Archive != nil {
		r.Get("/archive/sessions", ListEnded(d.Archive, d.Log))
	}
	r.Get("/ws", ws.Handler(ws.Options{
		Hub:            d.Hub,
		Auth:           d.Auth,
		Songs:          d.Songs,
		OutboxSize:     d.OutboxSize,
		Log:            d.Log.Named("ws"),
		Conns:          d.Metrics,
		OriginPatterns: d.OriginPatterns,
	}))
	return r
}
