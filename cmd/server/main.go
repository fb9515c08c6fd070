package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/jamsync/internal/auth"
	"github.com/DoyleJ11/jamsync/internal/catalog"
	"github.com/DoyleJ11/jamsync/internal/httpapi"
	"github.com/DoyleJ11/jamsync/internal/hub"
	"github.com/DoyleJ11/jamsync/internal/jam"
	"github.com/DoyleJ11/jamsync/internal/platform/config"
	"github.com/DoyleJ11/jamsync/internal/platform/logger"
	"github.com/DoyleJ11/jamsync/internal/platform/metrics"
	"github.com/DoyleJ11/jamsync/internal/store"
)

const archiveBuffer = 256

var (
	envFile string
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "jamsync",
	Short: "jamsync - session authority for synchronized group playback",
	Long: `jamsync runs the jam session authority: participants connect over a
websocket, start or join a jam by code and every accepted command is
broadcast to everyone in the session.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := config.LoadEnv(envFile); err != nil {
			return err
		}
		return config.Bind(v, cmd.Flags())
	},
	RunE: runServer,
}

var tokenCmd = &cobra.Command{
	Use:   "token <participant>",
	Short: "Mint a participant token signed with the configured secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromViper(v)
		if cfg.Auth.Secret == "" {
			return errors.New("token-secret is required")
		}
		tok, err := auth.NewTokens(cfg.Auth.Secret, cfg.Auth.TokenTTL).Sign(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading JAM_ variables")
	config.Flags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(tokenCmd)
}

func runServer(_ *cobra.Command, _ []string) error {
	cfg := config.FromViper(v)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	sessionOpts := jam.Options{Log: log.Named("jam"), Observer: m}

	g, gCtx := errgroup.WithContext(ctx)

	var archive store.Reader
	if cfg.Database.DSN != "" {
		db, err := store.Open(cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		rec := store.NewRecorder(db, archiveBuffer, log.Named("archive"))
		sessionOpts.Archive = rec
		archive = db
		g.Go(func() error { return rec.Run(gCtx) })
	}

	var songs catalog.Lookup
	if cfg.Catalog.URL != "" {
		cached, err := catalog.NewCached(catalog.NewHTTP(cfg.Catalog.URL, cfg.Catalog.Timeout), cfg.Catalog.CacheSize)
		if err != nil {
			return err
		}
		songs = cached
	}

	h := hub.NewHub(gCtx, hub.Options{
		Session:    sessionOpts,
		CodeLength: cfg.Session.CodeLength,
		Log:        log.Named("hub"),
	})

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: httpapi.SetupRoutes(httpapi.Deps{
			Hub:        h,
			Auth:       auth.NewTokens(cfg.Auth.Secret, cfg.Auth.TokenTTL),
			Songs:      songs,
			Archive:    archive,
			Metrics:    m,
			Log:        log,
			OutboxSize: cfg.Session.OutboxSize,
		}),
	}

	g.Go(func() error {
		log.Info("listening",
			zap.String("addr", cfg.Server.Addr),
			zap.Bool("catalog", songs != nil),
			zap.Bool("archive", cfg.Database.DSN != ""))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		log.Info("shutting down")
		h.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("stopped with error", zap.Error(err))
		return err
	}
	log.Info("stopped gracefully")
	return nil
}
