package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/jamsync/internal/auth"
	"github.com/DoyleJ11/jamsync/internal/catalog"
	"github.com/DoyleJ11/jamsync/internal/client"
	"github.com/DoyleJ11/jamsync/internal/platform/config"
	"github.com/DoyleJ11/jamsync/internal/platform/logger"
	"github.com/DoyleJ11/jamsync/internal/playback"
	"github.com/DoyleJ11/jamsync/internal/player"
	"github.com/DoyleJ11/jamsync/internal/telemetry"
)

var (
	envFile   string
	serverURL string
	token     string
	self      string
	joinCode  string
	songID    string
	queueIDs  []string
	startJam  bool
	v         = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "jamsync-listener",
	Short: "Headless jam participant",
	Long: `jamsync-listener plays songs on a wall-clock element and can start or
join a jam. Commands are read line by line from stdin; type "help" for the list.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := config.LoadEnv(envFile); err != nil {
			return err
		}
		return config.Bind(v, cmd.Flags())
	},
	RunE: runListener,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	fs := rootCmd.PersistentFlags()
	fs.StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading JAM_ variables")
	fs.StringVar(&serverURL, "server", "ws://localhost:8080/ws", "websocket endpoint of the session authority")
	fs.StringVar(&token, "token", "", "participant token (minted from token-secret when empty)")
	fs.StringVar(&self, "as", "", "participant id")
	fs.StringVar(&joinCode, "join", "", "join code of a jam to join on start")
	fs.StringVar(&songID, "song", "", "song to load on start")
	fs.StringSliceVar(&queueIDs, "queue", nil, "queue to load with --song")
	fs.BoolVar(&startJam, "start", false, "start a jam on --song")
	config.Flags(fs)
}

func runListener(cmd *cobra.Command, _ []string) error {
	cfg := config.FromViper(v)
	if self == "" {
		return errors.New("--as is required")
	}
	if cfg.Catalog.URL == "" {
		return errors.New("catalog-url is required")
	}
	if startJam && songID == "" {
		return errors.New("--start needs --song")
	}
	if token == "" {
		if cfg.Auth.Secret == "" {
			return errors.New("either --token or token-secret is required")
		}
		minted, err := auth.NewTokens(cfg.Auth.Secret, cfg.Auth.TokenTTL).Sign(self)
		if err != nil {
			return err
		}
		token = minted
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	songs, err := catalog.NewCached(catalog.NewHTTP(cfg.Catalog.URL, cfg.Catalog.Timeout), cfg.Catalog.CacheSize)
	if err != nil {
		return err
	}

	var sink telemetry.Sink = telemetry.Nop{}
	if cfg.Analytics.URL != "" {
		sink = telemetry.NewHTTP(cfg.Analytics.URL, cfg.Catalog.Timeout)
	}

	g, gCtx := errgroup.WithContext(ctx)

	el := player.NewClockElement(nil)
	g.Go(func() error {
		el.Start(gCtx)
		return nil
	})

	st := playback.New(gCtx, playback.Options{
		Participant:     self,
		Element:         el,
		DriftThreshold:  cfg.Player.DriftThreshold,
		Songs:           songs,
		Sink:            sink,
		StreamThreshold: cfg.Player.StreamThreshold,
		Log:             log.Named("playback"),
		Dial: func(ctx context.Context) (playback.Conn, error) {
			a, err := client.Dial(ctx, client.Options{
				URL:   serverURL,
				Token: token,
				Songs: songs,
				Log:   log.Named("client"),
			})
			if err != nil {
				return nil, err
			}
			return a, nil
		},
	})

	updates, unsubscribe := st.Subscribe()
	defer unsubscribe()
	g.Go(func() error {
		watch(log, updates)
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		st.Stop()
		return nil
	})

	if err := bootstrap(st); err != nil {
		cancel()
		_ = g.Wait()
		return err
	}

	// The scanner blocks on stdin, so it lives outside the group.
	go func() {
		readCommands(gCtx, cmd.InOrStdin(), cmd.OutOrStdout(), st)
		cancel()
	}()

	log.Info("listening",
		zap.String("participant", self),
		zap.String("server", serverURL),
		zap.Bool("analytics", cfg.Analytics.URL != ""))

	if err := g.Wait(); err != nil {
		log.Error("stopped with error", zap.Error(err))
		return err
	}
	log.Info("stopped")
	return nil
}

func bootstrap(st *playback.Store) error {
	if songID != "" {
		if err := st.LoadSong(songID, queueIDs...); err != nil {
			return err
		}
	}
	switch {
	case startJam:
		return st.StartJam()
	case joinCode != "":
		return st.JoinJam(joinCode)
	}
	return nil
}

// watch logs what changed between consecutive states.
func watch(log *zap.Logger, updates <-chan playback.State) {
	var last playback.State
	for st := range updates {
		if st.CurrentSong != last.CurrentSong || st.IsPlaying != last.IsPlaying {
			log.Info("playback",
				zap.String("song", st.CurrentSong),
				zap.Bool("playing", st.IsPlaying),
				zap.Float64("position", st.PlaybackPosition))
		}
		if modeString(st.Mode) != modeString(last.Mode) {
			log.Info("mode", zap.String("mode", modeString(st.Mode)))
		}
		if st.Notice != nil && st.Notice != last.Notice {
			log.Warn("notice", zap.String("code", st.Notice.Code), zap.String("message", st.Notice.Message))
		}
		last = st
	}
}

func modeString(m playback.Mode) string {
	j, ok := playback.IsJamming(m)
	if !ok {
		return "solo"
	}
	s := fmt.Sprintf("jam %s (%s) as %s", j.JoinCode, j.SessionID, j.Role)
	if j.Creator {
		s += ", creator"
	}
	return s
}

const help = `commands:
  play | pause | seek SECONDS | next | prev | jump INDEX
  add SONG | shuffle | repeat | vol 0..1 | mute
  jam | join CODE | leave | end | give ID | revoke ID
  state | quit`

func readCommands(ctx context.Context, in io.Reader, out io.Writer, st *playback.Store) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "quit" || fields[0] == "exit" {
			return
		}
		if err := runCommand(ctx, out, st, fields); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

func runCommand(ctx context.Context, out io.Writer, st *playback.Store, fields []string) error {
	arg := func() (string, error) {
		if len(fields) < 2 {
			return "", fmt.Errorf("%s needs an argument", fields[0])
		}
		return fields[1], nil
	}
	number := func() (float64, error) {
		a, err := arg()
		if err != nil {
			return 0, err
		}
		return strconv.ParseFloat(a, 64)
	}

	switch fields[0] {
	case "play":
		return st.Play()
	case "pause":
		return st.Pause()
	case "seek":
		pos, err := number()
		if err != nil {
			return err
		}
		return st.Seek(pos)
	case "next":
		return st.NextSong()
	case "prev":
		return st.PreviousSong()
	case "jump":
		a, err := arg()
		if err != nil {
			return err
		}
		index, err := strconv.Atoi(a)
		if err != nil {
			return err
		}
		return st.JumpTo(index)
	case "add":
		id, err := arg()
		if err != nil {
			return err
		}
		return st.AddToQueue(id)
	case "shuffle":
		return st.ToggleShuffle()
	case "repeat":
		return st.CycleRepeatMode()
	case "vol":
		vol, err := number()
		if err != nil {
			return err
		}
		return st.SetVolume(vol)
	case "mute":
		return st.ToggleMute()
	case "jam":
		return st.StartJam()
	case "join":
		code, err := arg()
		if err != nil {
			return err
		}
		return st.JoinJam(code)
	case "leave":
		return st.LeaveJam()
	case "end":
		return st.EndJam()
	case "give":
		id, err := arg()
		if err != nil {
			return err
		}
		return st.GiveControl(id)
	case "revoke":
		id, err := arg()
		if err != nil {
			return err
		}
		return st.RevokeControl(id)
	case "state":
		s, err := st.State(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s  song=%q playing=%t pos=%.1f/%.1f queue=%v repeat=%s shuffle=%t vol=%.2f muted=%t\n",
			modeString(s.Mode), s.CurrentSong, s.IsPlaying, s.PlaybackPosition, s.Duration,
			s.Queue.Active(), s.Queue.Repeat(), s.Queue.IsShuffled(), s.Volume, s.IsMuted)
		return nil
	case "help":
		fmt.Fprintln(out, help)
		return nil
	default:
		return fmt.Errorf("unknown command %q, try help", fields[0])
	}
}
