package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/opsvox/opsvox/pkg/audio"
	"github.com/opsvox/opsvox/pkg/capture"
	"github.com/opsvox/opsvox/pkg/channel"
	"github.com/opsvox/opsvox/pkg/creds"
	"github.com/opsvox/opsvox/pkg/notify"
	"github.com/opsvox/opsvox/pkg/playback"
	"github.com/opsvox/opsvox/pkg/protocol"
	"github.com/opsvox/opsvox/pkg/recorder"
	"github.com/opsvox/opsvox/pkg/settings"
)

func newRunCmd() *cobra.Command {
	var (
		teamID      string
		roleID      string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect the feedback channel and drive the voice console",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if teamID != "" {
				cfg.TeamID = teamID
			}
			if roleID != "" {
				cfg.RoleID = roleID
			}
			return runApp(cmd.Context(), cfg, metricsAddr, os.Stdin, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&teamID, "team", "", "target team id")
	cmd.Flags().StringVar(&roleID, "role", "", "target role id")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func runApp(ctx context.Context, cfg Config, metricsAddr string, stdin io.Reader, stdout io.Writer) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	settingsPath, err := settings.DefaultPath()
	if err != nil {
		return fmt.Errorf("resolve settings path: %w", err)
	}
	stg, err := settings.Open(settingsPath)
	if err != nil {
		return fmt.Errorf("open settings: %w", err)
	}

	auth := &creds.Authorizer{Provider: creds.Env{Key: cfg.TokenVar}}

	mgr := playback.New(playback.Config{
		Speaker:  &playback.Device{SampleRateHz: audio.FeedbackSampleRate},
		Lock:     &playback.FileLock{},
		Settings: stg,
		Logger:   logger,
	})

	rec := recorder.New(recorder.Config{
		URL:      cfg.RecordURL,
		Auth:     auth,
		Source:   &capture.Mic{SampleRateHz: audio.CaptureSampleRate},
		Settings: stg,
		Logger:   logger,
		OnState: func(s recorder.State) {
			logger.Debug("recorder state", "status", string(s.Status), "speaking", s.IsSpeaking)
		},
	})

	store := notify.New(notify.Config{
		Player:   mgr,
		Settings: stg,
		Logger:   logger,
	})
	wirePlayback(mgr, rec, store)
	store.Start()
	defer store.Close()

	feed := channel.New(channel.Config{
		Name:   "feed",
		URL:    cfg.FeedURL,
		Auth:   auth,
		Logger: logger,
		Handler: func(data []byte) {
			msg, err := protocol.DecodeFeedFrame(data)
			if err != nil {
				logger.Warn("undecodable feed frame", "error", err)
				return
			}
			switch m := msg.(type) {
			case protocol.FeedbackEvent:
				if n := store.Ingest(m); n != nil {
					fmt.Fprintf(stdout, "\n[feedback] %s\n> ", n.Summary)
				}
			case protocol.ErrorEvent:
				logger.Warn("feed error frame", "message", m.Message)
			}
		},
	})
	if err := feed.Connect(ctx); err != nil {
		logger.Warn("initial feed connect failed, retry pending", "error", err)
	}
	defer feed.Disconnect()

	// SIGCONT means the process came back to the foreground; check the
	// transport instead of waiting out the retry timer.
	resumeCh := make(chan os.Signal, 1)
	signal.Notify(resumeCh, syscall.SIGCONT)
	defer signal.Stop(resumeCh)
	go func() {
		for range resumeCh {
			feed.Resume(ctx)
		}
	}()

	if metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info("metrics listening", "addr", metricsAddr)
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				logger.Warn("metrics server stopped", "error", err)
			}
		}()
	}

	return repl(ctx, replDeps{
		cfg:    cfg,
		rec:    rec,
		mgr:    mgr,
		store:  store,
		stdin:  stdin,
		stdout: stdout,
	})
}

type replDeps struct {
	cfg    Config
	rec    *recorder.Recorder
	mgr    *playback.Manager
	store  *notify.Store
	stdin  io.Reader
	stdout io.Writer
}

func repl(ctx context.Context, d replDeps) error {
	fmt.Fprintln(d.stdout, "opsvox ready. Commands: record, end, stop, mode, list, play <n>, save <n>, read <n>, clear, status, quit")
	scanner := bufio.NewScanner(d.stdin)
	fmt.Fprint(d.stdout, "> ")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		fields := strings.Fields(line)
		if len(fields) == 0 {
			fmt.Fprint(d.stdout, "> ")
			continue
		}
		switch fields[0] {
		case "record", "r":
			d.rec.Start(d.cfg.TeamID, d.cfg.RoleID)
		case "end", "e":
			d.rec.StopUtterance()
		case "stop", "s":
			d.rec.Stop()
			d.mgr.Stop()
		case "mode", "m":
			mode, err := d.mgr.CycleMode()
			if err != nil {
				fmt.Fprintf(d.stdout, "mode change failed: %v\n", err)
			} else {
				fmt.Fprintf(d.stdout, "output mode: %s\n", mode)
			}
		case "list", "l":
			for i, n := range d.store.List() {
				marker := " "
				if !n.IsRead {
					marker = "*"
				}
				fmt.Fprintf(d.stdout, "%s %2d  %s  %s\n",
					marker, i+1, n.Timestamp.Format("15:04:05"), n.Summary)
			}
		case "play", "p":
			if n, ok := nthNotification(d.store, fields); ok {
				if !d.store.Play(n.ID) {
					fmt.Fprintln(d.stdout, "nothing to play")
				}
			}
		case "save":
			if n, ok := nthNotification(d.store, fields); ok {
				path, err := saveFeedback(".", n)
				if err != nil {
					fmt.Fprintf(d.stdout, "save failed: %v\n", err)
				} else {
					fmt.Fprintf(d.stdout, "wrote %s\n", path)
				}
			}
		case "read":
			if n, ok := nthNotification(d.store, fields); ok {
				d.store.MarkRead(n.ID)
			}
		case "clear", "c":
			d.store.Clear()
		case "status":
			st := d.rec.State()
			fmt.Fprintf(d.stdout, "status=%s team=%s role=%s speaking=%v mode=%s retained=%d\n",
				st.Status, st.TeamID, st.RoleID, st.IsSpeaking, d.mgr.Mode(), d.store.Len())
			if st.Transcript != "" {
				fmt.Fprintf(d.stdout, "transcript: %s\n", st.Transcript)
			}
			if st.Err != nil {
				fmt.Fprintf(d.stdout, "error: %v\n", st.Err)
			}
		case "quit", "q", "exit":
			d.rec.Stop()
			d.mgr.Stop()
			return nil
		default:
			fmt.Fprintf(d.stdout, "unknown command %q\n", fields[0])
		}
		fmt.Fprint(d.stdout, "> ")
	}
	return scanner.Err()
}

// wirePlayback binds the playback lifecycle to the recorder's speaking
// overlay and the notification store. The overlay follows the audible
// lifecycle: up when a clip reaches the speaker, down when it stops being
// audible for any reason (completion, stop, supersede, mode-off). Natural
// completion alone marks the notification played.
func wirePlayback(mgr *playback.Manager, rec *recorder.Recorder, store *notify.Store) {
	mgr.SetOnStarted(func(id string) {
		for _, n := range store.List() {
			if n.ID == id {
				rec.BeginFeedback(n.Summary)
				return
			}
		}
	})
	mgr.SetOnEnded(func(string) { rec.EndFeedback() })
	mgr.SetOnDone(store.MarkPlayed)
}

// saveFeedback writes a notification's feedback payload to dir as a WAV file
// and returns the path.
func saveFeedback(dir string, n notify.Notification) (string, error) {
	pcm, err := audio.DecodePCM16Bytes(n.Audio)
	if err != nil {
		return "", fmt.Errorf("decode feedback audio: %w", err)
	}
	if len(pcm) == 0 {
		return "", fmt.Errorf("notification has no audio payload")
	}
	path := filepath.Join(dir, "feedback-"+n.ID+".wav")
	if err := os.WriteFile(path, audio.FeedbackToWAV(pcm), 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// nthNotification resolves a 1-based index argument against the current
// newest-first listing.
func nthNotification(store *notify.Store, fields []string) (notify.Notification, bool) {
	if len(fields) < 2 {
		return notify.Notification{}, false
	}
	i, err := strconv.Atoi(fields[1])
	if err != nil || i < 1 {
		return notify.Notification{}, false
	}
	list := store.List()
	if i > len(list) {
		return notify.Notification{}, false
	}
	return list[i-1], true
}
