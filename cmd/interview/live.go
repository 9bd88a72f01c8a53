package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/vango-go/vai-interview/internal/envutil"
	"github.com/vango-go/vai-interview/pkg/interview/api"
	"github.com/vango-go/vai-interview/pkg/interview/playback"
	"github.com/vango-go/vai-interview/pkg/interview/questions"
	"github.com/vango-go/vai-interview/pkg/interview/realtime"
	"github.com/vango-go/vai-interview/pkg/interview/realtime/gemini"
	"github.com/vango-go/vai-interview/pkg/interview/session"
	"github.com/vango-go/vai-interview/pkg/interview/transcript"
)

const (
	transportOpenAI = "openai"
	transportGemini = "gemini"
)

type liveConfig struct {
	APIURL        string
	APIKey        string
	SessionID     string
	QuestionsPath string
	Transport     string
	RealtimeURL   string
	RealtimeModel string
	Voice         string

	WarnAfter     time.Duration
	EndAfter      time.Duration
	MaxDuration   time.Duration
	DrainTimeout  time.Duration
	ChunkInterval time.Duration
	BlockSize     int
}

func loadLiveConfig() liveConfig {
	return liveConfig{
		APIURL:        envutil.Or("INTERVIEW_API_URL", "http://localhost:8080"),
		APIKey:        envutil.Or("INTERVIEW_API_KEY", ""),
		SessionID:     envutil.Or("INTERVIEW_SESSION_ID", ""),
		QuestionsPath: envutil.Or("INTERVIEW_QUESTIONS", ""),
		Transport:     envutil.Or("INTERVIEW_TRANSPORT", transportOpenAI),
		RealtimeURL:   envutil.Or("INTERVIEW_REALTIME_URL", realtime.DefaultURL),
		RealtimeModel: envutil.Or("INTERVIEW_REALTIME_MODEL", ""),
		Voice:         envutil.Or("INTERVIEW_VOICE", ""),
		WarnAfter:     envutil.DurationOr("INTERVIEW_WARN_AFTER", 30*time.Second),
		EndAfter:      envutil.DurationOr("INTERVIEW_END_AFTER", 60*time.Second),
		MaxDuration:   envutil.DurationOr("INTERVIEW_MAX_DURATION", 0),
		DrainTimeout:  envutil.DurationOr("INTERVIEW_DRAIN_TIMEOUT", 30*time.Second),
		ChunkInterval: envutil.DurationOr("INTERVIEW_CHUNK_INTERVAL", 2*time.Second),
		BlockSize:     envutil.IntOr("INTERVIEW_BLOCK_SIZE", 0),
	}
}

func (c liveConfig) Validate() error {
	if strings.TrimSpace(c.APIURL) == "" {
		return errors.New("INTERVIEW_API_URL is required")
	}
	switch c.Transport {
	case transportOpenAI, transportGemini:
	default:
		return fmt.Errorf("INTERVIEW_TRANSPORT must be %q or %q", transportOpenAI, transportGemini)
	}
	if c.EndAfter > 0 && c.WarnAfter >= c.EndAfter {
		return errors.New("INTERVIEW_WARN_AFTER must be shorter than INTERVIEW_END_AFTER")
	}
	if c.MaxDuration < 0 || c.DrainTimeout < 0 || c.BlockSize < 0 {
		return errors.New("durations and block size must not be negative")
	}
	if c.ChunkInterval <= 0 {
		return errors.New("INTERVIEW_CHUNK_INTERVAL must be > 0")
	}
	return nil
}

func newLiveCmd() *cobra.Command {
	var (
		sessionID     string
		questionsPath string
		transport     string
		maxDuration   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "live",
		Short: "Run an interview with the default microphone and speaker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadLiveConfig()
			flags := cmd.Flags()
			if flags.Changed("session") {
				cfg.SessionID = sessionID
			}
			if flags.Changed("questions") {
				cfg.QuestionsPath = questionsPath
			}
			if flags.Changed("transport") {
				cfg.Transport = transport
			}
			if flags.Changed("max-duration") {
				cfg.MaxDuration = maxDuration
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: slog.LevelWarn}))
			devices := &desktopDevices{
				format:        playback.Format{SampleRate: playback.DefaultSampleRate, Channels: 1},
				chunkInterval: cfg.ChunkInterval,
				logger:        logger,
			}
			defer devices.Close()

			stdin := cmd.InOrStdin()
			interactive := false
			if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
				interactive = true
			}
			return runLive(cmd.Context(), cfg, stdin, interactive, cmd.OutOrStdout(), logger, devices)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (generated when empty)")
	cmd.Flags().StringVar(&questionsPath, "questions", "", "YAML question set")
	cmd.Flags().StringVar(&transport, "transport", transportOpenAI, "speech transport: openai or gemini")
	cmd.Flags().DurationVar(&maxDuration, "max-duration", 0, "end the interview after this long")
	return cmd
}

func newTransportFactory(cfg liveConfig, logger *slog.Logger) session.TransportFactory {
	return func(token string) (realtime.Transport, error) {
		switch cfg.Transport {
		case transportGemini:
			return gemini.New(gemini.Config{APIKey: token, Model: cfg.RealtimeModel, Logger: logger}), nil
		case transportOpenAI:
			return realtime.NewWSTransport(realtime.Config{
				URL:    cfg.RealtimeURL,
				Model:  cfg.RealtimeModel,
				Token:  token,
				Logger: logger,
			}), nil
		}
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// console serializes output from session callbacks.
type console struct {
	mu sync.Mutex
	w  io.Writer
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}

func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return lines
}

// runLive drives one session. Without a terminal the interview starts right after
// setup and runs until it ends itself or ctx is cancelled.
func runLive(ctx context.Context, cfg liveConfig, stdin io.Reader, interactive bool, stdout io.Writer, logger *slog.Logger, devices session.Devices) error {
	set := questions.Default()
	if cfg.QuestionsPath != "" {
		loaded, err := questions.Load(cfg.QuestionsPath)
		if err != nil {
			return err
		}
		set = loaded
	}
	if cfg.SessionID == "" {
		cfg.SessionID = "sess_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	out := &console{w: stdout}
	client := api.NewClient(api.Config{BaseURL: cfg.APIURL, APIKey: cfg.APIKey, Logger: logger})
	m, err := session.New(session.Dependencies{
		SessionID:    cfg.SessionID,
		Questions:    set,
		Backend:      client,
		Devices:      devices,
		NewTransport: newTransportFactory(cfg, logger),
		Callbacks: session.Callbacks{
			OnPhase: func(p session.Phase) { out.printf("[%s]\n", p) },
			OnPair: func(p transcript.QAPair) {
				out.printf("\nQ (%s): %s\nA: %s\n\n", p.Category, p.QuestionText, p.AnswerText)
			},
			OnError: func(err error) { out.printf("error: %v\n", err) },
		},
		Config: session.Config{
			Voice:        cfg.Voice,
			BlockSize:    cfg.BlockSize,
			DrainTimeout: cfg.DrainTimeout,
			WarnAfter:    cfg.WarnAfter,
			EndAfter:     cfg.EndAfter,
			MaxDuration:  cfg.MaxDuration,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer m.Teardown()

	out.printf("Session %s\n", cfg.SessionID)
	if err := m.RequestPermissions(ctx); err != nil {
		return fmt.Errorf("setup: %w", err)
	}

	var lines <-chan string
	if interactive {
		lines = readLines(stdin)
		out.printf("Press Enter to begin the interview.\n")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-lines:
			if !ok {
				return errors.New("stdin closed before the interview started")
			}
		}
	}
	if err := m.Start(ctx); err != nil {
		return err
	}
	if interactive {
		out.printf("Interview started. Press Enter to end.\n")
	} else {
		out.printf("Interview started.\n")
	}

	select {
	case <-m.Done():
	case <-lines:
	case <-ctx.Done():
	}
	// End must run to completion even after an interrupt so the recording is kept.
	endErr := m.End(context.WithoutCancel(ctx))
	if errors.Is(endErr, session.ErrNotStarted) {
		endErr = nil
	}
	<-m.Done()

	printResult(out, m.Result())
	return endErr
}

func printResult(out *console, res *session.Result) {
	if res == nil {
		return
	}
	out.printf("\nSession %s finished after %s\n", res.SessionID, res.Duration.Round(time.Second))
	if res.Recording != nil {
		out.printf("Recording: %s (%d blocks, %d bytes)\n", res.Recording.URL, res.Recording.Blocks, res.Recording.Size)
	}
	out.printf("Answers: %d, overall score %s\n", len(res.Pairs), res.Scores.Overall.StringFixed(2))
	for _, cat := range sortedCategories(res.Scores) {
		out.printf("  %-12s %s\n", cat, res.Scores.Categories[cat].StringFixed(2))
	}
	if res.AIScores != nil {
		out.printf("Gateway score: %s\n", res.AIScores.Overall.StringFixed(2))
	}
	if res.ScoreErr != nil {
		out.printf("warning: %v\n", res.ScoreErr)
	}
	if res.Err != nil {
		out.printf("error: %v\n", res.Err)
	}
}

func sortedCategories(s api.Scores) []string {
	cats := make([]string, 0, len(s.Categories))
	for c := range s.Categories {
		cats = append(cats, c)
	}
	slices.Sort(cats)
	return cats
}
