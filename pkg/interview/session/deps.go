package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vango-go/vai-interview/pkg/interview/api"
	"github.com/vango-go/vai-interview/pkg/interview/playback"
	"github.com/vango-go/vai-interview/pkg/interview/questions"
	"github.com/vango-go/vai-interview/pkg/interview/realtime"
	"github.com/vango-go/vai-interview/pkg/interview/transcript"
	"github.com/vango-go/vai-interview/pkg/interview/upload"
	"github.com/vango-go/vai-interview/pkg/metrics"
)

//go:generate go tool mockgen -destination=mock_backend_test.go -package=session . Backend
//go:generate go tool mockgen -destination=mock_transport_test.go -package=session github.com/vango-go/vai-interview/pkg/interview/realtime Transport

var (
	// ErrPermissionDenied must be wrapped by Devices.Acquire when the user refuses access.
	ErrPermissionDenied = errors.New("session: permission denied")
	// ErrNotReady is returned by Start outside the ready phase.
	ErrNotReady = errors.New("session: not ready")
	// ErrNotStarted is returned by End before setup has completed.
	ErrNotStarted = errors.New("session: not started")
	// ErrSetupInProgress is returned by RequestPermissions when setup already ran.
	ErrSetupInProgress = errors.New("session: setup already requested")
)

// Backend is the HTTP boundary that holds all durable state.
type Backend interface {
	Token(ctx context.Context, sessionID string) (string, error)
	UploadBlock(ctx context.Context, sessionID string, b upload.Block) error
	Finalize(ctx context.Context, in api.FinalizeRequest) (*api.FinalizeResponse, error)
	SaveResults(ctx context.Context, in api.ResultsRequest) error
	AIScore(ctx context.Context, sessionID string) (*api.Scores, error)
}

// Capture records the candidate. Chunks is closed after Stop, once the final chunk has
// been delivered, or after Release.
type Capture interface {
	Start(ctx context.Context) error
	Chunks() <-chan []byte
	// Stop ends the recording and returns its duration.
	Stop() (time.Duration, error)
	Release() error
}

// Microphone delivers PCM frames in the session's input format. Frames is closed by
// Close.
type Microphone interface {
	Frames() <-chan []byte
	Close() error
}

// AudioOutput is the playback audio context: a clock plus a sink scheduled buffers go to.
type AudioOutput interface {
	playback.Clock
	playback.Destination
	Close() error
}

// Media is everything granted by the permission flow.
type Media struct {
	Output  AudioOutput
	Mix     playback.Destination // optional recording mix
	Capture Capture
	Mic     Microphone
}

// Devices acquires the candidate's camera, microphone and speaker.
type Devices interface {
	Acquire(ctx context.Context) (*Media, error)
}

// TransportFactory opens a speech transport with a freshly minted credential.
type TransportFactory func(token string) (realtime.Transport, error)

// Recording describes the uploaded recording for the finalize call.
type Recording struct {
	Format     string
	Resolution string
	FrameRate  int
}

type Config struct {
	OutputFormat       playback.Format
	InputFormat        realtime.AudioFormat
	Voice              string
	TurnDetection      realtime.TurnDetection
	TranscriptionModel string
	Recording          Recording

	BlockSize    int
	DrainTimeout time.Duration
	DrainPoll    time.Duration

	WarnAfter    time.Duration
	EndAfter     time.Duration
	PollInterval time.Duration
	MinAnswer    time.Duration
	// MaxDuration ends the interview after this long. Zero means no limit.
	MaxDuration time.Duration
	// FinishTimeout bounds finalize and the results calls that follow the drain.
	FinishTimeout time.Duration
}

// Callbacks are invoked from session goroutines without internal locks held.
type Callbacks struct {
	OnPhase    func(Phase)
	OnSpeaking func(bool)
	OnPair     func(transcript.QAPair)
	OnError    func(error)
}

type Dependencies struct {
	SessionID    string
	Questions    *questions.Set
	Backend      Backend
	Devices      Devices
	NewTransport TransportFactory
	Callbacks    Callbacks
	Config       Config
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Now          func() time.Time
}
