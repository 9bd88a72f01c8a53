package session

import (
	"time"

	"github.com/vango-go/vai-interview/pkg/interview/api"
	"github.com/vango-go/vai-interview/pkg/interview/transcript"
)

// Phase is the coarse lifecycle state. It only moves forward.
type Phase string

const (
	PhaseSetup        Phase = "setup"
	PhaseReady        Phase = "ready"
	PhaseInterviewing Phase = "interviewing"
	PhaseEnding       Phase = "ending"
	PhaseComplete     Phase = "complete"
)

func (p Phase) rank() int {
	switch p {
	case PhaseSetup:
		return 0
	case PhaseReady:
		return 1
	case PhaseInterviewing:
		return 2
	case PhaseEnding:
		return 3
	case PhaseComplete:
		return 4
	}
	return -1
}

// SetupError is the terminal error state of a failed setup. The phase stays setup.
type SetupError string

const (
	SetupOK           SetupError = ""
	SetupDenied       SetupError = "denied"
	SetupDisconnected SetupError = "disconnected"
)

// Status is a snapshot for presentation.
type Status struct {
	SessionID  string
	Phase      Phase
	SetupError SetupError
	Elapsed    time.Duration
	Speaking   bool
	Connected  bool
	// Finalizing is true while the recording drains and the results are persisted.
	Finalizing      bool
	PendingBlocks   int
	CommittedBlocks int
	Answers         int
	OpenQuestion    string
	LastError       error
}

// Result is what End produced.
type Result struct {
	SessionID string
	BlockIDs  []string
	Duration  time.Duration
	Size      int64
	Recording *api.FinalizeResponse
	Pairs     []transcript.QAPair
	Log       []transcript.Utterance
	Scores    api.Scores
	// AIScores is nil when the scoring trigger failed.
	AIScores *api.Scores
	// ScoreErr holds the first non-fatal results or scoring failure.
	ScoreErr error
	// Err is the fatal upload or finalize error, if any.
	Err error
}
