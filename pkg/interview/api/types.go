// Package api holds the wire contract between the interview client and the backend
// gateway, plus the HTTP client the session uses to reach it.
package api

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PathToken       = "/api/interview/token"
	PathUploadChunk = "/api/interview/upload-chunk"
	PathFinalize    = "/api/interview/finalize"
	PathResults     = "/api/interview/results"

	// PathAIScore is formatted with the session id.
	PathAIScore = "/api/interview/%s/ai-score"
)

// Multipart field names of the upload-chunk request.
const (
	FieldChunk     = "chunk"
	FieldSessionID = "sessionId"
	FieldBlockID   = "blockId"
	FieldIsFirst   = "isFirst"
	FieldChecksum  = "checksum"
)

type TokenRequest struct {
	SessionID string `json:"sessionId"`
}

type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
}

// FinalizeRequest commits the ordered block list into one recording. Duration is in
// seconds.
type FinalizeRequest struct {
	SessionID  string   `json:"sessionId"`
	BlockIDs   []string `json:"blockIds"`
	Duration   float64  `json:"duration"`
	FileSize   int64    `json:"fileSize"`
	Format     string   `json:"format"`
	Resolution string   `json:"resolution,omitempty"`
	FrameRate  int      `json:"frameRate,omitempty"`
}

type FinalizeResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url,omitempty"`
	Blocks    int    `json:"blocks"`
	Size      int64  `json:"size"`
}

// QAEntry is one question and answer exchange as persisted with the results.
type QAEntry struct {
	QuestionID      string    `json:"questionId"`
	Question        string    `json:"question"`
	Category        string    `json:"category"`
	AskedAt         time.Time `json:"askedAt"`
	Answer          string    `json:"answer"`
	AnswerStartedAt time.Time `json:"answerStartedAt"`
	AnswerEndedAt   time.Time `json:"answerEndedAt"`
	Duration        float64   `json:"duration"`
}

// Utterance is one entry of the ordered conversation log.
type Utterance struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// AnswerScore is a per-answer score, either reported by the model through a tool call
// or computed by the gateway's scorer.
type AnswerScore struct {
	QuestionID string          `json:"questionId"`
	Category   string          `json:"category"`
	Score      decimal.Decimal `json:"score"`
	Rationale  string          `json:"rationale,omitempty"`
}

type Scores struct {
	Overall    decimal.Decimal            `json:"overall"`
	Categories map[string]decimal.Decimal `json:"categories"`
	Answers    []AnswerScore              `json:"answers,omitempty"`
}

type ResultsRequest struct {
	SessionID    string      `json:"sessionId"`
	Scores       Scores      `json:"scores"`
	QATranscript []QAEntry   `json:"qaTranscript"`
	Conversation []Utterance `json:"conversation,omitempty"`
}

type AIScoreResponse struct {
	SessionID string `json:"sessionId"`
	Scores    Scores `json:"scores"`
}

// NewScores averages answer scores per category and overall, rounded to two places.
func NewScores(answers []AnswerScore) Scores {
	out := Scores{
		Overall:    decimal.Zero,
		Categories: make(map[string]decimal.Decimal),
		Answers:    answers,
	}
	if len(answers) == 0 {
		return out
	}

	sums := make(map[string]decimal.Decimal)
	counts := make(map[string]int64)
	total := decimal.Zero
	for _, a := range answers {
		sums[a.Category] = sums[a.Category].Add(a.Score)
		counts[a.Category]++
		total = total.Add(a.Score)
	}

	for c, sum := range sums {
		out.Categories[c] = sum.Div(decimal.NewFromInt(counts[c])).Round(2)
	}
	out.Overall = total.Div(decimal.NewFromInt(int64(len(answers)))).Round(2)
	return out
}
