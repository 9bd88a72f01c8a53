// Package scoring computes heuristic interview scores from a persisted Q&A transcript.
// It backs the ai-score endpoint when no model-based scorer is configured.
package scoring

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vango-go/vai-interview/pkg/interview/api"
	"github.com/vango-go/vai-interview/pkg/interview/transcript"
)

// Thresholds are the answer length and word count bands that each add one point on
// top of the base score of 1.
type Thresholds struct {
	ShortSeconds float64
	LongSeconds  float64
	FewWords     int
	ManyWords    int
}

var DefaultThresholds = Thresholds{
	ShortSeconds: 10,
	LongSeconds:  30,
	FewWords:     20,
	ManyWords:    60,
}

type Scorer struct {
	t Thresholds
}

func New(t Thresholds) *Scorer {
	if t.LongSeconds <= 0 || t.ManyWords <= 0 {
		t = DefaultThresholds
	}
	return &Scorer{t: t}
}

// Score grades every answered entry from 1 to 5 and averages per category.
func (s *Scorer) Score(entries []api.QAEntry) api.Scores {
	answers := make([]api.AnswerScore, 0, len(entries))
	for _, e := range entries {
		answers = append(answers, s.scoreEntry(e))
	}
	return api.NewScores(answers)
}

func (s *Scorer) scoreEntry(e api.QAEntry) api.AnswerScore {
	category := transcript.Category(e.Category)
	if !category.Valid() {
		category = transcript.Classify(e.Question)
	}

	words := len(strings.Fields(e.Answer))
	points := int64(1)
	var notes []string
	if e.Duration >= s.t.ShortSeconds {
		points++
		notes = append(notes, fmt.Sprintf("answered for %.0fs", e.Duration))
	}
	if e.Duration >= s.t.LongSeconds {
		points++
	}
	if words >= s.t.FewWords {
		points++
		notes = append(notes, fmt.Sprintf("%d words", words))
	}
	if words >= s.t.ManyWords {
		points++
	}
	if len(notes) == 0 {
		notes = append(notes, "brief answer")
	}

	return api.AnswerScore{
		QuestionID: e.QuestionID,
		Category:   string(category),
		Score:      decimal.NewFromInt(min(points, 5)),
		Rationale:  strings.Join(notes, ", "),
	}
}
