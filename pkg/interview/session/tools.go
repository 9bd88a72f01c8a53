package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"

	"github.com/vango-go/vai-interview/pkg/interview/api"
	"github.com/vango-go/vai-interview/pkg/interview/realtime"
	"github.com/vango-go/vai-interview/pkg/interview/transcript"
)

const (
	ToolEndInterview = "end_interview"
	ToolScoreAnswer  = "score_answer"

	minScore = 1
	maxScore = 5
)

type endInterviewArgs struct {
	Reason string `mapstructure:"reason"`
}

type scoreAnswerArgs struct {
	QuestionID string  `mapstructure:"question_id"`
	Category   string  `mapstructure:"category"`
	Score      float64 `mapstructure:"score"`
	Rationale  string  `mapstructure:"rationale"`
}

func toolDeclarations() []realtime.Tool {
	categories := make([]any, 0, len(transcript.Categories))
	for _, c := range transcript.Categories {
		categories = append(categories, string(c))
	}
	return []realtime.Tool{
		{
			Name:        ToolEndInterview,
			Description: "End the interview once every topic has been covered and the candidate has been thanked.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"reason": map[string]any{"type": "string", "description": "Why the interview is ending."},
				},
			},
		},
		{
			Name:        ToolScoreAnswer,
			Description: "Record a score for the candidate's answer to the most recent question.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"question_id": map[string]any{"type": "string"},
					"category":    map[string]any{"type": "string", "enum": categories},
					"score":       map[string]any{"type": "number", "minimum": minScore, "maximum": maxScore},
					"rationale":   map[string]any{"type": "string"},
				},
				"required": []any{"score"},
			},
		},
	}
}

// decodeArgs decodes tool-call JSON arguments into out, accepting loosely typed values
// such as numbers sent as strings.
func decodeArgs(raw json.RawMessage, out any) error {
	var m map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("tool arguments are not a JSON object: %w", err)
		}
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	return dec.Decode(m)
}

// handleTool runs one function call from the model. It reports whether the model asked
// for the interview to end.
func (m *Machine) handleTool(ctx context.Context, call realtime.FunctionCall) (end bool) {
	logger := m.logger.With("tool", call.Name, "call_id", call.CallID)

	var output map[string]any
	switch call.Name {
	case ToolEndInterview:
		var args endInterviewArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			logger.Warn("bad end_interview arguments", "err", err)
		}
		logger.Info("model ended the interview", "reason", args.Reason)
		output = map[string]any{"ok": true}
		end = true

	case ToolScoreAnswer:
		var args scoreAnswerArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			output = map[string]any{"ok": false, "error": err.Error()}
			break
		}
		score, err := m.recordScore(args)
		if err != nil {
			output = map[string]any{"ok": false, "error": err.Error()}
			break
		}
		logger.Debug("answer scored", "question_id", score.QuestionID, "score", score.Score.String())
		output = map[string]any{"ok": true, "question_id": score.QuestionID}

	default:
		logger.Warn("unknown tool called")
		output = map[string]any{"ok": false, "error": "unknown tool " + call.Name}
	}

	if err := m.transport.SendFunctionResult(ctx, call.CallID, output); err != nil {
		m.reportError(fmt.Errorf("send %s result: %w", call.Name, err))
		return end
	}
	if !end {
		// The model waits for a response request after a function result.
		if err := m.transport.CreateResponse(ctx, realtime.ResponseOptions{}); err != nil {
			m.reportError(fmt.Errorf("resume after %s: %w", call.Name, err))
		}
	}
	return end
}

// recordScore resolves the question being scored and stores the score.
func (m *Machine) recordScore(args scoreAnswerArgs) (api.AnswerScore, error) {
	if args.Score < minScore || args.Score > maxScore {
		return api.AnswerScore{}, fmt.Errorf("score %v out of range [%d, %d]", args.Score, minScore, maxScore)
	}

	qid := strings.TrimSpace(args.QuestionID)
	category := transcript.Category(strings.ToLower(strings.TrimSpace(args.Category)))
	pairs := m.seg.Pairs()
	if qid == "" && len(pairs) > 0 {
		qid = pairs[len(pairs)-1].QuestionID
	}
	if !category.Valid() {
		category = transcript.CategoryBehavioral
		for _, p := range pairs {
			if p.QuestionID == qid {
				category = p.Category
			}
		}
	}

	score := api.AnswerScore{
		QuestionID: qid,
		Category:   string(category),
		Score:      decimal.NewFromFloat(args.Score).Round(2),
		Rationale:  strings.TrimSpace(args.Rationale),
	}
	m.mu.Lock()
	m.scores = append(m.scores, score)
	m.mu.Unlock()
	return score, nil
}
