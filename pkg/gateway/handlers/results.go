package handlers

import (
	"log/slog"
	"net/http"

	"github.com/vango-go/vai-interview/pkg/gateway/config"
	"github.com/vango-go/vai-interview/pkg/gateway/mw"
	"github.com/vango-go/vai-interview/pkg/gateway/scoring"
	"github.com/vango-go/vai-interview/pkg/gateway/store"
	"github.com/vango-go/vai-interview/pkg/interview/api"
	"github.com/vango-go/vai-interview/pkg/metrics"
)

// ResultsHandler persists the transcript and scores the session produced.
type ResultsHandler struct {
	Config  config.Config
	Store   *store.Store
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

func (h ResultsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	var req api.ResultsRequest
	if apiErr := decodeJSON(w, r, h.Config.MaxBodyBytes, &req); apiErr != nil {
		writeAPIError(w, reqID, apiErr)
		return
	}
	if apiErr := checkSessionID(req.SessionID); apiErr != nil {
		writeAPIError(w, reqID, apiErr)
		return
	}
	if req.Scores.Categories == nil {
		req.Scores = api.NewScores(req.Scores.Answers)
	}

	if err := h.Store.SaveResults(r.Context(), req); err != nil {
		h.Logger.Error("saving results failed", "request_id", reqID, "session_id", req.SessionID, "err", err)
		writeErr(w, reqID, err)
		return
	}
	h.Metrics.RecordResultsSaved("results")
	h.Logger.Info("results saved", "request_id", reqID, "session_id", req.SessionID, "answers", len(req.QATranscript))
	w.WriteHeader(http.StatusNoContent)
}

// AIScoreHandler scores the persisted transcript of a session.
type AIScoreHandler struct {
	Store   *store.Store
	Scorer  *scoring.Scorer
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

func (h AIScoreHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	sessionID := r.PathValue("sessionId")
	if apiErr := checkSessionID(sessionID); apiErr != nil {
		writeAPIError(w, reqID, apiErr)
		return
	}

	res, err := h.Store.Results(r.Context(), sessionID)
	if err != nil {
		writeErr(w, reqID, err)
		return
	}
	scores := h.Scorer.Score(res.QATranscript)
	if err := h.Store.SaveAIScores(r.Context(), sessionID, scores); err != nil {
		h.Logger.Error("saving ai scores failed", "request_id", reqID, "session_id", sessionID, "err", err)
		writeErr(w, reqID, err)
		return
	}

	h.Metrics.RecordResultsSaved("ai_score")
	h.Logger.Info("session scored", "request_id", reqID, "session_id", sessionID, "overall", scores.Overall.String())
	writeJSON(w, http.StatusOK, api.AIScoreResponse{SessionID: sessionID, Scores: scores})
}
