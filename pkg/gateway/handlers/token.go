package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/vango-go/vai-interview/pkg/gateway/config"
	"github.com/vango-go/vai-interview/pkg/gateway/mw"
	"github.com/vango-go/vai-interview/pkg/gateway/store"
	"github.com/vango-go/vai-interview/pkg/gateway/tokens"
	"github.com/vango-go/vai-interview/pkg/interview/api"
)

// TokenHandler mints the realtime credential a session needs to open its transport.
type TokenHandler struct {
	Config config.Config
	Minter tokens.Minter
	Store  *store.Store
	Logger *slog.Logger
}

func (h TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	var req api.TokenRequest
	if apiErr := decodeJSON(w, r, h.Config.MaxBodyBytes, &req); apiErr != nil {
		writeAPIError(w, reqID, apiErr)
		return
	}
	if apiErr := checkSessionID(req.SessionID); apiErr != nil {
		writeAPIError(w, reqID, apiErr)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.Config.MintTimeout)
	defer cancel()
	tok, err := h.Minter.Mint(ctx, req.SessionID)
	if err != nil {
		h.Logger.Error("minting realtime token failed", "request_id", reqID, "session_id", req.SessionID, "err", err)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			writeErr(w, reqID, err)
			return
		}
		writeAPIError(w, reqID, &api.Error{Type: api.ErrAPI, Message: "minting realtime token failed"})
		return
	}

	if err := h.Store.TouchSession(r.Context(), req.SessionID); err != nil {
		// The token is valid either way; bookkeeping must not block the interview.
		h.Logger.Warn("recording token issue failed", "request_id", reqID, "session_id", req.SessionID, "err", err)
	}
	writeJSON(w, http.StatusOK, tok)
}
