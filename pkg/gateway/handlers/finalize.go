package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/vango-go/vai-interview/pkg/gateway/blobstore"
	"github.com/vango-go/vai-interview/pkg/gateway/config"
	"github.com/vango-go/vai-interview/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-interview/pkg/gateway/mw"
	"github.com/vango-go/vai-interview/pkg/gateway/store"
	"github.com/vango-go/vai-interview/pkg/interview/api"
	"github.com/vango-go/vai-interview/pkg/interview/upload"
	"github.com/vango-go/vai-interview/pkg/metrics"
)

// FinalizeHandler commits the staged blocks of a session, in the order listed, into
// one recording. Finalizing again with the same list returns the stored recording.
type FinalizeHandler struct {
	Config    config.Config
	Blobs     blobstore.Store
	Store     *store.Store
	Lifecycle *lifecycle.Lifecycle
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

func (h FinalizeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	if h.Lifecycle != nil {
		done, ok := h.Lifecycle.Begin()
		if !ok {
			writeAPIError(w, reqID, &api.Error{Type: api.ErrOverloaded, Message: "gateway is shutting down", Code: "draining"})
			return
		}
		defer done()
	}

	var req api.FinalizeRequest
	if apiErr := decodeJSON(w, r, h.Config.MaxBodyBytes, &req); apiErr != nil {
		writeAPIError(w, reqID, apiErr)
		return
	}
	if apiErr := validateFinalize(req); apiErr != nil {
		writeAPIError(w, reqID, apiErr)
		return
	}

	if existing, err := h.Store.Recording(r.Context(), req.SessionID); err == nil {
		if !store.SameBlocks(existing.BlockIDs, req.BlockIDs) {
			h.Metrics.RecordFinalize("conflict")
			writeErr(w, reqID, store.ErrConflict)
			return
		}
		h.Metrics.RecordFinalize("replayed")
		writeJSON(w, http.StatusOK, finalizeResponse(existing))
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		h.fail(w, reqID, req.SessionID, err)
		return
	}

	staged, err := h.Store.Blocks(r.Context(), req.SessionID)
	if err != nil {
		h.fail(w, reqID, req.SessionID, err)
		return
	}
	var stagedBytes int64
	for i, id := range req.BlockIDs {
		b, ok := staged[id]
		if !ok {
			h.Metrics.RecordFinalize("rejected")
			writeAPIError(w, reqID, api.NewInvalidRequestErrorWithParam(fmt.Sprintf("block %d was never staged", i), "blockIds"))
			return
		}
		if i == 0 && !b.IsFirst {
			h.Metrics.RecordFinalize("rejected")
			writeAPIError(w, reqID, api.NewInvalidRequestErrorWithParam("block list must start with the first block", "blockIds"))
			return
		}
		stagedBytes += b.Size
	}
	if req.FileSize > 0 && req.FileSize != stagedBytes {
		h.Logger.Warn("finalize file size differs from staged bytes",
			"request_id", reqID, "session_id", req.SessionID, "file_size", req.FileSize, "staged_bytes", stagedBytes)
	}

	committed, err := h.Blobs.CommitBlocks(r.Context(), req.SessionID, req.BlockIDs, blobstore.CommitOptions{
		ContentType: contentType(req.Format),
		Metadata: map[string]string{
			"duration":   strconv.FormatFloat(req.Duration, 'f', 3, 64),
			"format":     req.Format,
			"resolution": req.Resolution,
			"frame_rate": strconv.Itoa(req.FrameRate),
		},
	})
	if err != nil {
		if errors.Is(err, blobstore.ErrUnknownBlock) {
			h.Metrics.RecordFinalize("rejected")
			writeErr(w, reqID, err)
			return
		}
		h.Metrics.RecordFinalize("error")
		h.Logger.Error("committing recording failed", "request_id", reqID, "session_id", req.SessionID, "err", err)
		writeAPIError(w, reqID, api.NewStorageError("committing recording failed"))
		return
	}

	saved, err := h.Store.SaveRecording(r.Context(), store.Recording{
		SessionID:  req.SessionID,
		BlockIDs:   req.BlockIDs,
		URL:        committed.URL,
		Size:       committed.Size,
		Duration:   req.Duration,
		Format:     req.Format,
		Resolution: req.Resolution,
		FrameRate:  req.FrameRate,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			h.Metrics.RecordFinalize("conflict")
			writeErr(w, reqID, err)
			return
		}
		h.fail(w, reqID, req.SessionID, err)
		return
	}

	h.Metrics.RecordFinalize("ok")
	h.Logger.Info("recording finalized",
		"request_id", reqID,
		"session_id", req.SessionID,
		"blocks", len(req.BlockIDs),
		"size", saved.Size,
		"duration_s", req.Duration,
	)
	writeJSON(w, http.StatusOK, finalizeResponse(saved))
}

func (h FinalizeHandler) fail(w http.ResponseWriter, reqID, sessionID string, err error) {
	h.Metrics.RecordFinalize("error")
	h.Logger.Error("finalize failed", "request_id", reqID, "session_id", sessionID, "err", err)
	writeErr(w, reqID, err)
}

func validateFinalize(req api.FinalizeRequest) *api.Error {
	if apiErr := checkSessionID(req.SessionID); apiErr != nil {
		return apiErr
	}
	if len(req.BlockIDs) == 0 {
		return api.NewInvalidRequestErrorWithParam("blockIds must not be empty", "blockIds")
	}
	seen := make(map[string]struct{}, len(req.BlockIDs))
	for _, id := range req.BlockIDs {
		if _, err := upload.ParseBlockID(id); err != nil {
			return api.NewInvalidRequestErrorWithParam("blockIds contains a malformed id", "blockIds")
		}
		if _, dup := seen[id]; dup {
			return api.NewInvalidRequestErrorWithParam("blockIds contains a duplicate", "blockIds")
		}
		seen[id] = struct{}{}
	}
	if req.Duration < 0 {
		return api.NewInvalidRequestErrorWithParam("duration must be >= 0", "duration")
	}
	if req.FrameRate < 0 {
		return api.NewInvalidRequestErrorWithParam("frameRate must be >= 0", "frameRate")
	}
	return nil
}

func finalizeResponse(rec store.Recording) api.FinalizeResponse {
	return api.FinalizeResponse{
		SessionID: rec.SessionID,
		URL:       rec.URL,
		Blocks:    len(rec.BlockIDs),
		Size:      rec.Size,
	}
}

func contentType(format string) string {
	switch format {
	case "webm":
		return "video/webm"
	case "mp4":
		return "video/mp4"
	case "wav":
		return "audio/wav"
	case "pcm", "pcm16":
		return "audio/pcm"
	default:
		return "application/octet-stream"
	}
}
