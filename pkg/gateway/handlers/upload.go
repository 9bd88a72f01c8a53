package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/vai-interview/pkg/gateway/apierror"
	"github.com/vango-go/vai-interview/pkg/gateway/blobstore"
	"github.com/vango-go/vai-interview/pkg/gateway/config"
	"github.com/vango-go/vai-interview/pkg/gateway/mw"
	"github.com/vango-go/vai-interview/pkg/gateway/ratelimit"
	"github.com/vango-go/vai-interview/pkg/gateway/store"
	"github.com/vango-go/vai-interview/pkg/interview/api"
	"github.com/vango-go/vai-interview/pkg/interview/upload"
	"github.com/vango-go/vai-interview/pkg/metrics"
)

// multipartOverhead covers the text fields and part headers around the chunk.
const multipartOverhead = 64 << 10

// UploadChunkHandler stages one recording block. Restaging a block ID replaces it.
type UploadChunkHandler struct {
	Config  config.Config
	Blobs   blobstore.Store
	Store   *store.Store
	Limiter *ratelimit.Limiter
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type uploadChunkResponse struct {
	SessionID string `json:"sessionId"`
	BlockID   string `json:"blockId"`
	Size      int    `json:"size"`
	Checksum  string `json:"checksum"`
}

func (h UploadChunkHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	if h.Limiter != nil {
		dec := h.Limiter.AcquireUpload(mw.PrincipalKey(r, h.Config.TrustProxyHeaders), time.Now())
		if !dec.Allowed {
			h.Metrics.RecordRateLimitHit("upload")
			writeAPIError(w, reqID, api.NewRateLimitError("too many uploads in flight", max(1, dec.RetryAfter)))
			return
		}
		defer dec.Permit.Release()
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxBlockBytes+multipartOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		writeAPIError(w, reqID, api.NewInvalidRequestError("expected a multipart/form-data body"))
		return
	}

	fields := make(map[string]string, 4)
	var data []byte
	haveChunk := false
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			h.rejectRead(w, reqID, err)
			return
		}
		name := part.FormName()
		if name == api.FieldChunk {
			data, err = io.ReadAll(io.LimitReader(part, h.Config.MaxBlockBytes+1))
			part.Close()
			if err != nil {
				h.rejectRead(w, reqID, err)
				return
			}
			if int64(len(data)) > h.Config.MaxBlockBytes {
				h.Metrics.RecordBlockStaged("rejected", 0)
				apiErr := &api.Error{Type: api.ErrInvalidRequest, Message: fmt.Sprintf("block exceeds %d bytes", h.Config.MaxBlockBytes), Param: api.FieldChunk, Code: "block_too_large", RequestID: reqID}
				apierror.Write(w, http.StatusRequestEntityTooLarge, apiErr)
				return
			}
			haveChunk = true
			continue
		}
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, io.LimitReader(part, 1024)); err != nil {
			part.Close()
			h.rejectRead(w, reqID, err)
			return
		}
		part.Close()
		fields[name] = strings.TrimSpace(buf.String())
	}

	sessionID := fields[api.FieldSessionID]
	if apiErr := checkSessionID(sessionID); apiErr != nil {
		writeAPIError(w, reqID, apiErr)
		return
	}
	blockID := fields[api.FieldBlockID]
	index, err := upload.ParseBlockID(blockID)
	if err != nil {
		writeAPIError(w, reqID, api.NewInvalidRequestErrorWithParam("blockId is missing or malformed", api.FieldBlockID))
		return
	}
	isFirst := false
	if raw := fields[api.FieldIsFirst]; raw != "" {
		isFirst, err = strconv.ParseBool(raw)
		if err != nil {
			writeAPIError(w, reqID, api.NewInvalidRequestErrorWithParam("isFirst must be a boolean", api.FieldIsFirst))
			return
		}
	}
	if isFirst != (index == 0) {
		writeAPIError(w, reqID, api.NewInvalidRequestErrorWithParam("isFirst must be set on block 0 only", api.FieldIsFirst))
		return
	}
	if !haveChunk || len(data) == 0 {
		writeAPIError(w, reqID, api.NewInvalidRequestErrorWithParam("chunk is missing or empty", api.FieldChunk))
		return
	}
	sum := upload.Checksum(data)
	if want := fields[api.FieldChecksum]; want != "" && !strings.EqualFold(want, sum) {
		h.Metrics.RecordBlockStaged("rejected", 0)
		writeAPIError(w, reqID, &api.Error{Type: api.ErrInvalidRequest, Message: "checksum does not match chunk", Param: api.FieldChecksum, Code: "checksum_mismatch", RequestID: reqID})
		return
	}

	if err := h.Blobs.StageBlock(r.Context(), sessionID, blockID, data); err != nil {
		h.Metrics.RecordBlockStaged("error", 0)
		h.Logger.Error("staging block failed", "request_id", reqID, "session_id", sessionID, "block", index, "err", err)
		if errors.Is(err, blobstore.ErrInvalidName) {
			writeErr(w, reqID, err)
			return
		}
		writeAPIError(w, reqID, api.NewStorageError("staging block failed"))
		return
	}
	if err := h.Store.RecordBlock(r.Context(), store.Block{
		SessionID: sessionID,
		BlockID:   blockID,
		Size:      int64(len(data)),
		Checksum:  sum,
		IsFirst:   isFirst,
	}); err != nil {
		h.Metrics.RecordBlockStaged("error", 0)
		h.Logger.Error("recording staged block failed", "request_id", reqID, "session_id", sessionID, "block", index, "err", err)
		writeAPIError(w, reqID, api.NewStorageError("recording staged block failed"))
		return
	}

	h.Metrics.RecordBlockStaged("ok", len(data))
	h.Logger.Debug("block staged", "request_id", reqID, "session_id", sessionID, "block", index, "size", len(data))
	writeJSON(w, http.StatusOK, uploadChunkResponse{
		SessionID: sessionID,
		BlockID:   blockID,
		Size:      len(data),
		Checksum:  sum,
	})
}

func (h UploadChunkHandler) rejectRead(w http.ResponseWriter, reqID string, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		h.Metrics.RecordBlockStaged("rejected", 0)
		apierror.Write(w, http.StatusRequestEntityTooLarge, &api.Error{Type: api.ErrInvalidRequest, Message: "upload body too large", Code: "body_too_large", RequestID: reqID})
		return
	}
	writeAPIError(w, reqID, api.NewInvalidRequestError("malformed multipart body"))
}
