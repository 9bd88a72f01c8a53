package apierror

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/vango-go/vai-interview/pkg/gateway/blobstore"
	"github.com/vango-go/vai-interview/pkg/gateway/store"
	"github.com/vango-go/vai-interview/pkg/interview/api"
)

type Envelope struct {
	Error *api.Error `json:"error"`
}

func FromError(err error, requestID string) (*api.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Context timeouts/cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		return &api.Error{
			Type:      api.ErrAPI,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &api.Error{
			Type:      api.ErrAPI,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Already canonical.
	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		out := *apiErr
		out.RequestID = requestID
		out.StatusCode = 0
		return &out, api.StatusFromType(apiErr.Type)
	}

	switch {
	case errors.Is(err, blobstore.ErrInvalidName):
		return &api.Error{Type: api.ErrInvalidRequest, Message: "invalid session or block id", RequestID: requestID}, http.StatusBadRequest
	case errors.Is(err, blobstore.ErrUnknownBlock):
		return &api.Error{Type: api.ErrInvalidRequest, Message: "block list references a block that was never staged", Param: "blockIds", RequestID: requestID}, http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return &api.Error{Type: api.ErrNotFound, Message: "not found", RequestID: requestID}, http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		return &api.Error{Type: api.ErrConflict, Message: "recording already finalized with a different block list", RequestID: requestID}, http.StatusConflict
	}

	// Unknown errors: treat as internal API error (do not leak details by default).
	return &api.Error{
		Type:      api.ErrAPI,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

// Write renders err as the canonical JSON envelope.
func Write(w http.ResponseWriter, status int, err *api.Error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err != nil && err.RetryAfter != nil {
		w.Header().Set("Retry-After", strconv.Itoa(*err.RetryAfter))
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Envelope{Error: err})
}
