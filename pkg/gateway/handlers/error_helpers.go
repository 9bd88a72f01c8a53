package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/vango-go/vai-interview/pkg/gateway/apierror"
	"github.com/vango-go/vai-interview/pkg/gateway/blobstore"
	"github.com/vango-go/vai-interview/pkg/interview/api"
)

func writeErr(w http.ResponseWriter, reqID string, err error) {
	apiErr, status := apierror.FromError(err, reqID)
	apierror.Write(w, status, apiErr)
}

func writeAPIError(w http.ResponseWriter, reqID string, apiErr *api.Error) {
	if apiErr.RequestID == "" {
		apiErr.RequestID = reqID
	}
	apierror.Write(w, api.StatusFromType(apiErr.Type), apiErr)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON reads a single JSON object of at most limit bytes into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, limit int64, dst any) *api.Error {
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return &api.Error{Type: api.ErrInvalidRequest, Message: fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit), Code: "body_too_large"}
		}
		return api.NewInvalidRequestError("request body is not valid JSON")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return api.NewInvalidRequestError("request body must contain a single JSON object")
	}
	return nil
}

func checkSessionID(id string) *api.Error {
	if !blobstore.ValidSessionID(id) {
		return api.NewInvalidRequestErrorWithParam("sessionId is missing or malformed", "sessionId")
	}
	return nil
}
