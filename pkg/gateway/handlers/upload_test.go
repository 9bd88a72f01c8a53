package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vango-go/vai-interview/pkg/gateway/blobstore"
	"github.com/vango-go/vai-interview/pkg/gateway/mw"
	"github.com/vango-go/vai-interview/pkg/interview/api"
	"github.com/vango-go/vai-interview/pkg/interview/upload"
)

func newUploadRequest(t *testing.T, fields map[string]string, chunk []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mpw := multipart.NewWriter(&body)
	for k, v := range fields {
		if err := mpw.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	fw, err := mpw.CreateFormFile(api.FieldChunk, "chunk")
	if err != nil {
		t.Fatalf("create chunk part: %v", err)
	}
	_, _ = fw.Write(chunk)
	if err := mpw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/interviews/upload-chunk", &body)
	req.Header.Set("Content-Type", mpw.FormDataContentType())
	return req.WithContext(mw.WithRequestID(req.Context(), "req_upload"))
}

func TestUploadChunkHandler_ErrorsCarryRequestID(t *testing.T) {
	blobs, err := blobstore.NewFS(t.TempDir(), discardLogger())
	if err != nil {
		t.Fatalf("blobstore: %v", err)
	}
	h := UploadChunkHandler{Config: readyConfig(), Blobs: blobs, Store: openStore(t), Logger: discardLogger()}
	h.Config.MaxBlockBytes = 8

	tests := []struct {
		name   string
		fields map[string]string
		chunk  []byte
		status int
		code   string
	}{
		{
			name:   "checksum mismatch",
			fields: map[string]string{api.FieldSessionID: "sess_1", api.FieldBlockID: upload.BlockID(0), api.FieldIsFirst: "true", api.FieldChecksum: "00"},
			chunk:  []byte("abc"),
			status: http.StatusBadRequest,
			code:   "checksum_mismatch",
		},
		{
			name:   "block too large",
			fields: map[string]string{api.FieldSessionID: "sess_1", api.FieldBlockID: upload.BlockID(0), api.FieldIsFirst: "true"},
			chunk:  []byte("0123456789"),
			status: http.StatusRequestEntityTooLarge,
			code:   "block_too_large",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, newUploadRequest(t, tt.fields, tt.chunk))
			if rr.Code != tt.status {
				t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
			}
			var env struct {
				Error *api.Error `json:"error"`
			}
			if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil || env.Error == nil {
				t.Fatalf("body=%q err=%v", rr.Body.String(), err)
			}
			if env.Error.Code != tt.code {
				t.Fatalf("code=%q, want %q", env.Error.Code, tt.code)
			}
			if env.Error.RequestID != "req_upload" {
				t.Fatalf("request_id=%q", env.Error.RequestID)
			}
		})
	}
}
