package handlers

import (
	"net/http"

	"github.com/vango-go/vai-interview/pkg/gateway/apierror"
	"github.com/vango-go/vai-interview/pkg/gateway/mw"
	"github.com/vango-go/vai-interview/pkg/interview/api"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	apierror.Write(w, http.StatusNotFound, &api.Error{
		Type:      api.ErrNotFound,
		Message:   "not found",
		RequestID: reqID,
	})
}
