package mw

import (
	"net/http"
	"strings"

	"github.com/vango-go/vai-interview/pkg/gateway/apierror"
	"github.com/vango-go/vai-interview/pkg/gateway/config"
	"github.com/vango-go/vai-interview/pkg/interview/api"
)

const corsMaxAge = "600"

var corsAllowedMethods = map[string]struct{}{
	http.MethodGet:  {},
	http.MethodPost: {},
}

var (
	corsAllowMethods  = "GET, POST, OPTIONS"
	corsAllowHeaders  = "Authorization, Content-Type, X-API-Key, X-Request-ID"
	corsExposeHeaders = "X-Request-ID, Retry-After"
)

// CORS lets the browser interview client call the gateway from allowlisted origins.
// The entry "*" admits every origin; the origin is still echoed back.
func CORS(cfg config.Config, next http.Handler) http.Handler {
	allowed := cfg.CORSAllowedOrigins
	_, wildcard := allowed["*"]
	originOK := func(origin string) bool {
		if origin == "" {
			return false
		}
		if wildcard {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		reqMethod := strings.TrimSpace(r.Header.Get("Access-Control-Request-Method"))

		if r.Method == http.MethodOptions && reqMethod != "" {
			reqID, _ := RequestIDFrom(r.Context())
			if !originOK(origin) {
				apierror.Write(w, http.StatusForbidden, &api.Error{
					Type:      api.ErrPermission,
					Message:   "origin not allowed",
					Param:     "Origin",
					RequestID: reqID,
				})
				return
			}
			if _, ok := corsAllowedMethods[reqMethod]; !ok {
				apierror.Write(w, http.StatusForbidden, &api.Error{
					Type:      api.ErrPermission,
					Message:   "method not allowed: " + reqMethod,
					Param:     "Access-Control-Request-Method",
					RequestID: reqID,
				})
				return
			}
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Max-Age", corsMaxAge)
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if originOK(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
			h.Set("Access-Control-Expose-Headers", corsExposeHeaders)
		}
		next.ServeHTTP(w, r)
	})
}
