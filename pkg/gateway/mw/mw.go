package mw

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vango-go/vai-interview/pkg/gateway/apierror"
	"github.com/vango-go/vai-interview/pkg/gateway/auth"
	"github.com/vango-go/vai-interview/pkg/gateway/config"
	"github.com/vango-go/vai-interview/pkg/interview/api"
	"github.com/vango-go/vai-interview/pkg/metrics"
)

type ctxKeyRequestID struct{}

func RequestIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKeyRequestID{}).(string)
	return id, ok && id != ""
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID{}, id)
}

func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" || len(id) > 128 {
			id = "req_" + randHex(10)
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}

// Auth resolves the caller's API key. Probe endpoints and CORS preflights pass
// through untouched.
func Auth(cfg config.Config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID, _ := RequestIDFrom(r.Context())

		if isProbe(r.URL.Path) || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		switch cfg.AuthMode {
		case config.AuthModeDisabled:
			next.ServeHTTP(w, r)
			return
		case config.AuthModeOptional, config.AuthModeRequired:
		default:
			apierror.Write(w, http.StatusInternalServerError, &api.Error{
				Type:      api.ErrAPI,
				Message:   "invalid auth_mode",
				RequestID: reqID,
			})
			return
		}

		key, ok := auth.ParseAPIKey(r)
		if !ok {
			if cfg.AuthMode == config.AuthModeRequired {
				apierror.Write(w, http.StatusUnauthorized, &api.Error{
					Type:      api.ErrAuthentication,
					Message:   "missing api key",
					Param:     "Authorization",
					RequestID: reqID,
				})
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		if !auth.KeyAllowed(cfg.APIKeys, key) {
			apierror.Write(w, http.StatusUnauthorized, &api.Error{
				Type:      api.ErrAuthentication,
				Message:   "invalid api key",
				RequestID: reqID,
			})
			return
		}
		p := auth.NewPrincipal(key)
		if l, ok := r.Context().Value(ctxKeyRoute{}).(*routeLabel); ok {
			l.keyID = p.KeyID
		}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

func Recover(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				reqID, _ := RequestIDFrom(r.Context())
				if logger != nil {
					logger.Error("panic", "panic", v, "request_id", reqID, "path", r.URL.Path)
				}
				apierror.Write(w, http.StatusInternalServerError, &api.Error{
					Type:      api.ErrAPI,
					Message:   "internal error",
					RequestID: reqID,
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.status = http.StatusOK
		w.wroteHeader = true
	}
	return w.ResponseWriter.Write(p)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// routeLabel is filled in by inner handlers and read back by AccessLog.
type routeLabel struct {
	name  string
	keyID string
}

type ctxKeyRoute struct{}

// Route labels requests served by next with the mux pattern that matched them.
func Route(pattern string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l, ok := r.Context().Value(ctxKeyRoute{}).(*routeLabel); ok {
			l.name = pattern
		}
		next.ServeHTTP(w, r)
	})
}

// AccessLog logs one line per request and records it in m when non-nil.
func AccessLog(logger *slog.Logger, m *metrics.Metrics, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		label := &routeLabel{name: "unmatched"}
		next.ServeHTTP(sw, r.WithContext(context.WithValue(r.Context(), ctxKeyRoute{}, label)))

		elapsed := time.Since(start)
		m.RecordRequest(label.name, sw.status, elapsed)
		if logger == nil {
			return
		}
		reqID, _ := RequestIDFrom(r.Context())
		attrs := []any{
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"route", label.name,
			"status", sw.status,
			"duration_ms", elapsed.Milliseconds(),
		}
		if label.keyID != "" {
			attrs = append(attrs, "key_id", label.keyID)
		}
		logger.Info("request", attrs...)
	})
}

func isProbe(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

func randHex(nbytes int) string {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand should not fail in practice; fall back to time-based entropy.
		return hex.EncodeToString([]byte(time.Now().Format("20060102150405.000000000")))
	}
	return hex.EncodeToString(b)
}
