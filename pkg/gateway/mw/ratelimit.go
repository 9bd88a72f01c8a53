package mw

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/vango-go/vai-interview/pkg/gateway/apierror"
	"github.com/vango-go/vai-interview/pkg/gateway/auth"
	"github.com/vango-go/vai-interview/pkg/gateway/config"
	"github.com/vango-go/vai-interview/pkg/gateway/ratelimit"
	"github.com/vango-go/vai-interview/pkg/interview/api"
	"github.com/vango-go/vai-interview/pkg/metrics"
)

// RateLimit applies the per principal request budget. Callers without an API key are
// keyed by client IP.
func RateLimit(cfg config.Config, limiter *ratelimit.Limiter, m *metrics.Metrics, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Health endpoints must remain cheap and reliable.
		if isProbe(r.URL.Path) || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		dec := limiter.AcquireRequest(PrincipalKey(r, cfg.TrustProxyHeaders), time.Now())
		if !dec.Allowed {
			m.RecordRateLimitHit("request")
			reqID, _ := RequestIDFrom(r.Context())
			e := &api.Error{Type: api.ErrRateLimit, Message: "rate limit exceeded", RequestID: reqID}
			if dec.RetryAfter > 0 {
				v := dec.RetryAfter
				e.RetryAfter = &v
			}
			apierror.Write(w, http.StatusTooManyRequests, e)
			return
		}
		if dec.Permit != nil {
			defer dec.Permit.Release()
		}

		next.ServeHTTP(w, r)
	})
}

// PrincipalKey returns the limiter key of the request's caller. The raw API key or IP
// never leaves this function.
func PrincipalKey(r *http.Request, trustProxyHeaders bool) string {
	if p, ok := auth.PrincipalFrom(r.Context()); ok && strings.TrimSpace(p.APIKey) != "" {
		return ratelimit.PrincipalKeyFromAPIKey(p.APIKey)
	}
	if ip := clientIP(r, trustProxyHeaders); ip != "" {
		return ratelimit.PrincipalKeyFromIP(ip)
	}
	return "anonymous"
}

func clientIP(r *http.Request, trustProxyHeaders bool) string {
	if trustProxyHeaders {
		if ip := parseIP(r.Header.Get("CF-Connecting-IP")); ip != "" {
			return ip
		}
		if ip := parseIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
		if raw := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); raw != "" {
			// XFF can be "client, proxy1, proxy2". Take the left-most.
			if ip := parseIP(strings.Split(raw, ",")[0]); ip != "" {
				return ip
			}
		}
	}
	return parseIP(r.RemoteAddr)
}

func parseIP(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(s); err == nil {
		s = h
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return ""
	}
	return ip.String()
}
