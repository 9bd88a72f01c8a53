package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/vango-go/vai-interview/pkg/gateway/config"
	"github.com/vango-go/vai-interview/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// Pinger is satisfied by the results store.
type Pinger interface {
	Ping(ctx context.Context) error
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
	DB        Pinger
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK            bool     `json:"ok"`
		AuthMode      string   `json:"auth_mode"`
		Storage       string   `json:"storage"`
		Minter        string   `json:"minter"`
		LimitsEnabled bool     `json:"limits_enabled"`
		Draining      bool     `json:"draining,omitempty"`
		Issues        []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 2)
	if err := h.Config.Validate(); err != nil {
		issues = append(issues, err.Error())
	}
	if h.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.DB.Ping(ctx)
		cancel()
		if err != nil {
			issues = append(issues, "database unreachable")
		}
	}

	draining := h.Lifecycle != nil && h.Lifecycle.IsDraining()
	limitsEnabled := (h.Config.LimitRPS > 0 && h.Config.LimitBurst > 0) ||
		h.Config.LimitMaxConcurrentRequests > 0 ||
		h.Config.LimitMaxConcurrentUploads > 0

	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	switch {
	case draining:
		status = http.StatusServiceUnavailable
	case !ok:
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:            ok,
		AuthMode:      string(h.Config.AuthMode),
		Storage:       string(h.Config.Storage),
		Minter:        string(h.Config.Minter),
		LimitsEnabled: limitsEnabled,
		Draining:      draining,
		Issues:        issues,
	})
}
