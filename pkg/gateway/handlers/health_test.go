package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vango-go/vai-interview/pkg/gateway/config"
	"github.com/vango-go/vai-interview/pkg/gateway/lifecycle"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func readyConfig() config.Config {
	return config.Config{
		AuthMode:            config.AuthModeOptional,
		APIKeys:             map[string]struct{}{},
		MaxBodyBytes:        1,
		MaxBlockBytes:       1,
		Storage:             config.StorageFS,
		StorageDir:          "/tmp/recordings",
		DatabaseDriver:      "sqlite3",
		DatabaseURL:         ":memory:",
		Minter:              config.MinterStatic,
		TokenTTL:            time.Minute,
		MintTimeout:         time.Second,
		ReadHeaderTimeout:   time.Second,
		ReadTimeout:         time.Second,
		HandlerTimeout:      time.Second,
		ShutdownGracePeriod: time.Second,
	}
}

func serveReady(h ReadyHandler) (*httptest.ResponseRecorder, map[string]any) {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	var resp map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	return rr, resp
}

func TestReadyHandler_Ready(t *testing.T) {
	rr, resp := serveReady(ReadyHandler{Config: readyConfig(), DB: pingerFunc(func(context.Context) error { return nil })})
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ok, _ := resp["ok"].(bool); !ok {
		t.Fatalf("expected ok=true, body=%q", rr.Body.String())
	}
}

func TestReadyHandler_RequiredAuthEmptyKeys_NotReady(t *testing.T) {
	cfg := readyConfig()
	cfg.AuthMode = config.AuthModeRequired

	rr, resp := serveReady(ReadyHandler{Config: cfg})
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ok, _ := resp["ok"].(bool); ok {
		t.Fatalf("expected ok=false, got ok=true")
	}
}

func TestReadyHandler_DatabaseDown(t *testing.T) {
	rr, resp := serveReady(ReadyHandler{Config: readyConfig(), DB: pingerFunc(func(context.Context) error { return errors.New("refused") })})
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", rr.Code)
	}
	if issues, _ := resp["issues"].([]any); len(issues) != 1 || issues[0] != "database unreachable" {
		t.Fatalf("issues=%v", resp["issues"])
	}
}

func TestReadyHandler_Draining(t *testing.T) {
	lc := &lifecycle.Lifecycle{}
	lc.SetDraining(true)
	rr, resp := serveReady(ReadyHandler{Config: readyConfig(), Lifecycle: lc})
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", rr.Code)
	}
	if d, _ := resp["draining"].(bool); !d {
		t.Fatalf("expected draining=true")
	}
}
