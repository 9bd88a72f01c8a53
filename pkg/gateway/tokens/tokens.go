// Package tokens mints short-lived credentials the interview client uses to open its
// speech transport.
package tokens

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vango-go/vai-interview/pkg/interview/api"
)

// Minter issues one transport credential per call.
type Minter interface {
	Mint(ctx context.Context, sessionID string) (api.TokenResponse, error)
}

// Static hands out a fixed token, or a random development token when none is set.
type Static struct {
	Token string
	TTL   time.Duration
	Now   func() time.Time
}

func (s Static) Mint(_ context.Context, sessionID string) (api.TokenResponse, error) {
	if strings.TrimSpace(sessionID) == "" {
		return api.TokenResponse{}, errors.New("session id is required")
	}
	token := s.Token
	if token == "" {
		b := make([]byte, 16)
		if _, err := rand.Read(b); err != nil {
			return api.TokenResponse{}, fmt.Errorf("generate token: %w", err)
		}
		token = "dev_" + hex.EncodeToString(b)
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	ttl := s.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return api.TokenResponse{Token: token, ExpiresAt: now().Add(ttl).Unix()}, nil
}

const realtimeSessionsPath = "/v1/realtime/sessions"

// OpenAI requests an ephemeral realtime client secret.
type OpenAI struct {
	baseURL    string
	apiKey     string
	model      string
	voice      string
	httpClient *http.Client
	logger     *slog.Logger
	retries    uint64
	backoff    time.Duration
}

type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Voice      string
	HTTPClient *http.Client
	Logger     *slog.Logger
	// Retries bounds retries of 429 and 5xx responses.
	Retries uint64
	Backoff time.Duration
}

func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-realtime-preview"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 250 * time.Millisecond
	}
	return &OpenAI{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		voice:      cfg.Voice,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
		retries:    cfg.Retries,
		backoff:    cfg.Backoff,
	}, nil
}

type realtimeSessionRequest struct {
	Model      string   `json:"model"`
	Voice      string   `json:"voice,omitempty"`
	Modalities []string `json:"modalities"`
}

type realtimeSessionResponse struct {
	ClientSecret struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

func (o *OpenAI) Mint(ctx context.Context, sessionID string) (api.TokenResponse, error) {
	body, err := json.Marshal(realtimeSessionRequest{
		Model:      o.model,
		Voice:      o.voice,
		Modalities: []string{"audio", "text"},
	})
	if err != nil {
		return api.TokenResponse{}, err
	}

	var out api.TokenResponse
	b := retry.WithMaxRetries(o.retries, retry.NewExponential(o.backoff))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		tok, err := o.mintOnce(ctx, body)
		if err != nil {
			var apiErr *api.Error
			if errors.As(err, &apiErr) && apiErr.IsRetryable() {
				o.logger.Warn("minting realtime token failed, retrying", "session_id", sessionID, "status", apiErr.StatusCode)
				return retry.RetryableError(err)
			}
			return err
		}
		out = tok
		return nil
	})
	if err != nil {
		return api.TokenResponse{}, fmt.Errorf("mint realtime token: %w", err)
	}
	return out, nil
}

func (o *OpenAI) mintOnce(ctx context.Context, body []byte) (api.TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+realtimeSessionsPath, bytes.NewReader(body))
	if err != nil {
		return api.TokenResponse{}, err
	}
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return api.TokenResponse{}, &api.TransportError{Op: "POST", URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return api.TokenResponse{}, &api.TransportError{Op: "POST", URL: req.URL.String(), Err: err}
	}
	if resp.StatusCode/100 != 2 {
		return api.TokenResponse{}, &api.Error{
			Type:       api.ErrAPI,
			Message:    fmt.Sprintf("realtime session request failed: %s", strings.TrimSpace(string(raw))),
			StatusCode: resp.StatusCode,
		}
	}

	var parsed realtimeSessionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return api.TokenResponse{}, fmt.Errorf("decode realtime session: %w", err)
	}
	if parsed.ClientSecret.Value == "" {
		return api.TokenResponse{}, errors.New("realtime session response has no client secret")
	}
	return api.TokenResponse{Token: parsed.ClientSecret.Value, ExpiresAt: parsed.ClientSecret.ExpiresAt}, nil
}
