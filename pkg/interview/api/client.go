package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vango-go/vai-interview/pkg/interview/upload"
)

const (
	defaultFinalizeRetries = 5
	defaultFinalizeBackoff = 500 * time.Millisecond
	maxErrorBody           = 64 << 10
)

type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     *slog.Logger

	FinalizeRetries uint64
	FinalizeBackoff time.Duration
}

// Client talks to the interview gateway.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger

	finalizeRetries uint64
	finalizeBackoff time.Duration
}

func NewClient(cfg Config) *Client {
	c := &Client{
		baseURL:         strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:          strings.TrimSpace(cfg.APIKey),
		httpClient:      cfg.HTTPClient,
		logger:          cfg.Logger,
		finalizeRetries: cfg.FinalizeRetries,
		finalizeBackoff: cfg.FinalizeBackoff,
	}
	if c.httpClient == nil {
		c.httpClient = newDefaultHTTPClient()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.finalizeRetries == 0 {
		c.finalizeRetries = defaultFinalizeRetries
	}
	if c.finalizeBackoff <= 0 {
		c.finalizeBackoff = defaultFinalizeBackoff
	}
	return c
}

// newDefaultHTTPClient configures transport-level timeouts and leaves the overall
// request lifetime to context deadlines.
func newDefaultHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ForceAttemptHTTP2:     true,
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
	}
	return &http.Client{Transport: transport}
}

// Token mints a speech transport credential for the session.
func (c *Client) Token(ctx context.Context, sessionID string) (string, error) {
	var out TokenResponse
	if err := c.postJSON(ctx, "token", PathToken, TokenRequest{SessionID: sessionID}, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Token) == "" {
		return "", errors.New("token endpoint returned an empty token")
	}
	return out.Token, nil
}

// UploadBlock stages one block. A nil error means the block is committed server-side.
func (c *Client) UploadBlock(ctx context.Context, sessionID string, b upload.Block) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fields := [][2]string{
		{FieldSessionID, sessionID},
		{FieldBlockID, b.ID},
		{FieldIsFirst, strconv.FormatBool(b.IsFirst)},
		{FieldChecksum, b.Checksum},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return fmt.Errorf("write %s: %w", f[0], err)
		}
	}
	part, err := mw.CreateFormFile(FieldChunk, fmt.Sprintf("block-%06d.bin", b.Index))
	if err != nil {
		return fmt.Errorf("create chunk part: %w", err)
	}
	if _, err := part.Write(b.Data); err != nil {
		return fmt.Errorf("write chunk part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, PathUploadChunk, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return c.do(req, "upload-chunk", nil)
}

// Finalize commits the recording. The gateway treats a repeated finalize with the same
// block list as a no-op, so transient failures are retried with exponential backoff.
func (c *Client) Finalize(ctx context.Context, in FinalizeRequest) (*FinalizeResponse, error) {
	var out FinalizeResponse
	b := retry.WithMaxRetries(c.finalizeRetries, retry.NewExponential(c.finalizeBackoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		err := c.postJSON(ctx, "finalize", PathFinalize, in, &out)
		if err == nil {
			return nil
		}
		if retryable(err) {
			c.logger.Warn("finalize failed, retrying", "session_id", in.SessionID, "err", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SaveResults(ctx context.Context, in ResultsRequest) error {
	return c.postJSON(ctx, "results", PathResults, in, nil)
}

// AIScore triggers server-side scoring of the persisted transcript.
func (c *Client) AIScore(ctx context.Context, sessionID string) (*Scores, error) {
	var out AIScoreResponse
	path := fmt.Sprintf(PathAIScore, url.PathEscape(sessionID))
	if err := c.postJSON(ctx, "ai-score", path, struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out.Scores, nil
}

func retryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.IsRetryable()
}

func (c *Client) postJSON(ctx context.Context, op, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", op, err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, op, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return &TransportError{Op: op, URL: req.URL.String(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var env struct {
		Error *Error `json:"error"`
	}
	if json.Unmarshal(raw, &env) == nil && env.Error != nil {
		env.Error.StatusCode = resp.StatusCode
		if env.Error.RequestID == "" {
			env.Error.RequestID = resp.Header.Get("X-Request-ID")
		}
		return env.Error
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &Error{
		Type:       ErrAPI,
		Message:    msg,
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("X-Request-ID"),
	}
}
