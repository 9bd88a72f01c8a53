package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultURL   = "wss://api.openai.com/v1/realtime"
	DefaultModel = "gpt-4o-realtime-preview"

	defaultDialTimeout = 10 * time.Second
)

type Config struct {
	URL          string
	Model        string
	Token        string
	Header       http.Header
	Dialer       *websocket.Dialer
	DialTimeout  time.Duration
	PingInterval time.Duration
	WriteTimeout time.Duration
	EventBuffer  int
	Logger       *slog.Logger
}

// WSTransport speaks the realtime event protocol over a websocket.
type WSTransport struct {
	cfg    Config
	logger *slog.Logger

	priority chan []byte
	normal   chan []byte
	events   chan Event
	done     chan struct{}

	startOnce sync.Once
	closeOnce sync.Once
	started   atomic.Bool
	closing   atomic.Bool
	cancel    context.CancelFunc

	errMu sync.Mutex
	err   error
}

func NewWSTransport(cfg Config) *WSTransport {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WSTransport{
		cfg:      cfg,
		logger:   cfg.Logger,
		priority: make(chan []byte, 16),
		normal:   make(chan []byte, 64),
		events:   make(chan Event, cfg.EventBuffer),
		done:     make(chan struct{}),
	}
}

func (t *WSTransport) endpoint() (string, error) {
	u, err := url.Parse(t.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if model := strings.TrimSpace(t.cfg.Model); model != "" {
		q := u.Query()
		q.Set("model", model)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Connect dials the model and starts the read and write goroutines. It may only be
// called once.
func (t *WSTransport) Connect(ctx context.Context) error {
	if t.closing.Load() {
		return ErrClosed
	}
	if t.started.Load() {
		return nil
	}
	wsURL, err := t.endpoint()
	if err != nil {
		return err
	}

	headers := make(http.Header)
	for k, v := range t.cfg.Header {
		headers[k] = append([]string(nil), v...)
	}
	if tok := strings.TrimSpace(t.cfg.Token); tok != "" {
		headers.Set("Authorization", "Bearer "+tok)
	}
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := t.cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	dialCtx, cancelDial := context.WithTimeout(ctx, t.cfg.DialTimeout)
	defer cancelDial()

	conn, resp, err := dialer.DialContext(dialCtx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("realtime dial failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("realtime dial: %w", err)
	}

	t.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(context.Background())
		t.cancel = cancel
		g, gctx := errgroup.WithContext(runCtx)
		w := &outboundWriter{
			ws:           conn,
			ctx:          gctx,
			pingInterval: t.cfg.PingInterval,
			writeTimeout: t.cfg.WriteTimeout,
			priority:     t.priority,
			normal:       t.normal,
		}
		g.Go(func() error {
			err := w.Run()
			if err != nil {
				// Unblock the reader.
				_ = conn.Close()
			}
			return err
		})
		g.Go(func() error {
			defer cancel()
			return t.readLoop(gctx, conn)
		})
		t.started.Store(true)
		go t.supervise(g, conn)
	})
	if !t.started.Load() {
		_ = conn.Close()
		return ErrClosed
	}
	return nil
}

func (t *WSTransport) supervise(g *errgroup.Group, conn *websocket.Conn) {
	err := g.Wait()
	_ = conn.Close()
	if err != nil && !t.closing.Load() {
		t.setErr(err)
		t.logger.Warn("realtime connection lost", "err", err)
		select {
		case t.events <- ErrorEvent{Code: "connection_lost", Message: err.Error(), Fatal: true}:
		default:
		}
	}
	close(t.events)
	close(t.done)
}

func (t *WSTransport) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if t.closing.Load() || ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("realtime connection closed by server: %w", err)
			}
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		ev, err := decodeServerEvent(data)
		if err != nil {
			t.logger.Warn("dropping realtime frame", "err", err)
			continue
		}
		if ev == nil {
			continue
		}
		select {
		case t.events <- ev:
		case <-ctx.Done():
			return nil
		}
	}
}

func (t *WSTransport) Events() <-chan Event {
	return t.events
}

func (t *WSTransport) UpdateSession(ctx context.Context, cfg SessionConfig) error {
	payload, err := encodeSessionUpdate(cfg)
	if err != nil {
		return fmt.Errorf("encode session.update: %w", err)
	}
	return t.enqueue(ctx, t.priority, payload)
}

// SendAudio queues a PCM frame for input_audio_buffer.append.
func (t *WSTransport) SendAudio(frame []byte) error {
	if len(frame) == 0 {
		return nil
	}
	payload, err := encodeAudioAppend(frame)
	if err != nil {
		return err
	}
	return t.enqueue(context.Background(), t.normal, payload)
}

func (t *WSTransport) CreateResponse(ctx context.Context, opts ResponseOptions) error {
	payload, err := encodeResponseCreate(opts)
	if err != nil {
		return fmt.Errorf("encode response.create: %w", err)
	}
	return t.enqueue(ctx, t.priority, payload)
}

func (t *WSTransport) SendFunctionResult(ctx context.Context, callID string, output any) error {
	if strings.TrimSpace(callID) == "" {
		return errors.New("realtime: call id is required")
	}
	payload, err := encodeFunctionResult(callID, output)
	if err != nil {
		return err
	}
	return t.enqueue(ctx, t.priority, payload)
}

func (t *WSTransport) enqueue(ctx context.Context, ch chan<- []byte, payload []byte) error {
	if !t.started.Load() {
		return ErrNotConnected
	}
	if t.closing.Load() {
		return ErrClosed
	}
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	select {
	case ch <- payload:
		return nil
	case <-t.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect closes the connection and waits for the goroutines to exit. Safe to call
// more than once and before Connect.
func (t *WSTransport) Disconnect() error {
	t.closeOnce.Do(func() {
		t.closing.Store(true)
		if !t.started.Load() {
			// Claim startOnce so a racing Connect cannot start goroutines.
			t.startOnce.Do(func() {})
			if !t.started.Load() {
				close(t.events)
				close(t.done)
				return
			}
		}
		t.cancel()
	})
	<-t.done
	return nil
}

// Err returns the error that ended the connection, if any.
func (t *WSTransport) Err() error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	return t.err
}

func (t *WSTransport) setErr(err error) {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	if t.err == nil {
		t.err = err
	}
}
