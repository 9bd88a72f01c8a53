// Package gemini implements realtime.Transport over the Gemini Live API.
//
// Gemini does not report voice-activity boundaries directly. Speech start is taken
// from the first input transcription after the model's turn, and speech stop from
// the first model output that follows it.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"google.golang.org/genai"

	"github.com/vango-go/vai-interview/pkg/interview/realtime"
)

const (
	DefaultModel = "gemini-2.0-flash-live-001"
	defaultVoice = "Puck"
)

var ErrSessionFixed = errors.New("gemini: session config can only be set once")

type liveSession interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	SendClientContent(input genai.LiveClientContentInput) error
	SendToolResponse(input genai.LiveToolResponseInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

type dialFunc func(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (liveSession, error)

type Config struct {
	APIKey string
	Model  string
	Logger *slog.Logger
}

type Transport struct {
	cfg    Config
	logger *slog.Logger
	dial   dialFunc

	events chan realtime.Event
	done   chan struct{}

	mu        sync.Mutex
	client    *genai.Client
	session   liveSession
	names     map[string]string // call id -> function name
	inFormat  realtime.AudioFormat
	closeOnce sync.Once
	closing   atomic.Bool
	// toolResumes is set after a tool response; Gemini continues on its own.
	toolResumes atomic.Bool

	// Boundary derivation state, owned by the receive goroutine.
	candidateSpeaking bool
	inputText         strings.Builder
	outputText        strings.Builder
	modelTalking      bool
}

func New(cfg Config) *Transport {
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	t := &Transport{
		cfg:    cfg,
		logger: cfg.Logger,
		events: make(chan realtime.Event, 256),
		done:   make(chan struct{}),
		names:  make(map[string]string),
	}
	t.dial = t.dialGenAI
	return t
}

// Connect creates the API client. The live session itself opens on UpdateSession,
// because Gemini fixes instructions and tools at connect time.
func (t *Transport) Connect(ctx context.Context) error {
	if t.closing.Load() {
		return realtime.ErrClosed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  t.cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return fmt.Errorf("gemini client: %w", err)
	}
	t.client = client
	return nil
}

func (t *Transport) dialGenAI(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (liveSession, error) {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil {
		return nil, realtime.ErrNotConnected
	}
	return client.Live.Connect(ctx, model, cfg)
}

func (t *Transport) UpdateSession(ctx context.Context, cfg realtime.SessionConfig) error {
	t.mu.Lock()
	if t.session != nil {
		t.mu.Unlock()
		return ErrSessionFixed
	}
	t.inFormat = cfg.InputFormat
	t.mu.Unlock()

	sess, err := t.dial(ctx, t.cfg.Model, connectConfig(cfg))
	if err != nil {
		return fmt.Errorf("gemini live connect: %w", err)
	}

	t.mu.Lock()
	if t.closing.Load() {
		t.mu.Unlock()
		_ = sess.Close()
		return realtime.ErrClosed
	}
	t.session = sess
	t.mu.Unlock()

	go t.receiveLoop(sess)
	return nil
}

func connectConfig(cfg realtime.SessionConfig) *genai.LiveConnectConfig {
	voice := strings.TrimSpace(cfg.Voice)
	if voice == "" {
		voice = defaultVoice
	}
	out := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
			},
		},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if strings.TrimSpace(cfg.Instructions) != "" {
		out.SystemInstruction = genai.NewContentFromText(cfg.Instructions, genai.RoleUser)
	}
	if len(cfg.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(cfg.Tools))
		for _, tool := range cfg.Tools {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 tool.Name,
				Description:          tool.Description,
				ParametersJsonSchema: tool.Parameters,
			})
		}
		out.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return out
}

func (t *Transport) live() (liveSession, error) {
	if t.closing.Load() {
		return nil, realtime.ErrClosed
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return nil, realtime.ErrNotConnected
	}
	return t.session, nil
}

func (t *Transport) SendAudio(frame []byte) error {
	if len(frame) == 0 {
		return nil
	}
	sess, err := t.live()
	if err != nil {
		return err
	}
	rate := t.inFormat.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	return sess.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: frame, MIMEType: fmt.Sprintf("audio/pcm;rate=%d", rate)},
	})
}

// CreateResponse sends a user turn so the model speaks. Instructions become the turn
// text; without them a neutral cue is used, except right after a tool response.
func (t *Transport) CreateResponse(ctx context.Context, opts realtime.ResponseOptions) error {
	sess, err := t.live()
	if err != nil {
		return err
	}
	text := strings.TrimSpace(opts.Instructions)
	if text == "" && t.toolResumes.Swap(false) {
		return nil
	}
	if text == "" {
		text = "Please continue."
	}
	return sess.SendClientContent(genai.LiveClientContentInput{
		Turns: []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
	})
}

func (t *Transport) SendFunctionResult(ctx context.Context, callID string, output any) error {
	sess, err := t.live()
	if err != nil {
		return err
	}
	t.mu.Lock()
	name := t.names[callID]
	delete(t.names, callID)
	t.mu.Unlock()

	err = sess.SendToolResponse(genai.LiveToolResponseInput{
		FunctionResponses: []*genai.FunctionResponse{{
			ID:       callID,
			Name:     name,
			Response: responseMap(output),
		}},
	})
	if err == nil {
		t.toolResumes.Store(true)
	}
	return err
}

func responseMap(output any) map[string]any {
	switch v := output.(type) {
	case map[string]any:
		return v
	case string:
		return map[string]any{"output": v}
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return map[string]any{"output": fmt.Sprint(v)}
		}
		var m map[string]any
		if json.Unmarshal(b, &m) == nil {
			return m
		}
		return map[string]any{"output": string(b)}
	}
}

func (t *Transport) Events() <-chan realtime.Event {
	return t.events
}

func (t *Transport) Disconnect() error {
	t.closeOnce.Do(func() {
		t.closing.Store(true)
		t.mu.Lock()
		sess := t.session
		t.mu.Unlock()
		if sess == nil {
			close(t.events)
			close(t.done)
			return
		}
		_ = sess.Close()
	})
	<-t.done
	return nil
}

func (t *Transport) receiveLoop(sess liveSession) {
	defer close(t.done)
	defer close(t.events)
	for {
		msg, err := sess.Receive()
		if err != nil {
			if !t.closing.Load() {
				t.logger.Warn("gemini live session ended", "err", err)
				t.emit(realtime.ErrorEvent{Code: "connection_lost", Message: err.Error(), Fatal: true})
			}
			return
		}
		for _, ev := range t.translate(msg) {
			t.emit(ev)
		}
	}
}

func (t *Transport) emit(ev realtime.Event) {
	select {
	case t.events <- ev:
	default:
		t.logger.Warn("dropping gemini event, consumer is behind", "event", realtime.EventName(ev))
	}
}

// translate maps one server message onto realtime events, deriving speech boundaries.
func (t *Transport) translate(msg *genai.LiveServerMessage) []realtime.Event {
	if msg == nil {
		return nil
	}
	var out []realtime.Event

	if sc := msg.ServerContent; sc != nil {
		if tr := sc.InputTranscription; tr != nil && strings.TrimSpace(tr.Text) != "" {
			if !t.candidateSpeaking {
				t.candidateSpeaking = true
				out = append(out, realtime.SpeechStarted{})
			}
			t.inputText.WriteString(tr.Text)
		}

		modelOutput := (sc.ModelTurn != nil && len(sc.ModelTurn.Parts) > 0) ||
			(sc.OutputTranscription != nil && sc.OutputTranscription.Text != "")
		if modelOutput && t.candidateSpeaking {
			out = append(out, t.endCandidateTurn()...)
		}

		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
					continue
				}
				t.modelTalking = true
				out = append(out, realtime.AudioDelta{Data: part.InlineData.Data})
			}
		}
		if tr := sc.OutputTranscription; tr != nil && tr.Text != "" {
			t.outputText.WriteString(tr.Text)
			out = append(out, realtime.TextDelta{Delta: tr.Text})
		}
		if sc.Interrupted && t.modelTalking {
			t.modelTalking = false
			out = append(out, realtime.AudioDone{})
		}
		if sc.TurnComplete {
			if t.modelTalking {
				out = append(out, realtime.AudioDone{})
			}
			t.modelTalking = false
			if text := strings.TrimSpace(t.outputText.String()); text != "" {
				out = append(out, realtime.TextDone{Text: text})
			}
			t.outputText.Reset()
		}
	}

	if tc := msg.ToolCall; tc != nil {
		for _, fc := range tc.FunctionCalls {
			if fc == nil {
				continue
			}
			args, err := json.Marshal(fc.Args)
			if err != nil || fc.Args == nil {
				args = []byte("{}")
			}
			t.mu.Lock()
			t.names[fc.ID] = fc.Name
			t.mu.Unlock()
			out = append(out, realtime.FunctionCall{CallID: fc.ID, Name: fc.Name, Arguments: args})
		}
	}
	return out
}

func (t *Transport) endCandidateTurn() []realtime.Event {
	t.candidateSpeaking = false
	out := []realtime.Event{realtime.SpeechStopped{}}
	if text := strings.TrimSpace(t.inputText.String()); text != "" {
		out = append(out, realtime.InputTranscript{Text: text})
	}
	t.inputText.Reset()
	return out
}
