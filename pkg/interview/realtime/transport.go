// Package realtime is the duplex connection to the conversational speech model.
//
// A Transport carries microphone audio and session configuration to the model and
// yields typed inbound events on a single channel. The session loop is the only
// consumer of Events.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrNotConnected = errors.New("realtime: not connected")
	ErrClosed       = errors.New("realtime: transport closed")
)

// Transport is the contract the interview session consumes.
type Transport interface {
	Connect(ctx context.Context) error
	UpdateSession(ctx context.Context, cfg SessionConfig) error
	SendAudio(frame []byte) error
	CreateResponse(ctx context.Context, opts ResponseOptions) error
	SendFunctionResult(ctx context.Context, callID string, output any) error
	Events() <-chan Event
	Disconnect() error
}

// AudioFormat names the PCM layout exchanged with the model.
type AudioFormat struct {
	Encoding   string
	SampleRate int
	Channels   int
}

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Threshold         float64
	PrefixPaddingMS   int
	SilenceDurationMS int
}

// Tool is a function the model may call.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
}

type SessionConfig struct {
	Instructions       string
	Voice              string
	InputFormat        AudioFormat
	OutputFormat       AudioFormat
	TurnDetection      TurnDetection
	Tools              []Tool
	TranscriptionModel string
}

type ResponseOptions struct {
	// Instructions override the session instructions for this response only.
	Instructions string
}

// Event is an inbound transport event.
type Event interface {
	realtimeEvent() string
}

type AudioDelta struct {
	ResponseID string
	Data       []byte
}

func (AudioDelta) realtimeEvent() string { return "audio_delta" }

type AudioDone struct {
	ResponseID string
}

func (AudioDone) realtimeEvent() string { return "audio_done" }

type TextDelta struct {
	ResponseID string
	Delta      string
}

func (TextDelta) realtimeEvent() string { return "text_delta" }

type TextDone struct {
	ResponseID string
	Text       string
}

func (TextDone) realtimeEvent() string { return "text_done" }

type SpeechStarted struct {
	ItemID       string
	AudioStartMS int64
}

func (SpeechStarted) realtimeEvent() string { return "speech_started" }

type SpeechStopped struct {
	ItemID     string
	AudioEndMS int64
}

func (SpeechStopped) realtimeEvent() string { return "speech_stopped" }

// InputTranscript is the model's transcription of candidate speech.
type InputTranscript struct {
	ItemID string
	Text   string
}

func (InputTranscript) realtimeEvent() string { return "input_transcript" }

type FunctionCall struct {
	CallID    string
	Name      string
	Arguments json.RawMessage
}

func (FunctionCall) realtimeEvent() string { return "function_call" }

// ErrorEvent reports a model-side error. Fatal is set when the connection is gone.
type ErrorEvent struct {
	Code    string
	Message string
	Fatal   bool
}

func (ErrorEvent) realtimeEvent() string { return "error" }

func (e ErrorEvent) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// EventName returns a stable name for logging.
func EventName(e Event) string {
	if e == nil {
		return ""
	}
	return e.realtimeEvent()
}
