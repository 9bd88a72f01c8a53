package realtime

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Outbound client events.

type wireAudioFormat string

type wireTurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMS int     `json:"silence_duration_ms,omitempty"`
}

type wireTranscription struct {
	Model string `json:"model"`
}

type wireTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type wireSession struct {
	Modalities              []string           `json:"modalities"`
	Instructions            string             `json:"instructions,omitempty"`
	Voice                   string             `json:"voice,omitempty"`
	InputAudioFormat        wireAudioFormat    `json:"input_audio_format,omitempty"`
	OutputAudioFormat       wireAudioFormat    `json:"output_audio_format,omitempty"`
	InputAudioTranscription *wireTranscription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *wireTurnDetection `json:"turn_detection,omitempty"`
	Tools                   []wireTool         `json:"tools,omitempty"`
	ToolChoice              string             `json:"tool_choice,omitempty"`
}

type sessionUpdate struct {
	Type    string      `json:"type"`
	Session wireSession `json:"session"`
}

type audioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

type wireResponse struct {
	Instructions string `json:"instructions,omitempty"`
}

type responseCreate struct {
	Type     string        `json:"type"`
	Response *wireResponse `json:"response,omitempty"`
}

type wireItem struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

type itemCreate struct {
	Type string   `json:"type"`
	Item wireItem `json:"item"`
}

func encodeSessionUpdate(cfg SessionConfig) ([]byte, error) {
	s := wireSession{
		Modalities:        []string{"audio", "text"},
		Instructions:      cfg.Instructions,
		Voice:             cfg.Voice,
		InputAudioFormat:  wireFormat(cfg.InputFormat),
		OutputAudioFormat: wireFormat(cfg.OutputFormat),
		TurnDetection: &wireTurnDetection{
			Type:              "server_vad",
			Threshold:         cfg.TurnDetection.Threshold,
			PrefixPaddingMS:   cfg.TurnDetection.PrefixPaddingMS,
			SilenceDurationMS: cfg.TurnDetection.SilenceDurationMS,
		},
	}
	if model := strings.TrimSpace(cfg.TranscriptionModel); model != "" {
		s.InputAudioTranscription = &wireTranscription{Model: model}
	}
	for _, t := range cfg.Tools {
		s.Tools = append(s.Tools, wireTool{Type: "function", Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}
	if len(s.Tools) > 0 {
		s.ToolChoice = "auto"
	}
	return json.Marshal(sessionUpdate{Type: "session.update", Session: s})
}

func wireFormat(f AudioFormat) wireAudioFormat {
	switch strings.ToLower(strings.TrimSpace(f.Encoding)) {
	case "", "pcm16", "pcm_s16le":
		return "pcm16"
	default:
		return wireAudioFormat(f.Encoding)
	}
}

func encodeAudioAppend(frame []byte) ([]byte, error) {
	return json.Marshal(audioAppend{Type: "input_audio_buffer.append", Audio: base64.StdEncoding.EncodeToString(frame)})
}

func encodeResponseCreate(opts ResponseOptions) ([]byte, error) {
	msg := responseCreate{Type: "response.create"}
	if strings.TrimSpace(opts.Instructions) != "" {
		msg.Response = &wireResponse{Instructions: opts.Instructions}
	}
	return json.Marshal(msg)
}

func encodeFunctionResult(callID string, output any) ([]byte, error) {
	var out string
	switch v := output.(type) {
	case string:
		out = v
	case json.RawMessage:
		out = string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode function output: %w", err)
		}
		out = string(b)
	}
	return json.Marshal(itemCreate{
		Type: "conversation.item.create",
		Item: wireItem{Type: "function_call_output", CallID: callID, Output: out},
	})
}

// Inbound server events.

type serverEvent struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Text       string `json:"text"`

	AudioStartMS int64 `json:"audio_start_ms"`
	AudioEndMS   int64 `json:"audio_end_ms"`

	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`

	Error *struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// decodeServerEvent maps one text frame to an Event. Frames the session does not
// consume decode to a nil Event.
func decodeServerEvent(data []byte) (Event, error) {
	var ev serverEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decode realtime frame: %w", err)
	}
	typ := strings.TrimSpace(ev.Type)
	if typ == "" {
		return nil, fmt.Errorf("realtime frame missing type")
	}

	switch typ {
	case "response.audio.delta", "response.output_audio.delta":
		pcm, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", typ, err)
		}
		return AudioDelta{ResponseID: ev.ResponseID, Data: pcm}, nil
	case "response.audio.done", "response.output_audio.done":
		return AudioDone{ResponseID: ev.ResponseID}, nil
	case "response.audio_transcript.delta", "response.output_audio_transcript.delta", "response.text.delta", "response.output_text.delta":
		return TextDelta{ResponseID: ev.ResponseID, Delta: ev.Delta}, nil
	case "response.audio_transcript.done", "response.output_audio_transcript.done":
		return TextDone{ResponseID: ev.ResponseID, Text: ev.Transcript}, nil
	case "response.text.done", "response.output_text.done":
		return TextDone{ResponseID: ev.ResponseID, Text: ev.Text}, nil
	case "input_audio_buffer.speech_started":
		return SpeechStarted{ItemID: ev.ItemID, AudioStartMS: ev.AudioStartMS}, nil
	case "input_audio_buffer.speech_stopped":
		return SpeechStopped{ItemID: ev.ItemID, AudioEndMS: ev.AudioEndMS}, nil
	case "conversation.item.input_audio_transcription.completed":
		return InputTranscript{ItemID: ev.ItemID, Text: ev.Transcript}, nil
	case "response.function_call_arguments.done":
		args := json.RawMessage(ev.Arguments)
		if strings.TrimSpace(ev.Arguments) == "" {
			args = json.RawMessage("{}")
		}
		return FunctionCall{CallID: ev.CallID, Name: ev.Name, Arguments: args}, nil
	case "error":
		out := ErrorEvent{Message: "unknown realtime error"}
		if ev.Error != nil {
			out.Code = firstNonEmpty(ev.Error.Code, ev.Error.Type)
			if strings.TrimSpace(ev.Error.Message) != "" {
				out.Message = ev.Error.Message
			}
		}
		return out, nil
	default:
		return nil, nil
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
