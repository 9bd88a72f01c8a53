package gemini

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/vango-go/vai-interview/pkg/interview/realtime"
)

type fakeLive struct {
	mu        sync.Mutex
	audio     []*genai.Blob
	content   []genai.LiveClientContentInput
	tool      []genai.LiveToolResponseInput
	inbound   chan *genai.LiveServerMessage
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeLive() *fakeLive {
	return &fakeLive{inbound: make(chan *genai.LiveServerMessage, 16), closed: make(chan struct{})}
}

func (f *fakeLive) SendRealtimeInput(in genai.LiveRealtimeInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, in.Audio)
	return nil
}

func (f *fakeLive) SendClientContent(in genai.LiveClientContentInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.content = append(f.content, in)
	return nil
}

func (f *fakeLive) SendToolResponse(in genai.LiveToolResponseInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tool = append(f.tool, in)
	return nil
}

func (f *fakeLive) Receive() (*genai.LiveServerMessage, error) {
	select {
	case msg := <-f.inbound:
		return msg, nil
	case <-f.closed:
		return nil, errors.New("use of closed connection")
	}
}

func (f *fakeLive) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func newTestTransport(live *fakeLive) (*Transport, *genai.LiveConnectConfig) {
	tr := New(Config{Logger: slog.New(slog.NewJSONHandler(io.Discard, nil))})
	var captured genai.LiveConnectConfig
	tr.dial = func(ctx context.Context, model string, cfg *genai.LiveConnectConfig) (liveSession, error) {
		captured = *cfg
		return live, nil
	}
	return tr, &captured
}

func collect(t *testing.T, ch <-chan realtime.Event, n int) []realtime.Event {
	t.Helper()
	var out []realtime.Event
	for len(out) < n {
		select {
		case ev, ok := <-ch:
			require.True(t, ok, "events closed after %d", len(out))
			out = append(out, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func serverContent(sc *genai.LiveServerContent) *genai.LiveServerMessage {
	return &genai.LiveServerMessage{ServerContent: sc}
}

func audioTurn(pcm []byte) *genai.Content {
	return &genai.Content{Role: "model", Parts: []*genai.Part{{InlineData: &genai.Blob{Data: pcm, MIMEType: "audio/pcm;rate=24000"}}}}
}

func TestTransport_SendBeforeSession(t *testing.T) {
	tr, _ := newTestTransport(newFakeLive())
	assert.ErrorIs(t, tr.SendAudio([]byte{1, 2}), realtime.ErrNotConnected)
	require.NoError(t, tr.Disconnect())
	assert.ErrorIs(t, tr.SendAudio([]byte{1, 2}), realtime.ErrClosed)
}

func TestTransport_ConnectConfig(t *testing.T) {
	live := newFakeLive()
	tr, cfg := newTestTransport(live)
	defer tr.Disconnect()

	require.NoError(t, tr.UpdateSession(context.Background(), realtime.SessionConfig{
		Instructions: "You are an interviewer.",
		Tools: []realtime.Tool{{
			Name:       "end_interview",
			Parameters: map[string]any{"type": "object"},
		}},
	}))

	assert.Equal(t, []genai.Modality{genai.ModalityAudio}, cfg.ResponseModalities)
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "You are an interviewer.", cfg.SystemInstruction.Parts[0].Text)
	require.Len(t, cfg.Tools, 1)
	assert.Equal(t, "end_interview", cfg.Tools[0].FunctionDeclarations[0].Name)
	assert.NotNil(t, cfg.InputAudioTranscription)
	assert.Equal(t, defaultVoice, cfg.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName)

	assert.ErrorIs(t, tr.UpdateSession(context.Background(), realtime.SessionConfig{}), ErrSessionFixed)
}

func TestTransport_OutboundMessages(t *testing.T) {
	live := newFakeLive()
	tr, _ := newTestTransport(live)
	defer tr.Disconnect()
	ctx := context.Background()

	require.NoError(t, tr.UpdateSession(ctx, realtime.SessionConfig{
		InputFormat: realtime.AudioFormat{SampleRate: 16000},
	}))
	require.NoError(t, tr.SendAudio([]byte{1, 2, 3, 4}))
	require.NoError(t, tr.CreateResponse(ctx, realtime.ResponseOptions{}))

	live.mu.Lock()
	require.Len(t, live.audio, 1)
	assert.Equal(t, "audio/pcm;rate=16000", live.audio[0].MIMEType)
	require.Len(t, live.content, 1)
	assert.Equal(t, "Please continue.", live.content[0].Turns[0].Parts[0].Text)
	live.mu.Unlock()
}

func TestTransport_DerivesSpeechBoundaries(t *testing.T) {
	live := newFakeLive()
	tr, _ := newTestTransport(live)
	defer tr.Disconnect()
	require.NoError(t, tr.UpdateSession(context.Background(), realtime.SessionConfig{}))

	live.inbound <- serverContent(&genai.LiveServerContent{InputTranscription: &genai.Transcription{Text: "I led "}})
	live.inbound <- serverContent(&genai.LiveServerContent{InputTranscription: &genai.Transcription{Text: "the team."}})
	live.inbound <- serverContent(&genai.LiveServerContent{
		ModelTurn:           audioTurn([]byte{9, 9}),
		OutputTranscription: &genai.Transcription{Text: "Why?"},
	})
	live.inbound <- serverContent(&genai.LiveServerContent{TurnComplete: true})

	got := collect(t, tr.Events(), 7)
	assert.Equal(t, []realtime.Event{
		realtime.SpeechStarted{},
		realtime.SpeechStopped{},
		realtime.InputTranscript{Text: "I led the team."},
		realtime.AudioDelta{Data: []byte{9, 9}},
		realtime.TextDelta{Delta: "Why?"},
		realtime.AudioDone{},
		realtime.TextDone{Text: "Why?"},
	}, got)
}

func TestTransport_ToolCallRoundTrip(t *testing.T) {
	live := newFakeLive()
	tr, _ := newTestTransport(live)
	defer tr.Disconnect()
	require.NoError(t, tr.UpdateSession(context.Background(), realtime.SessionConfig{}))

	live.inbound <- &genai.LiveServerMessage{ToolCall: &genai.LiveServerToolCall{
		FunctionCalls: []*genai.FunctionCall{{ID: "fc1", Name: "end_interview", Args: map[string]any{"reason": "done"}}},
	}}
	ev := collect(t, tr.Events(), 1)[0]
	call, ok := ev.(realtime.FunctionCall)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "fc1", call.CallID)
	assert.JSONEq(t, `{"reason":"done"}`, string(call.Arguments))

	require.NoError(t, tr.SendFunctionResult(context.Background(), "fc1", map[string]any{"ok": true}))
	require.NoError(t, tr.CreateResponse(context.Background(), realtime.ResponseOptions{}))
	live.mu.Lock()
	defer live.mu.Unlock()
	assert.Empty(t, live.content, "model resumes by itself after a tool response")
	require.Len(t, live.tool, 1)
	resp := live.tool[0].FunctionResponses[0]
	assert.Equal(t, "end_interview", resp.Name)
	assert.Equal(t, map[string]any{"ok": true}, resp.Response)
}

func TestTransport_SessionLossIsFatal(t *testing.T) {
	live := newFakeLive()
	tr, _ := newTestTransport(live)
	require.NoError(t, tr.UpdateSession(context.Background(), realtime.SessionConfig{}))

	_ = live.Close()
	ev := collect(t, tr.Events(), 1)[0]
	errEv, ok := ev.(realtime.ErrorEvent)
	require.True(t, ok, "got %T", ev)
	assert.True(t, errEv.Fatal)

	require.NoError(t, tr.Disconnect())
	_, open := <-tr.Events()
	assert.False(t, open)
}

func TestResponseMap(t *testing.T) {
	assert.Equal(t, map[string]any{"output": "x"}, responseMap("x"))
	assert.Equal(t, map[string]any{"score": float64(4)}, responseMap(struct {
		Score int `json:"score"`
	}{4}))
	assert.Equal(t, map[string]any{"output": "[1,2]"}, responseMap([]int{1, 2}))
}
