package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"

	"github.com/vango-go/vai-interview/pkg/interview/playback"
	"github.com/vango-go/vai-interview/pkg/interview/session"
)

var errNotRecording = errors.New("recorder: not recording")

// oto allows a single context per process.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
)

func sharedOtoContext(f playback.Format) (*oto.Context, error) {
	otoOnce.Do(func() {
		var ready chan struct{}
		// 4800 bytes is 100ms at 24kHz mono 16-bit.
		otoCtx, ready, otoErr = oto.NewContext(&oto.NewContextOptions{
			SampleRate:   f.SampleRate,
			ChannelCount: f.Channels,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   4800,
		})
		if otoErr == nil {
			<-ready
		}
	})
	return otoCtx, otoErr
}

// desktopDevices opens the default microphone and speaker. The "camera" is the
// recording mix: interviewer audio plus the microphone, on the speaker clock.
type desktopDevices struct {
	format        playback.Format
	chunkInterval time.Duration
	logger        *slog.Logger

	mu      sync.Mutex
	context *malgo.AllocatedContext
}

func (d *desktopDevices) Acquire(ctx context.Context) (*session.Media, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{ThreadPriority: malgo.ThreadPriorityRealtime}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	oc, err := sharedOtoContext(d.format)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("init speaker: %w", err)
	}
	out := newSpeaker(oc, d.format)
	mix := playback.NewTimeline(d.format)

	mic := newMicrophone(out, mix, d.logger)
	if err := mic.open(mctx, d.format); err != nil {
		_ = out.Close()
		_ = mctx.Uninit()
		mctx.Free()
		// The OS reports a refused microphone as a device init failure.
		return nil, fmt.Errorf("%w: microphone: %v", session.ErrPermissionDenied, err)
	}

	d.mu.Lock()
	d.context = mctx
	d.mu.Unlock()

	return &session.Media{
		Output:  out,
		Mix:     mix,
		Capture: newRecorder(out, mix, d.chunkInterval),
		Mic:     mic,
	}, nil
}

// Close releases the audio backend. Devices must be closed first.
func (d *desktopDevices) Close() {
	d.mu.Lock()
	mctx := d.context
	d.context = nil
	d.mu.Unlock()
	if mctx != nil {
		_ = mctx.Uninit()
		mctx.Free()
	}
}

// speaker plays a Timeline through oto. oto pulls from the timeline, which advances
// its clock.
type speaker struct {
	*playback.Timeline
	player *oto.Player
}

func newSpeaker(oc *oto.Context, f playback.Format) *speaker {
	s := &speaker{Timeline: playback.NewTimeline(f)}
	if oc != nil {
		s.player = oc.NewPlayer(s.Timeline)
		s.player.Play()
	}
	return s
}

func (s *speaker) Close() error {
	var err error
	if s.player != nil {
		err = s.player.Close()
	}
	_ = s.Timeline.Close()
	return err
}

// microphone forwards captured frames to the session and into the recording mix.
type microphone struct {
	clock  playback.Clock
	mix    playback.Destination
	logger *slog.Logger
	device *malgo.Device

	mu     sync.Mutex
	frames chan []byte
	closed bool
}

func newMicrophone(clock playback.Clock, mix playback.Destination, logger *slog.Logger) *microphone {
	if logger == nil {
		logger = slog.Default()
	}
	return &microphone{
		clock:  clock,
		mix:    mix,
		logger: logger,
		frames: make(chan []byte, 64),
	}
}

func (m *microphone) open(mctx *malgo.AllocatedContext, f playback.Format) error {
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(f.Channels)
	cfg.SampleRate = uint32(f.SampleRate)
	cfg.PeriodSizeInMilliseconds = 20

	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, in []byte, _ uint32) { m.deliver(in) },
	})
	if err != nil {
		return err
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return err
	}
	m.device = device
	return nil
}

// deliver copies the frame since malgo reuses its buffer. A frame the session is not
// ready for is dropped from the live stream but still recorded.
func (m *microphone) deliver(in []byte) {
	if len(in) == 0 {
		return
	}
	frame := append([]byte(nil), in...)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if m.mix != nil {
		_ = m.mix.Schedule(playback.Buffer{PCM: frame}, m.clock.Now())
	}
	select {
	case m.frames <- frame:
	default:
		m.logger.Debug("microphone frame dropped")
	}
}

func (m *microphone) Frames() <-chan []byte { return m.frames }

func (m *microphone) Close() error {
	if m.device != nil {
		_ = m.device.Stop()
		m.device.Uninit()
		m.device = nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.frames)
	}
	return nil
}

// recorder reads the mix timeline in step with the speaker clock and emits a PCM
// chunk every interval.
type recorder struct {
	clock    playback.Clock
	mix      *playback.Timeline
	interval time.Duration

	chunks     chan []byte
	released   chan struct{}
	closeOnce  sync.Once
	releaseOne sync.Once

	mu      sync.Mutex
	running bool
	startAt time.Duration
	stop    chan struct{}
	done    chan struct{}
}

func newRecorder(clock playback.Clock, mix *playback.Timeline, interval time.Duration) *recorder {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &recorder{
		clock:    clock,
		mix:      mix,
		interval: interval,
		chunks:   make(chan []byte, 4),
		released: make(chan struct{}),
	}
}

func (r *recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("recorder: already recording")
	}
	// Audio mixed before the recording began is not part of it.
	now := r.clock.Now()
	r.mix.ReadUntil(now)
	r.startAt = now
	r.running = true
	r.stop = make(chan struct{})
	r.done = make(chan struct{})
	go r.loop(ctx, r.stop, r.done)
	return nil
}

func (r *recorder) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			r.emit(r.mix.ReadUntil(r.clock.Now()))
		}
	}
}

func (r *recorder) emit(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	select {
	case r.chunks <- chunk:
	case <-r.released:
	}
}

func (r *recorder) Chunks() <-chan []byte { return r.chunks }

// Stop delivers the final chunk, closes Chunks and returns the recorded duration.
func (r *recorder) Stop() (time.Duration, error) {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return 0, errNotRecording
	}
	r.running = false
	stop, done, startAt := r.stop, r.done, r.startAt
	r.mu.Unlock()

	close(stop)
	<-done
	now := r.clock.Now()
	r.emit(r.mix.ReadUntil(now))
	r.closeChunks()
	return now - startAt, nil
}

func (r *recorder) Release() error {
	r.releaseOne.Do(func() { close(r.released) })
	r.mu.Lock()
	running := r.running
	r.mu.Unlock()
	if running {
		_, _ = r.Stop()
	}
	r.closeChunks()
	return nil
}

func (r *recorder) closeChunks() {
	r.closeOnce.Do(func() { close(r.chunks) })
}
