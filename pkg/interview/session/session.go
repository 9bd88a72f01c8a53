// Package session is the interview state machine. It owns the phase and sequences every
// side effect: setup, audio forwarding, playback, inactivity handling, transcript
// segmentation and the drain, finalize and results hand-off at the end.
//
// Transport events and timer ticks are handled on one dispatch goroutine. Capture
// chunks are pumped straight into the upload queue, and microphone frames are forwarded
// only while the forwarding flag is set.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-go/vai-interview/pkg/interview/api"
	"github.com/vango-go/vai-interview/pkg/interview/playback"
	"github.com/vango-go/vai-interview/pkg/interview/questions"
	"github.com/vango-go/vai-interview/pkg/interview/realtime"
	"github.com/vango-go/vai-interview/pkg/interview/transcript"
	"github.com/vango-go/vai-interview/pkg/interview/turn"
	"github.com/vango-go/vai-interview/pkg/interview/upload"
	"github.com/vango-go/vai-interview/pkg/metrics"
)

const (
	defaultFinishTimeout = 30 * time.Second
	elapsedTick          = time.Second
)

type ticker interface {
	C() <-chan time.Time
	Stop()
}

type stdTicker struct{ *time.Ticker }

func (t stdTicker) C() <-chan time.Time { return t.Ticker.C }

type Machine struct {
	id           string
	set          *questions.Set
	backend      Backend
	devices      Devices
	newTransport TransportFactory
	cb           Callbacks
	cfg          Config
	logger       *slog.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
	newTicker    func(time.Duration) ticker
	newTimer     func(time.Duration) (<-chan time.Time, func() bool)

	seg     *transcript.Segmenter
	monitor *turn.Monitor

	mu         sync.Mutex
	phase      Phase
	setupErr   SetupError
	requested  bool
	starting   chan struct{} // non-nil while Start is running, closed when it returns
	ending     bool
	connected  bool
	lastErr    error
	startedAt  time.Time
	elapsed    time.Duration
	media      *Media
	transport  realtime.Transport
	queue      *upload.Queue
	sched      *playback.Scheduler
	scores     []api.AnswerScore
	result     *Result
	loopCancel context.CancelFunc
	loopDone   chan struct{}
	startCh    chan struct{}

	forwarding  atomic.Bool
	pumps       sync.WaitGroup
	captureDone chan struct{}
	releaseOnce sync.Once
	done        chan struct{}
}

func New(deps Dependencies) (*Machine, error) {
	if strings.TrimSpace(deps.SessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if deps.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("devices are required")
	}
	if deps.NewTransport == nil {
		return nil, fmt.Errorf("transport factory is required")
	}
	if deps.Questions == nil {
		deps.Questions = questions.Default()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Config.FinishTimeout <= 0 {
		deps.Config.FinishTimeout = defaultFinishTimeout
	}
	if deps.Config.Voice == "" {
		deps.Config.Voice = deps.Questions.Persona.Voice
	}
	if deps.Config.InputFormat.SampleRate <= 0 {
		deps.Config.InputFormat = realtime.AudioFormat{Encoding: "pcm16", SampleRate: playback.DefaultSampleRate, Channels: 1}
	}
	if deps.Config.Recording.Format == "" {
		deps.Config.Recording.Format = "pcm16"
	}

	logger := deps.Logger.With("session_id", deps.SessionID)
	m := &Machine{
		id:           deps.SessionID,
		set:          deps.Questions,
		backend:      deps.Backend,
		devices:      deps.Devices,
		newTransport: deps.NewTransport,
		cb:           deps.Callbacks,
		cfg:          deps.Config,
		logger:       logger,
		metrics:      deps.Metrics,
		now:          deps.Now,
		newTicker: func(d time.Duration) ticker {
			return stdTicker{time.NewTicker(d)}
		},
		newTimer: func(d time.Duration) (<-chan time.Time, func() bool) {
			t := time.NewTimer(d)
			return t.C, t.Stop
		},
		seg: transcript.NewSegmenter(transcript.Config{
			MinAnswer: deps.Config.MinAnswer,
			Now:       deps.Now,
		}),
		monitor: turn.NewMonitor(turn.Config{
			WarnAfter:    deps.Config.WarnAfter,
			EndAfter:     deps.Config.EndAfter,
			PollInterval: deps.Config.PollInterval,
			Now:          deps.Now,
		}),
		phase:       PhaseSetup,
		startCh:     make(chan struct{}),
		captureDone: make(chan struct{}),
		done:        make(chan struct{}),
	}
	return m, nil
}

func (m *Machine) ID() string { return m.id }

func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Done is closed once End has finished or Teardown released the session.
func (m *Machine) Done() <-chan struct{} { return m.done }

// Result returns the outcome of End, or nil before End has finished.
func (m *Machine) Result() *Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result
}

func (m *Machine) Status() Status {
	m.mu.Lock()
	st := Status{
		SessionID:  m.id,
		Phase:      m.phase,
		SetupError: m.setupErr,
		Elapsed:    m.elapsed,
		Connected:  m.connected,
		Finalizing: m.phase == PhaseEnding,
		LastError:  m.lastErr,
	}
	sched, queue := m.sched, m.queue
	m.mu.Unlock()

	if sched != nil {
		st.Speaking = sched.Speaking()
	}
	if queue != nil {
		qs := queue.Stats()
		st.PendingBlocks = qs.Pending
		st.CommittedBlocks = qs.Committed
	}
	st.Answers = len(m.seg.Pairs())
	if _, text, ok := m.seg.OpenQuestion(); ok {
		st.OpenQuestion = text
	}
	return st
}

// setPhase moves the phase forward and fires the callback. Backward moves are ignored.
func (m *Machine) setPhase(p Phase) {
	m.mu.Lock()
	if p.rank() <= m.phase.rank() {
		m.mu.Unlock()
		return
	}
	m.phase = p
	m.mu.Unlock()

	m.logger.Info("session phase changed", "phase", string(p))
	m.metrics.RecordPhase(string(p))
	if m.cb.OnPhase != nil {
		m.cb.OnPhase(p)
	}
}

func (m *Machine) reportError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
	m.logger.Warn("session error", "err", err)
	if m.cb.OnError != nil {
		m.cb.OnError(err)
	}
}

func (m *Machine) failSetup(kind SetupError, err error) error {
	m.mu.Lock()
	m.setupErr = kind
	m.lastErr = err
	m.mu.Unlock()
	m.logger.Error("session setup failed", "kind", string(kind), "err", err)
	if m.cb.OnError != nil {
		m.cb.OnError(err)
	}
	return err
}

// RequestPermissions acquires devices, mints a transport credential, opens the speech
// transport and pushes the session configuration. On success the phase becomes ready;
// on failure it stays setup with a denied or disconnected setup error.
func (m *Machine) RequestPermissions(ctx context.Context) error {
	m.mu.Lock()
	if m.phase != PhaseSetup || m.requested {
		m.mu.Unlock()
		return ErrSetupInProgress
	}
	m.requested = true
	m.mu.Unlock()

	media, err := m.devices.Acquire(ctx)
	if err != nil {
		kind := SetupDisconnected
		if errors.Is(err, ErrPermissionDenied) {
			kind = SetupDenied
		}
		return m.failSetup(kind, fmt.Errorf("acquire devices: %w", err))
	}
	if media == nil || media.Output == nil || media.Capture == nil || media.Mic == nil {
		return m.failSetup(SetupDisconnected, errors.New("acquire devices: incomplete media"))
	}

	sched := playback.NewScheduler(playback.Config{
		Format:     m.cfg.OutputFormat,
		Clock:      media.Output,
		Output:     media.Output,
		Mix:        media.Mix,
		OnSpeaking: m.cb.OnSpeaking,
		Logger:     m.logger,
		Metrics:    m.metrics,
	})
	queue := upload.New(upload.UploaderFunc(func(ctx context.Context, b upload.Block) error {
		return m.backend.UploadBlock(ctx, m.id, b)
	}), upload.Config{
		BlockSize:    m.cfg.BlockSize,
		DrainTimeout: m.cfg.DrainTimeout,
		DrainPoll:    m.cfg.DrainPoll,
		Logger:       m.logger,
		Metrics:      m.metrics,
	})
	m.mu.Lock()
	m.media = media
	m.sched = sched
	m.queue = queue
	m.mu.Unlock()

	token, err := m.backend.Token(ctx, m.id)
	if err != nil {
		m.release()
		return m.failSetup(SetupDisconnected, fmt.Errorf("mint transport token: %w", err))
	}
	tr, err := m.newTransport(token)
	if err != nil {
		m.release()
		return m.failSetup(SetupDisconnected, fmt.Errorf("create transport: %w", err))
	}
	m.mu.Lock()
	m.transport = tr
	m.mu.Unlock()

	if err := tr.Connect(ctx); err != nil {
		m.release()
		return m.failSetup(SetupDisconnected, fmt.Errorf("connect transport: %w", err))
	}
	if err := tr.UpdateSession(ctx, m.sessionConfig()); err != nil {
		m.release()
		return m.failSetup(SetupDisconnected, fmt.Errorf("configure transport: %w", err))
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.connected = true
	m.loopCancel = cancel
	m.loopDone = make(chan struct{})
	m.mu.Unlock()

	go m.loop(loopCtx, tr.Events())
	m.pumps.Add(1)
	go m.pumpMic(media.Mic)

	m.setPhase(PhaseReady)
	return nil
}

func (m *Machine) sessionConfig() realtime.SessionConfig {
	out := m.cfg.OutputFormat
	if out.SampleRate <= 0 {
		out.SampleRate = playback.DefaultSampleRate
	}
	if out.Channels <= 0 {
		out.Channels = 1
	}
	return realtime.SessionConfig{
		Instructions:       m.set.Instructions(),
		Voice:              m.cfg.Voice,
		InputFormat:        m.cfg.InputFormat,
		OutputFormat:       realtime.AudioFormat{Encoding: "pcm16", SampleRate: out.SampleRate, Channels: out.Channels},
		TurnDetection:      m.cfg.TurnDetection,
		Tools:              toolDeclarations(),
		TranscriptionModel: m.cfg.TranscriptionModel,
	}
}

// Start moves ready to interviewing: it resets queue state, starts the recording,
// enables audio forwarding, starts the timers and asks the model for its opening
// utterance. Outside the ready phase it returns ErrNotReady and changes nothing.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.phase != PhaseReady || m.ending || m.starting != nil {
		phase := m.phase
		m.mu.Unlock()
		if phase == PhaseReady {
			return fmt.Errorf("%w: start already in progress", ErrNotReady)
		}
		return fmt.Errorf("%w: phase is %s", ErrNotReady, phase)
	}
	starting := make(chan struct{})
	m.starting = starting
	media, queue, sched, tr := m.media, m.queue, m.sched, m.transport
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.starting = nil
		m.mu.Unlock()
		close(starting)
	}()

	queue.Reset()
	sched.Clear()
	m.seg.Reset()

	if err := media.Capture.Start(ctx); err != nil {
		err = fmt.Errorf("start capture: %w", err)
		m.reportError(err)
		return err
	}
	m.pumps.Add(1)
	go m.pumpCapture(media.Capture, queue)

	m.mu.Lock()
	m.scores = nil
	m.startedAt = m.now()
	m.elapsed = 0
	m.mu.Unlock()

	m.monitor.Start()
	m.forwarding.Store(true)
	m.metrics.RecordSessionStart()
	m.setPhase(PhaseInterviewing)
	close(m.startCh)

	if err := tr.CreateResponse(ctx, realtime.ResponseOptions{}); err != nil {
		m.reportError(fmt.Errorf("request opening utterance: %w", err))
	}
	return nil
}

func (m *Machine) pumpMic(mic Microphone) {
	defer m.pumps.Done()
	for frame := range mic.Frames() {
		if !m.forwarding.Load() {
			continue
		}
		m.mu.Lock()
		tr := m.transport
		m.mu.Unlock()
		if err := tr.SendAudio(frame); err != nil {
			if errors.Is(err, realtime.ErrClosed) {
				continue
			}
			m.logger.Debug("send microphone frame", "err", err)
		}
	}
}

func (m *Machine) pumpCapture(c Capture, q *upload.Queue) {
	defer m.pumps.Done()
	defer close(m.captureDone)
	for chunk := range c.Chunks() {
		if err := q.Push(chunk); err != nil {
			m.logger.Warn("recording chunk dropped", "bytes", len(chunk), "err", err)
		}
	}
}

func (m *Machine) loop(ctx context.Context, events <-chan realtime.Event) {
	defer close(m.loopDone)

	var (
		elapsedC, pollC <-chan time.Time
		maxC            <-chan time.Time
		stopMax         func() bool
		tickers         []ticker
		startCh         = m.startCh
	)
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
		if stopMax != nil {
			stopMax()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-startCh:
			startCh = nil
			et := m.newTicker(elapsedTick)
			pt := m.newTicker(m.monitor.PollInterval())
			tickers = append(tickers, et, pt)
			elapsedC, pollC = et.C(), pt.C()
			if m.cfg.MaxDuration > 0 {
				maxC, stopMax = m.newTimer(m.cfg.MaxDuration)
			}

		case <-elapsedC:
			m.mu.Lock()
			m.elapsed = m.now().Sub(m.startedAt)
			m.mu.Unlock()

		case <-pollC:
			m.pollInactivity(ctx)

		case <-maxC:
			maxC = nil
			m.logger.Info("maximum interview duration reached", "max", m.cfg.MaxDuration)
			m.endAsync("max_duration")

		case ev, ok := <-events:
			if !ok {
				events = nil
				m.mu.Lock()
				m.connected = false
				m.mu.Unlock()
				continue
			}
			m.dispatch(ctx, ev)
		}
	}
}

func (m *Machine) pollInactivity(ctx context.Context) {
	switch action := m.monitor.Poll(); action {
	case turn.ActionWarn:
		m.metrics.RecordInactivity(action.String())
		m.logger.Info("candidate silent, reprompting", "silence", m.monitor.State().Silence)
		if err := m.transport.CreateResponse(ctx, realtime.ResponseOptions{Instructions: m.set.Reprompt()}); err != nil {
			m.reportError(fmt.Errorf("send reprompt: %w", err))
		}
	case turn.ActionEnd:
		m.metrics.RecordInactivity(action.String())
		m.logger.Info("candidate inactive, ending interview", "silence", m.monitor.State().Silence)
		m.endAsync("inactivity")
	}
}

// dispatch is the single handler for transport events.
func (m *Machine) dispatch(ctx context.Context, ev realtime.Event) {
	interviewing := m.Phase() == PhaseInterviewing

	switch e := ev.(type) {
	case realtime.AudioDelta:
		if interviewing {
			m.sched.Enqueue(e.Data)
		}
	case realtime.AudioDone:
	case realtime.TextDelta:
		m.seg.TextDelta(e.Delta)
	case realtime.TextDone:
		if m.seg.UtteranceCompleted(e.Text) {
			id, _, _ := m.seg.OpenQuestion()
			m.logger.Debug("question opened", "question_id", id)
		}
	case realtime.SpeechStarted:
		m.monitor.SpeechStarted()
		m.seg.SpeechStarted()
	case realtime.SpeechStopped:
		m.monitor.SpeechStopped()
		if pair, ok := m.seg.SpeechStopped(); ok {
			m.logger.Debug("answer recorded", "question_id", pair.QuestionID, "duration", pair.Duration)
			if m.cb.OnPair != nil {
				m.cb.OnPair(pair)
			}
		}
	case realtime.InputTranscript:
		m.seg.InputTranscript(e.Text)
	case realtime.FunctionCall:
		if !interviewing {
			return
		}
		if m.handleTool(ctx, e) {
			m.endAsync("model")
		}
	case realtime.ErrorEvent:
		if e.Fatal {
			m.mu.Lock()
			m.connected = false
			m.mu.Unlock()
		}
		m.reportError(fmt.Errorf("speech transport: %w", e))
	}
}

// endAsync runs End off the dispatch goroutine so End can stop and await the loop.
func (m *Machine) endAsync(reason string) {
	go func() {
		m.logger.Info("ending interview", "reason", reason)
		ctx := context.Background()
		if err := m.End(ctx); err != nil && !errors.Is(err, ErrNotStarted) {
			m.logger.Error("end interview", "reason", reason, "err", err)
		}
	}()
}

// End stops the interview and persists it: forwarding stops first, playback is
// cleared, timers stop, the transport closes, the recording stops and drains, then
// finalize and the results calls run before devices are released. A second call is a
// no-op. The returned error is the fatal upload or finalize failure, if any; results
// and scoring failures only land in Result.ScoreErr.
func (m *Machine) End(ctx context.Context) error {
	m.forwarding.Store(false)

	m.mu.Lock()
	// An End racing Start waits for it, so the capture it started is stopped here.
	for m.starting != nil && !m.ending {
		starting := m.starting
		m.mu.Unlock()
		select {
		case <-starting:
		case <-ctx.Done():
			return ctx.Err()
		}
		m.mu.Lock()
		m.forwarding.Store(false)
	}
	if m.ending {
		m.mu.Unlock()
		return nil
	}
	if m.phase != PhaseReady && m.phase != PhaseInterviewing {
		m.mu.Unlock()
		return ErrNotStarted
	}
	m.ending = true
	wasInterviewing := m.phase == PhaseInterviewing
	media, queue, sched, tr := m.media, m.queue, m.sched, m.transport
	loopCancel, loopDone := m.loopCancel, m.loopDone
	startedAt := m.startedAt
	m.mu.Unlock()

	m.setPhase(PhaseEnding)
	sched.Clear()

	m.monitor.Stop()
	loopCancel()
	<-loopDone
	// The loop may have scheduled a delta between the first clear and its exit.
	sched.Clear()

	if err := tr.Disconnect(); err != nil {
		m.logger.Warn("disconnect transport", "err", err)
	}
	m.mu.Lock()
	m.connected = false
	m.mu.Unlock()

	res := &Result{SessionID: m.id}
	if wasInterviewing {
		d, err := media.Capture.Stop()
		if err != nil {
			m.logger.Warn("stop capture", "err", err)
		}
		if d <= 0 {
			d = m.now().Sub(startedAt)
		}
		res.Duration = d
		// Every chunk the capture emitted must be queued before the drain.
		<-m.captureDone
		res.Err = m.finish(ctx, queue, res)
		m.metrics.RecordSessionEnd(endStatus(res), m.now().Sub(startedAt))
	}

	m.release()

	m.mu.Lock()
	m.result = res
	if res.Err != nil {
		m.lastErr = res.Err
	}
	m.mu.Unlock()
	m.setPhase(PhaseComplete)
	m.closeDone()
	return res.Err
}

// finish drains the upload queue, finalizes the recording and persists the results.
func (m *Machine) finish(ctx context.Context, queue *upload.Queue, res *Result) error {
	if err := queue.Drain(ctx); err != nil {
		return fmt.Errorf("drain recording: %w", err)
	}
	stats := queue.Stats()
	res.BlockIDs = queue.Committed()
	res.Size = stats.CommittedBytes

	ctx, cancel := context.WithTimeout(ctx, m.cfg.FinishTimeout)
	defer cancel()

	// Nothing was captured, so there is no recording to assemble. The transcript is
	// still saved.
	if len(res.BlockIDs) == 0 {
		m.logger.Warn("no recording blocks committed, skipping finalize", "duration", res.Duration)
	} else {
		rec, err := m.backend.Finalize(ctx, api.FinalizeRequest{
			SessionID:  m.id,
			BlockIDs:   res.BlockIDs,
			Duration:   res.Duration.Seconds(),
			FileSize:   res.Size,
			Format:     m.cfg.Recording.Format,
			Resolution: m.cfg.Recording.Resolution,
			FrameRate:  m.cfg.Recording.FrameRate,
		})
		if err != nil {
			return fmt.Errorf("finalize recording: %w", err)
		}
		res.Recording = rec
	}

	res.Pairs = m.seg.Pairs()
	res.Log = m.seg.Log()
	m.mu.Lock()
	res.Scores = api.NewScores(append([]api.AnswerScore(nil), m.scores...))
	m.mu.Unlock()

	if err := m.backend.SaveResults(ctx, api.ResultsRequest{
		SessionID:    m.id,
		Scores:       res.Scores,
		QATranscript: qaEntries(res.Pairs),
		Conversation: utterances(res.Log),
	}); err != nil {
		res.ScoreErr = fmt.Errorf("save results: %w", err)
		m.logger.Warn("saving interview results failed", "err", err)
	}
	ai, err := m.backend.AIScore(ctx, m.id)
	if err != nil {
		if res.ScoreErr == nil {
			res.ScoreErr = fmt.Errorf("ai score: %w", err)
		}
		m.logger.Warn("ai scoring failed", "err", err)
	} else {
		res.AIScores = ai
	}
	return nil
}

func endStatus(res *Result) string {
	switch {
	case res.Err != nil:
		return "failed"
	case res.ScoreErr != nil:
		return "partial"
	default:
		return "complete"
	}
}

// Teardown releases every resource without finalizing. It is safe to call more than
// once and after End.
func (m *Machine) Teardown() {
	m.forwarding.Store(false)
	m.mu.Lock()
	tr, sched := m.transport, m.sched
	loopCancel, loopDone := m.loopCancel, m.loopDone
	m.mu.Unlock()

	if sched != nil {
		sched.Clear()
	}
	m.monitor.Stop()
	if loopCancel != nil {
		loopCancel()
		<-loopDone
	}
	if tr != nil {
		_ = tr.Disconnect()
	}
	m.release()
	m.closeDone()
}

// release stops and releases devices and the upload queue exactly once.
func (m *Machine) release() {
	m.releaseOnce.Do(func() {
		m.forwarding.Store(false)
		m.mu.Lock()
		media, queue, tr := m.media, m.queue, m.transport
		m.connected = false
		m.mu.Unlock()

		if tr != nil {
			_ = tr.Disconnect()
		}
		if media != nil {
			if err := media.Mic.Close(); err != nil {
				m.logger.Debug("close microphone", "err", err)
			}
			if err := media.Capture.Release(); err != nil {
				m.logger.Debug("release capture", "err", err)
			}
			if err := media.Output.Close(); err != nil {
				m.logger.Debug("close audio output", "err", err)
			}
		}
		if queue != nil {
			queue.Close()
		}
		m.pumps.Wait()
	})
}

func (m *Machine) closeDone() {
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.done:
	default:
		close(m.done)
	}
}

func qaEntries(pairs []transcript.QAPair) []api.QAEntry {
	out := make([]api.QAEntry, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, api.QAEntry{
			QuestionID:      p.QuestionID,
			Question:        p.QuestionText,
			Category:        string(p.Category),
			AskedAt:         p.AskedAt,
			Answer:          p.AnswerText,
			AnswerStartedAt: p.AnswerStartedAt,
			AnswerEndedAt:   p.AnswerEndedAt,
			Duration:        p.Duration.Seconds(),
		})
	}
	return out
}

func utterances(log []transcript.Utterance) []api.Utterance {
	out := make([]api.Utterance, 0, len(log))
	for _, u := range log {
		out = append(out, api.Utterance{Role: string(u.Role), Text: u.Text, At: u.At})
	}
	return out
}
