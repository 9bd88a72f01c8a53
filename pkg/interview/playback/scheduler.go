// Package playback schedules inbound interviewer audio as gapless, non-overlapping
// buffers on a monotonic audio clock.
package playback

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vango-go/vai-interview/pkg/metrics"
)

// Clock is the audio clock buffers are scheduled against.
type Clock interface {
	Now() time.Duration
}

// Destination accepts a buffer to start playing at a clock offset.
// Implementations must not block; Schedule is called with the scheduler lock held.
type Destination interface {
	Schedule(buf Buffer, at time.Duration) error
}

type stopper interface {
	Stop() bool
}

type Config struct {
	Format Format
	Clock  Clock
	Output Destination
	// Mix receives every scheduled buffer as well, so the interviewer is captured in
	// the recording. Optional.
	Mix        Destination
	OnSpeaking func(bool)
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

type Scheduler struct {
	format     Format
	clock      Clock
	out        Destination
	mix        Destination
	onSpeaking func(bool)
	logger     *slog.Logger
	metrics    *metrics.Metrics
	afterFunc  func(time.Duration, func()) stopper

	mu         sync.Mutex
	queue      [][]byte
	cursor     int64 // next free sample frame
	scheduling bool

	speaking   bool
	speakTimer stopper
	speakGen   uint64
}

func NewScheduler(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Scheduler{
		format:     cfg.Format.normalized(),
		clock:      cfg.Clock,
		out:        cfg.Output,
		mix:        cfg.Mix,
		onSpeaking: cfg.OnSpeaking,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		afterFunc: func(d time.Duration, f func()) stopper {
			return time.AfterFunc(d, f)
		},
	}
}

// Enqueue queues an inbound frame and runs a scheduling pass unless one is already
// running, in which case that pass picks the frame up.
func (s *Scheduler) Enqueue(frame []byte) {
	if len(frame) == 0 {
		return
	}
	s.mu.Lock()
	s.queue = append(s.queue, frame)
	if s.scheduling {
		s.mu.Unlock()
		return
	}
	s.scheduling = true
	s.mu.Unlock()

	s.pass()
}

func (s *Scheduler) pass() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.scheduling = false
			notify := s.armSpeakingLocked()
			s.mu.Unlock()
			notify()
			return
		}
		frames := s.queue
		s.queue = nil
		startedSpeaking := false
		for _, f := range frames {
			buf, err := Decode(f, s.format)
			if err != nil {
				s.logger.Debug("dropping audio frame", "bytes", len(f), "err", err)
				continue
			}
			// Frames(Offset(n)) == n, so adjacent buffers land on adjacent samples.
			startFrame := s.format.Frames(s.clock.Now())
			if s.cursor > startFrame {
				startFrame = s.cursor
			}
			s.cursor = startFrame + buf.Frames()
			start := s.format.Offset(startFrame)
			if err := s.out.Schedule(buf, start); err != nil {
				s.logger.Warn("schedule playback buffer", "err", err)
			}
			if s.mix != nil {
				if err := s.mix.Schedule(buf, start); err != nil {
					s.logger.Warn("schedule recording mix buffer", "err", err)
				}
			}
			s.metrics.RecordPlayback(buf.Duration)
			if !s.speaking {
				s.speaking = true
				startedSpeaking = true
			}
		}
		s.mu.Unlock()
		if startedSpeaking && s.onSpeaking != nil {
			s.onSpeaking(true)
		}
	}
}

// armSpeakingLocked replaces the speaking timer with one that fires when all scheduled
// audio has played. The returned func must be called without the lock held.
func (s *Scheduler) armSpeakingLocked() func() {
	if !s.speaking {
		return func() {}
	}
	if s.speakTimer != nil {
		s.speakTimer.Stop()
		s.speakTimer = nil
	}
	s.speakGen++
	remaining := s.format.Offset(s.cursor) - s.clock.Now()
	if remaining <= 0 {
		s.speaking = false
		return s.notifySpeaking(false)
	}
	gen := s.speakGen
	s.speakTimer = s.afterFunc(remaining, func() {
		s.mu.Lock()
		if gen != s.speakGen || !s.speaking {
			s.mu.Unlock()
			return
		}
		s.speaking = false
		s.speakTimer = nil
		s.mu.Unlock()
		s.notifySpeaking(false)()
	})
	return func() {}
}

func (s *Scheduler) notifySpeaking(v bool) func() {
	if s.onSpeaking == nil {
		return func() {}
	}
	return func() { s.onSpeaking(v) }
}

// Clear drops queued frames, resets the cursor and turns the speaking signal off.
// Buffers already handed to the output keep playing.
func (s *Scheduler) Clear() {
	s.mu.Lock()
	s.queue = nil
	s.cursor = 0
	s.speakGen++
	if s.speakTimer != nil {
		s.speakTimer.Stop()
		s.speakTimer = nil
	}
	was := s.speaking
	s.speaking = false
	s.mu.Unlock()

	if was {
		s.notifySpeaking(false)()
	}
}

// Speaking reports whether scheduled interviewer audio is still playing.
func (s *Scheduler) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speaking
}

// Cursor returns the clock offset of the next free playback slot.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.format.Offset(s.cursor)
}

// Queued returns the number of frames waiting for a scheduling pass.
func (s *Scheduler) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
