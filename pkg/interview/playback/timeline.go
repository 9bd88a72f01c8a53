package playback

import (
	"encoding/binary"
	"math"
	"sync"
	"time"
)

// Timeline is a sample-accurate mixing buffer positioned on an audio clock.
//
// Buffers scheduled at a clock offset are summed into the timeline. Read consumes
// samples in real time (silence where nothing is scheduled) and advances the clock,
// so a Timeline used as an oto source is also the Scheduler's Clock. A second
// Timeline fed the same buffers plus microphone audio produces the recording mix.
type Timeline struct {
	format Format

	mu      sync.Mutex
	base    int64 // sample frame index of samples[0]
	pos     int64 // frames consumed so far
	samples []int32
	closed  bool
}

func NewTimeline(f Format) *Timeline {
	return &Timeline{format: f.normalized()}
}

func (t *Timeline) Format() Format { return t.format }

// Now returns the clock position: the amount of audio consumed so far.
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.format.Offset(t.pos)
}

// Schedule mixes buf into the timeline starting at clock offset at. Audio scheduled
// in the past starts at the current position.
func (t *Timeline) Schedule(buf Buffer, at time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mixLocked(buf.PCM, t.format.Frames(at))
	return nil
}

// WriteNow mixes raw PCM at the current clock position. The recorder uses it for
// microphone audio.
func (t *Timeline) WriteNow(pcm []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mixLocked(pcm, t.pos)
}

func (t *Timeline) mixLocked(pcm []byte, startFrame int64) {
	ch := int64(t.format.Channels)
	if startFrame < t.pos {
		startFrame = t.pos
	}
	n := int64(len(pcm) / bytesPerSample)
	n -= n % ch
	if n == 0 || t.closed {
		return
	}
	offset := (startFrame - t.base) * ch
	need := offset + n
	if need > int64(len(t.samples)) {
		grown := make([]int32, need)
		copy(grown, t.samples)
		t.samples = grown
	}
	for i := int64(0); i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		t.samples[offset+i] += int32(s)
	}
}

// Read fills p with the next PCM samples and advances the clock. It never blocks and
// pads with silence.
func (t *Timeline) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	frames := int64(len(p) / t.format.BytesPerFrame())
	t.readLocked(p[:frames*int64(t.format.BytesPerFrame())], frames)
	return int(frames) * t.format.BytesPerFrame(), nil
}

// ReadUntil consumes everything up to clock offset at and returns it as PCM.
func (t *Timeline) ReadUntil(at time.Duration) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	frames := t.format.Frames(at) - t.pos
	if frames <= 0 {
		return nil
	}
	out := make([]byte, frames*int64(t.format.BytesPerFrame()))
	t.readLocked(out, frames)
	return out
}

// Pending reports how much scheduled audio lies beyond the clock.
func (t *Timeline) Pending() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	end := t.base + int64(len(t.samples))/int64(t.format.Channels)
	if end <= t.pos {
		return 0
	}
	return t.format.Offset(end) - t.format.Offset(t.pos)
}

// Close drops everything scheduled and makes future schedules no-ops.
func (t *Timeline) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.samples = nil
	t.base = t.pos
	return nil
}

func (t *Timeline) readLocked(dst []byte, frames int64) {
	ch := int64(t.format.Channels)
	avail := int64(len(t.samples))
	for i := int64(0); i < frames*ch; i++ {
		var v int32
		if i < avail {
			v = t.samples[i]
		}
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(clamp16(v)))
	}
	consumed := frames * ch
	if consumed >= avail {
		t.samples = t.samples[:0]
	} else {
		t.samples = t.samples[consumed:]
	}
	t.pos += frames
	t.base = t.pos
}

func clamp16(v int32) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
