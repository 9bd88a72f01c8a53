package playback

import (
	"errors"
	"time"
)

const (
	DefaultSampleRate = 24000
	DefaultChannels   = 1
	bytesPerSample    = 2
)

var ErrEmptyFrame = errors.New("playback: empty audio frame")

// Format describes signed 16-bit little-endian PCM.
type Format struct {
	SampleRate int
	Channels   int
}

func (f Format) normalized() Format {
	if f.SampleRate <= 0 {
		f.SampleRate = DefaultSampleRate
	}
	if f.Channels <= 0 {
		f.Channels = DefaultChannels
	}
	return f
}

func (f Format) BytesPerFrame() int {
	return bytesPerSample * f.normalized().Channels
}

// Duration returns the play time of n bytes.
func (f Format) Duration(n int) time.Duration {
	f = f.normalized()
	frames := int64(n / f.BytesPerFrame())
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// Offset returns the clock offset of a sample-frame index, rounded up so that
// Frames(Offset(n)) == n at any sample rate.
func (f Format) Offset(frames int64) time.Duration {
	f = f.normalized()
	if frames <= 0 {
		return 0
	}
	rate := int64(f.SampleRate)
	return time.Duration((frames*int64(time.Second) + rate - 1) / rate)
}

// Frames converts a clock offset into a sample-frame index, rounding down.
func (f Format) Frames(d time.Duration) int64 {
	f = f.normalized()
	if d <= 0 {
		return 0
	}
	return int64(d) * int64(f.SampleRate) / int64(time.Second)
}

// Buffer is a decoded frame ready to be scheduled.
type Buffer struct {
	PCM      []byte
	Format   Format
	Duration time.Duration
}

// Frames returns the number of sample frames in the buffer.
func (b Buffer) Frames() int64 {
	return int64(len(b.PCM) / b.Format.BytesPerFrame())
}

// Decode turns a raw inbound frame into a Buffer. A trailing partial sample frame is
// dropped.
func Decode(frame []byte, f Format) (Buffer, error) {
	f = f.normalized()
	usable := len(frame) - len(frame)%f.BytesPerFrame()
	if usable <= 0 {
		return Buffer{}, ErrEmptyFrame
	}
	pcm := make([]byte, usable)
	copy(pcm, frame[:usable])
	return Buffer{PCM: pcm, Format: f, Duration: f.Duration(usable)}, nil
}
