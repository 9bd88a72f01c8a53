package playback

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func samplesOf(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

func TestTimeline_ReadPadsWithSilenceAndAdvancesClock(t *testing.T) {
	tl := NewTimeline(Format{SampleRate: 1000, Channels: 1})
	buf, err := Decode(pcm16(1, 2, 3), tl.Format())
	require.NoError(t, err)
	require.NoError(t, tl.Schedule(buf, 2*time.Millisecond))

	p := make([]byte, 12)
	n, err := tl.Read(p)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	assert.Equal(t, []int16{0, 0, 1, 2, 3, 0}, samplesOf(p))
	assert.Equal(t, 6*time.Millisecond, tl.Now())
	assert.Zero(t, tl.Pending())
}

func TestTimeline_MixesOverlappingAudioWithClamp(t *testing.T) {
	tl := NewTimeline(Format{SampleRate: 1000, Channels: 1})
	a, _ := Decode(pcm16(100, 30000), tl.Format())
	b, _ := Decode(pcm16(50, 30000), tl.Format())
	require.NoError(t, tl.Schedule(a, 0))
	require.NoError(t, tl.Schedule(b, 0))

	out := tl.ReadUntil(2 * time.Millisecond)
	assert.Equal(t, []int16{150, 32767}, samplesOf(out))
}

func TestTimeline_PastScheduleStartsAtClock(t *testing.T) {
	tl := NewTimeline(Format{SampleRate: 1000, Channels: 1})
	tl.ReadUntil(5 * time.Millisecond)

	buf, _ := Decode(pcm16(7), tl.Format())
	require.NoError(t, tl.Schedule(buf, time.Millisecond))
	assert.Equal(t, time.Millisecond, tl.Pending())
	assert.Equal(t, []int16{7}, samplesOf(tl.ReadUntil(6*time.Millisecond)))
}

func TestTimeline_WriteNowAndClose(t *testing.T) {
	tl := NewTimeline(Format{SampleRate: 1000, Channels: 1})
	tl.WriteNow(pcm16(9, 9))
	assert.Equal(t, 2*time.Millisecond, tl.Pending())

	require.NoError(t, tl.Close())
	assert.Zero(t, tl.Pending())
	tl.WriteNow(pcm16(1))
	assert.Zero(t, tl.Pending())
}

func TestScheduler_OddFrameCountsStayContiguousOnTimeline(t *testing.T) {
	tl := NewTimeline(Format{})
	s, _ := newTestScheduler(tl, tl, nil, nil)

	// 1001 frames at 24kHz is not a whole number of nanoseconds.
	chunk := make([]int16, 1001)
	for i := range chunk {
		chunk[i] = 1000
	}
	for i := 0; i < 3; i++ {
		s.Enqueue(pcm16(chunk...))
	}
	assert.Equal(t, tl.Format().Offset(3003), s.Cursor())

	out := samplesOf(tl.ReadUntil(tl.Format().Offset(3004)))
	require.Len(t, out, 3004)
	for i, v := range out[:3003] {
		require.Equal(t, int16(1000), v, "sample %d", i)
	}
	assert.Zero(t, out[3003])
}

func TestFormat_OffsetRoundTripsFrames(t *testing.T) {
	for _, f := range []Format{{}, {SampleRate: 44100}, {SampleRate: 16000, Channels: 2}} {
		for _, n := range []int64{0, 1, 2, 1001, 3003, 24001, 123457} {
			assert.Equal(t, n, f.Frames(f.Offset(n)), "rate %d frames %d", f.SampleRate, n)
		}
	}
}

func TestFormat_DurationAndFrames(t *testing.T) {
	f := Format{}
	assert.Equal(t, time.Second, f.Duration(48000))
	assert.Equal(t, int64(24000), f.Frames(time.Second))
	assert.Equal(t, 2, f.BytesPerFrame())

	_, err := Decode([]byte{1}, f)
	assert.ErrorIs(t, err, ErrEmptyFrame)
}
