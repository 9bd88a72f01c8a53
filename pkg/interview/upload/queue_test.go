package upload

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingUploader struct {
	mu       sync.Mutex
	attempts []Block
	commits  []Block
	fail     func(b Block, attempt int) error
	perIndex map[int]int
	delay    time.Duration
}

func (u *recordingUploader) UploadBlock(ctx context.Context, b Block) error {
	if u.delay > 0 {
		select {
		case <-time.After(u.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.perIndex == nil {
		u.perIndex = make(map[int]int)
	}
	u.perIndex[b.Index]++
	u.attempts = append(u.attempts, b)
	if u.fail != nil {
		if err := u.fail(b, u.perIndex[b.Index]); err != nil {
			return err
		}
	}
	u.commits = append(u.commits, b)
	return nil
}

func (u *recordingUploader) attemptIndexes() []int {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]int, 0, len(u.attempts))
	for _, b := range u.attempts {
		out = append(out, b.Index)
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestQueue(u Uploader, blockSize int) *Queue {
	return New(u, Config{
		BlockSize:    blockSize,
		DrainTimeout: 2 * time.Second,
		DrainPoll:    5 * time.Millisecond,
		Logger:       testLogger(),
	})
}

func chunkOf(seed byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = seed + byte(i)
	}
	return out
}

func TestQueue_CommitsBlocksInOrderAcrossChunks(t *testing.T) {
	const (
		blockSize = 4
		chunkSize = 12
		chunks    = 6
	)
	u := &recordingUploader{delay: time.Millisecond}
	q := newTestQueue(u, blockSize)
	defer q.Close()

	var want bytes.Buffer
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < chunks; i++ {
		c := chunkOf(byte(i*16), chunkSize)
		want.Write(c)
		require.NoError(t, q.Push(c))
		time.Sleep(time.Duration(rng.Intn(3)) * time.Millisecond)
	}
	require.NoError(t, q.Drain(context.Background()))

	ids := q.Committed()
	require.Len(t, ids, chunks*chunkSize/blockSize)
	for i, id := range ids {
		assert.Equal(t, BlockID(i), id)
	}

	var got bytes.Buffer
	for i, b := range u.commits {
		assert.Equal(t, i, b.Index)
		assert.Equal(t, i == 0, b.IsFirst)
		assert.Equal(t, Checksum(b.Data), b.Checksum)
		got.Write(b.Data)
	}
	assert.Equal(t, want.Bytes(), got.Bytes())

	st := q.Stats()
	assert.Equal(t, int64(chunks*chunkSize), st.CommittedBytes)
	assert.Zero(t, st.Pending)
	assert.False(t, st.Uploading)
}

func TestQueue_ReplayYieldsSameIdentifiers(t *testing.T) {
	run := func() []string {
		q := newTestQueue(&recordingUploader{}, 3)
		defer q.Close()
		for i := 0; i < 5; i++ {
			require.NoError(t, q.Push(chunkOf(byte(i), 9)))
		}
		require.NoError(t, q.Drain(context.Background()))
		return q.Committed()
	}
	first := run()
	second := run()
	assert.Equal(t, first, second)
	assert.Len(t, first, 15)
}

func TestQueue_FailedBlockKeepsItsIndex(t *testing.T) {
	u := &recordingUploader{
		fail: func(b Block, attempt int) error {
			if b.Index == 1 && attempt <= 2 {
				return errors.New("503 from upload endpoint")
			}
			return nil
		},
	}
	q := newTestQueue(u, 4)
	defer q.Close()

	second := chunkOf(100, 4)
	require.NoError(t, q.Push(chunkOf(0, 4)))
	require.NoError(t, q.Push(second))
	require.NoError(t, q.Push(chunkOf(200, 4)))
	require.NoError(t, q.Drain(context.Background()))

	assert.Equal(t, []string{BlockID(0), BlockID(1), BlockID(2)}, q.Committed())
	assert.Equal(t, []int{0, 1, 1, 1, 2}, u.attemptIndexes())
	require.Len(t, u.commits, 3)
	assert.Equal(t, second, u.commits[1].Data)
	assert.Equal(t, 2, q.Stats().Failures)
}

func TestQueue_DrainTimesOutWhenUploadsKeepFailing(t *testing.T) {
	u := &recordingUploader{
		fail: func(Block, int) error { return errors.New("network down") },
	}
	q := New(u, Config{
		BlockSize:    4,
		DrainTimeout: 60 * time.Millisecond,
		DrainPoll:    10 * time.Millisecond,
		Logger:       testLogger(),
	})
	defer q.Close()

	require.NoError(t, q.Push(chunkOf(0, 8)))
	err := q.Drain(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDrainTimeout))
	assert.Contains(t, err.Error(), "network down")
	assert.Empty(t, q.Committed())
	assert.Equal(t, 2, q.Stats().Pending)
}

func TestQueue_DrainHonorsContext(t *testing.T) {
	u := &recordingUploader{
		fail: func(Block, int) error { return errors.New("nope") },
	}
	q := newTestQueue(u, 4)
	defer q.Close()
	require.NoError(t, q.Push(chunkOf(0, 4)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Drain(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestQueue_ResetClearsState(t *testing.T) {
	q := newTestQueue(&recordingUploader{}, 4)
	defer q.Close()
	require.NoError(t, q.Push(chunkOf(0, 8)))
	require.NoError(t, q.Drain(context.Background()))
	require.Len(t, q.Committed(), 2)

	q.Reset()
	assert.Empty(t, q.Committed())
	assert.Equal(t, Stats{}, q.Stats())

	require.NoError(t, q.Push(chunkOf(0, 4)))
	require.NoError(t, q.Drain(context.Background()))
	assert.Equal(t, []string{BlockID(0)}, q.Committed())
}

func TestQueue_PushAfterClose(t *testing.T) {
	q := newTestQueue(&recordingUploader{}, 4)
	q.Close()
	q.Close()
	assert.ErrorIs(t, q.Push([]byte("late")), ErrClosed)
}

func TestQueue_EmptyChunkIsIgnored(t *testing.T) {
	q := newTestQueue(&recordingUploader{}, 4)
	defer q.Close()
	require.NoError(t, q.Push(nil))
	require.NoError(t, q.Drain(context.Background()))
	assert.Empty(t, q.Committed())
}

func TestBlockID_RoundTripsAndHasFixedLength(t *testing.T) {
	first := BlockID(0)
	for _, i := range []int{0, 1, 42, 999999} {
		id := BlockID(i)
		assert.Len(t, id, len(first))
		got, err := ParseBlockID(id)
		require.NoError(t, err)
		assert.Equal(t, i, got)
	}
	_, err := ParseBlockID("not base64!")
	assert.Error(t, err)
}

func TestSplit(t *testing.T) {
	parts := split([]byte("abcdefghij"), 4)
	require.Len(t, parts, 3)
	assert.Equal(t, "abcd", string(parts[0]))
	assert.Equal(t, "efgh", string(parts[1]))
	assert.Equal(t, "ij", string(parts[2]))
	assert.Nil(t, split(nil, 4))
}
