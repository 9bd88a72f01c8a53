// Package upload streams the live recording to the backend as ordered, fixed-size blocks.
//
// Chunks are split into blocks and uploaded by a single worker goroutine. A block is
// committed only after the uploader acknowledges it; a failed block goes back to the
// front of the queue and the worker stops until the next Push or Drain restarts it.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/vango-go/vai-interview/pkg/metrics"
)

var (
	// ErrDrainTimeout is returned by Drain when blocks are still pending after the bound.
	ErrDrainTimeout = errors.New("upload: drain timed out")
	// ErrClosed is returned when pushing to a closed queue.
	ErrClosed = errors.New("upload: queue closed")

	errPending = errors.New("upload: blocks pending")
)

// Uploader stages a single block server-side.
type Uploader interface {
	UploadBlock(ctx context.Context, b Block) error
}

// UploaderFunc adapts a function to Uploader.
type UploaderFunc func(ctx context.Context, b Block) error

func (f UploaderFunc) UploadBlock(ctx context.Context, b Block) error { return f(ctx, b) }

type Config struct {
	BlockSize    int
	DrainTimeout time.Duration
	DrainPoll    time.Duration
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Pending        int
	Committed      int
	CommittedBytes int64
	Uploading      bool
	Failures       int
	LastError      error
}

type Queue struct {
	uploader     Uploader
	blockSize    int
	drainTimeout time.Duration
	drainPoll    time.Duration
	logger       *slog.Logger
	metrics      *metrics.Metrics

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	gen       uint64
	pending   [][]byte
	committed []string
	bytes     int64
	uploading bool
	closed    bool
	failures  int
	lastErr   error

	wg sync.WaitGroup
}

func New(uploader Uploader, cfg Config) *Queue {
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 60 * time.Second
	}
	if cfg.DrainPoll <= 0 {
		cfg.DrainPoll = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		uploader:     uploader,
		blockSize:    cfg.BlockSize,
		drainTimeout: cfg.DrainTimeout,
		drainPoll:    cfg.DrainPoll,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Push splits chunk into blocks, appends them to the pending queue and makes sure
// the worker is running.
func (q *Queue) Push(chunk []byte) error {
	blocks := split(chunk, q.blockSize)
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if len(blocks) == 0 {
		return nil
	}
	q.pending = append(q.pending, blocks...)
	q.startLocked()
	return nil
}

// Reset discards all pending and committed state. An upload in flight from before the
// reset is cancelled and its outcome ignored.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.gen++
	q.cancel()
	q.ctx, q.cancel = context.WithCancel(context.Background())
	q.pending = nil
	q.committed = nil
	q.bytes = 0
	q.uploading = false
	q.failures = 0
	q.lastErr = nil
}

// Drain waits until every pending block is committed, restarting the worker on each
// poll. It gives up with ErrDrainTimeout after the configured bound.
func (q *Queue) Drain(ctx context.Context) error {
	start := time.Now()
	defer func() { q.metrics.RecordDrain(time.Since(start)) }()

	b := retry.WithMaxDuration(q.drainTimeout, retry.NewConstant(q.drainPoll))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		q.mu.Lock()
		defer q.mu.Unlock()
		if len(q.pending) == 0 && !q.uploading {
			return nil
		}
		if q.closed {
			return ErrClosed
		}
		q.startLocked()
		return retry.RetryableError(errPending)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, errPending) {
		st := q.Stats()
		if st.LastError != nil {
			return fmt.Errorf("%w: %d blocks pending after %s (last error: %v)", ErrDrainTimeout, st.Pending, q.drainTimeout, st.LastError)
		}
		return fmt.Errorf("%w: %d blocks pending after %s", ErrDrainTimeout, st.Pending, q.drainTimeout)
	}
	return err
}

// Committed returns the identifiers of committed blocks in commit order.
func (q *Queue) Committed() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.committed))
	copy(out, q.committed)
	return out
}

func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending:        len(q.pending),
		Committed:      len(q.committed),
		CommittedBytes: q.bytes,
		Uploading:      q.uploading,
		Failures:       q.failures,
		LastError:      q.lastErr,
	}
}

// Close stops the worker and waits for it to exit. Pending blocks are dropped.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cancel()
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) startLocked() {
	if q.uploading || q.closed || len(q.pending) == 0 {
		return
	}
	q.uploading = true
	q.wg.Add(1)
	go q.run(q.ctx, q.gen)
}

func (q *Queue) run(ctx context.Context, gen uint64) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if gen != q.gen {
			q.mu.Unlock()
			return
		}
		if q.closed || len(q.pending) == 0 {
			q.uploading = false
			q.mu.Unlock()
			return
		}
		data := q.pending[0]
		q.pending = q.pending[1:]
		index := len(q.committed)
		q.mu.Unlock()

		block := Block{
			Index:    index,
			ID:       BlockID(index),
			Data:     data,
			IsFirst:  index == 0,
			Checksum: Checksum(data),
		}
		err := q.uploader.UploadBlock(ctx, block)

		q.mu.Lock()
		if gen != q.gen {
			q.mu.Unlock()
			return
		}
		if err != nil {
			q.pending = append([][]byte{data}, q.pending...)
			q.failures++
			q.lastErr = err
			q.uploading = false
			q.mu.Unlock()
			q.metrics.RecordBlockFailed()
			q.logger.Warn("recording block upload failed", "block_index", index, "block_id", block.ID, "err", err)
			return
		}
		q.committed = append(q.committed, block.ID)
		q.bytes += int64(len(data))
		q.mu.Unlock()
		q.metrics.RecordBlockCommitted(len(data))
		q.logger.Debug("recording block committed", "block_index", index, "block_id", block.ID, "bytes", len(data))
	}
}
