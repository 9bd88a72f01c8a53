package blobstore

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-go/vai-interview/pkg/interview/upload"
)

func discard() *slog.Logger { return slog.New(slog.NewJSONHandler(io.Discard, nil)) }

func TestFS_StageAndCommitInListOrder(t *testing.T) {
	ctx := context.Background()
	s, err := NewFS(t.TempDir(), discard())
	require.NoError(t, err)

	// Staged out of order, committed in list order.
	require.NoError(t, s.StageBlock(ctx, "sess_1", upload.BlockID(1), []byte("world")))
	require.NoError(t, s.StageBlock(ctx, "sess_1", upload.BlockID(0), []byte("hello ")))

	ids := []string{upload.BlockID(0), upload.BlockID(1)}
	rec, err := s.CommitBlocks(ctx, "sess_1", ids, CommitOptions{ContentType: "audio/pcm"})
	require.NoError(t, err)
	assert.Equal(t, int64(11), rec.Size)
	assert.Equal(t, 2, rec.Blocks)
	assert.Equal(t, "sessions/sess_1/recording", rec.Name)
	require.True(t, strings.HasPrefix(rec.URL, "file://"))

	got, err := os.ReadFile(strings.TrimPrefix(rec.URL, "file://"))
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))

	again, err := s.CommitBlocks(ctx, "sess_1", ids, CommitOptions{})
	require.NoError(t, err)
	assert.Equal(t, rec, again)
}

func TestFS_RestageReplaces(t *testing.T) {
	ctx := context.Background()
	s, err := NewFS(t.TempDir(), discard())
	require.NoError(t, err)

	id := upload.BlockID(0)
	require.NoError(t, s.StageBlock(ctx, "sess_1", id, []byte("first")))
	require.NoError(t, s.StageBlock(ctx, "sess_1", id, []byte("second")))
	rec, err := s.CommitBlocks(ctx, "sess_1", []string{id}, CommitOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(6), rec.Size)
}

func TestFS_CommitUnknownBlock(t *testing.T) {
	s, err := NewFS(t.TempDir(), discard())
	require.NoError(t, err)
	_, err = s.CommitBlocks(context.Background(), "sess_1", []string{upload.BlockID(3)}, CommitOptions{})
	assert.ErrorIs(t, err, ErrUnknownBlock)
}

func TestFS_RejectsUnsafeNames(t *testing.T) {
	s, err := NewFS(t.TempDir(), discard())
	require.NoError(t, err)
	for _, id := range []string{"", "../etc", "a/b", strings.Repeat("x", 200)} {
		assert.ErrorIs(t, s.StageBlock(context.Background(), id, upload.BlockID(0), nil), ErrInvalidName, id)
	}
	assert.ErrorIs(t, s.StageBlock(context.Background(), "sess_1", "", nil), ErrInvalidName)
}

type fakeBlockBlob struct {
	mu        sync.Mutex
	staged    map[string][]byte
	committed []string
	opts      *blockblob.CommitBlockListOptions
	size      int64
}

func (f *fakeBlockBlob) StageBlock(_ context.Context, id string, body io.ReadSeekCloser, _ *blockblob.StageBlockOptions) (blockblob.StageBlockResponse, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return blockblob.StageBlockResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.staged == nil {
		f.staged = make(map[string][]byte)
	}
	f.staged[id] = data
	return blockblob.StageBlockResponse{}, nil
}

func (f *fakeBlockBlob) CommitBlockList(_ context.Context, ids []string, opts *blockblob.CommitBlockListOptions) (blockblob.CommitBlockListResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var size int64
	for _, id := range ids {
		data, ok := f.staged[id]
		if !ok {
			return blockblob.CommitBlockListResponse{}, &azcore.ResponseError{ErrorCode: "InvalidBlockList", StatusCode: 400}
		}
		size += int64(len(data))
	}
	f.committed = append([]string(nil), ids...)
	f.opts = opts
	f.size = size
	return blockblob.CommitBlockListResponse{}, nil
}

func (f *fakeBlockBlob) GetProperties(context.Context, *blob.GetPropertiesOptions) (blob.GetPropertiesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	size := f.size
	return blob.GetPropertiesResponse{ContentLength: &size}, nil
}

func (f *fakeBlockBlob) URL() string {
	return "https://acct.blob.core.windows.net/interviews/sessions/sess_1/recording"
}

func newFakeAzure() (*Azure, *fakeBlockBlob, *[]string) {
	fb := &fakeBlockBlob{}
	var names []string
	return &Azure{
		blob: func(name string) blockBlob {
			names = append(names, name)
			return fb
		},
		logger: discard(),
	}, fb, &names
}

func TestAzure_StageAndCommit(t *testing.T) {
	ctx := context.Background()
	a, fb, names := newFakeAzure()

	require.NoError(t, a.StageBlock(ctx, "sess_1", upload.BlockID(0), []byte("abc")))
	require.NoError(t, a.StageBlock(ctx, "sess_1", upload.BlockID(1), []byte("de")))

	rec, err := a.CommitBlocks(ctx, "sess_1", []string{upload.BlockID(0), upload.BlockID(1)}, CommitOptions{
		ContentType: "video/webm",
		Metadata:    map[string]string{"duration": "90"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), rec.Size)
	assert.Equal(t, 2, rec.Blocks)
	assert.Contains(t, rec.URL, "sessions/sess_1/recording")

	assert.Equal(t, []string{upload.BlockID(0), upload.BlockID(1)}, fb.committed)
	require.NotNil(t, fb.opts.HTTPHeaders)
	assert.Equal(t, "video/webm", *fb.opts.HTTPHeaders.BlobContentType)
	assert.Equal(t, "90", *fb.opts.Metadata["duration"])
	for _, n := range *names {
		assert.Equal(t, "sessions/sess_1/recording", n)
	}
}

func TestAzure_InvalidBlockListMapsToUnknownBlock(t *testing.T) {
	a, _, _ := newFakeAzure()
	_, err := a.CommitBlocks(context.Background(), "sess_1", []string{upload.BlockID(9)}, CommitOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownBlock), "err=%v", err)
}
