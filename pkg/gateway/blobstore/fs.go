package blobstore

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// FS keeps blocks and committed recordings on the local filesystem. It serves local
// runs and tests.
type FS struct {
	root   string
	logger *slog.Logger
}

func NewFS(root string, logger *slog.Logger) (*FS, error) {
	if root == "" {
		return nil, errors.New("blobstore: root directory is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FS{root: abs, logger: logger}, nil
}

func (s *FS) blockPath(sessionID, blockID string) string {
	// Block IDs are base64 and may contain '/', so they are hex encoded on disk.
	return filepath.Join(s.root, "sessions", sessionID, "blocks", hex.EncodeToString([]byte(blockID)))
}

func (s *FS) recordingPath(sessionID string) string {
	return filepath.Join(s.root, filepath.FromSlash(RecordingName(sessionID)))
}

// StageBlock writes the block atomically. Staging the same ID again replaces it.
func (s *FS) StageBlock(ctx context.Context, sessionID, blockID string, data []byte) error {
	if err := checkNames(sessionID, blockID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	path := s.blockPath(sessionID, blockID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("stage block: %w", err)
	}
	if err := writeAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	}); err != nil {
		return fmt.Errorf("stage block: %w", err)
	}
	return nil
}

// CommitBlocks concatenates the staged blocks in list order into the session's
// recording. Committing the same list again yields the same recording.
func (s *FS) CommitBlocks(ctx context.Context, sessionID string, blockIDs []string, opts CommitOptions) (Recording, error) {
	if err := checkNames(sessionID, blockIDs...); err != nil {
		return Recording{}, err
	}
	for _, id := range blockIDs {
		if _, err := os.Stat(s.blockPath(sessionID, id)); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return Recording{}, fmt.Errorf("%w: %s", ErrUnknownBlock, id)
			}
			return Recording{}, fmt.Errorf("commit blocks: %w", err)
		}
	}

	path := s.recordingPath(sessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Recording{}, fmt.Errorf("commit blocks: %w", err)
	}
	var size int64
	err := writeAtomic(path, func(w io.Writer) error {
		size = 0
		for _, id := range blockIDs {
			if err := ctx.Err(); err != nil {
				return err
			}
			n, err := copyFile(w, s.blockPath(sessionID, id))
			if err != nil {
				return err
			}
			size += n
		}
		return nil
	})
	if err != nil {
		return Recording{}, fmt.Errorf("commit blocks: %w", err)
	}

	s.logger.Debug("recording committed", "session_id", sessionID, "blocks", len(blockIDs), "size", size, "content_type", opts.ContentType)
	return Recording{
		Name:   RecordingName(sessionID),
		URL:    "file://" + filepath.ToSlash(path),
		Blocks: len(blockIDs),
		Size:   size,
	}, nil
}

func copyFile(w io.Writer, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(w, f)
}

func writeAtomic(path string, fill func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := fill(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
