// Package blobstore stages recording blocks and commits them into one recording per
// session, following the block blob model: blocks are staged independently by ID and
// become a readable object only when an ordered block list is committed.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrUnknownBlock is returned by CommitBlocks when the list names a block that was
	// never staged.
	ErrUnknownBlock = errors.New("blobstore: block not staged")
	// ErrInvalidName is returned for session or block identifiers that are not safe to
	// use as object names.
	ErrInvalidName = errors.New("blobstore: invalid name")
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// Store is the block storage contract used by the gateway.
type Store interface {
	StageBlock(ctx context.Context, sessionID, blockID string, data []byte) error
	CommitBlocks(ctx context.Context, sessionID string, blockIDs []string, opts CommitOptions) (Recording, error)
}

type CommitOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Recording describes a committed recording object.
type Recording struct {
	Name   string
	URL    string
	Blocks int
	Size   int64
}

// ValidSessionID reports whether id can be used to name a recording.
func ValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}

// RecordingName is the object name of a session's committed recording.
func RecordingName(sessionID string) string {
	return "sessions/" + sessionID + "/recording"
}

func checkNames(sessionID string, blockIDs ...string) error {
	if !ValidSessionID(sessionID) {
		return fmt.Errorf("%w: session id %q", ErrInvalidName, sessionID)
	}
	for _, id := range blockIDs {
		if id == "" || len(id) > 64 {
			return fmt.Errorf("%w: block id %q", ErrInvalidName, id)
		}
	}
	return nil
}
