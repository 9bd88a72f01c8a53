package upload

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"lukechampine.com/blake3"
)

// DefaultBlockSize is the maximum size of one uploaded block.
const DefaultBlockSize = 2 * 1024 * 1024

// Block is one fixed-size slice of the recording, ready to be staged server-side.
type Block struct {
	Index    int
	ID       string
	Data     []byte
	IsFirst  bool
	Checksum string
}

// BlockID derives the identifier for the block at index.
//
// Identifiers are base64 and of equal length for every index so they are valid
// Azure block IDs without further encoding.
func BlockID(index int) string {
	return base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("block-%06d", index)))
}

// ParseBlockID returns the index encoded in id.
func ParseBlockID(id string) (int, error) {
	raw, err := base64.StdEncoding.DecodeString(id)
	if err != nil {
		return 0, fmt.Errorf("decode block id: %w", err)
	}
	var index int
	if _, err := fmt.Sscanf(string(raw), "block-%06d", &index); err != nil {
		return 0, fmt.Errorf("parse block id %q: %w", raw, err)
	}
	if BlockID(index) != id {
		return 0, fmt.Errorf("non-canonical block id %q", id)
	}
	return index, nil
}

// Checksum returns the hex BLAKE3-256 digest of data.
func Checksum(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// split cuts chunk into blocks of at most size bytes. The returned slices are copies.
func split(chunk []byte, size int) [][]byte {
	if len(chunk) == 0 {
		return nil
	}
	out := make([][]byte, 0, (len(chunk)+size-1)/size)
	for start := 0; start < len(chunk); start += size {
		end := start + size
		if end > len(chunk) {
			end = len(chunk)
		}
		buf := make([]byte, end-start)
		copy(buf, chunk[start:end])
		out = append(out, buf)
	}
	return out
}
