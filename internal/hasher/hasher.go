// Package hasher computes 64-bit non-cryptographic content digests for a
// file or its prefix.
//
// This is a duplicate *finder*, not a security boundary: xxhash's
// collision resistance is adequate for human-scale corpora. Callers that
// need byte-for-byte certainty should add an optional memcmp pass on top
// (see DESIGN.md OQ-5).
package hasher

import (
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/fileforge/dupedog/internal/types"
)

// blockSize is the read buffer size used while streaming FullHash.
const blockSize = 64 * 1024

// DefaultPrefixSize is the number of leading bytes PrefixHash reads when
// callers don't override it (P=4096, per spec §4.1/§4.4).
const DefaultPrefixSize = 4096

// PrefixHash hashes the first n bytes of path (or the whole file if it is
// shorter than n). Used by the PrefixFilter to cheaply reject same-size
// non-duplicates before paying for a full read.
func PrefixHash(path string, n int64) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %v", path, types.ErrIO, err)
	}
	defer func() { _ = f.Close() }()

	h := xxhash.New()
	if _, err := io.CopyN(h, f, n); err != nil && err != io.EOF {
		return 0, fmt.Errorf("%s: %w: %v", path, types.ErrIO, err)
	}
	return h.Sum64(), nil
}

// FullHash streams the entire file through xxhash in fixed chunks so peak
// memory per worker is O(blockSize), regardless of file size.
func FullHash(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %v", path, types.ErrIO, err)
	}
	defer func() { _ = f.Close() }()

	h := xxhash.New()
	buf := make([]byte, blockSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return 0, fmt.Errorf("%s: %w: %v", path, types.ErrIO, err)
	}
	return h.Sum64(), nil
}

// HashRange hashes a specific byte range of a file, used by the cache
// layer to key and verify partial reads independent of PrefixHash's fixed
// offset-0 convention.
func HashRange(path string, start, size int64) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %v", path, types.ErrIO, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return 0, fmt.Errorf("%s: %w: %v", path, types.ErrIO, err)
	}

	h := xxhash.New()
	buf := make([]byte, blockSize)
	if _, err := io.CopyBuffer(h, io.LimitReader(f, size), buf); err != nil {
		return 0, fmt.Errorf("%s: %w: %v", path, types.ErrIO, err)
	}
	return h.Sum64(), nil
}
