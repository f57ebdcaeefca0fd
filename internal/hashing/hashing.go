// Package hashing computes fast, non-cryptographic content digests of
// test files, used purely as a change-detection signal.
//
// Hashes are computed over raw bytes with no line-ending
// normalization, so the same file checked out with different line
// endings hashes differently across platforms.
package hashing

import (
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// File returns the xxhash64 digest of the file at path.
func File(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	d := xxhash.New()
	if _, err := io.Copy(d, f); err != nil {
		return 0, fmt.Errorf("hash %s: %w", path, err)
	}
	return d.Sum64(), nil
}

// Format renders a digest the way the store persists it.
func Format(sum uint64) string {
	return fmt.Sprintf("%016x", sum)
}
