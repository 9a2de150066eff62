// Package sha256 derives content-addressed artifact paths.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"strings"
)

// Hasher implements jobs.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ContentPath shards a digest under dir as dir/ab/abcdef....ext.
func ContentPath(dir, digest, ext string) string {
	shard := digest
	if len(shard) > 2 {
		shard = shard[:2]
	}
	name := digest
	if ext = strings.TrimPrefix(ext, "."); ext != "" {
		name += "." + ext
	}
	return path.Join(dir, shard, name)
}
