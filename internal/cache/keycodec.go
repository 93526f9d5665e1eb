package cache

import (
	"crypto/sha256"
	"encoding/hex"
)

// EncodeKey maps an arbitrary cache key to a fixed-length, filesystem-safe
// identifier. Hashing before touching the filesystem guarantees uniform
// filenames and neutralizes path-traversal input such as "../../etc/passwd".
func EncodeKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
