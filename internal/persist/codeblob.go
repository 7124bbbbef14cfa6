package persist

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashSource computes the hex SHA-256 digest of a script source, the
// content address used by the code_store table (write-once, deduplicated).
func HashSource(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}
