package policy

import (
	"crypto/sha256"
	"encoding/hex"
)

// CanonicalHash returns a stable hex-encoded hash of c, used as the
// compiled-fragment cache key (§4.2 determinism, §4.7 "fragment hash is
// recorded"). Two structurally equal trees hash identically: Condition's
// JSON field order is fixed by its struct tags, and jsoniter (like
// encoding/json) sorts map keys when marshaling, so Val values that happen
// to be JSON objects still canonicalize.
func CanonicalHash(c Condition) (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
