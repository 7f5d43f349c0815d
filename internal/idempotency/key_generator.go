package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// GenerateKey builds a deterministic key using all provided parts.
func GenerateKey(parts ...interface{}) string {
	h := sha256.New()
	for _, part := range parts {
		fmt.Fprintf(h, "%v:", part)
	}

	return hex.EncodeToString(h.Sum(nil))
}

// DeriveKey namespaces a sub-operation under a parent workflow key, so each
// side effect of one workflow carries its own stable idempotency key.
func DeriveKey(parent string, parts ...interface{}) string {
	all := make([]interface{}, 0, len(parts)+1)
	all = append(all, parent)
	all = append(all, parts...)

	return GenerateKey(all...)
}
