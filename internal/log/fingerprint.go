package log

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint returns a short, stable digest of a secret value so that
// continuation tokens and similar credentials can be correlated across log
// lines without ever being written out.
func Fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])[:12]
}
