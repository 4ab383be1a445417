package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MinMasterKeyLength is the shortest accepted session.encryptionKey
const MinMasterKeyLength = 32

// Keys are derived from the configured master key, one per purpose
type Keys struct {
	Cookie  []byte
	Storage []byte
	State   []byte
	CSRF    []byte
}

// DeriveKey expands master into a 32-byte key bound to purpose
func DeriveKey(master []byte, purpose string) ([]byte, error) {
	if len(master) < MinMasterKeyLength {
		return nil, fmt.Errorf("master key must be at least %d bytes (got %d)", MinMasterKeyLength, len(master))
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(purpose)), key); err != nil {
		return nil, fmt.Errorf("deriving %s key: %w", purpose, err)
	}
	return key, nil
}

// DeriveKeys derives every sub-key the BFF needs from one master secret
func DeriveKeys(master []byte) (Keys, error) {
	var keys Keys
	for _, k := range []struct {
		purpose string
		dst     *[]byte
	}{
		{"bff-front/cookie/v1", &keys.Cookie},
		{"bff-front/storage/v1", &keys.Storage},
		{"bff-front/state/v1", &keys.State},
		{"bff-front/csrf/v1", &keys.CSRF},
	} {
		key, err := DeriveKey(master, k.purpose)
		if err != nil {
			return Keys{}, err
		}
		*k.dst = key
	}
	return keys, nil
}
