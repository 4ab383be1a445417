package crypto

import (
	"fmt"

	"github.com/go-jose/go-jose/v4"
)

// Encryptor seals short strings (session ids, serialized sessions, tokens at
// rest) into compact JWE strings.
type Encryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

type jweEncryptor struct {
	key []byte
}

// NewEncryptor returns an Encryptor using direct key agreement and
// AES-256-GCM content encryption. key must be exactly 32 bytes.
func NewEncryptor(key []byte) (Encryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes (got %d)", len(key))
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &jweEncryptor{key: k}, nil
}

func (e *jweEncryptor) Encrypt(plaintext string) (string, error) {
	enc, err := jose.NewEncrypter(
		jose.A256GCM,
		jose.Recipient{Algorithm: jose.DIRECT, Key: e.key},
		nil,
	)
	if err != nil {
		return "", fmt.Errorf("creating encrypter: %w", err)
	}
	obj, err := enc.Encrypt([]byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("encrypting: %w", err)
	}
	return obj.CompactSerialize()
}

func (e *jweEncryptor) Decrypt(ciphertext string) (string, error) {
	obj, err := jose.ParseEncrypted(ciphertext,
		[]jose.KeyAlgorithm{jose.DIRECT},
		[]jose.ContentEncryption{jose.A256GCM},
	)
	if err != nil {
		return "", fmt.Errorf("parsing JWE: %w", err)
	}
	plaintext, err := obj.Decrypt(e.key)
	if err != nil {
		return "", fmt.Errorf("decrypting: %w", err)
	}
	return string(plaintext), nil
}
