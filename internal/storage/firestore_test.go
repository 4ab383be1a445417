package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dgellow/bff-front/internal/crypto"
)

func TestFirestoreStorageConfig(t *testing.T) {
	enc := testEncryptor(t)

	tests := []struct {
		name       string
		project    string
		collection string
		encryptor  crypto.Encryptor
		wantErr    string
	}{
		{"missing project", "", "bff_sessions", enc, "projectID is required"},
		{"missing collection", "test-project", "", enc, "collection is required"},
		{"nil encryptor", "test-project", "bff_sessions", nil, "encryptor is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFirestoreStorage(context.Background(), tt.project, "(default)", tt.collection, tt.encryptor)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
