package storage

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dgellow/bff-front/internal/crypto"
	"github.com/dgellow/bff-front/internal/log"
	"github.com/dgellow/bff-front/internal/session"
)

// FirestoreStorage keeps sessions and delegated tokens in Google Cloud
// Firestore. Documents hold an encrypted blob plus the plaintext fields
// needed for queries.
//
// Firestore has no TTL-on-read, so expiry is checked on every read and
// expired documents are removed by CleanupExpiredSessions.
type FirestoreStorage struct {
	client            *firestore.Client
	projectID         string
	sessionCollection string
	tokenCollection   string
	encryptor         crypto.Encryptor
	now               func() time.Time
}

var (
	_ Storage = (*FirestoreStorage)(nil)
	_ Cleaner = (*FirestoreStorage)(nil)
)

// SessionDoc is a session document. Data is the JWE-sealed session JSON.
type SessionDoc struct {
	Data      string    `firestore:"data"`
	Subject   string    `firestore:"subject"`
	Origin    string    `firestore:"origin"`
	ExpiresAt int64     `firestore:"expires_at"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// TokenDoc is a delegated token document. Data is the JWE-sealed token JSON.
type TokenDoc struct {
	Data      string    `firestore:"data"`
	ExpiresAt int64     `firestore:"expires_at"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// NewFirestoreStorage creates a new Firestore storage instance
func NewFirestoreStorage(ctx context.Context, projectID, database, collection string, encryptor crypto.Encryptor) (*FirestoreStorage, error) {
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}

	// Validate required parameters
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	var client *firestore.Client
	var err error

	// Firestore client with custom database
	if database != "" && database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	log.LogInfoWithFields("storage", "Using Firestore storage", map[string]any{
		"project":    projectID,
		"database":   database,
		"collection": collection,
	})

	return &FirestoreStorage{
		client:            client,
		projectID:         projectID,
		sessionCollection: collection,
		tokenCollection:   collection + "_tokens",
		encryptor:         encryptor,
		now:               time.Now,
	}, nil
}

// Close closes the Firestore client
func (s *FirestoreStorage) Close() error {
	return s.client.Close()
}

func (s *FirestoreStorage) sessionDoc(sess *session.Session) (*SessionDoc, error) {
	sealed, err := sealJSON(s.encryptor, sess)
	if err != nil {
		return nil, fmt.Errorf("sealing session: %w", err)
	}
	return &SessionDoc{
		Data:      sealed,
		Subject:   sess.Subject,
		Origin:    string(sess.Origin),
		ExpiresAt: sess.ExpiresAt.Unix(),
		UpdatedAt: s.now(),
	}, nil
}

// CreateSession stores a new session document
func (s *FirestoreStorage) CreateSession(ctx context.Context, sess *session.Session) error {
	if err := validateSession(sess); err != nil {
		return err
	}
	doc, err := s.sessionDoc(sess)
	if err != nil {
		return err
	}
	if _, err := s.client.Collection(s.sessionCollection).Doc(sess.ID).Set(ctx, doc); err != nil {
		return fmt.Errorf("failed to store session in Firestore: %w", err)
	}
	return nil
}

// GetSession loads and decrypts a session document
func (s *FirestoreStorage) GetSession(ctx context.Context, id string) (*session.Session, error) {
	snap, err := s.client.Collection(s.sessionCollection).Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get session from Firestore: %w", err)
	}

	var doc SessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	if doc.ExpiresAt != 0 && s.now().Unix() >= doc.ExpiresAt {
		return nil, ErrSessionNotFound
	}

	var sess session.Session
	if err := openJSON(s.encryptor, doc.Data, &sess); err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}
	return &sess, nil
}

// UpdateSession overwrites an existing session document
func (s *FirestoreStorage) UpdateSession(ctx context.Context, sess *session.Session) error {
	if err := validateSession(sess); err != nil {
		return err
	}
	doc, err := s.sessionDoc(sess)
	if err != nil {
		return err
	}
	_, err = s.client.Collection(s.sessionCollection).Doc(sess.ID).Update(ctx, []firestore.Update{
		{Path: "data", Value: doc.Data},
		{Path: "expires_at", Value: doc.ExpiresAt},
		{Path: "updated_at", Value: doc.UpdatedAt},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return ErrSessionNotFound
		}
		return fmt.Errorf("failed to update session in Firestore: %w", err)
	}
	return nil
}

// DeleteSession removes a session document
func (s *FirestoreStorage) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.client.Collection(s.sessionCollection).Doc(id).Delete(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return fmt.Errorf("failed to delete session from Firestore: %w", err)
	}
	return nil
}

// GetDelegatedToken loads principal's cached token
func (s *FirestoreStorage) GetDelegatedToken(ctx context.Context, principal string) (*DelegatedToken, error) {
	snap, err := s.client.Collection(s.tokenCollection).Doc(principal).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to get token from Firestore: %w", err)
	}

	var doc TokenDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	if doc.ExpiresAt != 0 && s.now().Unix() >= doc.ExpiresAt {
		return nil, ErrTokenNotFound
	}

	var tok DelegatedToken
	if err := openJSON(s.encryptor, doc.Data, &tok); err != nil {
		return nil, fmt.Errorf("opening token: %w", err)
	}
	return &tok, nil
}

// SetDelegatedToken caches token for principal
func (s *FirestoreStorage) SetDelegatedToken(ctx context.Context, principal string, token *DelegatedToken) error {
	now := s.now()
	tok := *token
	if tok.UpdatedAt.IsZero() {
		tok.UpdatedAt = now
	}
	sealed, err := sealJSON(s.encryptor, &tok)
	if err != nil {
		return fmt.Errorf("sealing token: %w", err)
	}
	doc := &TokenDoc{
		Data:      sealed,
		ExpiresAt: now.Add(DefaultTokenTTL).Unix(),
		UpdatedAt: now,
	}
	if _, err := s.client.Collection(s.tokenCollection).Doc(principal).Set(ctx, doc); err != nil {
		return fmt.Errorf("failed to store token in Firestore: %w", err)
	}
	return nil
}

// DeleteDelegatedToken forgets principal's token
func (s *FirestoreStorage) DeleteDelegatedToken(ctx context.Context, principal string) error {
	if _, err := s.client.Collection(s.tokenCollection).Doc(principal).Delete(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return fmt.Errorf("failed to delete token from Firestore: %w", err)
	}
	return nil
}

// CleanupExpiredSessions removes expired session and token documents
func (s *FirestoreStorage) CleanupExpiredSessions(ctx context.Context) (int, error) {
	total := 0
	for _, collection := range []string{s.sessionCollection, s.tokenCollection} {
		n, err := s.deleteExpired(ctx, collection)
		total += n
		if err != nil {
			return total, err
		}
	}

	if total > 0 {
		log.LogInfoWithFields("firestore", "Cleaned up expired documents", map[string]any{
			"count": total,
		})
	}
	return total, nil
}

func (s *FirestoreStorage) deleteExpired(ctx context.Context, collection string) (int, error) {
	now := s.now().Unix()
	iter := s.client.Collection(collection).
		Where("expires_at", "<=", now).
		Documents(ctx)
	defer iter.Stop()

	count := 0
	batch := s.client.Batch()
	batchSize := 0
	const maxBatchSize = 500 // Firestore batch write limit

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return count, fmt.Errorf("failed to iterate expired documents in %s: %w", collection, err)
		}

		batch.Delete(doc.Ref)
		batchSize++
		count++

		if batchSize >= maxBatchSize {
			if _, err := batch.Commit(ctx); err != nil {
				return count, fmt.Errorf("failed to commit batch: %w", err)
			}
			batch = s.client.Batch()
			batchSize = 0
		}
	}

	if batchSize > 0 {
		if _, err := batch.Commit(ctx); err != nil {
			return count, fmt.Errorf("failed to commit final batch: %w", err)
		}
	}
	return count, nil
}
