package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	rdb "github.com/redis/go-redis/v9"

	"github.com/dgellow/bff-front/internal/crypto"
	"github.com/dgellow/bff-front/internal/log"
	"github.com/dgellow/bff-front/internal/session"
)

var _ Storage = (*RedisStorage)(nil)

// RedisOptions configures RedisStorage
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStorage shares sessions between BFF replicas. Values are JWE-sealed
// JSON; Redis key expiry enforces session lifetime.
type RedisStorage struct {
	client    *rdb.Client
	encryptor crypto.Encryptor
	prefix    string
	now       func() time.Time
}

// NewRedisStorage connects to Redis and verifies the connection
func NewRedisStorage(ctx context.Context, opts RedisOptions, encryptor crypto.Encryptor) (*RedisStorage, error) {
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	if opts.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "bff:"
	}

	client := rdb.NewClient(&rdb.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}

	log.LogInfoWithFields("storage", "Connected to redis", map[string]any{
		"addr":   opts.Addr,
		"db":     opts.DB,
		"prefix": prefix,
	})

	return &RedisStorage{
		client:    client,
		encryptor: encryptor,
		prefix:    prefix,
		now:       time.Now,
	}, nil
}

func (s *RedisStorage) sessionKey(id string) string {
	return s.prefix + "session:" + id
}

func (s *RedisStorage) tokenKey(principal string) string {
	return s.prefix + "token:" + principal
}

func (s *RedisStorage) sessionTTL(sess *session.Session) time.Duration {
	if sess.ExpiresAt.IsZero() {
		return 0
	}
	if d := sess.ExpiresAt.Sub(s.now()); d > 0 {
		return d
	}
	return time.Millisecond
}

// CreateSession stores sess until its expiry
func (s *RedisStorage) CreateSession(ctx context.Context, sess *session.Session) error {
	if err := validateSession(sess); err != nil {
		return err
	}
	sealed, err := sealJSON(s.encryptor, sess)
	if err != nil {
		return fmt.Errorf("sealing session: %w", err)
	}
	if err := s.client.Set(ctx, s.sessionKey(sess.ID), sealed, s.sessionTTL(sess)).Err(); err != nil {
		return fmt.Errorf("failed to store session in redis: %w", err)
	}
	return nil
}

// GetSession loads and decrypts a session
func (s *RedisStorage) GetSession(ctx context.Context, id string) (*session.Session, error) {
	sealed, err := s.client.Get(ctx, s.sessionKey(id)).Result()
	if errors.Is(err, rdb.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session from redis: %w", err)
	}

	var sess session.Session
	if err := openJSON(s.encryptor, sealed, &sess); err != nil {
		return nil, fmt.Errorf("opening session: %w", err)
	}
	if sess.Expired(s.now()) {
		return nil, ErrSessionNotFound
	}
	return &sess, nil
}

// UpdateSession overwrites an existing session. XX makes this a no-op for
// sessions that expired or were deleted meanwhile.
func (s *RedisStorage) UpdateSession(ctx context.Context, sess *session.Session) error {
	if err := validateSession(sess); err != nil {
		return err
	}
	sealed, err := sealJSON(s.encryptor, sess)
	if err != nil {
		return fmt.Errorf("sealing session: %w", err)
	}
	ok, err := s.client.SetXX(ctx, s.sessionKey(sess.ID), sealed, s.sessionTTL(sess)).Result()
	if err != nil {
		return fmt.Errorf("failed to update session in redis: %w", err)
	}
	if !ok {
		return ErrSessionNotFound
	}
	return nil
}

// DeleteSession removes a session
func (s *RedisStorage) DeleteSession(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session from redis: %w", err)
	}
	return nil
}

// GetDelegatedToken loads principal's cached token
func (s *RedisStorage) GetDelegatedToken(ctx context.Context, principal string) (*DelegatedToken, error) {
	sealed, err := s.client.Get(ctx, s.tokenKey(principal)).Result()
	if errors.Is(err, rdb.Nil) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token from redis: %w", err)
	}

	var tok DelegatedToken
	if err := openJSON(s.encryptor, sealed, &tok); err != nil {
		return nil, fmt.Errorf("opening token: %w", err)
	}
	return &tok, nil
}

// SetDelegatedToken caches token for principal
func (s *RedisStorage) SetDelegatedToken(ctx context.Context, principal string, token *DelegatedToken) error {
	tok := *token
	if tok.UpdatedAt.IsZero() {
		tok.UpdatedAt = s.now()
	}
	sealed, err := sealJSON(s.encryptor, &tok)
	if err != nil {
		return fmt.Errorf("sealing token: %w", err)
	}
	if err := s.client.Set(ctx, s.tokenKey(principal), sealed, DefaultTokenTTL).Err(); err != nil {
		return fmt.Errorf("failed to store token in redis: %w", err)
	}
	return nil
}

// DeleteDelegatedToken forgets principal's token
func (s *RedisStorage) DeleteDelegatedToken(ctx context.Context, principal string) error {
	if err := s.client.Del(ctx, s.tokenKey(principal)).Err(); err != nil {
		return fmt.Errorf("failed to delete token from redis: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
