// SPDX-FileCopyrightText: Copyright 2025 Relaygate Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default timeouts for Redis operations.
const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultReadTimeout  = 3 * time.Second
	DefaultWriteTimeout = 3 * time.Second
)

// DefaultKeyPrefix namespaces all gateway keys in a shared Redis.
const DefaultKeyPrefix = "relaygate:"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string

	// Username and Password authenticate against a Redis ACL user.
	Username string
	Password string

	// DB is the logical database number.
	DB int

	// KeyPrefix namespaces keys; defaults to DefaultKeyPrefix.
	KeyPrefix string

	// Timeouts (defaults: Dial=5s, Read=3s, Write=3s).
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Compile-time interface compliance check.
var _ Storage = (*RedisStorage)(nil)

// RedisStorage implements the Storage interface against Redis, enabling
// horizontal scaling: every replica sees the same registrations, pending
// codes, and consent decisions. Expiry is delegated to Redis TTLs and
// single-use consumption relies on GETDEL being atomic.
type RedisStorage struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStorage connects to Redis and returns a storage backed by it.
func NewRedisStorage(cfg *RedisConfig) (*RedisStorage, error) {
	if cfg == nil || cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = DefaultDialTimeout
	}
	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = DefaultReadTimeout
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = DefaultWriteTimeout
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	return &RedisStorage{client: client, keyPrefix: prefix}, nil
}

// NewRedisStorageWithClient wraps an existing Redis client. Intended for tests.
func NewRedisStorageWithClient(client redis.UniversalClient, keyPrefix string) *RedisStorage {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	return &RedisStorage{client: client, keyPrefix: keyPrefix}
}

// Close releases the underlying connection pool.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

func (s *RedisStorage) clientKey(clientID string) string {
	return s.keyPrefix + "client:" + clientID
}

func (s *RedisStorage) codeKey(code string) string {
	return s.keyPrefix + "code:" + code
}

func (s *RedisStorage) consentKey(principal, clientID string) string {
	return s.keyPrefix + "consent:" + principal + ":" + clientID
}

// CreateClient persists a new client registration. Registrations have no TTL.
func (s *RedisStorage) CreateClient(ctx context.Context, client *ClientRegistration) error {
	data, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	// SetNX keeps the create atomic against a duplicate id.
	created, err := s.client.SetNX(ctx, s.clientKey(client.ClientID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store client: %w", err)
	}
	if !created {
		return fmt.Errorf("client %s: %w", client.ClientID, ErrAlreadyExists)
	}
	return nil
}

// GetClient looks up a client registration by id.
func (s *RedisStorage) GetClient(ctx context.Context, clientID string) (*ClientRegistration, error) {
	data, err := s.client.Get(ctx, s.clientKey(clientID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("client %s: %w", clientID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load client: %w", err)
	}

	var client ClientRegistration
	if err := json.Unmarshal(data, &client); err != nil {
		return nil, fmt.Errorf("failed to unmarshal client: %w", err)
	}
	return &client, nil
}

// PutPendingCode stores a pending code with its remaining lifetime as TTL.
func (s *RedisStorage) PutPendingCode(ctx context.Context, pending *PendingCode) error {
	data, err := json.Marshal(pending)
	if err != nil {
		return fmt.Errorf("failed to marshal pending code: %w", err)
	}

	ttl := time.Until(pending.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	if err := s.client.Set(ctx, s.codeKey(pending.Code), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store pending code: %w", err)
	}
	return nil
}

// ConsumePendingCode atomically retrieves and invalidates a pending code.
// GETDEL guarantees that of any number of racing consumers exactly one
// receives the value.
func (s *RedisStorage) ConsumePendingCode(ctx context.Context, code string, now time.Time) (*PendingCode, error) {
	data, err := s.client.GetDel(ctx, s.codeKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("authorization code: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume pending code: %w", err)
	}

	var pending PendingCode
	if err := json.Unmarshal(data, &pending); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pending code: %w", err)
	}

	// The Redis TTL already bounds the lifetime; this re-check guards
	// against clock drift between writer and reader.
	if now.After(pending.ExpiresAt) {
		return nil, fmt.Errorf("authorization code: %w", ErrNotFound)
	}
	return &pending, nil
}

// PutConsent records a consent decision with its remaining lifetime as TTL.
func (s *RedisStorage) PutConsent(ctx context.Context, decision *ConsentDecision) error {
	data, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("failed to marshal consent decision: %w", err)
	}

	ttl := time.Until(decision.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	key := s.consentKey(decision.Principal, decision.ClientID)
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store consent decision: %w", err)
	}
	return nil
}

// GetConsent retrieves the consent decision for a (principal, client) pair.
func (s *RedisStorage) GetConsent(ctx context.Context, principal, clientID string) (*ConsentDecision, error) {
	data, err := s.client.Get(ctx, s.consentKey(principal, clientID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("consent decision: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load consent decision: %w", err)
	}

	var decision ConsentDecision
	if err := json.Unmarshal(data, &decision); err != nil {
		return nil, fmt.Errorf("failed to unmarshal consent decision: %w", err)
	}
	return &decision, nil
}

// Cleanup is a no-op: Redis expires keys natively.
func (*RedisStorage) Cleanup(context.Context, time.Time) (int, error) {
	return 0, nil
}
