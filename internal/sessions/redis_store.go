package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "session:"

var errMissingRedisClient = errors.New("redis client is required")

// RedisStore keeps each document as one JSON value under <prefix>session:<id>.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisOption customizes a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces every key the store writes.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// WithTTL expires documents after ttl. Zero keeps them forever.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewRedisStore creates a Redis-backed document store.
func NewRedisStore(client redis.UniversalClient, options ...RedisOption) (*RedisStore, error) {
	if client == nil {
		return nil, errMissingRedisClient
	}
	store := &RedisStore{client: client}
	for _, option := range options {
		option(store)
	}
	return store, nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (Document, error) {
	value, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Document{}, ErrDocumentNotFound
	}
	if err != nil {
		return Document{}, err
	}

	var document Document
	if err := json.Unmarshal(value, &document); err != nil {
		return Document{}, err
	}
	return document, nil
}

func (s *RedisStore) Upsert(ctx context.Context, document Document) error {
	value, err := json.Marshal(document)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(document.SessionID), value, s.ttl).Err()
}

func (s *RedisStore) key(sessionID string) string {
	return s.prefix + sessionKeyPrefix + sessionID
}
