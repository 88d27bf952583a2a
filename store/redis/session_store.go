// Package redisstore persists sessions as JSON documents in Redis, one key per
// application id.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-sessions/core"
	"github.com/redis/go-redis/v9"
)

type Option func(*SessionStore)

// WithKeyPrefix overrides core.DefaultStoreKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *SessionStore) {
		if trimmed := strings.TrimSpace(prefix); trimmed != "" {
			s.keyPrefix = trimmed
		}
	}
}

// WithTTL expires stored sessions after ttl. Zero keeps them until cleared.
func WithTTL(ttl time.Duration) Option {
	return func(s *SessionStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

type SessionStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

type sessionDocument struct {
	WebID    string       `json:"web_id"`
	AppInfo  core.AppInfo `json:"app_info"`
	IssuedAt time.Time    `json:"issued_at"`
}

func NewSessionStore(client redis.UniversalClient, opts ...Option) (*SessionStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redisstore: redis client is required")
	}
	store := &SessionStore{
		client:    client,
		keyPrefix: core.DefaultStoreKeyPrefix,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

func (s *SessionStore) Key(appID string) string {
	return core.SessionStoreKey(s.keyPrefix, appID)
}

func (s *SessionStore) Load(ctx context.Context, appID string) (*core.Session, error) {
	key, err := s.key(appID)
	if err != nil {
		return nil, err
	}
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redisstore: load %s: %w", key, err)
	}
	var doc sessionDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("redisstore: decode %s: %w", key, err)
	}
	return &core.Session{
		WebID:    doc.WebID,
		AppInfo:  doc.AppInfo,
		IssuedAt: doc.IssuedAt.UTC(),
	}, nil
}

func (s *SessionStore) Save(ctx context.Context, appID string, session core.Session) error {
	key, err := s.key(appID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(session.WebID) == "" {
		return fmt.Errorf("redisstore: session web id is required")
	}
	raw, err := json.Marshal(sessionDocument{
		WebID:    strings.TrimSpace(session.WebID),
		AppInfo:  session.AppInfo.Normalize(),
		IssuedAt: session.IssuedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("redisstore: encode session: %w", err)
	}
	if err := s.client.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redisstore: save %s: %w", key, err)
	}
	return nil
}

func (s *SessionStore) Clear(ctx context.Context, appID string) error {
	key, err := s.key(appID)
	if err != nil {
		return err
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redisstore: clear %s: %w", key, err)
	}
	return nil
}

func (s *SessionStore) key(appID string) (string, error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("redisstore: session store is not configured")
	}
	if strings.TrimSpace(appID) == "" {
		return "", fmt.Errorf("redisstore: app id is required")
	}
	return s.Key(appID), nil
}

var _ core.SessionStore = (*SessionStore)(nil)
