package sqlstore

import (
	"context"
	"fmt"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-sessions/core"
)

// CachedSessionStore is a read-through cache in front of another session
// store. Misses are cached too, so a logged-out app does not hit the base
// store on every reconciliation.
type CachedSessionStore struct {
	base      core.SessionStore
	cache     repositorycache.CacheService
	keyPrefix string
}

type cachedSession struct {
	Present bool
	Session core.Session
}

func NewCachedSessionStore(
	base core.SessionStore,
	cacheService repositorycache.CacheService,
	keyPrefix string,
) (*CachedSessionStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base session store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: session cache service is required")
	}
	keyPrefix = strings.TrimSpace(keyPrefix)
	if keyPrefix == "" {
		keyPrefix = core.DefaultStoreKeyPrefix
	}
	return &CachedSessionStore{base: base, cache: cacheService, keyPrefix: keyPrefix}, nil
}

// SessionCacheKey returns the cache key for appID:
// <prefix>::<app_id> with the app id URL-path escaped.
func (s *CachedSessionStore) SessionCacheKey(appID string) string {
	return core.SessionStoreKey(s.keyPrefix, appID)
}

func (s *CachedSessionStore) Load(ctx context.Context, appID string) (*core.Session, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return nil, fmt.Errorf("sqlstore: cached session store is not configured")
	}
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return nil, fmt.Errorf("sqlstore: app id is required")
	}

	entry, err := repositorycache.GetOrFetch(ctx, s.cache, s.SessionCacheKey(appID), func(ctx context.Context) (cachedSession, error) {
		loaded, fetchErr := s.base.Load(ctx, appID)
		if fetchErr != nil {
			return cachedSession{}, fetchErr
		}
		if loaded == nil {
			return cachedSession{}, nil
		}
		return cachedSession{Present: true, Session: *loaded}, nil
	})
	if err != nil {
		return nil, err
	}
	if !entry.Present {
		return nil, nil
	}
	session := entry.Session
	return &session, nil
}

func (s *CachedSessionStore) Save(ctx context.Context, appID string, session core.Session) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached session store is not configured")
	}
	if err := s.base.Save(ctx, appID, session); err != nil {
		return err
	}
	return s.invalidate(ctx, appID)
}

func (s *CachedSessionStore) Clear(ctx context.Context, appID string) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached session store is not configured")
	}
	if err := s.base.Clear(ctx, appID); err != nil {
		return err
	}
	return s.invalidate(ctx, appID)
}

func (s *CachedSessionStore) invalidate(ctx context.Context, appID string) error {
	return s.cache.Delete(ctx, s.SessionCacheKey(appID))
}
