package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-sessions/core"
	"github.com/uptrace/bun"
)

type RepositoryFactory struct {
	db *bun.DB

	sessionStore *SessionStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

// BuildStores accepts a *bun.DB or anything exposing DB() *bun.DB, such as a
// go-persistence-bun client.
func (f *RepositoryFactory) BuildStores(persistenceClient any) (*RepositoryFactory, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.sessionStore != nil {
		return f, nil
	}
	store, err := NewSessionStore(f.db)
	if err != nil {
		return nil, err
	}
	f.sessionStore = store
	return f, nil
}

func (f *RepositoryFactory) SessionStore() core.SessionStore {
	if f == nil || f.sessionStore == nil {
		return nil
	}
	return f.sessionStore
}

// CachedSessionStore wraps the SQL session store with a read-through cache.
func (f *RepositoryFactory) CachedSessionStore(cacheService repositorycache.CacheService, keyPrefix string) (*CachedSessionStore, error) {
	if f == nil || f.sessionStore == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is not built")
	}
	return NewCachedSessionStore(f.sessionStore, cacheService, keyPrefix)
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
