package sessions

import (
	"context"

	"github.com/goliatone/go-sessions/core"
	"github.com/goliatone/go-sessions/providers/devkit"
	redisstore "github.com/goliatone/go-sessions/store/redis"
	"github.com/redis/go-redis/v9"
)

const (
	StoreBackendMemory = "memory"
	StoreBackendRedis  = "redis"
)

func DevkitProvider(opts ...devkit.ProviderOption) *devkit.Provider {
	return devkit.NewProvider(opts...)
}

func MemorySessionStore() *core.MemorySessionStore {
	return core.NewMemorySessionStore()
}

func RedisSessionStore(client redis.UniversalClient, opts ...redisstore.Option) (*redisstore.SessionStore, error) {
	return redisstore.NewSessionStore(client, opts...)
}

// RegisterBuiltInStoreBackends registers the memory backend and, when client
// is set, the redis backend keyed under cfg.Store.KeyPrefix.
func RegisterBuiltInStoreBackends(hooks *ExtensionHooks, cfg Config, client redis.UniversalClient) error {
	if err := hooks.RegisterStoreBackend(StoreBackend{
		Name: StoreBackendMemory,
		Open: func(context.Context) (core.SessionStore, error) {
			return MemorySessionStore(), nil
		},
	}); err != nil {
		return err
	}
	if client == nil {
		return nil
	}
	prefix := cfg.Store.KeyPrefix
	return hooks.RegisterStoreBackend(StoreBackend{
		Name: StoreBackendRedis,
		Open: func(context.Context) (core.SessionStore, error) {
			return RedisSessionStore(client, redisstore.WithKeyPrefix(prefix))
		},
	})
}
