package sessions

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-sessions/core"
)

// StoreBackendFactory opens a session store for a named backend.
type StoreBackendFactory func(ctx context.Context) (core.SessionStore, error)

type StoreBackend struct {
	Name string
	Open StoreBackendFactory
}

type CommandQueryBundleFactory func(service CommandQueryService) (any, error)

// ExtensionHooks lets host applications register session store backends and
// extra command/query bundles before the engine is built.
type ExtensionHooks struct {
	mu sync.RWMutex

	backends map[string]StoreBackend
	bundles  map[string]CommandQueryBundleFactory
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		backends: map[string]StoreBackend{},
		bundles:  map[string]CommandQueryBundleFactory{},
	}
}

func (h *ExtensionHooks) RegisterStoreBackend(backend StoreBackend) error {
	if h == nil {
		return fmt.Errorf("sessions: extension hooks are nil")
	}
	name := strings.TrimSpace(strings.ToLower(backend.Name))
	if name == "" {
		return fmt.Errorf("sessions: store backend name is required")
	}
	if backend.Open == nil {
		return fmt.Errorf("sessions: store backend %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.backends[name]; exists {
		return fmt.Errorf("sessions: store backend %q already registered", name)
	}
	h.backends[name] = StoreBackend{Name: name, Open: backend.Open}
	return nil
}

// OpenStore opens the named backend.
func (h *ExtensionHooks) OpenStore(ctx context.Context, name string) (core.SessionStore, error) {
	if h == nil {
		return nil, fmt.Errorf("sessions: extension hooks are nil")
	}
	name = strings.TrimSpace(strings.ToLower(name))
	h.mu.RLock()
	backend, ok := h.backends[name]
	h.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("sessions: store backend %q is not registered", name)
	}
	store, err := backend.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("sessions: open store backend %q: %w", name, err)
	}
	if store == nil {
		return nil, fmt.Errorf("sessions: store backend %q returned nil store", name)
	}
	return store, nil
}

// StoreOption opens the named backend and returns it as an engine option.
func (h *ExtensionHooks) StoreOption(ctx context.Context, name string) (Option, error) {
	store, err := h.OpenStore(ctx, name)
	if err != nil {
		return nil, err
	}
	return WithSessionStore(store), nil
}

func (h *ExtensionHooks) StoreBackendNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return sortedKeys(h.backends)
}

func (h *ExtensionHooks) RegisterCommandQueryBundle(
	name string,
	factory CommandQueryBundleFactory,
) error {
	if h == nil {
		return fmt.Errorf("sessions: extension hooks are nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("sessions: command/query bundle name is required")
	}
	if factory == nil {
		return fmt.Errorf("sessions: command/query bundle %q factory is required", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.bundles[name]; exists {
		return fmt.Errorf("sessions: command/query bundle %q already registered", name)
	}
	h.bundles[name] = factory
	return nil
}

func (h *ExtensionHooks) BuildCommandQueryBundles(
	service CommandQueryService,
) (map[string]any, error) {
	if h == nil {
		return map[string]any{}, nil
	}
	if service == nil {
		return nil, fmt.Errorf("sessions: command/query service is required")
	}

	h.mu.RLock()
	names := sortedKeys(h.bundles)
	factories := make(map[string]CommandQueryBundleFactory, len(h.bundles))
	for name, factory := range h.bundles {
		factories[name] = factory
	}
	h.mu.RUnlock()

	result := make(map[string]any, len(names))
	for _, name := range names {
		bundle, err := factories[name](service)
		if err != nil {
			return nil, fmt.Errorf("sessions: build bundle %q: %w", name, err)
		}
		result[name] = bundle
	}
	return result, nil
}

func (h *ExtensionHooks) BundleNames() []string {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return sortedKeys(h.bundles)
}

func sortedKeys[V any](values map[string]V) []string {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
