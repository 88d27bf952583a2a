package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type MemorySessionStore struct {
	mu      sync.RWMutex
	entries map[string]Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		entries: map[string]Session{},
	}
}

func (s *MemorySessionStore) Load(_ context.Context, appID string) (*Session, error) {
	if s == nil {
		return nil, fmt.Errorf("core: session store is not configured")
	}
	key := strings.TrimSpace(appID)
	if key == "" {
		return nil, fmt.Errorf("core: app id is required")
	}

	s.mu.RLock()
	session, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	return &session, nil
}

func (s *MemorySessionStore) Save(_ context.Context, appID string, session Session) error {
	if s == nil {
		return fmt.Errorf("core: session store is not configured")
	}
	key := strings.TrimSpace(appID)
	if key == "" {
		return fmt.Errorf("core: app id is required")
	}
	if strings.TrimSpace(session.WebID) == "" {
		return fmt.Errorf("core: session web id is required")
	}

	s.mu.Lock()
	s.entries[key] = session
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) Clear(_ context.Context, appID string) error {
	if s == nil {
		return fmt.Errorf("core: session store is not configured")
	}
	key := strings.TrimSpace(appID)
	if key == "" {
		return fmt.Errorf("core: app id is required")
	}

	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

func (s *MemorySessionStore) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

var _ SessionStore = (*MemorySessionStore)(nil)
