package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type eventSubscriber struct {
	id      string
	name    EventName
	handler EventHandler
}

// EventChannel broadcasts engine events to registered handlers. Handlers run
// synchronously in registration order; a failing handler never stops delivery
// to the rest. There is no replay for late subscribers.
type EventChannel struct {
	mu          sync.RWMutex
	subscribers []eventSubscriber
	logger      Logger
}

func NewEventChannel(logger Logger) *EventChannel {
	return &EventChannel{
		subscribers: make([]eventSubscriber, 0),
		logger:      logger,
	}
}

type eventSubscription struct {
	channel *EventChannel
	id      string
	once    sync.Once
}

func (s *eventSubscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.channel.Off(s.id)
	})
}

func (s *eventSubscription) ID() string {
	if s == nil {
		return ""
	}
	return s.id
}

func (c *EventChannel) On(name EventName, handler EventHandler) (Subscription, error) {
	if c == nil {
		return nil, fmt.Errorf("core: event channel is not configured")
	}
	if !name.Valid() {
		return nil, fmt.Errorf("core: invalid event name %q", name)
	}
	if handler == nil {
		return nil, fmt.Errorf("core: event handler is required")
	}
	sub := eventSubscriber{
		id:      uuid.NewString(),
		name:    name,
		handler: handler,
	}
	c.mu.Lock()
	c.subscribers = append(c.subscribers, sub)
	c.mu.Unlock()
	return &eventSubscription{channel: c, id: sub.id}, nil
}

// Off removes the subscriber with id. Unknown ids are ignored.
func (c *EventChannel) Off(id string) {
	if c == nil || id == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for idx, sub := range c.subscribers {
		if sub.id == id {
			c.subscribers = append(c.subscribers[:idx:idx], c.subscribers[idx+1:]...)
			return
		}
	}
}

func (c *EventChannel) Len(name EventName) int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	count := 0
	for _, sub := range c.subscribers {
		if sub.name == name {
			count++
		}
	}
	return count
}

// Emit delivers event to the handlers registered for its name at the time of
// the call. Handler errors and panics are logged and aggregated.
func (c *EventChannel) Emit(ctx context.Context, event Event) error {
	if c == nil {
		return nil
	}
	var emitErr error
	for _, sub := range c.snapshot(event.Name) {
		if err := c.deliver(ctx, sub, event); err != nil {
			logWithLevel(ctx, c.logger, "warn", "session event handler failed", map[string]any{
				"event":         string(event.Name),
				"subscriber_id": sub.id,
				"error":         err.Error(),
			})
			emitErr = errors.Join(emitErr, fmt.Errorf("%s handler %s: %w", event.Name, sub.id, err))
		}
	}
	return emitErr
}

func (c *EventChannel) deliver(ctx context.Context, sub eventSubscriber, event Event) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("core: event handler panicked: %v", recovered)
		}
	}()
	payload := event
	payload.Session = event.Session.Clone()
	return sub.handler(ctx, payload)
}

func (c *EventChannel) snapshot(name EventName) []eventSubscriber {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]eventSubscriber, 0, len(c.subscribers))
	for _, sub := range c.subscribers {
		if sub.name == name {
			out = append(out, sub)
		}
	}
	return out
}
