package devkit

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/goliatone/go-sessions/core"
)

type AuthorizeMode string

const (
	// AuthorizeGrant grants every authorize call immediately.
	AuthorizeGrant AuthorizeMode = "grant"
	// AuthorizeDeny declines every authorize call immediately.
	AuthorizeDeny AuthorizeMode = "deny"
	// AuthorizeManual blocks authorize calls until Grant, Deny or Fail.
	AuthorizeManual AuthorizeMode = "manual"
)

type ProviderOption func(*Provider)

func WithAuthorizeMode(mode AuthorizeMode) ProviderOption {
	return func(p *Provider) {
		p.mode = mode
	}
}

// WithGrantedIdentity selects identity whenever authorization is granted.
func WithGrantedIdentity(identity core.Identity) ProviderOption {
	return func(p *Provider) {
		p.grantIdentity = identity
	}
}

// WithPriorAuthorization makes LoadPriorAuthorization succeed for appIDs.
func WithPriorAuthorization(appIDs ...string) ProviderOption {
	return func(p *Provider) {
		for _, appID := range appIDs {
			p.prior[strings.TrimSpace(appID)] = true
		}
	}
}

// Provider is an in-memory identity provider with a deterministic,
// test-driven notification channel.
type Provider struct {
	mu            sync.Mutex
	mode          AuthorizeMode
	authorized    bool
	current       core.Identity
	grantIdentity core.Identity
	prior         map[string]bool
	handlers      map[int]core.IdentityHandler
	nextHandlerID int
	waiting       []chan error
	requests      []core.AuthorizeRequest
	cleared       []string
	started       chan core.AuthorizeRequest
}

func NewProvider(opts ...ProviderOption) *Provider {
	p := &Provider{
		mode:     AuthorizeGrant,
		prior:    map[string]bool{},
		handlers: map[int]core.IdentityHandler{},
		started:  make(chan core.AuthorizeRequest, 64),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

func (p *Provider) IsAuthorized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authorized
}

func (p *Provider) Authorize(ctx context.Context, req core.AuthorizeRequest) error {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	mode := p.mode
	var decision chan error
	if mode == AuthorizeManual {
		decision = make(chan error, 1)
		p.waiting = append(p.waiting, decision)
	}
	p.mu.Unlock()

	select {
	case p.started <- req:
	default:
	}

	switch mode {
	case AuthorizeDeny:
		return fmt.Errorf("devkit: user declined: %w", core.ErrAuthorizationDenied)
	case AuthorizeManual:
		select {
		case err := <-decision:
			return err
		case <-ctx.Done():
			p.dropWaiter(decision)
			return ctx.Err()
		}
	default:
		p.setGranted()
		return nil
	}
}

func (p *Provider) LoadPriorAuthorization(appID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.prior[strings.TrimSpace(appID)] {
		return false
	}
	p.authorized = true
	if p.current == nil {
		p.current = p.grantIdentity
	}
	return true
}

func (p *Provider) ClearAuthorization(appID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authorized = false
	p.current = nil
	delete(p.prior, strings.TrimSpace(appID))
	p.cleared = append(p.cleared, strings.TrimSpace(appID))
	return nil
}

func (p *Provider) SubscribeIdentityChanges(handler core.IdentityHandler) (core.Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("devkit: identity handler is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextHandlerID++
	id := p.nextHandlerID
	p.handlers[id] = handler
	return subscription{provider: p, id: id}, nil
}

func (p *Provider) CurrentIdentity() core.Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Notify selects identity and delivers it to every subscriber, synchronously,
// in subscription order.
func (p *Provider) Notify(identity core.Identity) {
	p.mu.Lock()
	p.current = identity
	p.mu.Unlock()
	p.fanOut(identity)
}

// NotifyStale delivers identity without updating CurrentIdentity.
func (p *Provider) NotifyStale(identity core.Identity) {
	p.fanOut(identity)
}

// Grant resolves the oldest blocked authorize call with success.
func (p *Provider) Grant() bool {
	decision := p.popWaiter()
	if decision == nil {
		return false
	}
	p.setGranted()
	decision <- nil
	return true
}

// Deny resolves the oldest blocked authorize call with a decline.
func (p *Provider) Deny() bool {
	return p.Fail(fmt.Errorf("devkit: user declined: %w", core.ErrAuthorizationDenied))
}

// Fail resolves the oldest blocked authorize call with err.
func (p *Provider) Fail(err error) bool {
	decision := p.popWaiter()
	if decision == nil {
		return false
	}
	decision <- err
	return true
}

// SetAuthorized flips authorization without going through Authorize,
// modelling a grant from another tab or a provider-side revocation.
func (p *Provider) SetAuthorized(value bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authorized = value
}

// AuthorizeStarted delivers each authorize request as it arrives.
func (p *Provider) AuthorizeStarted() <-chan core.AuthorizeRequest {
	return p.started
}

func (p *Provider) Requests() []core.AuthorizeRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]core.AuthorizeRequest(nil), p.requests...)
}

func (p *Provider) Cleared() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.cleared...)
}

func (p *Provider) Subscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.handlers)
}

func (p *Provider) setGranted() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.authorized = true
	if p.grantIdentity != nil {
		p.current = p.grantIdentity
	}
}

func (p *Provider) fanOut(identity core.Identity) {
	p.mu.Lock()
	ids := make([]int, 0, len(p.handlers))
	for id := range p.handlers {
		ids = append(ids, id)
	}
	handlers := make([]core.IdentityHandler, 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		handlers = append(handlers, p.handlers[id])
	}
	p.mu.Unlock()

	for _, handler := range handlers {
		handler(identity)
	}
}

func (p *Provider) popWaiter() chan error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.waiting) == 0 {
		return nil
	}
	decision := p.waiting[0]
	p.waiting = p.waiting[1:]
	return decision
}

func (p *Provider) dropWaiter(decision chan error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for idx, candidate := range p.waiting {
		if candidate == decision {
			p.waiting = append(p.waiting[:idx], p.waiting[idx+1:]...)
			return
		}
	}
}

type subscription struct {
	provider *Provider
	id       int
}

func (s subscription) Unsubscribe() {
	s.provider.mu.Lock()
	defer s.provider.mu.Unlock()
	delete(s.provider.handlers, s.id)
}

var _ core.IdentityProvider = (*Provider)(nil)
