package sessions_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"testing"

	sessions "github.com/goliatone/go-sessions"
	"github.com/goliatone/go-sessions/core"
	"github.com/goliatone/go-sessions/providers/devkit"
)

const downstreamWebID = "https://alice.example/profile#me"

func TestDownstreamComposition_FetchesThroughEngineWithoutOwningSessionState(t *testing.T) {
	doer := devkit.NewFakeHTTPDoer(
		devkit.HTTPScript{StatusCode: http.StatusOK, Body: []byte(`{"name":"Alice"}`)},
	)
	provider := devkit.NewProvider(devkit.WithGrantedIdentity(downstreamWebID))
	store := sessions.MemorySessionStore()

	engine, err := sessions.NewEngine(
		sessions.Config{AppInfo: sessions.AppInfoConfig{ID: "profile-app", Name: "Profiles", Vendor: "Acme"}},
		sessions.WithIdentityProvider(provider),
		sessions.WithSessionStore(store),
		sessions.WithHTTPDoer(doer),
	)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer engine.Close()

	client := newProfileClient(engine)
	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("start profile client: %v", err)
	}
	defer client.Stop()

	if _, err := engine.Login(context.Background(), sessions.LoginRequest{}); err != nil {
		t.Fatalf("login: %v", err)
	}
	body, err := client.FetchProfile(context.Background())
	if err != nil {
		t.Fatalf("fetch profile: %v", err)
	}
	if body != `{"name":"Alice"}` {
		t.Fatalf("unexpected profile body %q", body)
	}
	captured := doer.Requests()
	if len(captured) != 1 || captured[0].URL != downstreamWebID {
		t.Fatalf("expected profile request forwarded unchanged, got %+v", captured)
	}

	if err := engine.Logout(context.Background(), sessions.LogoutRequest{}); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if _, err := client.FetchProfile(context.Background()); err == nil {
		t.Fatalf("expected fetch without a session to be rejected by the client")
	}

	seen := client.Seen()
	if len(seen) < 2 || seen[len(seen)-1] != "" {
		t.Fatalf("expected tracked sessions to end logged out, got %v", seen)
	}
	if len(provider.Cleared()) != 1 {
		t.Fatalf("expected provider authorization cleared once, got %v", provider.Cleared())
	}
}

func TestDownstreamComposition_ReloadRestoresSessionFromSharedStore(t *testing.T) {
	store := sessions.MemorySessionStore()
	cfg := sessions.Config{AppInfo: sessions.AppInfoConfig{ID: "profile-app"}}

	first, err := sessions.NewEngine(cfg,
		sessions.WithIdentityProvider(devkit.NewProvider(devkit.WithGrantedIdentity(downstreamWebID))),
		sessions.WithSessionStore(store),
	)
	if err != nil {
		t.Fatalf("new first engine: %v", err)
	}
	if _, err := first.Login(context.Background(), sessions.LoginRequest{}); err != nil {
		t.Fatalf("login: %v", err)
	}
	_ = first.Close()

	second, err := sessions.NewEngine(cfg,
		sessions.WithIdentityProvider(devkit.NewProvider(
			devkit.WithPriorAuthorization("profile-app"),
			devkit.WithGrantedIdentity(downstreamWebID),
		)),
		sessions.WithSessionStore(store),
	)
	if err != nil {
		t.Fatalf("new second engine: %v", err)
	}
	defer second.Close()

	session, err := second.CurrentSession(context.Background(), sessions.CurrentSessionRequest{})
	if err != nil {
		t.Fatalf("current session: %v", err)
	}
	if session == nil || session.WebID != downstreamWebID {
		t.Fatalf("expected restored session, got %+v", session)
	}
}

// profileClient is a downstream domain that reacts to session changes and
// uses the engine as its only HTTP path.
type profileClient struct {
	engine *sessions.Engine

	mu      sync.Mutex
	current *core.Session
	seen    []string
	sub     core.Subscription
}

func newProfileClient(engine *sessions.Engine) *profileClient {
	return &profileClient{engine: engine}
}

func (c *profileClient) Start(ctx context.Context) error {
	sub, err := c.engine.TrackSession(ctx, func(_ context.Context, session *core.Session) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.current = session.Clone()
		if session == nil {
			c.seen = append(c.seen, "")
			return
		}
		c.seen = append(c.seen, session.WebID)
	})
	if err != nil {
		return err
	}
	c.sub = sub
	return nil
}

func (c *profileClient) Stop() {
	if c.sub != nil {
		c.sub.Unsubscribe()
	}
}

func (c *profileClient) Seen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.seen...)
}

func (c *profileClient) FetchProfile(ctx context.Context) (string, error) {
	c.mu.Lock()
	session := c.current.Clone()
	c.mu.Unlock()
	if session == nil {
		return "", fmt.Errorf("profile client: no active session")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, session.WebID, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.engine.Fetch(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}
