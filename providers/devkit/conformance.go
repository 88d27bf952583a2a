package devkit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-sessions/core"
)

// ValidateSessionStoreConformance exercises the load/save/clear contract
// every core.SessionStore implementation must honor. It leaves no record for
// appID behind.
func ValidateSessionStoreConformance(ctx context.Context, store core.SessionStore, appID string) error {
	if store == nil {
		return fmt.Errorf("devkit: session store is required")
	}
	appID = strings.TrimSpace(appID)
	if appID == "" {
		return fmt.Errorf("devkit: app id is required")
	}
	if err := store.Clear(ctx, appID); err != nil {
		return fmt.Errorf("devkit: initial clear: %w", err)
	}

	loaded, err := store.Load(ctx, appID)
	if err != nil {
		return fmt.Errorf("devkit: load missing record: %w", err)
	}
	if loaded != nil {
		return fmt.Errorf("devkit: expected no record after clear, got %+v", loaded)
	}

	issuedAt := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	first := core.Session{
		WebID:    "https://alice.example/profile#me",
		AppInfo:  core.AppInfo{ID: appID, Name: "Conformance", Vendor: "devkit"},
		IssuedAt: issuedAt,
	}
	if err := store.Save(ctx, appID, first); err != nil {
		return fmt.Errorf("devkit: save: %w", err)
	}
	if err := expectStored(ctx, store, appID, first); err != nil {
		return err
	}

	second := first
	second.WebID = "https://bob.example/profile#me"
	second.IssuedAt = issuedAt.Add(time.Hour)
	if err := store.Save(ctx, appID, second); err != nil {
		return fmt.Errorf("devkit: overwrite: %w", err)
	}
	if err := expectStored(ctx, store, appID, second); err != nil {
		return err
	}

	if err := store.Clear(ctx, appID); err != nil {
		return fmt.Errorf("devkit: clear: %w", err)
	}
	if err := store.Clear(ctx, appID); err != nil {
		return fmt.Errorf("devkit: second clear should be a no-op: %w", err)
	}
	loaded, err = store.Load(ctx, appID)
	if err != nil {
		return fmt.Errorf("devkit: load after clear: %w", err)
	}
	if loaded != nil {
		return fmt.Errorf("devkit: expected no record after clear, got %+v", loaded)
	}
	return nil
}

func expectStored(ctx context.Context, store core.SessionStore, appID string, want core.Session) error {
	loaded, err := store.Load(ctx, appID)
	if err != nil {
		return fmt.Errorf("devkit: load: %w", err)
	}
	if loaded == nil {
		return fmt.Errorf("devkit: expected stored record for %q", appID)
	}
	if loaded.WebID != want.WebID {
		return fmt.Errorf("devkit: expected web id %q, got %q", want.WebID, loaded.WebID)
	}
	if loaded.AppInfo != want.AppInfo {
		return fmt.Errorf("devkit: expected app info %+v, got %+v", want.AppInfo, loaded.AppInfo)
	}
	if !loaded.IssuedAt.Equal(want.IssuedAt) {
		return fmt.Errorf("devkit: expected issued_at %s, got %s", want.IssuedAt, loaded.IssuedAt)
	}
	return nil
}

// ValidateIdentityProviderConformance checks the parts of the provider
// contract that do not need a human in the loop: subscription management and
// clearing authorization.
func ValidateIdentityProviderConformance(provider core.IdentityProvider, appID string) error {
	if provider == nil {
		return fmt.Errorf("devkit: identity provider is required")
	}
	if _, err := provider.SubscribeIdentityChanges(nil); err == nil {
		return fmt.Errorf("devkit: nil identity handler should be rejected")
	}
	sub, err := provider.SubscribeIdentityChanges(func(core.Identity) {})
	if err != nil {
		return fmt.Errorf("devkit: subscribe: %w", err)
	}
	if sub == nil {
		return fmt.Errorf("devkit: subscribe returned nil subscription")
	}
	sub.Unsubscribe()
	sub.Unsubscribe()

	if err := provider.ClearAuthorization(appID); err != nil {
		return fmt.Errorf("devkit: clear authorization: %w", err)
	}
	if provider.IsAuthorized() {
		return fmt.Errorf("devkit: provider still authorized after clear")
	}
	if provider.CurrentIdentity() != nil {
		return fmt.Errorf("devkit: provider still reports an identity after clear")
	}
	return nil
}
