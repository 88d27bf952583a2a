package core

import (
	"net/url"
	"strings"
	"time"
)

const (
	DefaultAppID     = "Unidentified session client app"
	DefaultAppName   = "WARNING: do not click Accept unless you trust this app"
	DefaultAppVendor = "session client app"
)

// AppInfo is the application identity presented to the identity provider when
// asking for authorization consent.
type AppInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Vendor string `json:"vendor"`
}

// DefaultAppInfo returns the flagged app identity used when the host
// application did not configure its own. Its name is shown to the human
// approving consent in the provider UI.
func DefaultAppInfo() AppInfo {
	return AppInfo{
		ID:     DefaultAppID,
		Name:   DefaultAppName,
		Vendor: DefaultAppVendor,
	}
}

func (a AppInfo) IsZero() bool {
	return strings.TrimSpace(a.ID) == "" &&
		strings.TrimSpace(a.Name) == "" &&
		strings.TrimSpace(a.Vendor) == ""
}

// Untrusted reports whether a is the flagged default identity.
func (a AppInfo) Untrusted() bool {
	return strings.TrimSpace(a.ID) == DefaultAppID
}

func (a AppInfo) Normalize() AppInfo {
	return AppInfo{
		ID:     strings.TrimSpace(a.ID),
		Name:   strings.TrimSpace(a.Name),
		Vendor: strings.TrimSpace(a.Vendor),
	}
}

// Session is the provider-agnostic "who is logged in" record. A nil *Session
// means no session.
type Session struct {
	WebID    string    `json:"web_id"`
	AppInfo  AppInfo   `json:"app_info"`
	IssuedAt time.Time `json:"issued_at"`
}

func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cloned := *s
	return &cloned
}

// SameIdentity reports whether both sessions carry the same web id. Two nil
// sessions are the same identity.
func SameIdentity(a *Session, b *Session) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return strings.TrimSpace(a.WebID) == strings.TrimSpace(b.WebID)
}

// Identity is the raw, provider-specific identity value surfaced by the
// notification channel. Only an IdentityCodec inspects it.
type Identity any

type Phase int

const (
	PhaseLoggedOut Phase = iota
	PhaseAuthorizing
	PhaseAuthorizedNoIdentity
	PhaseAuthorizedWithIdentity
)

func (p Phase) String() string {
	switch p {
	case PhaseLoggedOut:
		return "logged_out"
	case PhaseAuthorizing:
		return "authorizing"
	case PhaseAuthorizedNoIdentity:
		return "authorized_no_identity"
	case PhaseAuthorizedWithIdentity:
		return "authorized_with_identity"
	default:
		return "unknown"
	}
}

func (p Phase) Authorized() bool {
	return p == PhaseAuthorizedNoIdentity || p == PhaseAuthorizedWithIdentity
}

type EventName string

const (
	EventRequest EventName = "request"
	EventLogin   EventName = "login"
	EventLogout  EventName = "logout"
	EventSession EventName = "session"
)

func (n EventName) Valid() bool {
	switch n {
	case EventRequest, EventLogin, EventLogout, EventSession:
		return true
	default:
		return false
	}
}

// Event is the payload delivered to subscribers. Session is set for login and
// session events (nil on logout and on a session event reporting no session);
// URL is set for request events.
type Event struct {
	Name       EventName
	Session    *Session
	URL        string
	OccurredAt time.Time
}

type AuthorizeRequest struct {
	AppInfo      AppInfo
	ProviderHint string
	CallbackURI  string
	PopupURI     string
}

type LoginRequest struct {
	ProviderHint string
	CallbackURI  string
	PopupURI     string
	// Store overrides the engine session store for this and later reconciliations.
	Store   SessionStore
	AppInfo *AppInfo
	// Timeout bounds how long the engine stays authorizing; zero uses the
	// configured authorize timeout.
	Timeout time.Duration
}

type CurrentSessionRequest struct {
	Store SessionStore
}

type LogoutRequest struct {
	Store SessionStore
}

// SessionStoreKey returns prefix::<escaped app id>, the key used by key-value
// backed session stores and caches.
func SessionStoreKey(prefix string, appID string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultStoreKeyPrefix
	}
	return prefix + "::" + url.PathEscape(strings.TrimSpace(appID))
}
