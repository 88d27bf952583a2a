package core

import (
	"encoding/json"
	"errors"
	"testing"
)

type carrierIdentity struct {
	id string
}

func (c carrierIdentity) WebID() string { return c.id }

type profileCarrier struct {
	uri string
}

func (p *profileCarrier) WebID() string { return p.uri }

type panickingCodec struct{}

func (panickingCodec) Encode(Identity, AppInfo) (*Session, error) {
	panic("profile lookup failed")
}

func TestURIIdentityCodec_Encode(t *testing.T) {
	app := AppInfo{ID: "app1", Name: "App", Vendor: "Acme"}
	webID := "sub://x/card#me"
	ptr := webID

	tests := []struct {
		name     string
		identity Identity
		want     string
	}{
		{name: "nil", identity: nil, want: ""},
		{name: "empty string", identity: "", want: ""},
		{name: "blank string", identity: "   ", want: ""},
		{name: "string", identity: webID, want: webID},
		{name: "string pointer", identity: &ptr, want: webID},
		{name: "carrier", identity: carrierIdentity{id: webID}, want: webID},
		{name: "uri field", identity: map[string]any{"uri": webID}, want: webID},
		{name: "webId field", identity: map[string]any{"webId": webID}, want: webID},
		{name: "string map", identity: map[string]string{"web_id": webID}, want: webID},
		{name: "jsonld id", identity: map[string]any{"@id": webID}, want: webID},
		{name: "profile document", identity: map[string]any{"#me": map[string]any{"@id": webID}}, want: webID},
		{name: "raw json", identity: json.RawMessage(`{"uri":"sub://x/card#me"}`), want: webID},
		{name: "json null", identity: []byte(`null`), want: ""},
		{name: "https uri", identity: "https://alice.example/profile/card#me", want: "https://alice.example/profile/card#me"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			session, err := URIIdentityCodec{}.Encode(tc.identity, app)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			if tc.want == "" {
				if session != nil {
					t.Fatalf("expected no session, got %+v", session)
				}
				return
			}
			if session == nil || session.WebID != tc.want {
				t.Fatalf("expected web id %q, got %+v", tc.want, session)
			}
			if session.AppInfo != app {
				t.Fatalf("expected app info carried, got %+v", session.AppInfo)
			}
		})
	}
}

func TestURIIdentityCodec_MalformedIdentities(t *testing.T) {
	tests := map[string]Identity{
		"relative uri":      "card#me",
		"non string field":  map[string]any{"uri": 42},
		"missing field":     map[string]any{"name": "alice"},
		"bad profile":       map[string]any{"#me": "alice"},
		"broken json":       []byte(`{"uri":`),
		"unsupported type":  42,
		"scheme only":       "mailto:",
		"string map no key": map[string]string{"name": "alice"},
	}
	for name, identity := range tests {
		t.Run(name, func(t *testing.T) {
			session, err := URIIdentityCodec{}.Encode(identity, AppInfo{ID: "app1"})
			if !errors.Is(err, ErrMalformedIdentity) {
				t.Fatalf("expected malformed identity error, got %v", err)
			}
			if session != nil {
				t.Fatalf("expected no session for malformed identity")
			}
		})
	}
}

func TestURIIdentityCodec_IsDeterministic(t *testing.T) {
	identity := map[string]any{"uri": "https://alice.example/#me"}
	first, err := URIIdentityCodec{}.Encode(identity, AppInfo{ID: "app1"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for range 5 {
		next, err := URIIdentityCodec{}.Encode(identity, AppInfo{ID: "app1"})
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if *next != *first {
			t.Fatalf("expected identical sessions, got %+v and %+v", first, next)
		}
	}
}

type sloppyCodec struct{}

func (sloppyCodec) Encode(Identity, AppInfo) (*Session, error) {
	return &Session{WebID: "  "}, nil
}

func TestEncodeSession_NeverReturnsPartialSession(t *testing.T) {
	session, err := EncodeSession(sloppyCodec{}, "anything", AppInfo{ID: "app1"})
	if err != nil || session != nil {
		t.Fatalf("expected blank codec output collapsed to none, got %+v %v", session, err)
	}
	session, err = EncodeSession(nil, "https://alice.example/#me", AppInfo{ID: "app1"})
	if err != nil || session == nil {
		t.Fatalf("expected default codec fallback, got %+v %v", session, err)
	}
}

func TestEncodeSession_RejectsNilCarrier(t *testing.T) {
	session, err := EncodeSession(nil, (*profileCarrier)(nil), AppInfo{ID: "app1"})
	if !errors.Is(err, ErrMalformedIdentity) {
		t.Fatalf("expected malformed identity error, got %v", err)
	}
	if session != nil {
		t.Fatalf("expected no session for nil carrier")
	}

	session, err = EncodeSession(nil, &profileCarrier{uri: "https://alice.example/#me"}, AppInfo{ID: "app1"})
	if err != nil || session == nil || session.WebID != "https://alice.example/#me" {
		t.Fatalf("expected pointer carrier encoded, got %+v %v", session, err)
	}

	var none *string
	session, err = EncodeSession(nil, none, AppInfo{ID: "app1"})
	if err != nil || session != nil {
		t.Fatalf("expected nil string pointer treated as no identity, got %+v %v", session, err)
	}
}

func TestEncodeSession_RecoversCodecPanic(t *testing.T) {
	session, err := EncodeSession(panickingCodec{}, "https://alice.example/#me", AppInfo{ID: "app1"})
	if !errors.Is(err, ErrMalformedIdentity) {
		t.Fatalf("expected panic folded into malformed identity, got %v", err)
	}
	if session != nil {
		t.Fatalf("expected no session after codec panic")
	}
}
