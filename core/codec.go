package core

import (
	"encoding/json"
	"fmt"
	"net/url"
	"reflect"
	"strings"
)

// identityURIKeys lists the structured identity fields that may carry the
// canonical identity URI, in lookup order. "#me" holds a nested profile
// document whose "@id" is the URI.
var identityURIKeys = []string{"uri", "webId", "web_id", "@id", "#me"}

// WebIDCarrier is implemented by provider identity values that expose their
// canonical identity URI directly.
type WebIDCarrier interface {
	WebID() string
}

// URIIdentityCodec extracts the canonical identity URI from strings, JSON
// documents, maps and WebIDCarrier values. It performs no I/O.
type URIIdentityCodec struct{}

func (URIIdentityCodec) Encode(identity Identity, app AppInfo) (*Session, error) {
	webID, err := extractIdentityURI(identity, 0)
	if err != nil {
		return nil, err
	}
	if webID == "" {
		return nil, nil
	}
	if err := validateIdentityURI(webID); err != nil {
		return nil, err
	}
	return &Session{
		WebID:   webID,
		AppInfo: app.Normalize(),
	}, nil
}

// EncodeSession runs codec and folds malformed identities into "no session".
// The returned error is informational only.
func EncodeSession(codec IdentityCodec, identity Identity, app AppInfo) (*Session, error) {
	if codec == nil {
		codec = URIIdentityCodec{}
	}
	session, err := safeEncode(codec, identity, app)
	if err != nil {
		return nil, err
	}
	if session == nil || strings.TrimSpace(session.WebID) == "" {
		return nil, nil
	}
	return session, nil
}

// safeEncode turns a panicking codec or identity value into ErrMalformedIdentity.
func safeEncode(codec IdentityCodec, identity Identity, app AppInfo) (session *Session, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			session = nil
			err = fmt.Errorf("%w: encode panicked: %v", ErrMalformedIdentity, recovered)
		}
	}()
	return codec.Encode(identity, app)
}

const maxIdentityDepth = 4

// isTypedNil reports a non-nil interface wrapping a nil pointer, map, slice,
// func or chan.
func isTypedNil(identity any) bool {
	if identity == nil {
		return false
	}
	value := reflect.ValueOf(identity)
	switch value.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return value.IsNil()
	}
	return false
}

func extractIdentityURI(identity Identity, depth int) (string, error) {
	if depth > maxIdentityDepth {
		return "", fmt.Errorf("%w: identity nesting too deep", ErrMalformedIdentity)
	}
	switch typed := identity.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(typed), nil
	case *string:
		if typed == nil {
			return "", nil
		}
		return strings.TrimSpace(*typed), nil
	case WebIDCarrier:
		if isTypedNil(typed) {
			return "", fmt.Errorf("%w: nil %T identity", ErrMalformedIdentity, typed)
		}
		return strings.TrimSpace(typed.WebID()), nil
	case json.RawMessage:
		return extractIdentityJSON([]byte(typed), depth)
	case []byte:
		return extractIdentityJSON(typed, depth)
	case map[string]string:
		for _, key := range identityURIKeys {
			if value, ok := typed[key]; ok {
				return strings.TrimSpace(value), nil
			}
		}
		return "", fmt.Errorf("%w: no identity uri field", ErrMalformedIdentity)
	case map[string]any:
		for _, key := range identityURIKeys {
			value, ok := typed[key]
			if !ok {
				continue
			}
			if key == "#me" {
				nested, isMap := value.(map[string]any)
				if !isMap {
					return "", fmt.Errorf("%w: profile document is not an object", ErrMalformedIdentity)
				}
				return extractIdentityURI(map[string]any{"@id": nested["@id"]}, depth+1)
			}
			text, isString := value.(string)
			if !isString {
				return "", fmt.Errorf("%w: identity field %q is %T", ErrMalformedIdentity, key, value)
			}
			return strings.TrimSpace(text), nil
		}
		return "", fmt.Errorf("%w: no identity uri field", ErrMalformedIdentity)
	default:
		return "", fmt.Errorf("%w: unsupported identity type %T", ErrMalformedIdentity, identity)
	}
}

func extractIdentityJSON(raw []byte, depth int) (string, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return "", nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedIdentity, err)
	}
	return extractIdentityURI(decoded, depth+1)
}

func validateIdentityURI(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedIdentity, err)
	}
	if parsed.Scheme == "" {
		return fmt.Errorf("%w: identity uri %q is not absolute", ErrMalformedIdentity, raw)
	}
	if parsed.Host == "" && parsed.Opaque == "" && parsed.Path == "" {
		return fmt.Errorf("%w: identity uri %q has no authority or path", ErrMalformedIdentity, raw)
	}
	return nil
}

var _ IdentityCodec = URIIdentityCodec{}
