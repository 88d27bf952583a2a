package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	SessionErrorBadInput                 = "SESSION_BAD_INPUT"
	SessionErrorAuthorizationDenied      = "SESSION_AUTHORIZATION_DENIED"
	SessionErrorAuthorizationUnavailable = "SESSION_AUTHORIZATION_UNAVAILABLE"
	SessionErrorMalformedIdentity        = "SESSION_MALFORMED_IDENTITY"
	SessionErrorStoreFailure             = "SESSION_STORE_FAILURE"
	SessionErrorLoginInProgress          = "SESSION_LOGIN_IN_PROGRESS"
	SessionErrorEngineClosed             = "SESSION_ENGINE_CLOSED"
	SessionErrorInternal                 = "SESSION_INTERNAL_ERROR"
)

var (
	ErrAuthorizationDenied      = errors.New("core: authorization denied")
	ErrAuthorizationUnavailable = errors.New("core: authorization unavailable")
	ErrMalformedIdentity        = errors.New("core: malformed identity")
	ErrStoreFailure             = errors.New("core: session store failure")
	ErrLoginInProgress          = errors.New("core: login in progress")
	ErrEngineClosed             = errors.New("core: session engine closed")
)

// classifyAuthorizeError maps a provider authorize failure to one of the two
// authorization error kinds.
func classifyAuthorizeError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAuthorizationDenied) || errors.Is(err, ErrAuthorizationUnavailable) {
		return err
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.Category {
		case goerrors.CategoryAuth, goerrors.CategoryAuthz:
			return errors.Join(ErrAuthorizationDenied, err)
		}
	}
	// timeouts and unreachable providers both land here
	return errors.Join(ErrAuthorizationUnavailable, err)
}

func sessionErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureSessionErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrAuthorizationDenied):
		return wrapSessionError(err, goerrors.CategoryAuth, SessionErrorAuthorizationDenied)
	case errors.Is(err, ErrAuthorizationUnavailable):
		return wrapSessionError(err, goerrors.CategoryExternal, SessionErrorAuthorizationUnavailable)
	case errors.Is(err, ErrMalformedIdentity):
		return wrapSessionError(err, goerrors.CategoryBadInput, SessionErrorMalformedIdentity)
	case errors.Is(err, ErrStoreFailure):
		return wrapSessionError(err, goerrors.CategoryInternal, SessionErrorStoreFailure)
	case errors.Is(err, ErrLoginInProgress):
		return wrapSessionError(err, goerrors.CategoryConflict, SessionErrorLoginInProgress)
	case errors.Is(err, ErrEngineClosed):
		return wrapSessionError(err, goerrors.CategoryOperation, SessionErrorEngineClosed)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	if strings.Contains(msg, "required") || strings.Contains(msg, "invalid") {
		return wrapSessionError(err, goerrors.CategoryBadInput, SessionErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureSessionErrorEnvelope(mapped)
}

func wrapSessionError(err error, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureSessionErrorEnvelope(
		goerrors.Wrap(err, category, err.Error()).
			WithTextCode(textCode),
	)
}

func ensureSessionErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = sessionHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultSessionTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultSessionTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return SessionErrorBadInput
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return SessionErrorAuthorizationDenied
	case goerrors.CategoryExternal:
		return SessionErrorAuthorizationUnavailable
	case goerrors.CategoryConflict:
		return SessionErrorLoginInProgress
	default:
		return SessionErrorInternal
	}
}

func sessionHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryExternal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// IsErrorKind reports whether err is the sentinel kind or a mapped rich error
// carrying its text code.
func IsErrorKind(err error, kind error) bool {
	if err == nil || kind == nil {
		return false
	}
	if errors.Is(err, kind) {
		return true
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == textCodeForKind(kind)
}

func textCodeForKind(kind error) string {
	switch kind {
	case ErrAuthorizationDenied:
		return SessionErrorAuthorizationDenied
	case ErrAuthorizationUnavailable:
		return SessionErrorAuthorizationUnavailable
	case ErrMalformedIdentity:
		return SessionErrorMalformedIdentity
	case ErrStoreFailure:
		return SessionErrorStoreFailure
	case ErrLoginInProgress:
		return SessionErrorLoginInProgress
	case ErrEngineClosed:
		return SessionErrorEngineClosed
	default:
		return ""
	}
}
