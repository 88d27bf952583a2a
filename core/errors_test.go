package core

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestSessionErrorMapper_AssignsStableCodes(t *testing.T) {
	tests := []struct {
		err      error
		textCode string
		status   int
	}{
		{err: fmt.Errorf("declined: %w", ErrAuthorizationDenied), textCode: SessionErrorAuthorizationDenied, status: http.StatusUnauthorized},
		{err: classifyAuthorizeError(stderrors.New("connection refused")), textCode: SessionErrorAuthorizationUnavailable, status: http.StatusServiceUnavailable},
		{err: ErrLoginInProgress, textCode: SessionErrorLoginInProgress, status: http.StatusConflict},
		{err: ErrStoreFailure, textCode: SessionErrorStoreFailure, status: http.StatusInternalServerError},
		{err: stderrors.New("core: app info id is required"), textCode: SessionErrorBadInput, status: http.StatusBadRequest},
	}
	for _, tc := range tests {
		mapped := sessionErrorMapper(tc.err)
		if mapped.TextCode != tc.textCode {
			t.Fatalf("expected %s for %v, got %q", tc.textCode, tc.err, mapped.TextCode)
		}
		if mapped.Code != tc.status {
			t.Fatalf("expected status %d for %v, got %d", tc.status, tc.err, mapped.Code)
		}
	}
}

func TestClassifyAuthorizeError(t *testing.T) {
	if err := classifyAuthorizeError(nil); err != nil {
		t.Fatalf("expected nil")
	}
	authErr := goerrors.New("user cancelled", goerrors.CategoryAuth)
	if err := classifyAuthorizeError(authErr); !stderrors.Is(err, ErrAuthorizationDenied) {
		t.Fatalf("expected auth category classified as denied, got %v", err)
	}
	if err := classifyAuthorizeError(context.DeadlineExceeded); !stderrors.Is(err, ErrAuthorizationUnavailable) {
		t.Fatalf("expected timeout classified as unavailable, got %v", err)
	}
	if err := classifyAuthorizeError(ErrAuthorizationDenied); err != ErrAuthorizationDenied {
		t.Fatalf("expected sentinel passthrough, got %v", err)
	}
}

func TestIsErrorKind(t *testing.T) {
	mapped := sessionErrorMapper(ErrEngineClosed)
	if !IsErrorKind(mapped, ErrEngineClosed) {
		t.Fatalf("expected mapped error to match its kind")
	}
	if IsErrorKind(mapped, ErrAuthorizationDenied) {
		t.Fatalf("expected mapped error not to match another kind")
	}
	if IsErrorKind(nil, ErrEngineClosed) {
		t.Fatalf("expected nil error not to match")
	}
}

func TestEngineMapError_PassesCallerContextErrorsThrough(t *testing.T) {
	engine := &Engine{errorMapper: sessionErrorMapper}
	for _, err := range []error{
		context.Canceled,
		context.DeadlineExceeded,
		fmt.Errorf("queued task: %w", context.Canceled),
	} {
		mapped := engine.mapError(err)
		if mapped != err {
			t.Fatalf("expected %v unmapped, got %v", err, mapped)
		}
		var typed *goerrors.Error
		if goerrors.As(mapped, &typed) {
			t.Fatalf("expected no internal error code for %v, got %q", err, typed.TextCode)
		}
	}

	unavailable := engine.mapError(classifyAuthorizeError(context.DeadlineExceeded))
	var typed *goerrors.Error
	if !goerrors.As(unavailable, &typed) || typed.TextCode != SessionErrorAuthorizationUnavailable {
		t.Fatalf("expected provider timeout mapped to unavailable, got %v", unavailable)
	}
}
