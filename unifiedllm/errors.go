package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies a failure.
type Kind string

const (
	KindConfig        Kind = "config"
	KindAuth          Kind = "auth"
	KindAccessDenied  Kind = "access_denied"
	KindNotFound      Kind = "not_found"
	KindInvalid       Kind = "invalid_request"
	KindContextLength Kind = "context_length"
	KindContentFilter Kind = "content_filter"
	KindRateLimit     Kind = "rate_limit"
	KindServer        Kind = "server"
	KindTimeout       Kind = "timeout"
	KindNetwork       Kind = "network"
	KindAborted       Kind = "aborted"
	KindUnknown       Kind = "unknown"
)

// Retryable reports whether failures of this kind are worth another attempt.
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimit, KindServer, KindTimeout, KindNetwork, KindUnknown:
		return true
	}
	return false
}

// Error is returned by the client and every adapter.
type Error struct {
	Kind     Kind
	Provider string
	Status   int // HTTP status when known
	Message  string
	// RetryAfter is the server's requested wait, zero when absent.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Provider != "" {
		msg = e.Provider + ": " + msg
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether err is safe to retry. Context cancellation
// never is.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return KindOf(err).Retryable()
}

func configError(format string, args ...any) *Error {
	return &Error{Kind: KindConfig, Message: fmt.Sprintf(format, args...)}
}

func abortError(message string, cause error) *Error {
	return &Error{Kind: KindAborted, Message: message, Err: cause}
}

// StatusError maps an HTTP status to an Error.
func StatusError(provider string, status int, message string) *Error {
	e := &Error{Provider: provider, Status: status, Message: message}
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		e.Kind = KindInvalid
	case http.StatusUnauthorized:
		e.Kind = KindAuth
	case http.StatusForbidden:
		e.Kind = KindAccessDenied
	case http.StatusNotFound:
		e.Kind = KindNotFound
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		e.Kind = KindTimeout
	case http.StatusRequestEntityTooLarge:
		e.Kind = KindContextLength
	case http.StatusTooManyRequests:
		e.Kind = KindRateLimit
	default:
		if status >= 500 {
			e.Kind = KindServer
		} else {
			e.Kind = KindUnknown
		}
	}
	return e
}
