// Package fault holds the error taxonomy of the service and the router that
// picks a recovery strategy (retry, fallback, degradation, fail-fast) for a
// classified error.
package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Kind is the error class an error gets sorted into.
type Kind string

const (
	KindValidation     Kind = "VALIDATION"
	KindNetwork        Kind = "NETWORK"
	KindTimeout        Kind = "TIMEOUT"
	KindRepository     Kind = "REPOSITORY"
	KindCache          Kind = "CACHE"
	KindRateLimit      Kind = "RATE_LIMIT"
	KindAuthentication Kind = "AUTHENTICATION"
	KindConfiguration  Kind = "CONFIGURATION"
	KindUnknown        Kind = "UNKNOWN"
)

// Recoverable reports whether an operation failing with this kind may be
// worth recovering from (by retry or degradation) instead of surfacing.
func (k Kind) Recoverable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindRateLimit, KindCache:
		return true
	default:
		return false
	}
}

// Error is a classified error with structured context.
type Error struct {
	Kind      Kind
	Message   string
	Context   map[string]string
	Timestamp time.Time
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key-value pair and returns the error for chaining.
func (e *Error) WithContext(key, value string) *Error {
	if e.Context == nil {
		e.Context = map[string]string{}
	}
	e.Context[key] = value
	return e
}

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Wrap creates a classified error wrapping a cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// NotFound is the repository-level "no results anywhere" error.
func NotFound(contentID string) *Error {
	return New(KindRepository, "no magnets found").WithContext("contentID", contentID)
}

// IsNotFound reports whether err is a repository not-found error.
func IsNotFound(err error) bool {
	var ferr *Error
	if !errors.As(err, &ferr) {
		return false
	}
	return ferr.Kind == KindRepository && ferr.Message == "no magnets found"
}

// Classify sorts any error into the taxonomy. Already-classified errors pass
// through unchanged. Classification goes by error type first, then by message
// substrings, matching what upstream services and the net stack produce.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var ferr *Error
	if errors.As(err, &ferr) {
		return ferr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindTimeout, "deadline exceeded", err)
	}
	if errors.Is(err, context.Canceled) {
		return Wrap(KindTimeout, "request canceled", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Wrap(KindTimeout, "network timeout", err)
		}
		return Wrap(KindNetwork, "network error", err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "econnrefused", "enotfound", "connection refused", "no such host", "network"):
		return Wrap(KindNetwork, "network error", err)
	case containsAny(msg, "timeout", "etimedout", "abort", "deadline"):
		return Wrap(KindTimeout, "timeout", err)
	case containsAny(msg, "rate limit", "too many", "429"):
		return Wrap(KindRateLimit, "rate limited", err)
	case containsAny(msg, "unauthorized", "forbidden", "401", "403"):
		return Wrap(KindAuthentication, "authentication failed", err)
	case containsAny(msg, "validation", "invalid"):
		return Wrap(KindValidation, "validation failed", err)
	case containsAny(msg, "not found", "404"):
		return Wrap(KindRepository, "resource not found", err)
	case containsAny(msg, "cache"):
		return Wrap(KindCache, "cache error", err)
	case containsAny(msg, "config"):
		return Wrap(KindConfiguration, "configuration error", err)
	default:
		return Wrap(KindUnknown, "unclassified error", err)
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
