package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrUnauthenticated    = errors.New("not signed in")
	ErrForbidden          = errors.New("not allowed")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrClosed             = errors.New("manager closed")
)

const genericFailureMessage = "Something went wrong. Please try again."

// AuthError reports bad credentials or an expired, invalid or rejected token.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Message != "" {
		return "auth: " + e.Message
	}
	if e.Err != nil {
		return "auth: " + e.Err.Error()
	}
	return "auth: unauthorized"
}

func (e *AuthError) Unwrap() error { return e.Err }

// ValidationError carries per-field rule failures detected before any
// network call.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation: " + strings.Join(parts, ", ")
}

// EligibilityError reports that a client-side precondition for a request
// transition failed. The backend stays the authority; this only avoids a
// round trip that would be rejected anyway.
type EligibilityError struct {
	Reason string
}

func (e *EligibilityError) Error() string { return "not eligible: " + e.Reason }

// NetworkError reports a transport failure or an open circuit breaker.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError reports a non-2xx response or a `success:false` envelope.
type ServerError struct {
	Status  int
	Message string
	Blocked bool
}

func (e *ServerError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = genericFailureMessage
	}
	return fmt.Sprintf("server: status %d: %s", e.Status, msg)
}

// Is lets errors.Is(err, ErrNotFound) and ErrForbidden match status codes.
func (e *ServerError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == 404
	case ErrForbidden:
		return e.Status == 403
	}
	return false
}

// UserMessage returns a message suitable for a transient user-visible notice.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var authErr *AuthError
	var valErr *ValidationError
	var eligErr *EligibilityError
	var netErr *NetworkError
	var srvErr *ServerError
	switch {
	case errors.As(err, &valErr):
		return "Please fix the highlighted fields."
	case errors.As(err, &eligErr):
		return eligErr.Reason
	case errors.As(err, &authErr):
		if authErr.Message != "" {
			return authErr.Message
		}
		return "Your session has expired. Please sign in again."
	case errors.As(err, &srvErr):
		if srvErr.Blocked {
			return "Your account has been blocked."
		}
		if srvErr.Message != "" {
			return srvErr.Message
		}
		return genericFailureMessage
	case errors.As(err, &netErr):
		return "Unable to reach the server. Check your connection."
	}
	return genericFailureMessage
}
