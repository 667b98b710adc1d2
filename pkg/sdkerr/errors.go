// Package sdkerr defines the typed errors the SDK surfaces to host
// applications.
//
// Every error returned by the SDK either is, or wraps, an *Error. Callers match
// on the exported sentinels with errors.Is:
//
//	if errors.Is(err, sdkerr.ErrNotInitialized) { ... }
//
// Matching compares Kind and Code only, so a sentinel matches any *Error of the
// same class regardless of the operation or cause attached to it.
package sdkerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is the coarse class of an error.
type Kind string

const (
	// KindConfiguration is a fatal configuration problem (missing client key,
	// unusable environment).
	KindConfiguration Kind = "configuration"
	// KindAuthentication covers invalid client keys and invalid or expired
	// messaging tokens. Recoverable by acquiring a new token.
	KindAuthentication Kind = "authentication"
	// KindNetwork is a transport failure or a non-2xx response.
	KindNetwork Kind = "network"
	// KindDecoding is a response body that could not be decoded.
	KindDecoding Kind = "decoding"
	// KindPermissionDenied is an explicit revocation. Terminal for the
	// current chat session.
	KindPermissionDenied Kind = "permission-denied"
	// KindNotInitialized is an operation attempted before registration
	// completed successfully. Never involves network I/O.
	KindNotInitialized Kind = "not-initialized"
)

// Code is a machine-readable error code.
type Code string

const (
	CodeConfiguration           Code = "CONFIGURATION_ERROR"
	CodeAuthenticationFailed    Code = "AUTHENTICATION_FAILED"
	CodeAuthenticationException Code = "AUTHENTICATION_EXCEPTION"
	CodeChatTokenExpired        Code = "CHAT_TOKEN_EXPIRED"
	CodeNoToken                 Code = "NO_TOKEN"
	CodePermissionDenied        Code = "PERMISSION_DENIED"
	CodeNotInitialized          Code = "SDK_NOT_INITIALIZED"
	CodeNetwork                 Code = "NETWORK_ERROR"
	CodeDecoding                Code = "DECODING_ERROR"
	CodeTornDown                Code = "TORN_DOWN"
	CodeInvalidArgument         Code = "INVALID_ARGUMENT"
)

// Sentinels for errors.Is matching.
var (
	ErrConfiguration           = &Error{Kind: KindConfiguration, Code: CodeConfiguration}
	ErrInvalidArgument         = &Error{Kind: KindConfiguration, Code: CodeInvalidArgument}
	ErrAuthenticationFailed    = &Error{Kind: KindAuthentication, Code: CodeAuthenticationFailed}
	ErrAuthenticationException = &Error{Kind: KindAuthentication, Code: CodeAuthenticationException}
	ErrChatTokenExpired        = &Error{Kind: KindAuthentication, Code: CodeChatTokenExpired}
	ErrNoToken                 = &Error{Kind: KindAuthentication, Code: CodeNoToken}
	ErrPermissionDenied        = &Error{Kind: KindPermissionDenied, Code: CodePermissionDenied}
	ErrNotInitialized          = &Error{Kind: KindNotInitialized, Code: CodeNotInitialized}
	ErrNetwork                 = &Error{Kind: KindNetwork, Code: CodeNetwork}
	ErrDecoding                = &Error{Kind: KindDecoding, Code: CodeDecoding}
	ErrTornDown                = &Error{Kind: KindConfiguration, Code: CodeTornDown}
)

// Error is the SDK error type.
type Error struct {
	Kind Kind
	Code Code
	// Op names the operation that failed, e.g. "register" or "token.acquire".
	Op string
	// StatusCode is the HTTP status for KindNetwork errors caused by a
	// non-2xx response. Zero for transport failures.
	StatusCode int
	Err        error
}

// Error implements error.
func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same class. Empty fields on
// target act as wildcards.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != "" && t.Kind != e.Kind {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	return true
}

// Wrap returns a new *Error of the same class as sentinel, annotated with op
// and cause.
func Wrap(sentinel *Error, op string, cause error) *Error {
	return &Error{Kind: sentinel.Kind, Code: sentinel.Code, Op: op, Err: cause}
}

// Status returns a KindNetwork error for a non-2xx HTTP response.
func Status(op string, statusCode int, body string) *Error {
	var cause error
	if body != "" {
		cause = errors.New(body)
	}
	return &Error{Kind: KindNetwork, Code: CodeNetwork, Op: op, StatusCode: statusCode, Err: cause}
}

// KindOf returns the Kind of the first *Error in err's chain, or "" if there
// is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// StatusCodeOf returns the HTTP status carried by err, or 0.
func StatusCodeOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode
	}
	return 0
}

// Transient reports whether err is a network failure worth retrying:
// transport errors, 429 and 5xx responses.
func Transient(err error) bool {
	var e *Error
	if !errors.As(err, &e) || e.Kind != KindNetwork {
		return false
	}
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// Rejected reports whether err is an explicit authorization rejection (401 or
// 403) from the backend.
func Rejected(err error) bool {
	code := StatusCodeOf(err)
	return code == http.StatusUnauthorized || code == http.StatusForbidden
}
