package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type ErrorKind int

const (
	KindOffline ErrorKind = iota
	KindDNSBlocked
	KindDecoding
	KindUnexpectedResponse
	KindSignatureVerificationFailed
	KindServer
	KindMissingAppUserID
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindOffline:
		return "offline"
	case KindDNSBlocked:
		return "dns_blocked"
	case KindDecoding:
		return "decoding"
	case KindUnexpectedResponse:
		return "unexpected_response"
	case KindSignatureVerificationFailed:
		return "signature_verification_failed"
	case KindServer:
		return "server"
	case KindMissingAppUserID:
		return "missing_app_user_id"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// AttributeError is a field-level rejection reported by the backend.
type AttributeError struct {
	KeyName string `json:"key_name"`
	Message string `json:"message"`
}

// BackendError is the single error type surfaced by the transport and the
// dispatcher. Callers switch on Kind; Err keeps the underlying cause.
type BackendError struct {
	Kind            ErrorKind
	StatusCode      int
	Code            int
	Message         string
	AttributeErrors []AttributeError
	URL             string
	Host            string
	Err             error
}

func (e *BackendError) Error() string {
	var b strings.Builder
	b.WriteString("backend error (")
	b.WriteString(e.Kind.String())
	b.WriteString(")")

	switch e.Kind {
	case KindServer:
		fmt.Fprintf(&b, ": status %d, code %d", e.StatusCode, e.Code)
		if e.Message != "" {
			b.WriteString(": ")
			b.WriteString(e.Message)
		}
	case KindDNSBlocked:
		fmt.Fprintf(&b, ": %s resolved to %s", e.URL, e.Host)
	default:
		if e.Message != "" {
			b.WriteString(": ")
			b.WriteString(e.Message)
		}
	}

	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// SuccessfullySynced reports whether the backend understood the request, so the
// caller can mark local state as synced even though the call failed.
func (e *BackendError) SuccessfullySynced() bool {
	if e == nil || e.Kind != KindServer {
		return false
	}
	return e.StatusCode < http.StatusInternalServerError
}

// IsServerDown reports 5xx responses, which are eligible for fallback URLs.
func (e *BackendError) IsServerDown() bool {
	return e != nil && e.Kind == KindServer && e.StatusCode >= http.StatusInternalServerError
}

func NewOfflineError(err error) *BackendError {
	return &BackendError{Kind: KindOffline, Err: err}
}

func NewDNSBlockedError(url, host string, err error) *BackendError {
	return &BackendError{Kind: KindDNSBlocked, URL: url, Host: host, Err: err}
}

func NewDecodingError(err error) *BackendError {
	return &BackendError{Kind: KindDecoding, Err: err}
}

func NewUnexpectedResponseError(statusCode int, message string) *BackendError {
	return &BackendError{Kind: KindUnexpectedResponse, StatusCode: statusCode, Message: message}
}

func NewSignatureVerificationError(err error) *BackendError {
	return &BackendError{Kind: KindSignatureVerificationFailed, Err: err}
}

func NewServerError(statusCode, code int, message string, attributeErrors []AttributeError) *BackendError {
	return &BackendError{
		Kind:            KindServer,
		StatusCode:      statusCode,
		Code:            code,
		Message:         message,
		AttributeErrors: attributeErrors,
	}
}

// NewNotModifiedNoCacheError marks a 304 that no cached entry can answer.
// It unwraps to ErrNotModifiedNoCache so the caller can retry once.
func NewNotModifiedNoCacheError(path string) *BackendError {
	return &BackendError{
		Kind:       KindUnexpectedResponse,
		StatusCode: http.StatusNotModified,
		Message:    path,
		Err:        ErrNotModifiedNoCache,
	}
}

// NewInternalError wraps failures that happen on this side of the wire: a
// stopped component, a request that could not be built or a panicking
// operation.
func NewInternalError(err error) *BackendError {
	return &BackendError{Kind: KindInternal, Err: err}
}

func NewMissingAppUserIDError() *BackendError {
	return &BackendError{Kind: KindMissingAppUserID, Message: "app user id is empty"}
}

// AsBackendError unwraps err into a *BackendError when possible.
func AsBackendError(err error) (*BackendError, bool) {
	var be *BackendError
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}
