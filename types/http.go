package types

import (
	"net/http"
	"strings"
	"time"
)

type HTTPMethod string

const (
	MethodGet  HTTPMethod = http.MethodGet
	MethodPost HTTPMethod = http.MethodPost
)

const (
	HeaderAuthorization   = "Authorization"
	HeaderContentType     = "Content-Type"
	HeaderContentEncoding = "Content-Encoding"
	HeaderAcceptEncoding  = "Accept-Encoding"
	HeaderPlatform        = "X-Platform"
	HeaderPlatformVersion = "X-Platform-Version"
	HeaderClientVersion   = "X-Client-Version"
	HeaderBundleID        = "X-Client-Bundle-ID"
	HeaderObserverMode    = "X-Observer-Mode-Enabled"
	HeaderRequestID       = "X-Request-ID"
	HeaderETag            = "X-Backend-ETag"
	HeaderLastRefreshTime = "X-Last-Refresh-Time"
	HeaderNonce           = "X-Nonce"
	HeaderSignature       = "X-Signature"
	HeaderRequestTime     = "X-Request-Time"
	HeaderIsFallback      = "X-Is-Fallback"
	HeaderRetryCount      = "X-Retry-Count"
	HeaderOrigin          = "X-Origin"

	OriginLoadShedderValue = "load_shedder"
)

// Headers is a header dictionary with case-insensitive lookup. Keys are
// stored in canonical MIME form.
type Headers map[string]string

func NewHeaders() Headers {
	return make(Headers)
}

func (h Headers) Set(key, value string) {
	h[http.CanonicalHeaderKey(key)] = value
}

func (h Headers) Get(key string) string {
	if v, ok := h[http.CanonicalHeaderKey(key)]; ok {
		return v
	}
	for k, v := range h {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

func (h Headers) Has(key string) bool {
	if _, ok := h[http.CanonicalHeaderKey(key)]; ok {
		return true
	}
	for k := range h {
		if strings.EqualFold(k, key) {
			return true
		}
	}
	return false
}

func (h Headers) Del(key string) {
	for k := range h {
		if strings.EqualFold(k, key) {
			delete(h, k)
		}
	}
}

func (h Headers) Merge(other Headers) Headers {
	for k, v := range other {
		h.Set(k, v)
	}
	return h
}

func (h Headers) Clone() Headers {
	out := make(Headers, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Response is the effective outcome of a request after decoding, signature
// verification and not-modified reconciliation.
type Response struct {
	StatusCode         int
	Body               []byte
	Headers            Headers
	RequestURL         string
	VerificationResult VerificationResult
	Origin             Origin
	IsFallback         bool
	FromCache          bool
	ValidationTime     time.Time
}

func (r *Response) IsSuccess() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Response) IsNotModified() bool {
	return r != nil && r.StatusCode == http.StatusNotModified
}
