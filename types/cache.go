package types

import (
	"context"
	"time"
)

// Store is a durable byte store keyed by string. Set must replace a key
// atomically: concurrent readers observe either the old or the new value.
type Store interface {
	LifecycleManager
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

type StoreCreator func(config interface{}) (Store, error)

type VerificationResult int

const (
	VerificationNotRequested VerificationResult = iota
	VerificationVerified
	VerificationFailed
	VerificationVerifiedOnDevice
)

func (v VerificationResult) String() string {
	switch v {
	case VerificationNotRequested:
		return "not_requested"
	case VerificationVerified:
		return "verified"
	case VerificationFailed:
		return "failed"
	case VerificationVerifiedOnDevice:
		return "verified_on_device"
	default:
		return "unknown"
	}
}

// Cacheable reports whether a response carrying this result may be persisted.
func (v VerificationResult) Cacheable() bool {
	return v == VerificationNotRequested || v == VerificationVerified
}

type Origin int

const (
	OriginMain Origin = iota
	OriginLoadShedder
	OriginFallback
)

func (o Origin) String() string {
	switch o {
	case OriginMain:
		return "main"
	case OriginLoadShedder:
		return "load_shedder"
	case OriginFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

type CachedResponse struct {
	ETag               string             `json:"etag"`
	StatusCode         int                `json:"status_code"`
	Body               []byte             `json:"body"`
	Headers            map[string]string  `json:"headers,omitempty"`
	ValidationTime     time.Time          `json:"validation_time"`
	VerificationResult VerificationResult `json:"verification_result"`
	Origin             Origin             `json:"origin"`
}

// CacheIdentityProvider lets request bodies drop fields that must not
// influence the cache identity, such as client-side timestamps.
type CacheIdentityProvider interface {
	CacheIdentityBody() interface{}
}
