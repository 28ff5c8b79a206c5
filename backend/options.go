package backend

import (
	"github.com/saiset-co/sai-backend/dnscheck"
	"github.com/saiset-co/sai-backend/signing"
	"github.com/saiset-co/sai-backend/types"
)

type Option func(*options)

type options struct {
	logger   types.Logger
	metrics  types.MetricsManager
	store    types.Store
	keys     signing.KeyProvider
	resolver dnscheck.Resolver
}

// WithLogger replaces the logger built from the logger config.
func WithLogger(logger types.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithMetrics(metrics types.MetricsManager) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// WithStore replaces the store built from the cache config. The backend
// takes over its lifecycle.
func WithStore(store types.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

func WithKeyProvider(keys signing.KeyProvider) Option {
	return func(o *options) {
		o.keys = keys
	}
}

func WithResolver(resolver dnscheck.Resolver) Option {
	return func(o *options) {
		o.resolver = resolver
	}
}
