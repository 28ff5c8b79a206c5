package cache

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-backend/types"
	"github.com/saiset-co/sai-backend/utils"
)

const responseKeyPrefix = "etag:"

// replayedHeaders are kept with a cached entry so a reconciled 304 carries
// the same metadata as the original response.
var replayedHeaders = []string{
	types.HeaderContentType,
	types.HeaderRequestTime,
	types.HeaderSignature,
}

// ResponseCache stores the last known-good response per request identity
// and answers not-modified responses from it. Reads and the validation-time
// refresh are serialized by one mutex.
type ResponseCache struct {
	store   types.Store
	logger  types.Logger
	metrics types.MetricsManager
	mu      sync.Mutex
	now     func() time.Time
}

func NewResponseCache(store types.Store, logger types.Logger, metrics types.MetricsManager) *ResponseCache {
	return &ResponseCache{
		store:   store,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// HeadersForConditionalRequest returns the ETag and last refresh time of a
// compatible entry, or an empty set.
func (c *ResponseCache) HeadersForConditionalRequest(ctx context.Context, identity string, requireVerification bool) types.Headers {
	headers := types.NewHeaders()

	c.mu.Lock()
	entry, ok := c.load(ctx, identity, requireVerification)
	c.mu.Unlock()

	if !ok {
		return headers
	}

	headers.Set(types.HeaderETag, entry.ETag)
	if !entry.ValidationTime.IsZero() {
		headers.Set(types.HeaderLastRefreshTime, strconv.FormatInt(entry.ValidationTime.UnixMilli(), 10))
	}

	return headers
}

// Get returns the compatible entry for identity.
func (c *ResponseCache) Get(ctx context.Context, identity string, requireVerification bool) (*types.CachedResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.load(ctx, identity, requireVerification)
}

// Reconcile turns a not-modified response into the cached success it
// confirms. The entry keeps its original origin; only the validation time is
// refreshed. The second return value is false when resp was left untouched.
func (c *ResponseCache) Reconcile(ctx context.Context, resp *types.Response, identity string, requireVerification, isFallback bool) (*types.Response, bool) {
	if !resp.IsNotModified() {
		return resp, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.load(ctx, identity, requireVerification)
	if !ok {
		c.countLookup("not_modified_miss")
		return resp, false
	}

	entry.ValidationTime = c.now()
	if err := c.save(ctx, identity, entry); err != nil {
		c.logger.Warn("Failed to refresh cached response validation time",
			zap.String("identity", identity),
			zap.Error(err))
	}

	c.countLookup("not_modified_hit")

	headers := resp.Headers.Clone()
	if headers == nil {
		headers = types.NewHeaders()
	}
	for k, v := range entry.Headers {
		if !headers.Has(k) {
			headers.Set(k, v)
		}
	}
	headers.Set(types.HeaderETag, entry.ETag)

	return &types.Response{
		StatusCode:         entry.StatusCode,
		Body:               entry.Body,
		Headers:            headers,
		RequestURL:         resp.RequestURL,
		VerificationResult: resp.VerificationResult,
		Origin:             entry.Origin,
		IsFallback:         isFallback,
		FromCache:          true,
		ValidationTime:     entry.ValidationTime,
	}, true
}

// Store persists resp when it is a genuine success whose verification did
// not fail and which carries an ETag. It reports whether an entry was
// written.
func (c *ResponseCache) Store(ctx context.Context, resp *types.Response, identity string) bool {
	if resp == nil || resp.FromCache || resp.IsNotModified() || !resp.IsSuccess() {
		return false
	}

	if !resp.VerificationResult.Cacheable() {
		c.logger.Debug("Skipping cache for unverified response",
			zap.String("identity", identity),
			zap.Stringer("verification", resp.VerificationResult))
		return false
	}

	etag := resp.Headers.Get(types.HeaderETag)
	if etag == "" {
		return false
	}

	entry := &types.CachedResponse{
		ETag:               etag,
		StatusCode:         resp.StatusCode,
		Body:               resp.Body,
		Headers:            make(map[string]string),
		ValidationTime:     c.now(),
		VerificationResult: resp.VerificationResult,
		Origin:             resp.Origin,
	}

	for _, name := range replayedHeaders {
		if v := resp.Headers.Get(name); v != "" {
			entry.Headers[http.CanonicalHeaderKey(name)] = v
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.save(ctx, identity, entry); err != nil {
		c.logger.Warn("Failed to store cached response", zap.String("identity", identity), zap.Error(err))
		return false
	}

	return true
}

func (c *ResponseCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, err := c.store.Keys(ctx)
	if err != nil {
		return types.WrapError(err, "failed to list cached responses")
	}

	for _, key := range keys {
		if !strings.HasPrefix(key, responseKeyPrefix) {
			continue
		}
		if err := c.store.Delete(ctx, key); err != nil {
			return types.WrapError(err, "failed to delete cached response")
		}
	}

	return nil
}

// Prune drops entries not validated within maxAge and returns how many were
// removed. Unreadable entries are removed as well.
func (c *ResponseCache) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys, err := c.store.Keys(ctx)
	if err != nil {
		return 0, types.WrapError(err, "failed to list cached responses")
	}

	cutoff := c.now().Add(-maxAge)
	removed := 0

	for _, key := range keys {
		if !strings.HasPrefix(key, responseKeyPrefix) {
			continue
		}

		entry, err := c.read(ctx, key)
		if err == nil && !entry.ValidationTime.Before(cutoff) {
			continue
		}
		if err != nil && types.IsError(err, types.ErrCacheNotFound) {
			continue
		}

		if err := c.store.Delete(ctx, key); err != nil {
			return removed, types.WrapError(err, "failed to prune cached response")
		}
		removed++
	}

	return removed, nil
}

func (c *ResponseCache) load(ctx context.Context, identity string, requireVerification bool) (*types.CachedResponse, bool) {
	entry, err := c.read(ctx, responseKeyPrefix+identity)
	if err != nil {
		if !types.IsError(err, types.ErrCacheNotFound) {
			c.logger.Warn("Ignoring unreadable cached response", zap.String("identity", identity), zap.Error(err))
		}
		c.countLookup("miss")
		return nil, false
	}

	if !compatible(entry, requireVerification) {
		c.countLookup("incompatible")
		return nil, false
	}

	c.countLookup("hit")
	return entry, true
}

func (c *ResponseCache) read(ctx context.Context, key string) (*types.CachedResponse, error) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var entry types.CachedResponse
	if err := utils.Unmarshal(data, &entry); err != nil {
		return nil, types.Errorf(types.ErrCacheEntryCorrupted, "%s: %v", key, err)
	}

	return &entry, nil
}

func (c *ResponseCache) save(ctx context.Context, identity string, entry *types.CachedResponse) error {
	data, err := utils.Marshal(entry)
	if err != nil {
		return types.WrapError(err, "failed to encode cached response")
	}
	return c.store.Set(ctx, responseKeyPrefix+identity, data)
}

func (c *ResponseCache) countLookup(result string) {
	c.metrics.Counter("response_cache_lookups_total", map[string]string{"result": result}).Inc()
}

// compatible reports whether entry may answer a request under the current
// verification requirement.
func compatible(entry *types.CachedResponse, requireVerification bool) bool {
	if !requireVerification {
		return true
	}
	return entry.VerificationResult == types.VerificationVerified ||
		entry.VerificationResult == types.VerificationVerifiedOnDevice
}
