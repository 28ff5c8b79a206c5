package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-backend/logger"
	"github.com/saiset-co/sai-backend/metrics"
	"github.com/saiset-co/sai-backend/types"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func newTestCache(t *testing.T) (*ResponseCache, types.Store, *fakeClock) {
	t.Helper()
	store, err := NewMemoryStore(nil)
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := NewResponseCache(store, logger.NewNop(), metrics.NewMemoryMetrics())
	c.now = clock.Now

	return c, store, clock
}

func okResponse(etag string, body string, result types.VerificationResult) *types.Response {
	headers := types.NewHeaders()
	if etag != "" {
		headers.Set(types.HeaderETag, etag)
	}
	headers.Set(types.HeaderContentType, "application/json")
	return &types.Response{
		StatusCode:         200,
		Body:               []byte(body),
		Headers:            headers,
		VerificationResult: result,
	}
}

func notModified() *types.Response {
	return &types.Response{StatusCode: 304, Headers: types.NewHeaders()}
}

func TestConditionalHeadersEmptyWithoutEntry(t *testing.T) {
	c, _, _ := newTestCache(t)
	assert.Empty(t, c.HeadersForConditionalRequest(context.Background(), "id", false))
}

func TestStoreAndConditionalHeaders(t *testing.T) {
	ctx := context.Background()
	c, _, clock := newTestCache(t)

	require.True(t, c.Store(ctx, okResponse("e1", `{"a":1}`, types.VerificationNotRequested), "id"))

	headers := c.HeadersForConditionalRequest(ctx, "id", false)
	assert.Equal(t, "e1", headers.Get("x-backend-etag"))
	assert.Equal(t, "1709294400000", headers.Get(types.HeaderLastRefreshTime))
	assert.Equal(t, clock.now.UnixMilli(), int64(1709294400000))
}

func TestStoreRejectsUncacheableResponses(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newTestCache(t)

	assert.False(t, c.Store(ctx, okResponse("e1", `{}`, types.VerificationFailed), "failed"))
	assert.False(t, c.Store(ctx, okResponse("", `{}`, types.VerificationVerified), "no-etag"))
	assert.False(t, c.Store(ctx, notModified(), "not-modified"))

	serverError := okResponse("e1", `{}`, types.VerificationNotRequested)
	serverError.StatusCode = 500
	assert.False(t, c.Store(ctx, serverError, "server-error"))

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestFailedVerificationNeverOverwritesEntry(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t)

	require.True(t, c.Store(ctx, okResponse("e1", `{"good":true}`, types.VerificationVerified), "id"))
	assert.False(t, c.Store(ctx, okResponse("e2", `{"evil":true}`, types.VerificationFailed), "id"))

	entry, ok := c.Get(ctx, "id", true)
	require.True(t, ok)
	assert.Equal(t, "e1", entry.ETag)
	assert.JSONEq(t, `{"good":true}`, string(entry.Body))
}

func TestReconcileNotModified(t *testing.T) {
	ctx := context.Background()
	c, _, clock := newTestCache(t)

	stored := okResponse("e1", `{"thing":1}`, types.VerificationVerified)
	stored.Origin = types.OriginLoadShedder
	require.True(t, c.Store(ctx, stored, "id"))

	clock.now = clock.now.Add(time.Hour)

	raw := notModified()
	raw.VerificationResult = types.VerificationVerified
	effective, ok := c.Reconcile(ctx, raw, "id", true, true)
	require.True(t, ok)

	assert.Equal(t, 200, effective.StatusCode)
	assert.JSONEq(t, `{"thing":1}`, string(effective.Body))
	assert.Equal(t, types.OriginLoadShedder, effective.Origin)
	assert.True(t, effective.IsFallback)
	assert.True(t, effective.FromCache)
	assert.True(t, effective.ValidationTime.Equal(clock.now))
	assert.Equal(t, "application/json", effective.Headers.Get(types.HeaderContentType))

	entry, ok := c.Get(ctx, "id", true)
	require.True(t, ok)
	assert.True(t, entry.ValidationTime.Equal(clock.now))
	assert.Equal(t, types.OriginLoadShedder, entry.Origin)
}

func TestReconcileWithoutEntryLeavesResponse(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t)

	raw := notModified()
	effective, ok := c.Reconcile(ctx, raw, "id", false, false)
	assert.False(t, ok)
	assert.Same(t, raw, effective)
	assert.Empty(t, effective.Body)
}

func TestReconcilePassesThroughSuccess(t *testing.T) {
	c, _, _ := newTestCache(t)
	resp := okResponse("e1", `{}`, types.VerificationNotRequested)

	effective, ok := c.Reconcile(context.Background(), resp, "id", false, false)
	assert.False(t, ok)
	assert.Same(t, resp, effective)
}

func TestVerificationRequirementHidesLooserEntries(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t)

	require.True(t, c.Store(ctx, okResponse("e1", `{}`, types.VerificationNotRequested), "id"))

	assert.Empty(t, c.HeadersForConditionalRequest(ctx, "id", true))
	assert.NotEmpty(t, c.HeadersForConditionalRequest(ctx, "id", false))

	_, ok := c.Reconcile(ctx, notModified(), "id", true, false)
	assert.False(t, ok)
}

func TestUnreadableEntryIsTreatedAsMiss(t *testing.T) {
	ctx := context.Background()
	c, store, _ := newTestCache(t)

	require.NoError(t, store.Set(ctx, responseKeyPrefix+"id", []byte("{not json")))
	assert.Empty(t, c.HeadersForConditionalRequest(ctx, "id", false))
}

func TestPruneAndClear(t *testing.T) {
	ctx := context.Background()
	c, store, clock := newTestCache(t)

	require.True(t, c.Store(ctx, okResponse("old", `{}`, types.VerificationNotRequested), "old"))
	clock.now = clock.now.Add(48 * time.Hour)
	require.True(t, c.Store(ctx, okResponse("new", `{}`, types.VerificationNotRequested), "new"))
	require.NoError(t, store.Set(ctx, "unrelated", []byte("keep")))

	removed, err := c.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok := c.Get(ctx, "old", false)
	assert.False(t, ok)
	_, ok = c.Get(ctx, "new", false)
	assert.True(t, ok)

	require.NoError(t, c.Clear(ctx))
	_, ok = c.Get(ctx, "new", false)
	assert.False(t, ok)

	_, err = store.Get(ctx, "unrelated")
	assert.NoError(t, err)
}

type attributesBody struct {
	Attributes map[string]attribute `json:"attributes"`
}

type attribute struct {
	Value     string `json:"value"`
	UpdatedAt int64  `json:"updated_at_ms"`
}

func (b attributesBody) CacheIdentityBody() interface{} {
	values := make(map[string]string, len(b.Attributes))
	for k, v := range b.Attributes {
		values[k] = v.Value
	}
	return map[string]interface{}{"attributes": values}
}

func TestIdentity(t *testing.T) {
	a, err := Identity(types.MethodPost, "/v1/receipts", map[string]interface{}{"b": 1, "a": "x"})
	require.NoError(t, err)
	b, err := Identity(types.MethodPost, "/v1/receipts", map[string]interface{}{"a": "x", "b": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := Identity(types.MethodPost, "/v1/receipts", map[string]interface{}{"a": "x", "b": 2})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	d, err := Identity(types.MethodGet, "/v1/receipts", map[string]interface{}{"a": "x", "b": 1})
	require.NoError(t, err)
	assert.NotEqual(t, a, d)

	e, err := Identity(types.MethodGet, "/v1/subscribers/a", nil)
	require.NoError(t, err)
	f, err := Identity(types.MethodGet, "/v1/subscribers/b", nil)
	require.NoError(t, err)
	assert.NotEqual(t, e, f)
}

func TestIdentityIgnoresVolatileFields(t *testing.T) {
	first := attributesBody{Attributes: map[string]attribute{"email": {Value: "a@b.c", UpdatedAt: 1}}}
	second := attributesBody{Attributes: map[string]attribute{"email": {Value: "a@b.c", UpdatedAt: 2}}}
	third := attributesBody{Attributes: map[string]attribute{"email": {Value: "x@b.c", UpdatedAt: 1}}}

	a, err := Identity(types.MethodPost, "/v1/attributes", first)
	require.NoError(t, err)
	b, err := Identity(types.MethodPost, "/v1/attributes", second)
	require.NoError(t, err)
	c, err := Identity(types.MethodPost, "/v1/attributes", third)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}
