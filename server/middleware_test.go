package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/saiset-co/sai-backend/logger"
	"github.com/saiset-co/sai-backend/metrics"
)

func TestChainOrder(t *testing.T) {
	var calls []string
	mark := func(name string) Middleware {
		return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
			return func(ctx *fasthttp.RequestCtx) {
				calls = append(calls, name)
				next(ctx)
			}
		}
	}

	handler := Chain(func(*fasthttp.RequestCtx) { calls = append(calls, "handler") }, mark("outer"), mark("inner"))
	handler(&fasthttp.RequestCtx{})

	assert.Equal(t, []string{"outer", "inner", "handler"}, calls)
}

func TestRecoveryTurnsPanicIntoServerError(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := Chain(func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString("partial")
		panic("boom")
	}, Recovery(logger.NewZapWrapper(zap.New(core))))

	ctx := &fasthttp.RequestCtx{}
	ctx.Request.SetRequestURI("/health")

	assert.NotPanics(t, func() { handler(ctx) })
	assert.Equal(t, fasthttp.StatusInternalServerError, ctx.Response.StatusCode())
	assert.NotContains(t, string(ctx.Response.Body()), "partial")

	entries := logs.FilterMessage("Recovered from panic").All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Contains(t, fields["error"], "boom")
		assert.Equal(t, "/health", fields["path"])
		assert.NotEmpty(t, fields["stack"])
	}
}

func TestInstrumentLabelsByRoute(t *testing.T) {
	m := metrics.NewMemoryMetrics()
	handler := Chain(func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) == HealthPath {
			ctx.SetUserValue(routeUserValue, routeKey(fasthttp.MethodGet, HealthPath))
			return
		}
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}, Instrument(m))

	for _, path := range []string{HealthPath, HealthPath, "/nope"} {
		ctx := &fasthttp.RequestCtx{}
		ctx.Request.SetRequestURI(path)
		handler(ctx)
	}

	assert.Equal(t, 2.0, m.Counter("status_requests_total", map[string]string{"route": "GET:/health", "status": "200"}).Get())
	assert.Equal(t, 1.0, m.Counter("status_requests_total", map[string]string{"route": "unmatched", "status": "404"}).Get())
	assert.Equal(t, uint64(2), m.Histogram("status_request_duration_seconds", nil, map[string]string{"route": "GET:/health"}).GetCount())
}
