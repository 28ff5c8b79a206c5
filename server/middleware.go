package server

import (
	"strconv"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-backend/types"
	"github.com/saiset-co/sai-backend/utils"
)

type Middleware func(next fasthttp.RequestHandler) fasthttp.RequestHandler

// Chain applies middlewares so the first one is outermost.
func Chain(handler fasthttp.RequestHandler, middlewares ...Middleware) fasthttp.RequestHandler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

func Recovery(logger types.Logger) Middleware {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.ErrorWithErrStack("Recovered from panic", utils.RecoveredError(rec),
						zap.ByteString("method", ctx.Method()),
						zap.ByteString("path", ctx.Path()))

					ctx.Error(types.ErrInternalError.Error(), fasthttp.StatusInternalServerError)
				}
			}()

			next(ctx)
		}
	}
}

func Logging(logger types.Logger) Middleware {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()

			next(ctx)

			fields := []zap.Field{
				zap.ByteString("method", ctx.Method()),
				zap.ByteString("path", ctx.Path()),
				zap.Int("status", ctx.Response.StatusCode()),
				zap.Duration("duration", time.Since(start)),
			}

			if ctx.Response.StatusCode() >= fasthttp.StatusInternalServerError {
				logger.Warn("Status request completed", fields...)
				return
			}
			logger.Debug("Status request completed", fields...)
		}
	}
}

func Instrument(metrics types.MetricsManager) Middleware {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			start := time.Now()

			next(ctx)

			route, _ := ctx.UserValue(routeUserValue).(string)
			if route == "" {
				route = "unmatched"
			}

			metrics.Counter("status_requests_total", map[string]string{
				"route":  route,
				"status": strconv.Itoa(ctx.Response.StatusCode()),
			}).Inc()
			metrics.Histogram("status_request_duration_seconds", nil, map[string]string{"route": route}).ObserveDuration(start)
		}
	}
}
