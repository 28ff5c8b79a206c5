package backend

import (
	"context"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-backend/client"
	"github.com/saiset-co/sai-backend/types"
)

// executor turns one logical request into the physical attempts it needs:
// the primary call, the single retry after an unanswerable 304, and the
// fallback URLs when the primary backend is unreachable or failing.
type executor struct {
	builder   *client.RequestBuilder
	transport *client.Transport
	config    *types.BackendConfig
	logger    types.Logger
	metrics   types.MetricsManager
}

func (e *executor) execute(ctx context.Context, req *client.Request) (*types.Response, error) {
	opts := client.PrepareOptions{}
	if req.Path.IsDiagnostics() && e.config.DiagnosticsURL != "" {
		opts.BaseURL = e.config.DiagnosticsURL
	}

	resp, err := e.attempt(ctx, req, opts)
	if err == nil || !req.Path.SupportsFallback() || !shouldFallback(err) {
		return resp, err
	}

	for _, url := range req.Path.FallbackURLs(e.config.FallbackURLs) {
		e.logger.Info("Trying fallback URL",
			zap.String("path", req.Path.Name()),
			zap.String("url", url),
			zap.NamedError("primary_error", err))

		fallbackResp, fallbackErr := e.attempt(ctx, req, client.PrepareOptions{URL: url, IsFallback: true})
		if fallbackErr == nil {
			e.countFallback(req.Path, "success")
			return fallbackResp, nil
		}

		e.countFallback(req.Path, "error")
		e.logger.Warn("Fallback URL failed",
			zap.String("path", req.Path.Name()),
			zap.String("url", url),
			zap.Error(fallbackErr))
	}

	return nil, err
}

func (e *executor) attempt(ctx context.Context, req *client.Request, opts client.PrepareOptions) (*types.Response, error) {
	prepared, err := e.builder.Prepare(ctx, req, opts)
	if err != nil {
		return nil, err
	}

	resp, err := e.transport.Perform(ctx, prepared)
	if !types.IsError(err, types.ErrNotModifiedNoCache) {
		return resp, err
	}

	e.logger.Debug("Not modified without a cached response, retrying unconditionally",
		zap.String("path", req.Path.Name()))

	opts.RetryCount = 1
	opts.SkipConditional = true

	prepared, err = e.builder.Prepare(ctx, req, opts)
	if err != nil {
		return nil, err
	}

	return e.transport.Perform(ctx, prepared)
}

func (e *executor) countFallback(path client.Path, result string) {
	e.metrics.Counter("backend_fallback_attempts_total", map[string]string{
		"path":   path.Name(),
		"result": result,
	}).Inc()
}

// shouldFallback reports primary failures a fallback host can help with.
func shouldFallback(err error) bool {
	backendErr, ok := types.AsBackendError(err)
	if !ok {
		return false
	}

	switch backendErr.Kind {
	case types.KindOffline, types.KindDNSBlocked:
		return true
	case types.KindServer:
		return backendErr.IsServerDown()
	default:
		return false
	}
}
