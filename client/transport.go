package client

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-backend/cache"
	"github.com/saiset-co/sai-backend/dnscheck"
	"github.com/saiset-co/sai-backend/signing"
	"github.com/saiset-co/sai-backend/types"
	"github.com/saiset-co/sai-backend/utils"
)

type State int32

const (
	StateRunning State = iota
	StateStopping
	StateStopped
)

var requestDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// Transport executes exactly one physical HTTP call per prepared request and
// classifies what came back. It has no retry loop of its own.
type Transport struct {
	logger   types.Logger
	metrics  types.MetricsManager
	client   *fasthttp.Client
	cache    *cache.ResponseCache
	verifier *signing.Verifier
	dns      *dnscheck.Checker
	timeouts *TimeoutPolicy
	state    atomic.Value
}

// backendErrorBody is the JSON shape of a structured backend failure.
type backendErrorBody struct {
	Code            int                    `json:"code"`
	Message         string                 `json:"message"`
	AttributeErrors []types.AttributeError `json:"attribute_errors"`
}

func NewTransport(
	config *types.TransportConfig,
	responseCache *cache.ResponseCache,
	verifier *signing.Verifier,
	dns *dnscheck.Checker,
	timeouts *TimeoutPolicy,
	logger types.Logger,
	metrics types.MetricsManager,
) *Transport {
	httpClient := &fasthttp.Client{
		Name:                "sai-backend",
		MaxIdleConnDuration: time.Minute,
	}

	if config != nil && config.MaxConnsPerHost > 0 {
		httpClient.MaxConnsPerHost = config.MaxConnsPerHost
	}

	t := &Transport{
		logger:   logger,
		metrics:  metrics,
		client:   httpClient,
		cache:    responseCache,
		verifier: verifier,
		dns:      dns,
		timeouts: timeouts,
	}

	t.state.Store(StateRunning)

	return t
}

// Perform sends req and returns the effective response. A 304 is answered
// from the response cache; when no compatible entry exists on the first
// attempt the error is types.ErrNotModifiedNoCache and the caller is expected
// to retry once without conditional headers.
func (t *Transport) Perform(ctx context.Context, req *PreparedRequest) (*types.Response, error) {
	if !t.IsRunning() {
		return nil, types.NewInternalError(types.ErrServerNotRunning)
	}

	if req == nil {
		return nil, types.NewInternalError(types.Errorf(types.ErrRequestBuildFailed, "prepared request is nil"))
	}

	start := time.Now()

	freq := fasthttp.AcquireRequest()
	fresp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(freq)
	defer fasthttp.ReleaseResponse(fresp)

	freq.SetRequestURI(req.URL)
	freq.Header.SetMethod(string(req.Method))
	utils.ApplyHeaders(freq, req.Headers)
	if req.Body != nil {
		freq.SetBody(req.Body)
	}

	timeout := t.timeouts.Timeout(req.Path, req.IsFallback)
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	t.logger.Debug("Sending backend request",
		zap.String("path", req.Path.Name()),
		zap.String("url", req.URL),
		zap.Bool("fallback", req.IsFallback),
		zap.Int("retry", req.RetryCount),
		zap.Duration("timeout", timeout))

	err := t.client.DoTimeout(freq, fresp, timeout)
	if err != nil {
		t.timeouts.RecordResult(req.Path, req.IsFallback, 0, err)
		t.observe(req, "network_error", start)
		return nil, t.networkError(ctx, req, err)
	}

	status := fresp.StatusCode()
	t.timeouts.RecordResult(req.Path, req.IsFallback, status, nil)

	headers := utils.ResponseHeaders(fresp)

	body, err := decodeBody(fresp, headers.Get(types.HeaderContentEncoding))
	if err != nil {
		t.observe(req, "decoding_error", start)
		return nil, types.NewDecodingError(err)
	}

	resp := &types.Response{
		StatusCode: status,
		Body:       body,
		Headers:    headers,
		RequestURL: req.URL,
		Origin:     responseOrigin(headers, req.IsFallback),
		IsFallback: req.IsFallback,
	}

	if resp.IsSuccess() || resp.IsNotModified() {
		if err := t.verify(req, resp); err != nil {
			t.observe(req, "signature_failed", start)
			return nil, err
		}
	}

	switch {
	case resp.IsNotModified():
		return t.notModified(ctx, req, resp, start)
	case status >= http.StatusBadRequest:
		t.observe(req, "backend_error", start)
		return nil, parseBackendError(status, body)
	case !resp.IsSuccess():
		t.observe(req, "unexpected", start)
		return nil, types.NewUnexpectedResponseError(status, "unexpected status")
	case len(body) == 0 && status != http.StatusNoContent:
		t.observe(req, "unexpected", start)
		return nil, types.NewUnexpectedResponseError(status, "empty response body")
	}

	if req.Path.ShouldSendETag() {
		t.cache.Store(ctx, resp, req.Identity)
	}

	t.observe(req, "success", start)

	return resp, nil
}

func (t *Transport) Close() {
	if !t.state.CompareAndSwap(StateRunning, StateStopping) {
		return
	}

	t.client.CloseIdleConnections()
	t.state.Store(StateStopped)

	t.logger.Debug("Backend transport closed")
}

func (t *Transport) IsRunning() bool {
	return t.state.Load().(State) == StateRunning
}

func (t *Transport) Timeouts() *TimeoutPolicy {
	return t.timeouts
}

func (t *Transport) networkError(ctx context.Context, req *PreparedRequest, err error) error {
	t.logger.Warn("Backend request failed",
		zap.String("path", req.Path.Name()),
		zap.String("url", req.URL),
		zap.Error(err))

	if t.dns != nil {
		checked := t.dns.Check(ctx, err, req.URL)
		if backendErr, ok := types.AsBackendError(checked); ok {
			return backendErr
		}
	}

	return types.NewOfflineError(err)
}

func (t *Transport) verify(req *PreparedRequest, resp *types.Response) error {
	body := resp.Body
	if resp.IsNotModified() {
		body = nil
	}

	result, err := t.verifier.Verify(signing.Input{
		Path:        req.Path.Name(),
		Verifiable:  req.Path.SupportsSignatureVerification(),
		Static:      req.Path.IsStatic(),
		Nonce:       req.Nonce,
		RequestTime: resp.Headers.Get(types.HeaderRequestTime),
		Signature:   resp.Headers.Get(types.HeaderSignature),
		Body:        body,
	})
	resp.VerificationResult = result

	if result == types.VerificationFailed && t.verifier.IsEnforced() {
		return types.NewSignatureVerificationError(err)
	}

	return nil
}

func (t *Transport) notModified(ctx context.Context, req *PreparedRequest, resp *types.Response, start time.Time) (*types.Response, error) {
	if req.Path.ShouldSendETag() {
		if reconciled, ok := t.cache.Reconcile(ctx, resp, req.Identity, req.RequireVerification, req.IsFallback); ok {
			t.observe(req, "not_modified", start)
			return reconciled, nil
		}
	}

	t.observe(req, "not_modified_miss", start)

	if req.RetryCount == 0 {
		return nil, types.NewNotModifiedNoCacheError(req.Path.Name())
	}

	return nil, types.NewUnexpectedResponseError(resp.StatusCode, "not modified without a cached response")
}

func (t *Transport) observe(req *PreparedRequest, outcome string, start time.Time) {
	labels := map[string]string{
		"path":    req.Path.Name(),
		"outcome": outcome,
	}

	t.metrics.Counter("backend_requests_total", labels).Inc()
	t.metrics.Histogram("backend_request_duration_seconds", requestDurationBuckets, map[string]string{
		"path": req.Path.Name(),
	}).ObserveDuration(start)
}

func responseOrigin(headers types.Headers, isFallback bool) types.Origin {
	if strings.EqualFold(headers.Get(types.HeaderOrigin), types.OriginLoadShedderValue) {
		return types.OriginLoadShedder
	}
	if isFallback {
		return types.OriginFallback
	}
	return types.OriginMain
}

// decodeBody returns a copy of the response body with any content encoding
// removed. The copy outlives the pooled fasthttp response.
func decodeBody(resp *fasthttp.Response, encoding string) ([]byte, error) {
	var (
		body []byte
		err  error
	)

	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		body = resp.Body()
	case "gzip":
		body, err = resp.BodyGunzip()
	case "br":
		body, err = io.ReadAll(brotli.NewReader(bytes.NewReader(resp.Body())))
	default:
		return nil, types.NewErrorf("unsupported content encoding: %s", encoding)
	}

	if err != nil {
		return nil, err
	}

	return append([]byte(nil), body...), nil
}

func parseBackendError(status int, body []byte) error {
	var parsed backendErrorBody
	if len(body) > 0 {
		if err := utils.Unmarshal(body, &parsed); err != nil {
			return types.NewServerError(status, 0, strings.TrimSpace(utils.BytesToString(body)), nil)
		}
	}

	if parsed.Message == "" {
		parsed.Message = http.StatusText(status)
	}

	return types.NewServerError(status, parsed.Code, parsed.Message, parsed.AttributeErrors)
}
