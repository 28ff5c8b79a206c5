package client

import (
	"context"
	"strconv"

	"github.com/google/uuid"

	"github.com/saiset-co/sai-backend/cache"
	"github.com/saiset-co/sai-backend/signing"
	"github.com/saiset-co/sai-backend/types"
	"github.com/saiset-co/sai-backend/utils"
)

// Request is one logical call. Its nonce is generated on first preparation
// and reused for every physical attempt.
type Request struct {
	Method types.HTTPMethod
	Path   Path
	Body   interface{}
	Nonce  []byte
}

func NewRequest(method types.HTTPMethod, path Path, body interface{}) *Request {
	return &Request{Method: method, Path: path, Body: body}
}

type PrepareOptions struct {
	// URL replaces the computed request URL, BaseURL only its base.
	URL        string
	BaseURL    string
	IsFallback bool
	RetryCount int
	// SkipConditional drops the ETag headers, used by the single retry
	// after an unanswerable not-modified response.
	SkipConditional bool
}

type PreparedRequest struct {
	Method              types.HTTPMethod
	URL                 string
	Path                Path
	Headers             types.Headers
	Body                []byte
	Nonce               []byte
	Identity            string
	IsFallback          bool
	RetryCount          int
	RequireVerification bool
}

type RequestBuilder struct {
	config   *types.BackendConfig
	cache    *cache.ResponseCache
	verifier *signing.Verifier
}

func NewRequestBuilder(config *types.BackendConfig, responseCache *cache.ResponseCache, verifier *signing.Verifier) *RequestBuilder {
	return &RequestBuilder{
		config:   config,
		cache:    responseCache,
		verifier: verifier,
	}
}

func (b *RequestBuilder) Prepare(ctx context.Context, req *Request, opts PrepareOptions) (*PreparedRequest, error) {
	if req == nil {
		return nil, types.NewInternalError(types.Errorf(types.ErrRequestBuildFailed, "request is nil"))
	}

	relative := req.Path.RelativePath()
	if relative == "" {
		return nil, types.NewInternalError(types.Errorf(types.ErrUnknownPath, "kind %d", req.Path.Kind))
	}

	var body []byte
	if req.Body != nil {
		encoded, err := utils.Marshal(req.Body)
		if err != nil {
			return nil, types.NewInternalError(types.Errorf(types.ErrRequestBuildFailed, "encode body: %v", err))
		}
		body = encoded
	}

	identity, err := cache.Identity(req.Method, relative, req.Body)
	if err != nil {
		return nil, types.NewInternalError(types.Errorf(types.ErrRequestBuildFailed, "identity: %v", err))
	}

	base := opts.BaseURL
	if base == "" {
		base = b.config.BaseURL
	}

	requireVerification := b.verifier.RequiresVerification(req.Path.SupportsSignatureVerification())

	if req.Nonce == nil && b.verifier.IsEnabled() && req.Path.NeedsNonceForSigning() {
		nonce, err := signing.NewNonce()
		if err != nil {
			return nil, types.NewInternalError(types.Errorf(types.ErrRequestBuildFailed, "%v", err))
		}
		req.Nonce = nonce
	}

	headers := b.defaultHeaders()
	if req.Path.AuthenticationRequired() {
		headers.Set(types.HeaderAuthorization, "Bearer "+b.config.APIKey)
	}
	if body != nil {
		headers.Set(types.HeaderContentType, "application/json")
	}
	if req.Nonce != nil {
		headers.Set(types.HeaderNonce, signing.EncodeNonce(req.Nonce))
	}
	if opts.IsFallback {
		headers.Set(types.HeaderIsFallback, "true")
	}
	if opts.RetryCount > 0 {
		headers.Set(types.HeaderRetryCount, strconv.Itoa(opts.RetryCount))
	}
	if req.Path.ShouldSendETag() && !opts.SkipConditional {
		headers.Merge(b.cache.HeadersForConditionalRequest(ctx, identity, requireVerification))
	}

	target := opts.URL
	if target == "" {
		target = utils.JoinURL(base, relative)
	}

	return &PreparedRequest{
		Method:              req.Method,
		URL:                 target,
		Path:                req.Path,
		Headers:             headers,
		Body:                body,
		Nonce:               req.Nonce,
		Identity:            identity,
		IsFallback:          opts.IsFallback,
		RetryCount:          opts.RetryCount,
		RequireVerification: requireVerification,
	}, nil
}

func (b *RequestBuilder) defaultHeaders() types.Headers {
	headers := types.NewHeaders()
	headers.Set(types.HeaderPlatform, b.config.Platform)
	headers.Set(types.HeaderPlatformVersion, b.config.PlatformVersion)
	headers.Set(types.HeaderClientVersion, b.config.ClientVersion)
	headers.Set(types.HeaderBundleID, b.config.BundleID)
	headers.Set(types.HeaderObserverMode, strconv.FormatBool(b.config.ObserverMode))
	headers.Set(types.HeaderAcceptEncoding, "gzip, br")
	headers.Set(types.HeaderRequestID, uuid.NewString())
	return headers
}
