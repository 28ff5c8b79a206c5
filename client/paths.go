package client

import (
	"net/url"

	"github.com/saiset-co/sai-backend/utils"
)

type PathKind int

const (
	PathGetCustomerInfo PathKind = iota
	PathLogIn
	PathPostReceipt
	PathPostAttributes
	PathGetOfferings
	PathGetProductEntitlementMapping
	PathPostDiagnostics
	PathHealth
)

// StaticSignaturePaths support signature verification without a per-request
// nonce: their responses do not depend on who asks.
var StaticSignaturePaths = map[PathKind]struct{}{
	PathGetOfferings:                 {},
	PathGetProductEntitlementMapping: {},
}

// Path identifies one backend endpoint. The set is closed; values are built
// with the constructors below.
type Path struct {
	Kind      PathKind
	AppUserID string
}

func GetCustomerInfoPath(appUserID string) Path {
	return Path{Kind: PathGetCustomerInfo, AppUserID: appUserID}
}

func LogInPath() Path {
	return Path{Kind: PathLogIn}
}

func PostReceiptPath() Path {
	return Path{Kind: PathPostReceipt}
}

func PostAttributesPath(appUserID string) Path {
	return Path{Kind: PathPostAttributes, AppUserID: appUserID}
}

func GetOfferingsPath(appUserID string) Path {
	return Path{Kind: PathGetOfferings, AppUserID: appUserID}
}

func GetProductEntitlementMappingPath() Path {
	return Path{Kind: PathGetProductEntitlementMapping}
}

func PostDiagnosticsPath() Path {
	return Path{Kind: PathPostDiagnostics}
}

func HealthPath() Path {
	return Path{Kind: PathHealth}
}

func (p Path) Name() string {
	switch p.Kind {
	case PathGetCustomerInfo:
		return "get_customer_info"
	case PathLogIn:
		return "log_in"
	case PathPostReceipt:
		return "post_receipt"
	case PathPostAttributes:
		return "post_attributes"
	case PathGetOfferings:
		return "get_offerings"
	case PathGetProductEntitlementMapping:
		return "get_product_entitlement_mapping"
	case PathPostDiagnostics:
		return "post_diagnostics"
	case PathHealth:
		return "health"
	default:
		return "unknown"
	}
}

// RelativePath is the URL path below the base URL.
func (p Path) RelativePath() string {
	user := url.PathEscape(p.AppUserID)

	switch p.Kind {
	case PathGetCustomerInfo:
		return "/v1/subscribers/" + user
	case PathLogIn:
		return "/v1/subscribers/identify"
	case PathPostReceipt:
		return "/v1/receipts"
	case PathPostAttributes:
		return "/v1/subscribers/" + user + "/attributes"
	case PathGetOfferings:
		return "/v1/subscribers/" + user + "/offerings"
	case PathGetProductEntitlementMapping:
		return "/v1/product_entitlement_mapping"
	case PathPostDiagnostics:
		return "/v1/diagnostics"
	case PathHealth:
		return "/v1/health"
	default:
		return ""
	}
}

func (p Path) AuthenticationRequired() bool {
	return p.Kind != PathHealth
}

// ShouldSendETag reports whether the path takes part in response caching.
func (p Path) ShouldSendETag() bool {
	switch p.Kind {
	case PathGetCustomerInfo, PathLogIn, PathPostReceipt, PathGetOfferings, PathGetProductEntitlementMapping:
		return true
	default:
		return false
	}
}

func (p Path) SupportsSignatureVerification() bool {
	switch p.Kind {
	case PathGetCustomerInfo, PathLogIn, PathPostReceipt, PathGetOfferings, PathGetProductEntitlementMapping, PathHealth:
		return true
	default:
		return false
	}
}

func (p Path) IsStatic() bool {
	_, ok := StaticSignaturePaths[p.Kind]
	return ok
}

func (p Path) NeedsNonceForSigning() bool {
	return p.SupportsSignatureVerification() && !p.IsStatic()
}

func (p Path) SupportsFallback() bool {
	return p.Kind == PathGetOfferings || p.Kind == PathGetProductEntitlementMapping
}

// FallbackURLs lists the absolute fallback URLs for the path, one per
// configured fallback base, in order.
func (p Path) FallbackURLs(bases []string) []string {
	if !p.SupportsFallback() {
		return nil
	}

	urls := make([]string, 0, len(bases))
	for _, base := range bases {
		urls = append(urls, utils.JoinURL(base, p.RelativePath()))
	}
	return urls
}

func (p Path) IsDiagnostics() bool {
	return p.Kind == PathPostDiagnostics
}
