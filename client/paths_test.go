package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func allPaths() []Path {
	return []Path{
		GetCustomerInfoPath("user1"),
		LogInPath(),
		PostReceiptPath(),
		PostAttributesPath("user1"),
		GetOfferingsPath("user1"),
		GetProductEntitlementMappingPath(),
		PostDiagnosticsPath(),
		HealthPath(),
	}
}

func TestStaticSignatureAllowList(t *testing.T) {
	static := make([]PathKind, 0)
	for _, p := range allPaths() {
		if p.IsStatic() {
			static = append(static, p.Kind)
		}
	}

	assert.ElementsMatch(t, []PathKind{PathGetOfferings, PathGetProductEntitlementMapping}, static)
	assert.Len(t, StaticSignaturePaths, 2)
}

func TestNonceRequirement(t *testing.T) {
	tests := []struct {
		path      Path
		needNonce bool
	}{
		{GetCustomerInfoPath("u"), true},
		{LogInPath(), true},
		{PostReceiptPath(), true},
		{HealthPath(), true},
		{GetOfferingsPath("u"), false},
		{GetProductEntitlementMappingPath(), false},
		{PostAttributesPath("u"), false},
		{PostDiagnosticsPath(), false},
	}

	for _, tt := range tests {
		t.Run(tt.path.Name(), func(t *testing.T) {
			assert.Equal(t, tt.needNonce, tt.path.NeedsNonceForSigning())
		})
	}
}

func TestRelativePathEscapesUserID(t *testing.T) {
	assert.Equal(t, "/v1/subscribers/a%2Fb", GetCustomerInfoPath("a/b").RelativePath())
	assert.Equal(t, "/v1/subscribers/u1/offerings", GetOfferingsPath("u1").RelativePath())
	assert.Equal(t, "/v1/subscribers/u1/attributes", PostAttributesPath("u1").RelativePath())
	assert.Empty(t, Path{Kind: PathKind(99)}.RelativePath())
	assert.Equal(t, "unknown", Path{Kind: PathKind(99)}.Name())
}

func TestCapabilityFlags(t *testing.T) {
	assert.False(t, HealthPath().AuthenticationRequired())
	assert.True(t, GetCustomerInfoPath("u").AuthenticationRequired())

	assert.True(t, GetCustomerInfoPath("u").ShouldSendETag())
	assert.False(t, PostAttributesPath("u").ShouldSendETag())
	assert.False(t, HealthPath().ShouldSendETag())

	assert.True(t, PostDiagnosticsPath().IsDiagnostics())
	assert.False(t, PostDiagnosticsPath().SupportsSignatureVerification())
}

func TestFallbackURLs(t *testing.T) {
	bases := []string{"https://fallback-1.example.com", "https://fallback-2.example.com/"}

	assert.Equal(t, []string{
		"https://fallback-1.example.com/v1/product_entitlement_mapping",
		"https://fallback-2.example.com/v1/product_entitlement_mapping",
	}, GetProductEntitlementMappingPath().FallbackURLs(bases))

	assert.Nil(t, GetCustomerInfoPath("u").FallbackURLs(bases))
	assert.Empty(t, GetOfferingsPath("u").FallbackURLs(nil))
}
