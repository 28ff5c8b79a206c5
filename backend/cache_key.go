package backend

import (
	"strings"

	"github.com/saiset-co/sai-backend/cache"
	"github.com/saiset-co/sai-backend/client"
	"github.com/saiset-co/sai-backend/types"
)

// CacheKey identifies a logical request for deduplication. Logically
// equivalent requests share a key; requests whose side effects differ never
// do.
type CacheKey string

const (
	opGetCustomerInfo              = "getCustomerInfo"
	opGetOfferings                 = "getOfferings"
	opGetProductEntitlementMapping = "getProductEntitlementMapping"
	opLogIn                        = "logIn"
	opPostReceipt                  = "postReceipt"
	opPostAttributes               = "postAttributes"
	opPostDiagnostics              = "postDiagnostics"
	opHealthCheck                  = "healthCheck"
)

func NewCacheKey(operation string, parts ...string) CacheKey {
	if len(parts) == 0 {
		return CacheKey(operation)
	}
	return CacheKey(operation + ":" + strings.Join(parts, ":"))
}

// bodyCacheKey keys a request by its normalized body, so only the fields
// that change what the backend does take part.
func bodyCacheKey(operation string, req *client.Request, parts ...string) (CacheKey, error) {
	identity, err := cache.Identity(req.Method, req.Path.RelativePath(), req.Body)
	if err != nil {
		return "", types.NewInternalError(types.Errorf(types.ErrRequestBuildFailed, "%s key: %v", operation, err))
	}
	return NewCacheKey(operation, append(parts, identity)...), nil
}

func (k CacheKey) String() string {
	return string(k)
}
