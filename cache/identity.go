package cache

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/saiset-co/sai-backend/types"
	"github.com/saiset-co/sai-backend/utils"
)

// Identity derives the response cache key for a request. Bodies are
// canonicalized (sorted keys) so field order never changes the key, and
// bodies implementing types.CacheIdentityProvider contribute only their
// identity projection.
func Identity(method types.HTTPMethod, path string, body interface{}) (string, error) {
	if provider, ok := body.(types.CacheIdentityProvider); ok {
		body = provider.CacheIdentityBody()
	}

	canonical, err := utils.MarshalCanonical(body)
	if err != nil {
		return "", types.WrapError(err, "failed to canonicalize request body")
	}

	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(canonical)

	return hex.EncodeToString(h.Sum(nil)), nil
}
