package signing

import (
	"encoding/base64"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/ed25519"

	"github.com/saiset-co/sai-backend/types"
)

// KeyProvider supplies the public key responses are verified against.
type KeyProvider interface {
	PublicKey() (ed25519.PublicKey, error)
}

type StaticKeyProvider struct {
	key ed25519.PublicKey
}

// NewStaticKeyProvider accepts a 32-byte ed25519 key encoded as standard
// base64 or hex.
func NewStaticKeyProvider(encoded string) (*StaticKeyProvider, error) {
	key, err := decodeKey(strings.TrimSpace(encoded))
	if err != nil {
		return nil, err
	}
	return &StaticKeyProvider{key: key}, nil
}

func NewKeyProviderFromKey(key ed25519.PublicKey) (*StaticKeyProvider, error) {
	if len(key) != ed25519.PublicKeySize {
		return nil, types.Errorf(types.ErrPublicKeyInvalid, "expected %d bytes, got %d", ed25519.PublicKeySize, len(key))
	}
	return &StaticKeyProvider{key: key}, nil
}

func (p *StaticKeyProvider) PublicKey() (ed25519.PublicKey, error) {
	return p.key, nil
}

func decodeKey(encoded string) (ed25519.PublicKey, error) {
	if encoded == "" {
		return nil, types.Errorf(types.ErrPublicKeyInvalid, "key is empty")
	}

	if raw, err := hex.DecodeString(encoded); err == nil && len(raw) == ed25519.PublicKeySize {
		return ed25519.PublicKey(raw), nil
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, types.Errorf(types.ErrPublicKeyInvalid, "%v", err)
	}

	if len(raw) != ed25519.PublicKeySize {
		return nil, types.Errorf(types.ErrPublicKeyInvalid, "expected %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}

	return ed25519.PublicKey(raw), nil
}
