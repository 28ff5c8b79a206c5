package signing

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ed25519"

	"github.com/saiset-co/sai-backend/logger"
	"github.com/saiset-co/sai-backend/types"
)

func newKeyPair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return pub, priv
}

func newVerifier(t *testing.T, mode types.VerificationMode, force bool) (*Verifier, ed25519.PrivateKey) {
	t.Helper()
	pub, priv := newKeyPair(t)
	keys, err := NewKeyProviderFromKey(pub)
	require.NoError(t, err)

	v, err := NewVerifier(&types.VerificationConfig{Mode: mode, ForceFailures: force}, keys, logger.NewNop())
	require.NoError(t, err)
	return v, priv
}

func signedInput(t *testing.T, priv ed25519.PrivateKey, body string) Input {
	t.Helper()
	nonce, err := NewNonce()
	require.NoError(t, err)

	return Input{
		Path:        "/v1/subscribers/user1",
		Verifiable:  true,
		Nonce:       nonce,
		RequestTime: "1709294400000",
		Signature:   Sign(priv, nonce, "1709294400000", []byte(body)),
		Body:        []byte(body),
	}
}

func TestVerifySignedResponse(t *testing.T) {
	v, priv := newVerifier(t, types.VerificationEnforced, false)

	result, err := v.Verify(signedInput(t, priv, `{"subscriber":{}}`))
	require.NoError(t, err)
	assert.Equal(t, types.VerificationVerified, result)
}

func TestVerifyNotModifiedUsesEmptyBody(t *testing.T) {
	v, priv := newVerifier(t, types.VerificationEnforced, false)

	in := signedInput(t, priv, "")
	in.Body = nil
	result, err := v.Verify(in)
	require.NoError(t, err)
	assert.Equal(t, types.VerificationVerified, result)
}

func TestVerifyFailures(t *testing.T) {
	v, priv := newVerifier(t, types.VerificationInformational, false)

	tampered := signedInput(t, priv, `{"a":1}`)
	tampered.Body = []byte(`{"a":2}`)

	otherNonce := signedInput(t, priv, `{"a":1}`)
	otherNonce.Nonce = []byte("abcdefghijkl")

	missing := signedInput(t, priv, `{"a":1}`)
	missing.Signature = ""

	malformed := signedInput(t, priv, `{"a":1}`)
	malformed.Signature = "%%%"

	short := signedInput(t, priv, `{"a":1}`)
	short.Signature = base64.StdEncoding.EncodeToString([]byte("short"))

	noNonce := signedInput(t, priv, `{"a":1}`)
	noNonce.Nonce = nil

	noTime := signedInput(t, priv, `{"a":1}`)
	noTime.RequestTime = ""

	cases := map[string]struct {
		in  Input
		err error
	}{
		"tampered body": {tampered, types.ErrSignatureInvalid},
		"other nonce":   {otherNonce, types.ErrSignatureInvalid},
		"missing":       {missing, types.ErrSignatureMissing},
		"malformed":     {malformed, types.ErrSignatureMalformed},
		"short":         {short, types.ErrSignatureMalformed},
		"no nonce":      {noNonce, types.ErrNonceMissing},
		"no time":       {noTime, types.ErrRequestTimeMissing},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			result, err := v.Verify(tc.in)
			assert.Equal(t, types.VerificationFailed, result)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestStaticPathsVerifyWithoutNonce(t *testing.T) {
	v, priv := newVerifier(t, types.VerificationEnforced, false)

	in := Input{
		Path:        "/v1/product_entitlement_mapping",
		Verifiable:  true,
		Static:      true,
		RequestTime: "1709294400000",
		Body:        []byte(`{"products":{}}`),
	}
	in.Signature = Sign(priv, nil, in.RequestTime, in.Body)

	result, err := v.Verify(in)
	require.NoError(t, err)
	assert.Equal(t, types.VerificationVerified, result)

	in.Signature = ""
	result, err = v.Verify(in)
	assert.Equal(t, types.VerificationFailed, result)
	assert.ErrorIs(t, err, types.ErrSignatureMissing)
}

func TestNotRequested(t *testing.T) {
	disabled, priv := newVerifier(t, types.VerificationDisabled, false)
	result, err := disabled.Verify(signedInput(t, priv, "{}"))
	require.NoError(t, err)
	assert.Equal(t, types.VerificationNotRequested, result)

	enforced, _ := newVerifier(t, types.VerificationEnforced, false)
	result, err = enforced.Verify(Input{Verifiable: false})
	require.NoError(t, err)
	assert.Equal(t, types.VerificationNotRequested, result)
}

func TestForcedFailuresUseFailurePath(t *testing.T) {
	v, priv := newVerifier(t, types.VerificationEnforced, true)

	result, err := v.Verify(signedInput(t, priv, `{"ok":true}`))
	assert.Equal(t, types.VerificationFailed, result)
	assert.ErrorIs(t, err, types.ErrSignatureForced)
}

func TestRequiresVerification(t *testing.T) {
	enforced, _ := newVerifier(t, types.VerificationEnforced, false)
	disabled, _ := newVerifier(t, types.VerificationDisabled, false)

	assert.True(t, enforced.RequiresVerification(true))
	assert.False(t, enforced.RequiresVerification(false))
	assert.False(t, disabled.RequiresVerification(true))
}

func TestNewVerifierValidation(t *testing.T) {
	_, err := NewVerifier(&types.VerificationConfig{Mode: types.VerificationEnforced}, nil, logger.NewNop())
	assert.ErrorIs(t, err, types.ErrPublicKeyInvalid)

	_, err = NewVerifier(&types.VerificationConfig{Mode: "strict"}, nil, logger.NewNop())
	assert.ErrorIs(t, err, types.ErrVerificationModeUnset)

	v, err := NewVerifier(nil, nil, logger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, types.VerificationDisabled, v.Mode())
}

func TestStaticKeyProviderEncodings(t *testing.T) {
	pub, _ := newKeyPair(t)

	fromBase64, err := NewStaticKeyProvider(base64.StdEncoding.EncodeToString(pub))
	require.NoError(t, err)
	key, _ := fromBase64.PublicKey()
	assert.Equal(t, pub, key)

	fromHex, err := NewStaticKeyProvider(hex.EncodeToString(pub))
	require.NoError(t, err)
	key, _ = fromHex.PublicKey()
	assert.Equal(t, pub, key)

	_, err = NewStaticKeyProvider("c2hvcnQ=")
	assert.ErrorIs(t, err, types.ErrPublicKeyInvalid)
	_, err = NewStaticKeyProvider("")
	assert.ErrorIs(t, err, types.ErrPublicKeyInvalid)
}

func TestNonceRoundTrip(t *testing.T) {
	nonce, err := NewNonce()
	require.NoError(t, err)
	assert.Len(t, nonce, NonceSize)

	decoded, err := DecodeNonce(EncodeNonce(nonce))
	require.NoError(t, err)
	assert.Equal(t, nonce, decoded)
}
