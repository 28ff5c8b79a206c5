package signing

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"

	"go.uber.org/zap"
	"golang.org/x/crypto/ed25519"

	"github.com/saiset-co/sai-backend/types"
)

const NonceSize = 12

// Input is everything a single verification needs. Verifiable and Static
// come from the request path; the rest from the exchange itself.
type Input struct {
	Path        string
	Verifiable  bool
	Static      bool
	Nonce       []byte
	RequestTime string
	Signature   string
	Body        []byte
}

type Verifier struct {
	mode          types.VerificationMode
	keys          KeyProvider
	forceFailures bool
	logger        types.Logger
}

func NewVerifier(config *types.VerificationConfig, keys KeyProvider, logger types.Logger) (*Verifier, error) {
	if config == nil {
		config = &types.VerificationConfig{Mode: types.VerificationDisabled}
	}

	mode := config.Mode
	if mode == "" {
		mode = types.VerificationDisabled
	}

	switch mode {
	case types.VerificationDisabled:
	case types.VerificationInformational, types.VerificationEnforced:
		if keys == nil {
			return nil, types.Errorf(types.ErrPublicKeyInvalid, "mode %s needs a public key", mode)
		}
		if _, err := keys.PublicKey(); err != nil {
			return nil, err
		}
	default:
		return nil, types.Errorf(types.ErrVerificationModeUnset, "mode: %s", mode)
	}

	return &Verifier{
		mode:          mode,
		keys:          keys,
		forceFailures: config.ForceFailures,
		logger:        logger,
	}, nil
}

func (v *Verifier) Mode() types.VerificationMode {
	return v.mode
}

func (v *Verifier) IsEnabled() bool {
	return v.mode.IsEnabled()
}

func (v *Verifier) IsEnforced() bool {
	return v.mode == types.VerificationEnforced
}

// RequiresVerification is the requirement passed to cache reads for a path.
func (v *Verifier) RequiresVerification(pathVerifiable bool) bool {
	return v.IsEnabled() && pathVerifiable
}

// Verify checks the signature of one response. A failed result comes with
// the reason as error; NotRequested and Verified return nil.
func (v *Verifier) Verify(in Input) (types.VerificationResult, error) {
	if !v.IsEnabled() || !in.Verifiable {
		return types.VerificationNotRequested, nil
	}

	err := v.check(in)
	if err == nil && v.forceFailures {
		err = types.ErrSignatureForced
	}

	if err != nil {
		v.logFailure(in, err)
		return types.VerificationFailed, err
	}

	return types.VerificationVerified, nil
}

func (v *Verifier) check(in Input) error {
	if in.Signature == "" {
		return types.ErrSignatureMissing
	}

	if !in.Static && len(in.Nonce) == 0 {
		return types.ErrNonceMissing
	}

	if in.RequestTime == "" {
		return types.ErrRequestTimeMissing
	}

	signature, err := base64.StdEncoding.DecodeString(in.Signature)
	if err != nil {
		return types.Errorf(types.ErrSignatureMalformed, "%v", err)
	}

	if len(signature) != ed25519.SignatureSize {
		return types.Errorf(types.ErrSignatureMalformed, "expected %d bytes, got %d", ed25519.SignatureSize, len(signature))
	}

	key, err := v.keys.PublicKey()
	if err != nil {
		return err
	}

	if !ed25519.Verify(key, Message(in.Nonce, in.RequestTime, in.Body), signature) {
		return types.ErrSignatureInvalid
	}

	return nil
}

func (v *Verifier) logFailure(in Input, err error) {
	fields := []zap.Field{
		zap.String("path", in.Path),
		zap.String("mode", string(v.mode)),
		zap.Error(err),
	}

	// Static responses may legitimately arrive unsigned.
	if in.Static && types.IsError(err, types.ErrSignatureMissing) {
		v.logger.Debug("Signature missing on static response", fields...)
		return
	}

	v.logger.Warn("Signature verification failed", fields...)
}

// Message is the byte string the backend signs: nonce, request time and
// body, concatenated. The body is empty for not-modified responses.
func Message(nonce []byte, requestTime string, body []byte) []byte {
	var b bytes.Buffer
	b.Grow(len(nonce) + len(requestTime) + len(body))
	b.Write(nonce)
	b.WriteString(requestTime)
	b.Write(body)
	return b.Bytes()
}

// Sign produces the X-Signature header value for a response.
func Sign(key ed25519.PrivateKey, nonce []byte, requestTime string, body []byte) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(key, Message(nonce, requestTime, body)))
}

func NewNonce() ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, types.WrapError(err, "failed to generate nonce")
	}
	return nonce, nil
}

func EncodeNonce(nonce []byte) string {
	return base64.StdEncoding.EncodeToString(nonce)
}

func DecodeNonce(encoded string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(encoded)
}
