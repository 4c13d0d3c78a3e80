package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"strings"
)

// Scheme selects the HMAC digest used for delivery signatures.
type Scheme string

const (
	SchemeSHA1   Scheme = "sha1"
	SchemeSHA256 Scheme = "sha256"
)

// SignatureHeader returns the request header carrying the signature for
// the scheme.
func (s Scheme) SignatureHeader() string {
	if s == SchemeSHA256 {
		return "X-Hub-Signature-256"
	}
	return "X-Hub-Signature"
}

// VerifySignature checks that signature matches the HMAC of rawBody keyed
// by secret. The signature is expected in the platform's
// "<scheme>=<hex>" form. It fails closed: an empty secret or signature
// never verifies. The comparison is constant time, and the HMAC is
// computed over the exact bytes received, before any JSON decoding.
func VerifySignature(rawBody []byte, signature, secret string, scheme Scheme) bool {
	if secret == "" || signature == "" {
		return false
	}

	prefix := string(scheme) + "="
	if !strings.HasPrefix(signature, prefix) {
		return false
	}
	received := strings.TrimPrefix(signature, prefix)

	var digest func() hash.Hash
	switch scheme {
	case SchemeSHA1:
		digest = sha1.New
	case SchemeSHA256:
		digest = sha256.New
	default:
		return false
	}

	mac := hmac.New(digest, []byte(secret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(received), []byte(expected))
}
