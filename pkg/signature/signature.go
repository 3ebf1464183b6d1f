// Package signature verifies keyed-hash signatures of inbound webhook bodies.
package signature

import (
	"crypto/hmac"
	"crypto/sha1" //nolint:gosec // some providers still sign with sha1
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"hash"
	"strings"
)

// Algorithm names accepted in webhook configuration.
const (
	AlgorithmSHA1   = "sha1"
	AlgorithmSHA256 = "sha256"
	AlgorithmSHA512 = "sha512"
)

// Encodings of the signature value.
const (
	EncodingHex    = "hex"
	EncodingBase64 = "base64"
)

// Reasons reported alongside an invalid or skipped verification.
const (
	ReasonSkipped          = "skipped: no secret configured"
	ReasonMissingSignature = "missing signature"
	ReasonMalformed        = "malformed signature"
	ReasonMismatch         = "signature mismatch"
	ReasonUnsupported      = "unsupported algorithm"
)

var ErrUnsupportedAlgorithm = errors.New("unsupported signature algorithm")

// Options select the hash and signature encoding. Zero values mean sha256 and hex.
type Options struct {
	Algorithm string
	Encoding  string
}

// Result of a verification.
type Result struct {
	Valid  bool
	Reason string
}

// Verify checks provided against an HMAC of body keyed with secret.
// An empty secret skips verification; a missing signature with a secret fails.
func Verify(body []byte, provided, secret string, opts Options) Result {
	if secret == "" {
		return Result{Valid: true, Reason: ReasonSkipped}
	}

	provided = strings.TrimSpace(provided)
	if provided == "" {
		return Result{Valid: false, Reason: ReasonMissingSignature}
	}

	algorithm := opts.Algorithm
	if algorithm == "" {
		algorithm = AlgorithmSHA256
	}

	newHash, err := hashFunc(algorithm)
	if err != nil {
		return Result{Valid: false, Reason: ReasonUnsupported}
	}

	// Accept "sha256=<sig>" as sent by GitHub, Meta and others.
	provided = strings.TrimPrefix(provided, algorithm+"=")

	decoded, err := decode(provided, opts.Encoding)
	if err != nil {
		return Result{Valid: false, Reason: ReasonMalformed}
	}

	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)

	if !hmac.Equal(decoded, mac.Sum(nil)) {
		return Result{Valid: false, Reason: ReasonMismatch}
	}

	return Result{Valid: true}
}

// Sign computes the signature Verify expects, encoded per opts.
func Sign(body []byte, secret string, opts Options) (string, error) {
	algorithm := opts.Algorithm
	if algorithm == "" {
		algorithm = AlgorithmSHA256
	}

	newHash, err := hashFunc(algorithm)
	if err != nil {
		return "", err
	}

	mac := hmac.New(newHash, []byte(secret))
	mac.Write(body)

	if opts.Encoding == EncodingBase64 {
		return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
	}

	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyMeta validates Meta's X-Hub-Signature-256 header ("sha256=<hex>") against the app secret.
// Unlike Verify it never skips: Meta deliveries are always signed.
func VerifyMeta(body []byte, header, appSecret string) Result {
	if appSecret == "" {
		return Result{Valid: false, Reason: ReasonMissingSignature}
	}

	if !strings.HasPrefix(header, AlgorithmSHA256+"=") {
		if header == "" {
			return Result{Valid: false, Reason: ReasonMissingSignature}
		}

		return Result{Valid: false, Reason: ReasonMalformed}
	}

	return Verify(body, header, appSecret, Options{Algorithm: AlgorithmSHA256, Encoding: EncodingHex})
}

func hashFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToLower(algorithm) {
	case AlgorithmSHA1:
		return sha1.New, nil
	case AlgorithmSHA256:
		return sha256.New, nil
	case AlgorithmSHA512:
		return sha512.New, nil
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}

func decode(value, encoding string) ([]byte, error) {
	if encoding == EncodingBase64 {
		decoded, err := base64.StdEncoding.DecodeString(value)
		if err != nil {
			return base64.RawURLEncoding.DecodeString(strings.TrimRight(value, "="))
		}

		return decoded, nil
	}

	return hex.DecodeString(strings.ToLower(value))
}
