// Package signature implements the signing primitives used by the eAPI
// client: keyed signers and verifiers over canonical strings, transport
// encoding of signatures and loading of PEM key material.
package signature

import (
	"bytes"
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	_ "crypto/sha1"
	_ "crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"os"

	canonicaljson "github.com/gibson042/canonicaljson-go"
)

// ErrMissingKey is returned when a signer or verifier has no key configured.
var ErrMissingKey = errors.New("signature: missing key")

// Signer produces the base64 transport form of a signature over a canonical string.
type Signer interface {
	Sign(canonical string) (string, error)
}

// Verifier checks a base64 signature against a canonical string. A signature
// that does not match returns false and a nil error; errors are reserved for
// malformed input such as corrupt encoding or a missing key.
type Verifier interface {
	Verify(canonical, signature string) (bool, error)
}

// SignerFunc lifts bare functions into [Signer].
type SignerFunc func(canonical string) (string, error)

// Sign delegates to the wrapped function.
func (f SignerFunc) Sign(canonical string) (string, error) {
	return f(canonical)
}

// VerifierFunc lifts bare functions into [Verifier].
type VerifierFunc func(canonical, signature string) (bool, error)

// Verify delegates to the wrapped function.
func (f VerifierFunc) Verify(canonical, signature string) (bool, error) {
	return f(canonical, signature)
}

// RSASigner signs with RSASSA-PKCS1-v1_5, which is deterministic for a given
// key, hash and input.
type RSASigner struct {
	Key  *rsa.PrivateKey
	Hash crypto.Hash
}

// Sign implements [Signer].
func (s RSASigner) Sign(canonical string) (string, error) {
	if s.Key == nil {
		return "", ErrMissingKey
	}
	digest, err := sum(s.Hash, []byte(canonical))
	if err != nil {
		return "", err
	}
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.Key, s.Hash, digest)
	if err != nil {
		return "", fmt.Errorf("signature: sign: %w", err)
	}
	return Encode(sig), nil
}

// RSAVerifier validates RSASSA-PKCS1-v1_5 signatures with the gateway public key.
type RSAVerifier struct {
	Key  *rsa.PublicKey
	Hash crypto.Hash
}

// Verify implements [Verifier].
func (v RSAVerifier) Verify(canonical, signature string) (bool, error) {
	if v.Key == nil {
		return false, ErrMissingKey
	}
	raw, err := Decode(signature)
	if err != nil {
		return false, err
	}
	digest, err := sum(v.Hash, []byte(canonical))
	if err != nil {
		return false, err
	}
	return rsa.VerifyPKCS1v15(v.Key, v.Hash, digest, raw) == nil, nil
}

// HMACSigner computes a keyed hash over the canonical string. The same value
// serves as [Signer] and [Verifier] for deployments sharing a secret.
type HMACSigner struct {
	Key  []byte
	Hash crypto.Hash
}

// Sign implements [Signer].
func (h HMACSigner) Sign(canonical string) (string, error) {
	mac, err := h.mac([]byte(canonical))
	if err != nil {
		return "", err
	}
	return Encode(mac), nil
}

// Verify implements [Verifier] by recomputing the expected keyed hash.
func (h HMACSigner) Verify(canonical, signature string) (bool, error) {
	decoded, err := Decode(signature)
	if err != nil {
		return false, err
	}
	expected, err := h.mac([]byte(canonical))
	if err != nil {
		return false, err
	}
	return hmac.Equal(decoded, expected), nil
}

func (h HMACSigner) mac(data []byte) ([]byte, error) {
	if len(h.Key) == 0 {
		return nil, ErrMissingKey
	}
	hash := h.Hash
	if hash == 0 {
		hash = crypto.SHA256
	}
	if !hash.Available() {
		return nil, fmt.Errorf("signature: hash %s unavailable", hash)
	}
	m := hmac.New(hash.New, h.Key)
	if _, err := m.Write(data); err != nil {
		return nil, fmt.Errorf("signature: compute signature: %w", err)
	}
	return m.Sum(nil), nil
}

func sum(hash crypto.Hash, data []byte) ([]byte, error) {
	if hash == 0 || !hash.Available() {
		return nil, fmt.Errorf("signature: hash %s unavailable", hash)
	}
	h := hash.New()
	_, _ = h.Write(data)
	return h.Sum(nil), nil
}

// Encode renders raw signature bytes in standard base64.
func Encode(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

// Decode parses a base64 signature.
func Decode(signature string) ([]byte, error) {
	if signature == "" {
		return nil, errors.New("signature: empty signature")
	}
	raw, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return nil, fmt.Errorf("signature: decode signature: %w", err)
	}
	return raw, nil
}

// QueryEscape percent-encodes a base64 signature for use inside a URL.
func QueryEscape(signature string) string {
	return url.QueryEscape(signature)
}

// LoadRSAPrivateKey reads a PEM encoded PKCS#1 or PKCS#8 RSA private key.
func LoadRSAPrivateKey(path string) (*rsa.PrivateKey, error) {
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("signature: parse %s: %w", path, err)
		}
		return key, nil
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("signature: parse %s: %w", path, err)
		}
		key, ok := parsed.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("signature: %s does not hold an RSA key", path)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("signature: unexpected PEM block %q in %s", block.Type, path)
	}
}

// LoadRSAPublicKey reads a PEM encoded RSA public key. PKIX, PKCS#1 and
// X.509 certificate blocks are accepted.
func LoadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	block, err := readPEM(path)
	if err != nil {
		return nil, err
	}
	var parsed any
	switch block.Type {
	case "PUBLIC KEY":
		parsed, err = x509.ParsePKIXPublicKey(block.Bytes)
	case "RSA PUBLIC KEY":
		parsed, err = x509.ParsePKCS1PublicKey(block.Bytes)
	case "CERTIFICATE":
		var cert *x509.Certificate
		cert, err = x509.ParseCertificate(block.Bytes)
		if err == nil {
			parsed = cert.PublicKey
		}
	default:
		return nil, fmt.Errorf("signature: unexpected PEM block %q in %s", block.Type, path)
	}
	if err != nil {
		return nil, fmt.Errorf("signature: parse %s: %w", path, err)
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("signature: %s does not hold an RSA key", path)
	}
	return key, nil
}

func readPEM(path string) (*pem.Block, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signature: read key: %w", err)
	}
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("signature: no PEM data in %s", path)
	}
	return block, nil
}

// CanonicalJSON normalizes arbitrary JSON into canonical form so that two
// renderings of the same message compare byte for byte.
func CanonicalJSON(raw []byte) ([]byte, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return []byte("null"), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("signature: multiple JSON documents")
	}
	return canonicaljson.Marshal(payload)
}
