package eapi

import (
	"crypto"
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/paygate/eapi/signature"
)

// Version identifies an eAPI protocol version.
type Version string

// Supported protocol versions, oldest first.
const (
	V1_5 Version = "1.5"
	V1_6 Version = "1.6"
	V1_7 Version = "1.7"
	V1_8 Version = "1.8"
	V1_9 Version = "1.9"
)

// DefaultVersion is used when no version is configured.
const DefaultVersion = V1_6

var versions = []Version{V1_5, V1_6, V1_7, V1_8, V1_9}

// ParseVersion accepts "1.6" as well as "v1.6".
func ParseVersion(s string) (Version, error) {
	if len(s) > 0 && (s[0] == 'v' || s[0] == 'V') {
		s = s[1:]
	}
	v := Version(s)
	if v.index() < 0 {
		return "", fmt.Errorf("eapi: unsupported protocol version %q", s)
	}
	return v, nil
}

func (v Version) index() int {
	for i, known := range versions {
		if known == v {
			return i
		}
	}
	return -1
}

// Before reports whether v is older than other.
func (v Version) Before(other Version) bool {
	return v.index() < other.index()
}

// Valid reports whether v is a supported version.
func (v Version) Valid() bool {
	return v.index() >= 0
}

// path returns the URL prefix of the version, e.g. "/v1.6".
func (v Version) path() string {
	return "/v" + string(v)
}

// Hash is the digest the gateway uses for RSA signatures in this version.
func (v Version) Hash() crypto.Hash {
	if v.Before(V1_7) {
		return crypto.SHA1
	}
	return crypto.SHA256
}

// Keys is the merchant's signing key and the gateway's verification key. It is
// built once at startup and shared read-only by every call.
type Keys struct {
	Signer   signature.Signer
	Verifier signature.Verifier
}

// NewRSAKeys pairs the merchant private key and the gateway public key using
// the digest the protocol version mandates.
func NewRSAKeys(merchant *rsa.PrivateKey, gateway *rsa.PublicKey, v Version) Keys {
	return Keys{
		Signer:   signature.RSASigner{Key: merchant, Hash: v.Hash()},
		Verifier: signature.RSAVerifier{Key: gateway, Hash: v.Hash()},
	}
}

// LoadRSAKeys reads both PEM files and returns [NewRSAKeys].
func LoadRSAKeys(merchantKeyPath, gatewayKeyPath string, v Version) (Keys, error) {
	priv, err := signature.LoadRSAPrivateKey(merchantKeyPath)
	if err != nil {
		return Keys{}, err
	}
	pub, err := signature.LoadRSAPublicKey(gatewayKeyPath)
	if err != nil {
		return Keys{}, err
	}
	return NewRSAKeys(priv, pub, v), nil
}

const dttmLayout = "20060102150405"

// FormatDttm renders t in the gateway timestamp layout yyyyMMddHHmmss.
func FormatDttm(t time.Time) string {
	return t.Format(dttmLayout)
}

// ParseDttm parses a gateway timestamp in loc.
func ParseDttm(value string, loc *time.Location) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("eapi: empty dttm")
	}
	if loc == nil {
		loc = time.Local
	}
	return time.ParseInLocation(dttmLayout, value, loc)
}
