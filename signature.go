package eapi

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/paygate/eapi/signature"
)

// ErrMissingSignature is returned when a message carries no signature.
var ErrMissingSignature = errors.New("eapi: missing signature")

// UnsignedFieldError reports fields that are set on a message but have no
// place in the canonical order of the configured version, so the gateway
// would reject the signature.
type UnsignedFieldError struct {
	Kind    MessageKind
	Version Version
	Fields  []string
}

func (e *UnsignedFieldError) Error() string {
	return fmt.Sprintf("eapi: %s fields %v are not signed in protocol version %q", e.Kind, e.Fields, e.Version)
}

// Sign canonicalizes m for version v and stores the signature on it. The
// timestamp is set to now unless the message already carries one. On failure
// m is left as it was.
func Sign(m Message, v Version, signer signature.Signer, now time.Time) (err error) {
	if signer == nil {
		return signature.ErrMissingKey
	}
	base := m.signBase()
	if base.Dttm == "" {
		base.Dttm = FormatDttm(now)
		defer func() {
			if err != nil {
				base.Dttm = ""
			}
		}()
	}
	canonical, unsigned, err := canonicalize(m, v)
	if err != nil {
		return err
	}
	if len(unsigned) > 0 {
		return &UnsignedFieldError{Kind: m.MessageKind(), Version: v, Fields: unsigned}
	}
	sig, err := signer.Sign(canonical)
	if err != nil {
		return err
	}
	base.Signature = sig
	return nil
}

// Verify reports whether the signature stored on m matches its canonical
// string. A mismatch yields false and a nil error.
func Verify(m Message, v Version, verifier signature.Verifier) (bool, error) {
	if verifier == nil {
		return false, signature.ErrMissingKey
	}
	sig := m.signBase().Signature
	if sig == "" {
		return false, ErrMissingSignature
	}
	canonical, err := Canonicalize(m, v)
	if err != nil {
		return false, err
	}
	return verifier.Verify(canonical, sig)
}

// canonicalize also returns the names of present fields the version's order
// leaves out.
func canonicalize(m Signable, v Version) (string, []string, error) {
	canonical, err := Canonicalize(m, v)
	if err != nil {
		return "", nil, err
	}
	order, _ := SignOrder(m.MessageKind(), v)
	vals, err := m.signValues(v)
	if err != nil {
		return "", nil, err
	}
	var unsigned []string
	for name := range vals {
		if !slices.Contains(order, name) {
			unsigned = append(unsigned, name)
		}
	}
	slices.Sort(unsigned)
	return canonical, unsigned, nil
}

type extensionCarrier interface {
	extensionList() []Extension
}

type verifyConfig struct {
	version      Version
	verifier     signature.Verifier
	maxClockSkew time.Duration
	location     *time.Location
	clock        func() time.Time
}

// verifyMessage accepts m only when its own signature and the signature of
// every attached extension verify.
func verifyMessage(op Operation, m Message, cfg verifyConfig) error {
	if err := verifyOne(op, m, "response", cfg); err != nil {
		return err
	}
	if err := checkFreshness(op, m, cfg); err != nil {
		return err
	}
	carrier, ok := m.(extensionCarrier)
	if !ok {
		return nil
	}
	for i, ext := range carrier.extensionList() {
		where := fmt.Sprintf("extensions[%d]", i)
		msg, err := ext.ValueByDiscriminator()
		if err != nil {
			var unknown *UnknownExtensionError
			if errors.As(err, &unknown) {
				return NewSignatureError(op, UnknownExtension, fmt.Sprintf("cannot verify %s with tag %q", where, unknown.Tag), WithOffendingParam(where))
			}
			return NewTransportError(op, MalformedResponse, "cannot decode "+where, WithCause(err), WithOffendingParam(where))
		}
		if err := verifyOne(op, msg, where, cfg); err != nil {
			return err
		}
	}
	return nil
}

func verifyOne(op Operation, m Message, where string, cfg verifyConfig) error {
	ok, err := Verify(m, cfg.version, cfg.verifier)
	switch {
	case errors.Is(err, ErrMissingSignature):
		return NewSignatureError(op, MissingSignature, "missing signature for "+where, WithOffendingParam(where))
	case errors.Is(err, signature.ErrMissingKey):
		return NewInternalError(op, "no verification key configured", err)
	case err != nil:
		var unsupported *UnsupportedError
		if errors.As(err, &unsupported) {
			return NewSignatureError(op, UnsupportedVersion, fmt.Sprintf("%s is not verifiable in version %s", where, cfg.version), WithCause(err), WithOffendingParam(where))
		}
		return NewSignatureError(op, SignatureMismatch, "malformed signature for "+where+" "+describe(m), WithCause(err), WithOffendingParam(where))
	case !ok:
		return NewSignatureError(op, SignatureMismatch, "invalid signature for "+where+" "+describe(m), WithOffendingParam(where))
	}
	return nil
}

func checkFreshness(op Operation, m Message, cfg verifyConfig) error {
	if cfg.maxClockSkew <= 0 {
		return nil
	}
	ts, err := ParseDttm(m.signBase().Dttm, cfg.location)
	if err != nil {
		return NewSignatureError(op, StaleTimestamp, "response dttm is not yyyyMMddHHmmss", WithCause(err), WithOffendingParam("dttm"))
	}
	skew := cfg.clock().Sub(ts)
	if skew < 0 {
		skew = -skew
	}
	if skew > cfg.maxClockSkew {
		return NewSignatureError(op, StaleTimestamp, fmt.Sprintf("response dttm skew exceeds %s", cfg.maxClockSkew), WithOffendingParam("dttm"))
	}
	return nil
}
