package eapi

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ExtensionTag is the discriminator stored in the "extension" field.
type ExtensionTag string

const (
	ExtensionMaskClnRP ExtensionTag = "maskClnRP"
	ExtensionMaskCln   ExtensionTag = "maskCln"
	ExtensionTrxDates  ExtensionTag = "trxDates"
)

// Extension is one independently signed sub-message attached to a response.
// The concrete type is selected by its "extension" tag.
type Extension struct {
	union json.RawMessage
}

// MaskClnRPExtension carries the masked card number of a recurring payment.
type MaskClnRPExtension struct {
	Extension ExtensionTag `json:"extension"`
	SignBase
	MaskedCln     string  `json:"maskedCln"`
	Expiration    string  `json:"expiration"`
	LongMaskedCln *string `json:"longMaskedCln,omitempty"`
}

func (MaskClnRPExtension) MessageKind() MessageKind { return KindMaskClnRP }

func (e MaskClnRPExtension) signValues(Version) (values, error) {
	vs := values{}
	vs.set("extension", string(e.Extension))
	vs.set("dttm", e.Dttm)
	vs.set("maskedCln", e.MaskedCln)
	vs.set("expiration", e.Expiration)
	vs.str("longMaskedCln", e.LongMaskedCln)
	return vs, nil
}

// MaskClnExtension carries the masked card number of a card payment.
type MaskClnExtension struct {
	Extension ExtensionTag `json:"extension"`
	SignBase
	MaskedCln     string  `json:"maskedCln"`
	Expiration    string  `json:"expiration"`
	LongMaskedCln *string `json:"longMaskedCln,omitempty"`
}

func (MaskClnExtension) MessageKind() MessageKind { return KindMaskCln }

func (e MaskClnExtension) signValues(Version) (values, error) {
	vs := values{}
	vs.set("extension", string(e.Extension))
	vs.set("dttm", e.Dttm)
	vs.set("maskedCln", e.MaskedCln)
	vs.set("expiration", e.Expiration)
	vs.str("longMaskedCln", e.LongMaskedCln)
	return vs, nil
}

// TrxDatesExtension reports when the transaction was created, authorized
// and settled.
type TrxDatesExtension struct {
	Extension ExtensionTag `json:"extension"`
	SignBase
	CreatedDate    string  `json:"createdDate"`
	AuthDate       *string `json:"authDate,omitempty"`
	SettlementDate *string `json:"settlementDate,omitempty"`
}

func (TrxDatesExtension) MessageKind() MessageKind { return KindTrxDates }

func (e TrxDatesExtension) signValues(Version) (values, error) {
	vs := values{}
	vs.set("extension", string(e.Extension))
	vs.set("dttm", e.Dttm)
	vs.set("createdDate", e.CreatedDate)
	vs.str("authDate", e.AuthDate)
	vs.str("settlementDate", e.SettlementDate)
	return vs, nil
}

// UnknownExtensionError is returned for a tag this client cannot verify.
type UnknownExtensionError struct {
	Tag string
}

func (e *UnknownExtensionError) Error() string {
	return fmt.Sprintf("eapi: unknown extension %q", e.Tag)
}

// Discriminator returns the extension tag.
func (t Extension) Discriminator() (string, error) {
	var discriminator struct {
		Discriminator string `json:"extension"`
	}
	if len(t.union) == 0 {
		return "", errors.New("eapi: empty extension")
	}
	err := json.Unmarshal(t.union, &discriminator)
	return discriminator.Discriminator, err
}

// ValueByDiscriminator decodes the extension into its concrete type.
func (t Extension) ValueByDiscriminator() (Message, error) {
	discriminator, err := t.Discriminator()
	if err != nil {
		return nil, err
	}
	switch ExtensionTag(discriminator) {
	case ExtensionMaskClnRP:
		v, err := t.AsMaskClnRP()
		return &v, err
	case ExtensionMaskCln:
		v, err := t.AsMaskCln()
		return &v, err
	case ExtensionTrxDates:
		v, err := t.AsTrxDates()
		return &v, err
	default:
		return nil, &UnknownExtensionError{Tag: discriminator}
	}
}

// AsMaskClnRP returns the union data inside the Extension as a MaskClnRPExtension
func (t Extension) AsMaskClnRP() (MaskClnRPExtension, error) {
	var body MaskClnRPExtension
	err := json.Unmarshal(t.union, &body)
	return body, err
}

// FromMaskClnRP overwrites any union data inside the Extension as the provided MaskClnRPExtension
func (t *Extension) FromMaskClnRP(v MaskClnRPExtension) error {
	v.Extension = ExtensionMaskClnRP
	b, err := json.Marshal(v)
	t.union = b
	return err
}

// AsMaskCln returns the union data inside the Extension as a MaskClnExtension
func (t Extension) AsMaskCln() (MaskClnExtension, error) {
	var body MaskClnExtension
	err := json.Unmarshal(t.union, &body)
	return body, err
}

// FromMaskCln overwrites any union data inside the Extension as the provided MaskClnExtension
func (t *Extension) FromMaskCln(v MaskClnExtension) error {
	v.Extension = ExtensionMaskCln
	b, err := json.Marshal(v)
	t.union = b
	return err
}

// AsTrxDates returns the union data inside the Extension as a TrxDatesExtension
func (t Extension) AsTrxDates() (TrxDatesExtension, error) {
	var body TrxDatesExtension
	err := json.Unmarshal(t.union, &body)
	return body, err
}

// FromTrxDates overwrites any union data inside the Extension as the provided TrxDatesExtension
func (t *Extension) FromTrxDates(v TrxDatesExtension) error {
	v.Extension = ExtensionTrxDates
	b, err := json.Marshal(v)
	t.union = b
	return err
}

// FromMessage stores any concrete extension message in the union.
func (t *Extension) FromMessage(m Message) error {
	switch v := m.(type) {
	case *MaskClnRPExtension:
		return t.FromMaskClnRP(*v)
	case *MaskClnExtension:
		return t.FromMaskCln(*v)
	case *TrxDatesExtension:
		return t.FromTrxDates(*v)
	default:
		return fmt.Errorf("eapi: %s is not an extension", m.MessageKind())
	}
}

// MarshalJSON serializes the underlying union for Extension.
func (t Extension) MarshalJSON() ([]byte, error) {
	b, err := t.union.MarshalJSON()
	return b, err
}

// UnmarshalJSON loads union data for Extension.
func (t *Extension) UnmarshalJSON(b []byte) error {
	err := t.union.UnmarshalJSON(b)
	return err
}
