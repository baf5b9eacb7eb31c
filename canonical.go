package eapi

import (
	"fmt"
	"strconv"
	"strings"
)

// MessageKind names a message shape whose canonical field order is defined
// per protocol version.
type MessageKind string

const (
	KindEchoReq            MessageKind = "EchoReq"
	KindEchoRes            MessageKind = "EchoRes"
	KindPayReq             MessageKind = "PayReq"
	KindPayRefundReq       MessageKind = "PayRefundReq"
	KindCustReq            MessageKind = "CustReq"
	KindCustRes            MessageKind = "CustRes"
	KindPayInitReq         MessageKind = "PayInitReq"
	KindCartItem           MessageKind = "CartItem"
	KindPayOneclickInitReq MessageKind = "PayOneclickInitReq"
	KindPayRes             MessageKind = "PayRes"
	KindPayReturn          MessageKind = "PayReturn"
	KindActions            MessageKind = "Actions"
	KindAuthInit           MessageKind = "AuthInit"
	KindEndpoint           MessageKind = "Endpoint"
	KindSdkInit            MessageKind = "SdkInit"
	KindMaskClnRP          MessageKind = "ext:maskClnRP"
	KindMaskCln            MessageKind = "ext:maskCln"
	KindTrxDates           MessageKind = "ext:trxDates"
)

// separator joins canonical values.
const separator = "|"

// fieldOrder applies from since until a later entry for the same kind
// supersedes it.
type fieldOrder struct {
	since  Version
	fields []string
}

var payInitReqV15 = []string{
	"merchantId", "orderNo", "dttm", "payOperation", "payMethod", "totalAmount",
	"currency", "closePayment", "returnUrl", "returnMethod", "cart", "description",
	"merchantData", "customerId", "language", "ttlSec",
}

var signOrders = map[MessageKind][]fieldOrder{
	KindEchoReq: {
		{since: V1_5, fields: []string{"merchantId", "dttm"}},
	},
	KindEchoRes: {
		{since: V1_5, fields: []string{"dttm", "resultCode", "resultMessage"}},
	},
	KindPayReq: {
		{since: V1_5, fields: []string{"merchantId", "payId", "dttm"}},
	},
	KindPayRefundReq: {
		{since: V1_5, fields: []string{"merchantId", "payId", "dttm", "amount"}},
	},
	KindCustReq: {
		{since: V1_5, fields: []string{"merchantId", "customerId", "dttm"}},
	},
	KindCustRes: {
		{since: V1_5, fields: []string{"customerId", "dttm", "resultCode", "resultMessage"}},
	},
	KindCartItem: {
		{since: V1_5, fields: []string{"name", "quantity", "amount", "description"}},
	},
	KindPayInitReq: {
		{since: V1_5, fields: payInitReqV15},
		{since: V1_6, fields: append(append([]string{}, payInitReqV15...), "logoVersion", "colorSchemeVersion")},
		{since: V1_7, fields: []string{
			"merchantId", "orderNo", "dttm", "payOperation", "payMethod", "totalAmount",
			"currency", "closePayment", "returnUrl", "returnMethod", "cart",
			"merchantData", "customerId", "language", "ttlSec", "logoVersion",
			"colorSchemeVersion", "customExpiry",
		}},
	},
	KindPayOneclickInitReq: {
		{since: V1_5, fields: []string{
			"merchantId", "origPayId", "orderNo", "dttm", "totalAmount", "currency",
			"description", "merchantData",
		}},
		{since: V1_7, fields: []string{
			"merchantId", "origPayId", "orderNo", "dttm", "clientIp", "totalAmount",
			"currency", "closePayment", "returnUrl", "returnMethod", "merchantData",
		}},
	},
	KindPayRes: {
		{since: V1_5, fields: []string{"payId", "dttm", "resultCode", "resultMessage", "paymentStatus", "authCode"}},
		{since: V1_7, fields: []string{"payId", "dttm", "resultCode", "resultMessage", "paymentStatus", "authCode", "statusDetail"}},
		{since: V1_9, fields: []string{"payId", "dttm", "resultCode", "resultMessage", "paymentStatus", "authCode", "statusDetail", "actions"}},
	},
	KindPayReturn: {
		{since: V1_5, fields: []string{"payId", "dttm", "resultCode", "resultMessage", "paymentStatus", "authCode", "merchantData"}},
	},
	KindActions: {
		{since: V1_9, fields: []string{"authInit"}},
	},
	KindAuthInit: {
		{since: V1_9, fields: []string{"browserInit", "sdkInit"}},
	},
	KindEndpoint: {
		{since: V1_9, fields: []string{"url", "method"}},
	},
	KindSdkInit: {
		{since: V1_9, fields: []string{"directoryServerID", "schemeId", "messageVersion"}},
	},
	KindMaskClnRP: {
		{since: V1_5, fields: []string{"extension", "dttm", "maskedCln", "expiration", "longMaskedCln"}},
	},
	KindTrxDates: {
		{since: V1_7, fields: []string{"extension", "dttm", "createdDate", "authDate", "settlementDate"}},
	},
	KindMaskCln: {
		{since: V1_9, fields: []string{"extension", "dttm", "maskedCln", "expiration", "longMaskedCln"}},
	},
}

// UnsupportedError reports a message kind that has no field order in the
// requested protocol version.
type UnsupportedError struct {
	Kind    MessageKind
	Version Version
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("eapi: %s is not defined in protocol version %q", e.Kind, e.Version)
}

// SignOrder returns the canonical field order of kind in version v.
func SignOrder(kind MessageKind, v Version) ([]string, error) {
	if !v.Valid() {
		return nil, &UnsupportedError{Kind: kind, Version: v}
	}
	var picked []string
	for _, o := range signOrders[kind] {
		if v.Before(o.since) {
			break
		}
		picked = o.fields
	}
	if picked == nil {
		return nil, &UnsupportedError{Kind: kind, Version: v}
	}
	return picked, nil
}

// Signable is implemented by every message that has a canonical form.
type Signable interface {
	MessageKind() MessageKind
	signValues(v Version) (values, error)
}

// Canonicalize builds the string that is signed for m in protocol version v:
// present fields in the version's order, each followed by a separator, with the
// final separator removed. Absent fields contribute nothing.
func Canonicalize(m Signable, v Version) (string, error) {
	order, err := SignOrder(m.MessageKind(), v)
	if err != nil {
		return "", err
	}
	vals, err := m.signValues(v)
	if err != nil {
		return "", err
	}
	var b canonicalBuilder
	for _, name := range order {
		if value, ok := vals[name]; ok {
			b.add(value)
		}
	}
	return b.String(), nil
}

type canonicalBuilder struct {
	sb strings.Builder
}

func (b *canonicalBuilder) add(value string) {
	b.sb.WriteString(value)
	b.sb.WriteString(separator)
}

func (b *canonicalBuilder) String() string {
	return strings.TrimSuffix(b.sb.String(), separator)
}

// values holds the canonical text of every present field, keyed by its wire name.
type values map[string]string

func (vs values) set(name, value string) {
	vs[name] = value
}

func (vs values) str(name string, p *string) {
	if p != nil {
		vs[name] = *p
	}
}

func (vs values) num(name string, n int) {
	vs[name] = strconv.Itoa(n)
}

func (vs values) nump(name string, p *int) {
	if p != nil {
		vs[name] = strconv.Itoa(*p)
	}
}

func (vs values) num64(name string, n int64) {
	vs[name] = strconv.FormatInt(n, 10)
}

func (vs values) num64p(name string, p *int64) {
	if p != nil {
		vs[name] = strconv.FormatInt(*p, 10)
	}
}

func (vs values) boolp(name string, p *bool) {
	if p != nil {
		vs[name] = strconv.FormatBool(*p)
	}
}

// nested canonicalizes a sub-message and stores it as one opaque value.
func (vs values) nested(name string, m Signable, v Version) error {
	s, err := Canonicalize(m, v)
	if err != nil {
		return fmt.Errorf("eapi: canonicalize %s: %w", name, err)
	}
	vs[name] = s
	return nil
}
