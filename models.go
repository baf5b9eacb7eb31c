package eapi

// SignBase carries the timestamp and signature every signed message has on
// the wire.
type SignBase struct {
	// Message time in yyyyMMddHHmmss.
	Dttm string `json:"dttm"`
	// Base64 signature of the canonical string.
	Signature string `json:"signature"`
}

func (b *SignBase) signBase() *SignBase { return b }

// Message is a signed request, response or extension.
type Message interface {
	Signable
	signBase() *SignBase
}

// Result is implemented by responses carrying a gateway result code.
type Result interface {
	Result() (code int, message string)
}

// Gateway result codes.
const (
	ResultOK                      = 0
	ResultMissingParameter        = 100
	ResultInvalidParameter        = 110
	ResultMerchantBlocked         = 120
	ResultSessionExpired          = 130
	ResultPaymentNotFound         = 140
	ResultPaymentNotInValidState  = 150
	ResultOperationNotAllowed     = 180
	ResultCustomerNotFound        = 800
	ResultCustomerHasNoSavedCards = 810
	ResultCustomerHasSavedCards   = 820
	ResultInternalError           = 900
)

// Payment states reported in paymentStatus.
const (
	PaymentStatusInitiated         = 1
	PaymentStatusInProgress        = 2
	PaymentStatusCancelled         = 3
	PaymentStatusConfirmed         = 4
	PaymentStatusReversed          = 5
	PaymentStatusDenied            = 6
	PaymentStatusWaitingSettlement = 7
	PaymentStatusSettled           = 8
	PaymentStatusRefundProcessing  = 9
	PaymentStatusRefunded          = 10
)

// EchoReq checks connectivity and the signing setup.
type EchoReq struct {
	MerchantID string `json:"merchantId"`
	SignBase
}

func (EchoReq) MessageKind() MessageKind { return KindEchoReq }

func (r EchoReq) signValues(Version) (values, error) {
	vs := values{}
	vs.set("merchantId", r.MerchantID)
	vs.set("dttm", r.Dttm)
	return vs, nil
}

// EchoRes answers [EchoReq].
type EchoRes struct {
	SignBase
	ResultCode    int    `json:"resultCode"`
	ResultMessage string `json:"resultMessage"`
}

func (EchoRes) MessageKind() MessageKind { return KindEchoRes }

func (r EchoRes) signValues(Version) (values, error) {
	vs := values{}
	vs.set("dttm", r.Dttm)
	vs.num("resultCode", r.ResultCode)
	vs.set("resultMessage", r.ResultMessage)
	return vs, nil
}

// Result implements [Result].
func (r EchoRes) Result() (int, string) { return r.ResultCode, r.ResultMessage }

// PayReq addresses an existing payment. It is used by process, status, close,
// reverse and one-click start.
type PayReq struct {
	MerchantID string `json:"merchantId"`
	PayID      string `json:"payId"`
	SignBase
}

func (PayReq) MessageKind() MessageKind { return KindPayReq }

func (r PayReq) signValues(Version) (values, error) {
	vs := values{}
	vs.set("merchantId", r.MerchantID)
	vs.set("payId", r.PayID)
	vs.set("dttm", r.Dttm)
	return vs, nil
}

// PayRefundReq refunds a settled payment, partially when Amount is set.
type PayRefundReq struct {
	MerchantID string `json:"merchantId"`
	PayID      string `json:"payId"`
	SignBase
	// Amount in hundredths of the payment currency.
	Amount *int64 `json:"amount,omitempty" validate:"omitempty,gt=0"`
}

func (PayRefundReq) MessageKind() MessageKind { return KindPayRefundReq }

func (r PayRefundReq) signValues(Version) (values, error) {
	vs := values{}
	vs.set("merchantId", r.MerchantID)
	vs.set("payId", r.PayID)
	vs.set("dttm", r.Dttm)
	vs.num64p("amount", r.Amount)
	return vs, nil
}

// CustReq asks whether a customer has stored cards.
type CustReq struct {
	MerchantID string `json:"merchantId"`
	CustomerID string `json:"customerId"`
	SignBase
}

func (CustReq) MessageKind() MessageKind { return KindCustReq }

func (r CustReq) signValues(Version) (values, error) {
	vs := values{}
	vs.set("merchantId", r.MerchantID)
	vs.set("customerId", r.CustomerID)
	vs.set("dttm", r.Dttm)
	return vs, nil
}

// CustRes answers [CustReq].
type CustRes struct {
	CustomerID string `json:"customerId"`
	SignBase
	ResultCode    int    `json:"resultCode"`
	ResultMessage string `json:"resultMessage"`
}

func (CustRes) MessageKind() MessageKind { return KindCustRes }

func (r CustRes) signValues(Version) (values, error) {
	vs := values{}
	vs.set("customerId", r.CustomerID)
	vs.set("dttm", r.Dttm)
	vs.num("resultCode", r.ResultCode)
	vs.set("resultMessage", r.ResultMessage)
	return vs, nil
}

// Result implements [Result].
func (r CustRes) Result() (int, string) { return r.ResultCode, r.ResultMessage }

// CartItem is one line of the shopping cart shown on the payment page.
type CartItem struct {
	Name     string `json:"name" validate:"required,max=20"`
	Quantity int    `json:"quantity" validate:"gte=1"`
	// Amount in hundredths of the payment currency.
	Amount      int64   `json:"amount" validate:"gte=0"`
	Description *string `json:"description,omitempty" validate:"omitempty,max=40"`
}

func (CartItem) MessageKind() MessageKind { return KindCartItem }

func (c CartItem) signValues(Version) (values, error) {
	vs := values{}
	vs.set("name", c.Name)
	vs.num("quantity", c.Quantity)
	vs.num64("amount", c.Amount)
	vs.str("description", c.Description)
	return vs, nil
}

// PayInitReq creates a payment.
type PayInitReq struct {
	// Merchant identifier, injected by the client.
	MerchantID string `json:"merchantId"`
	// Merchant order reference, up to 10 digits.
	OrderNo string `json:"orderNo" validate:"required,max=10,numeric"`
	SignBase
	// Payment type: payment, oneclickPayment or customPayment.
	PayOperation string `json:"payOperation" validate:"required,oneof=payment oneclickPayment customPayment"`
	// Payment method: card or card#LVP.
	PayMethod string `json:"payMethod" validate:"required,oneof=card card#LVP"`
	// Total amount in hundredths of the currency.
	TotalAmount int64 `json:"totalAmount" validate:"gt=0"`
	// ISO-4217 currency code, e.g. CZK.
	Currency     string `json:"currency" validate:"required,currency"`
	ClosePayment *bool  `json:"closePayment,omitempty"`
	// Where the customer is sent once the payment page is done.
	ReturnURL    string     `json:"returnUrl" validate:"required,url,max=300"`
	ReturnMethod string     `json:"returnMethod" validate:"required,oneof=POST GET"`
	Cart         []CartItem `json:"cart" validate:"required,min=1,max=2,dive"`
	Description  *string    `json:"description,omitempty" validate:"omitempty,max=255"`
	// Opaque base64 data echoed back on return.
	MerchantData       *string `json:"merchantData,omitempty" validate:"omitempty,base64,max=255"`
	CustomerID         *string `json:"customerId,omitempty" validate:"omitempty,max=50"`
	Language           *string `json:"language,omitempty" validate:"omitempty,len=2,alpha"`
	TTLSec             *int    `json:"ttlSec,omitempty" validate:"omitempty,min=300,max=1800"`
	LogoVersion        *int    `json:"logoVersion,omitempty" validate:"omitempty,gte=0"`
	ColorSchemeVersion *int    `json:"colorSchemeVersion,omitempty" validate:"omitempty,gte=0"`
	// Expiry of a customPayment link in yyyyMMddHHmmss.
	CustomExpiry *string `json:"customExpiry,omitempty" validate:"omitempty,len=14,numeric"`
}

func (PayInitReq) MessageKind() MessageKind { return KindPayInitReq }

func (r PayInitReq) signValues(v Version) (values, error) {
	vs := values{}
	vs.set("merchantId", r.MerchantID)
	vs.set("orderNo", r.OrderNo)
	vs.set("dttm", r.Dttm)
	vs.set("payOperation", r.PayOperation)
	vs.set("payMethod", r.PayMethod)
	vs.num64("totalAmount", r.TotalAmount)
	vs.set("currency", r.Currency)
	vs.boolp("closePayment", r.ClosePayment)
	vs.set("returnUrl", r.ReturnURL)
	vs.set("returnMethod", r.ReturnMethod)
	if len(r.Cart) > 0 {
		var b canonicalBuilder
		for _, item := range r.Cart {
			s, err := Canonicalize(item, v)
			if err != nil {
				return nil, err
			}
			b.add(s)
		}
		vs.set("cart", b.String())
	}
	vs.str("description", r.Description)
	vs.str("merchantData", r.MerchantData)
	vs.str("customerId", r.CustomerID)
	vs.str("language", r.Language)
	vs.nump("ttlSec", r.TTLSec)
	vs.nump("logoVersion", r.LogoVersion)
	vs.nump("colorSchemeVersion", r.ColorSchemeVersion)
	vs.str("customExpiry", r.CustomExpiry)
	return vs, nil
}

// PayOneclickInitReq creates a payment from the card stored with OrigPayID.
type PayOneclickInitReq struct {
	MerchantID string `json:"merchantId"`
	// Payment that registered the card as a one-click template.
	OrigPayID string `json:"origPayId" validate:"required"`
	OrderNo   string `json:"orderNo" validate:"required,max=10,numeric"`
	SignBase
	ClientIP     *string `json:"clientIp,omitempty" validate:"omitempty,ip"`
	TotalAmount  int64   `json:"totalAmount" validate:"gt=0"`
	Currency     string  `json:"currency" validate:"required,currency"`
	ClosePayment *bool   `json:"closePayment,omitempty"`
	ReturnURL    *string `json:"returnUrl,omitempty" validate:"omitempty,url,max=300"`
	ReturnMethod *string `json:"returnMethod,omitempty" validate:"omitempty,oneof=POST GET"`
	Description  *string `json:"description,omitempty" validate:"omitempty,max=255"`
	MerchantData *string `json:"merchantData,omitempty" validate:"omitempty,base64,max=255"`
}

func (PayOneclickInitReq) MessageKind() MessageKind { return KindPayOneclickInitReq }

func (r PayOneclickInitReq) signValues(Version) (values, error) {
	vs := values{}
	vs.set("merchantId", r.MerchantID)
	vs.set("origPayId", r.OrigPayID)
	vs.set("orderNo", r.OrderNo)
	vs.set("dttm", r.Dttm)
	vs.str("clientIp", r.ClientIP)
	vs.num64("totalAmount", r.TotalAmount)
	vs.set("currency", r.Currency)
	vs.boolp("closePayment", r.ClosePayment)
	vs.str("returnUrl", r.ReturnURL)
	vs.str("returnMethod", r.ReturnMethod)
	vs.str("description", r.Description)
	vs.str("merchantData", r.MerchantData)
	return vs, nil
}

// PayRes is the gateway answer for every payment operation.
type PayRes struct {
	PayID string `json:"payId"`
	SignBase
	ResultCode    int     `json:"resultCode"`
	ResultMessage string  `json:"resultMessage"`
	PaymentStatus *int    `json:"paymentStatus,omitempty"`
	AuthCode      *string `json:"authCode,omitempty"`
	StatusDetail  *string `json:"statusDetail,omitempty"`
	// Follow-up the merchant must perform, such as 3-D Secure authentication.
	Actions    *Actions    `json:"actions,omitempty"`
	Extensions []Extension `json:"extensions,omitempty"`
}

func (PayRes) MessageKind() MessageKind { return KindPayRes }

func (r PayRes) signValues(v Version) (values, error) {
	vs := values{}
	vs.set("payId", r.PayID)
	vs.set("dttm", r.Dttm)
	vs.num("resultCode", r.ResultCode)
	vs.set("resultMessage", r.ResultMessage)
	vs.nump("paymentStatus", r.PaymentStatus)
	vs.str("authCode", r.AuthCode)
	vs.str("statusDetail", r.StatusDetail)
	if r.Actions != nil && !v.Before(V1_9) {
		if err := vs.nested("actions", *r.Actions, v); err != nil {
			return nil, err
		}
	}
	return vs, nil
}

// Result implements [Result].
func (r PayRes) Result() (int, string) { return r.ResultCode, r.ResultMessage }

func (r PayRes) extensionList() []Extension { return r.Extensions }

// PayReturn holds the signed parameters the gateway appends when it sends the
// customer back to the merchant's returnUrl.
type PayReturn struct {
	PayID string `json:"payId"`
	SignBase
	ResultCode    int     `json:"resultCode"`
	ResultMessage string  `json:"resultMessage"`
	PaymentStatus *int    `json:"paymentStatus,omitempty"`
	AuthCode      *string `json:"authCode,omitempty"`
	MerchantData  *string `json:"merchantData,omitempty"`
}

func (PayReturn) MessageKind() MessageKind { return KindPayReturn }

func (r PayReturn) signValues(Version) (values, error) {
	vs := values{}
	vs.set("payId", r.PayID)
	vs.set("dttm", r.Dttm)
	vs.num("resultCode", r.ResultCode)
	vs.set("resultMessage", r.ResultMessage)
	vs.nump("paymentStatus", r.PaymentStatus)
	vs.str("authCode", r.AuthCode)
	vs.str("merchantData", r.MerchantData)
	return vs, nil
}

// Result implements [Result].
func (r PayReturn) Result() (int, string) { return r.ResultCode, r.ResultMessage }

// Actions lists what the merchant has to do next.
type Actions struct {
	AuthInit *AuthInit `json:"authInit,omitempty"`
}

func (Actions) MessageKind() MessageKind { return KindActions }

func (a Actions) signValues(v Version) (values, error) {
	vs := values{}
	if a.AuthInit != nil {
		if err := vs.nested("authInit", *a.AuthInit, v); err != nil {
			return nil, err
		}
	}
	return vs, nil
}

// AuthInit starts 3-D Secure authentication either in a browser or through a
// mobile SDK.
type AuthInit struct {
	BrowserInit *Endpoint `json:"browserInit,omitempty"`
	SdkInit     *SdkInit  `json:"sdkInit,omitempty"`
}

func (AuthInit) MessageKind() MessageKind { return KindAuthInit }

func (a AuthInit) signValues(v Version) (values, error) {
	vs := values{}
	if a.BrowserInit != nil {
		if err := vs.nested("browserInit", *a.BrowserInit, v); err != nil {
			return nil, err
		}
	}
	if a.SdkInit != nil {
		if err := vs.nested("sdkInit", *a.SdkInit, v); err != nil {
			return nil, err
		}
	}
	return vs, nil
}

// Endpoint is a URL the customer's browser has to visit.
type Endpoint struct {
	URL    string  `json:"url"`
	Method *string `json:"method,omitempty"`
}

func (Endpoint) MessageKind() MessageKind { return KindEndpoint }

func (e Endpoint) signValues(Version) (values, error) {
	vs := values{}
	vs.set("url", e.URL)
	vs.str("method", e.Method)
	return vs, nil
}

// SdkInit identifies the 3-D Secure directory server for SDK based flows.
type SdkInit struct {
	DirectoryServerID string `json:"directoryServerID"`
	SchemeID          string `json:"schemeId"`
	MessageVersion    string `json:"messageVersion"`
}

func (SdkInit) MessageKind() MessageKind { return KindSdkInit }

func (s SdkInit) signValues(Version) (values, error) {
	vs := values{}
	vs.set("directoryServerID", s.DirectoryServerID)
	vs.set("schemeId", s.SchemeID)
	vs.set("messageVersion", s.MessageVersion)
	return vs, nil
}
