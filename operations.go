package eapi

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
)

// PaymentInit creates a payment. The merchant id and timestamp are filled in
// by the client; req itself is not modified.
func (c *Client) PaymentInit(ctx context.Context, req *PayInitReq) (res *PayRes, err error) {
	const op = OpPaymentInit
	logger, done := c.begin(op)
	defer func() { done(err) }()

	if req == nil {
		return nil, NewInvalidParameterError(op, MissingParameter, "request is required")
	}
	r := *req
	r.MerchantID = c.merchantID
	if err := r.Validate(); err != nil {
		return nil, validationError(op, err)
	}
	if err := c.sign(op, &r); err != nil {
		return nil, err
	}
	return exchange[PayRes](ctx, c, call{op: op, method: http.MethodPost, path: "/payment/init", body: &r, logger: logger})
}

// PaymentProcessURL returns the signed payment/process URL without calling
// it, for merchants that redirect the customer's browser there directly.
func (c *Client) PaymentProcessURL(payID string) (_ string, err error) {
	const op = OpPaymentProcessURL
	_, done := c.begin(op)
	defer func() { done(err) }()

	if err := requireParam(op, "payId", payID); err != nil {
		return "", err
	}
	r := &PayReq{MerchantID: c.merchantID, PayID: payID}
	if err := c.sign(op, r); err != nil {
		return "", err
	}
	return c.endpoint(signedPath("/payment/process", &r.SignBase, r.MerchantID, r.PayID)), nil
}

// PaymentProcess asks the gateway where to send the customer for payment
// and returns that address. The gateway answers with a redirect; a redirect
// without a destination means the payment is unknown or expired.
func (c *Client) PaymentProcess(ctx context.Context, payID string) (location string, err error) {
	const op = OpPaymentProcess
	logger, done := c.begin(op)
	defer func() { done(err) }()

	if err := requireParam(op, "payId", payID); err != nil {
		return "", err
	}
	r := &PayReq{MerchantID: c.merchantID, PayID: payID}
	if err := c.sign(op, r); err != nil {
		return "", err
	}
	resp, err := c.send(ctx, call{
		op:     op,
		method: http.MethodGet,
		path:   signedPath("/payment/process", &r.SignBase, r.MerchantID, r.PayID),
		logger: logger,
	})
	if err != nil {
		return "", err
	}
	if resp.status != http.StatusSeeOther {
		return "", NewTransportError(op, UnexpectedStatus,
			"expected http 303, got "+strconv.Itoa(resp.status), WithHTTPStatus(resp.status))
	}
	if resp.location == "" {
		return "", NewBusinessError(op, PaymentNotFound, "missing Location header, payment not found or expired",
			WithHTTPStatus(resp.status), WithOffendingParam("payId"))
	}
	return resp.location, nil
}

// PaymentStatus reports the current state of a payment.
func (c *Client) PaymentStatus(ctx context.Context, payID string) (res *PayRes, err error) {
	const op = OpPaymentStatus
	logger, done := c.begin(op)
	defer func() { done(err) }()

	if err := requireParam(op, "payId", payID); err != nil {
		return nil, err
	}
	r := &PayReq{MerchantID: c.merchantID, PayID: payID}
	if err := c.sign(op, r); err != nil {
		return nil, err
	}
	return exchange[PayRes](ctx, c, call{
		op:     op,
		method: http.MethodGet,
		path:   signedPath("/payment/status", &r.SignBase, r.MerchantID, r.PayID),
		logger: logger,
	})
}

// PaymentClose confirms an authorized payment for settlement.
func (c *Client) PaymentClose(ctx context.Context, payID string) (*PayRes, error) {
	return c.payPut(ctx, OpPaymentClose, "/payment/close", payID)
}

// PaymentReverse cancels an authorized payment before settlement.
func (c *Client) PaymentReverse(ctx context.Context, payID string) (*PayRes, error) {
	return c.payPut(ctx, OpPaymentReverse, "/payment/reverse", payID)
}

// PaymentOneclickStart starts a payment created by [Client.PaymentOneclickInit].
func (c *Client) PaymentOneclickStart(ctx context.Context, payID string) (res *PayRes, err error) {
	const op = OpPaymentOneclickStart
	logger, done := c.begin(op)
	defer func() { done(err) }()

	if err := requireParam(op, "payId", payID); err != nil {
		return nil, err
	}
	r := &PayReq{MerchantID: c.merchantID, PayID: payID}
	if err := c.sign(op, r); err != nil {
		return nil, err
	}
	return exchange[PayRes](ctx, c, call{op: op, method: http.MethodPost, path: "/payment/oneclick/start", body: r, logger: logger})
}

func (c *Client) payPut(ctx context.Context, op Operation, path, payID string) (res *PayRes, err error) {
	logger, done := c.begin(op)
	defer func() { done(err) }()

	if err := requireParam(op, "payId", payID); err != nil {
		return nil, err
	}
	r := &PayReq{MerchantID: c.merchantID, PayID: payID}
	if err := c.sign(op, r); err != nil {
		return nil, err
	}
	return exchange[PayRes](ctx, c, call{op: op, method: http.MethodPut, path: path, body: r, logger: logger})
}

// PaymentRefund refunds a settled payment. A nil amount refunds the full
// remaining amount; otherwise amount is in hundredths of the currency.
func (c *Client) PaymentRefund(ctx context.Context, payID string, amount *int64) (res *PayRes, err error) {
	const op = OpPaymentRefund
	logger, done := c.begin(op)
	defer func() { done(err) }()

	if err := requireParam(op, "payId", payID); err != nil {
		return nil, err
	}
	r := &PayRefundReq{MerchantID: c.merchantID, PayID: payID, Amount: amount}
	if err := r.Validate(); err != nil {
		return nil, validationError(op, err)
	}
	if err := c.sign(op, r); err != nil {
		return nil, err
	}
	return exchange[PayRes](ctx, c, call{op: op, method: http.MethodPut, path: "/payment/refund", body: r, logger: logger})
}

// EchoGet checks connectivity and key setup using the GET form.
func (c *Client) EchoGet(ctx context.Context) (res *EchoRes, err error) {
	const op = OpEchoGet
	logger, done := c.begin(op)
	defer func() { done(err) }()

	r := &EchoReq{MerchantID: c.merchantID}
	if err := c.sign(op, r); err != nil {
		return nil, err
	}
	return exchange[EchoRes](ctx, c, call{
		op:     op,
		method: http.MethodGet,
		path:   signedPath("/echo", &r.SignBase, r.MerchantID),
		logger: logger,
	})
}

// EchoPost checks connectivity and key setup using the POST form.
func (c *Client) EchoPost(ctx context.Context) (res *EchoRes, err error) {
	const op = OpEchoPost
	logger, done := c.begin(op)
	defer func() { done(err) }()

	r := &EchoReq{MerchantID: c.merchantID}
	if err := c.sign(op, r); err != nil {
		return nil, err
	}
	return exchange[EchoRes](ctx, c, call{op: op, method: http.MethodPost, path: "/echo", body: r, logger: logger})
}

// CustomerInfo reports whether the customer has cards stored for one-click
// payments. The answer is in the result code, see [ResultCustomerHasSavedCards].
func (c *Client) CustomerInfo(ctx context.Context, customerID string) (res *CustRes, err error) {
	const op = OpCustomerInfo
	logger, done := c.begin(op)
	defer func() { done(err) }()

	if err := requireParam(op, "customerId", customerID); err != nil {
		return nil, err
	}
	r := &CustReq{MerchantID: c.merchantID, CustomerID: customerID}
	if err := c.sign(op, r); err != nil {
		return nil, err
	}
	return exchange[CustRes](ctx, c, call{
		op:     op,
		method: http.MethodGet,
		path:   signedPath("/customer/info", &r.SignBase, r.MerchantID, r.CustomerID),
		logger: logger,
	})
}

// PaymentOneclickInit creates a payment charged to the card of an earlier
// one-click template payment.
func (c *Client) PaymentOneclickInit(ctx context.Context, req *PayOneclickInitReq) (res *PayRes, err error) {
	const op = OpPaymentOneclickInit
	logger, done := c.begin(op)
	defer func() { done(err) }()

	if req == nil {
		return nil, NewInvalidParameterError(op, MissingParameter, "request is required")
	}
	r := *req
	r.MerchantID = c.merchantID
	if err := r.Validate(); err != nil {
		return nil, validationError(op, err)
	}
	if err := c.sign(op, &r); err != nil {
		return nil, err
	}
	return exchange[PayRes](ctx, c, call{op: op, method: http.MethodPost, path: "/payment/oneclick/init", body: &r, logger: logger})
}

// VerifyReturn checks the parameters the gateway appends to returnUrl, from
// the query string for GET or the form body for POST. Only a verified return
// may be trusted; query parameters are otherwise forgeable by the customer.
func (c *Client) VerifyReturn(params url.Values) (ret *PayReturn, err error) {
	const op = OpPaymentReturn
	_, done := c.begin(op)
	defer func() { done(err) }()

	ret, err = parsePayReturn(params)
	if err != nil {
		return nil, err
	}
	if err := verifyMessage(op, ret, c.verifyConfig()); err != nil {
		return nil, err
	}
	return ret, nil
}

func parsePayReturn(params url.Values) (*PayReturn, error) {
	const op = OpPaymentReturn
	ret := &PayReturn{
		PayID:         params.Get("payId"),
		ResultMessage: params.Get("resultMessage"),
		AuthCode:      optional(params, "authCode"),
		MerchantData:  optional(params, "merchantData"),
	}
	ret.Dttm = params.Get("dttm")
	ret.Signature = params.Get("signature")
	for _, name := range []string{"payId", "dttm", "resultCode"} {
		if err := requireParam(op, name, params.Get(name)); err != nil {
			return nil, err
		}
	}
	code, err := strconv.Atoi(params.Get("resultCode"))
	if err != nil {
		return nil, NewInvalidParameterError(op, MalformedParameter, "resultCode must be an integer",
			WithOffendingParam("resultCode"), WithCause(err))
	}
	ret.ResultCode = code
	if s := optional(params, "paymentStatus"); s != nil {
		status, err := strconv.Atoi(*s)
		if err != nil {
			return nil, NewInvalidParameterError(op, MalformedParameter, "paymentStatus must be an integer",
				WithOffendingParam("paymentStatus"), WithCause(err))
		}
		ret.PaymentStatus = &status
	}
	return ret, nil
}

func optional(params url.Values, name string) *string {
	if !params.Has(name) {
		return nil
	}
	v := params.Get(name)
	return &v
}
