// Package mockgateway is an in-memory eAPI gateway for local runs and tests.
// It verifies request signatures, keeps payments in memory and signs every
// response, including extensions, the way the real gateway does.
package mockgateway

import (
	"encoding/json"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/paygate/eapi"
)

// Gateway serves the eAPI routes of one protocol version under /v{version}.
type Gateway struct {
	version eapi.Version
	// Signer is the gateway key, Verifier the merchant key.
	keys   eapi.Keys
	clock  func() time.Time
	logger *zap.Logger
	mux    *http.ServeMux

	mu       sync.Mutex
	payments map[string]*payment
}

type payment struct {
	id           string
	merchantID   string
	operation    string
	status       int
	total        int64
	refunded     int64
	closePayment bool
	returnURL    string
	returnMethod string
	merchantData *string
	customerID   *string
	created      time.Time
	authorized   *time.Time
	settled      *time.Time
}

// Option customizes a [Gateway].
type Option func(*Gateway)

// WithClock replaces time.Now.
func WithClock(fn func() time.Time) Option {
	return func(g *Gateway) {
		g.clock = fn
	}
}

// WithLogger logs every handled request.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// New builds a gateway speaking version v. keys.Signer signs responses and
// keys.Verifier checks merchant requests.
func New(v eapi.Version, keys eapi.Keys, opts ...Option) *Gateway {
	g := &Gateway{
		version:  v,
		keys:     keys,
		clock:    time.Now,
		logger:   zap.NewNop(),
		mux:      http.NewServeMux(),
		payments: make(map[string]*payment),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(g)
	}
	g.registerRoutes()
	return g
}

// ServeHTTP satisfies http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := g.clock()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	g.mux.ServeHTTP(rec, r)
	g.logger.Info("handled request",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", rec.status),
		zap.Duration("elapsed", g.clock().Sub(start)),
	)
}

func (g *Gateway) registerRoutes() {
	p := "/v" + string(g.version)
	g.mux.HandleFunc("POST "+p+"/payment/init", g.handleInit)
	g.mux.HandleFunc("GET "+p+"/payment/process/{merchantId}/{payId}/{dttm}/{signature}", g.handleProcess)
	g.mux.HandleFunc("GET "+p+"/payment/status/{merchantId}/{payId}/{dttm}/{signature}", g.handleStatus)
	g.mux.HandleFunc("PUT "+p+"/payment/close", g.handleClose)
	g.mux.HandleFunc("PUT "+p+"/payment/reverse", g.handleReverse)
	g.mux.HandleFunc("PUT "+p+"/payment/refund", g.handleRefund)
	g.mux.HandleFunc("GET "+p+"/echo/{merchantId}/{dttm}/{signature}", g.handleEchoGet)
	g.mux.HandleFunc("POST "+p+"/echo", g.handleEchoPost)
	g.mux.HandleFunc("GET "+p+"/customer/info/{merchantId}/{customerId}/{dttm}/{signature}", g.handleCustomerInfo)
	g.mux.HandleFunc("POST "+p+"/payment/oneclick/init", g.handleOneclickInit)
	g.mux.HandleFunc("POST "+p+"/payment/oneclick/start", g.handleOneclickStart)
	// Stands in for the payment page the customer fills in.
	g.mux.HandleFunc("GET /pay/{payId}", g.handlePay)
}

func (g *Gateway) handleInit(w http.ResponseWriter, r *http.Request) {
	var req eapi.PayInitReq
	if !g.decodeSigned(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		g.writePayRes(w, &eapi.PayRes{ResultCode: eapi.ResultInvalidParameter, ResultMessage: err.Error()})
		return
	}
	p := &payment{
		id:           newPayID(),
		merchantID:   req.MerchantID,
		operation:    req.PayOperation,
		status:       eapi.PaymentStatusInitiated,
		total:        req.TotalAmount,
		closePayment: req.ClosePayment == nil || *req.ClosePayment,
		returnURL:    req.ReturnURL,
		returnMethod: req.ReturnMethod,
		merchantData: req.MerchantData,
		customerID:   req.CustomerID,
		created:      g.clock(),
	}
	g.mu.Lock()
	g.payments[p.id] = p
	res := g.payRes(p, eapi.ResultOK, "OK")
	g.mu.Unlock()
	g.writePayRes(w, res)
}

func (g *Gateway) handleProcess(w http.ResponseWriter, r *http.Request) {
	req := eapi.PayReq{MerchantID: r.PathValue("merchantId"), PayID: r.PathValue("payId")}
	if !g.verifyPath(w, r, &req) {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.payments[req.PayID]
	if !ok || (p.status != eapi.PaymentStatusInitiated && p.status != eapi.PaymentStatusInProgress) {
		// The gateway redirects without a destination for unknown or
		// finished payments.
		w.WriteHeader(http.StatusSeeOther)
		return
	}
	p.status = eapi.PaymentStatusInProgress
	w.Header().Set("Location", "/pay/"+url.PathEscape(p.id))
	w.WriteHeader(http.StatusSeeOther)
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	req := eapi.PayReq{MerchantID: r.PathValue("merchantId"), PayID: r.PathValue("payId")}
	if !g.verifyPath(w, r, &req) {
		return
	}
	g.mu.Lock()
	p, ok := g.payments[req.PayID]
	var res *eapi.PayRes
	if ok {
		res = g.payRes(p, eapi.ResultOK, "OK")
		res.Extensions = g.extensions(p)
	}
	g.mu.Unlock()
	if !ok {
		g.writePayRes(w, notFound(req.PayID))
		return
	}
	g.writePayRes(w, res)
}

func (g *Gateway) handleClose(w http.ResponseWriter, r *http.Request) {
	g.transition(w, r, func(p *payment) (int, string) {
		if p.status != eapi.PaymentStatusConfirmed {
			return eapi.ResultPaymentNotInValidState, "Payment not in valid state"
		}
		now := g.clock()
		p.status = eapi.PaymentStatusWaitingSettlement
		p.settled = &now
		return eapi.ResultOK, "OK"
	})
}

func (g *Gateway) handleReverse(w http.ResponseWriter, r *http.Request) {
	g.transition(w, r, func(p *payment) (int, string) {
		if p.status != eapi.PaymentStatusConfirmed {
			return eapi.ResultPaymentNotInValidState, "Payment not in valid state"
		}
		p.status = eapi.PaymentStatusReversed
		return eapi.ResultOK, "OK"
	})
}

func (g *Gateway) transition(w http.ResponseWriter, r *http.Request, apply func(*payment) (int, string)) {
	var req eapi.PayReq
	if !g.decodeSigned(w, r, &req) {
		return
	}
	g.mu.Lock()
	p, ok := g.payments[req.PayID]
	var res *eapi.PayRes
	if ok {
		code, msg := apply(p)
		res = g.payRes(p, code, msg)
	}
	g.mu.Unlock()
	if !ok {
		g.writePayRes(w, notFound(req.PayID))
		return
	}
	g.writePayRes(w, res)
}

func (g *Gateway) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req eapi.PayRefundReq
	if !g.decodeSigned(w, r, &req) {
		return
	}
	g.mu.Lock()
	p, ok := g.payments[req.PayID]
	var res *eapi.PayRes
	if ok {
		code, msg := g.refund(p, req.Amount)
		res = g.payRes(p, code, msg)
	}
	g.mu.Unlock()
	if !ok {
		g.writePayRes(w, notFound(req.PayID))
		return
	}
	g.writePayRes(w, res)
}

func (g *Gateway) refund(p *payment, amount *int64) (int, string) {
	if p.status != eapi.PaymentStatusWaitingSettlement && p.status != eapi.PaymentStatusSettled {
		return eapi.ResultPaymentNotInValidState, "Payment not in valid state"
	}
	remaining := p.total - p.refunded
	refund := remaining
	if amount != nil {
		refund = *amount
	}
	if refund <= 0 || refund > remaining {
		return eapi.ResultInvalidParameter, "Invalid amount"
	}
	p.refunded += refund
	if p.refunded == p.total {
		p.status = eapi.PaymentStatusRefunded
	} else {
		p.status = eapi.PaymentStatusSettled
	}
	return eapi.ResultOK, "OK"
}

func (g *Gateway) handleEchoGet(w http.ResponseWriter, r *http.Request) {
	req := eapi.EchoReq{MerchantID: r.PathValue("merchantId")}
	if !g.verifyPath(w, r, &req) {
		return
	}
	g.writeSigned(w, &eapi.EchoRes{ResultCode: eapi.ResultOK, ResultMessage: "OK"})
}

func (g *Gateway) handleEchoPost(w http.ResponseWriter, r *http.Request) {
	var req eapi.EchoReq
	if !g.decodeSigned(w, r, &req) {
		return
	}
	g.writeSigned(w, &eapi.EchoRes{ResultCode: eapi.ResultOK, ResultMessage: "OK"})
}

func (g *Gateway) handleCustomerInfo(w http.ResponseWriter, r *http.Request) {
	req := eapi.CustReq{MerchantID: r.PathValue("merchantId"), CustomerID: r.PathValue("customerId")}
	if !g.verifyPath(w, r, &req) {
		return
	}
	code, msg := eapi.ResultCustomerNotFound, "Customer not found"
	g.mu.Lock()
	for _, p := range g.payments {
		if p.customerID == nil || *p.customerID != req.CustomerID {
			continue
		}
		if p.operation == "oneclickPayment" && p.authorized != nil {
			code, msg = eapi.ResultCustomerHasSavedCards, "Customer found, found saved card(s)"
			break
		}
		code, msg = eapi.ResultCustomerHasNoSavedCards, "Customer found, no saved card(s)"
	}
	g.mu.Unlock()
	g.writeSigned(w, &eapi.CustRes{CustomerID: req.CustomerID, ResultCode: code, ResultMessage: msg})
}

func (g *Gateway) handleOneclickInit(w http.ResponseWriter, r *http.Request) {
	var req eapi.PayOneclickInitReq
	if !g.decodeSigned(w, r, &req) {
		return
	}
	g.mu.Lock()
	origin, ok := g.payments[req.OrigPayID]
	if !ok {
		g.mu.Unlock()
		g.writePayRes(w, notFound(req.OrigPayID))
		return
	}
	if origin.operation != "oneclickPayment" || origin.authorized == nil {
		res := g.payRes(origin, eapi.ResultPaymentNotInValidState, "Payment not in valid state")
		g.mu.Unlock()
		g.writePayRes(w, res)
		return
	}
	p := &payment{
		id:           newPayID(),
		merchantID:   req.MerchantID,
		operation:    "payment",
		status:       eapi.PaymentStatusInitiated,
		total:        req.TotalAmount,
		closePayment: req.ClosePayment == nil || *req.ClosePayment,
		merchantData: req.MerchantData,
		customerID:   origin.customerID,
		created:      g.clock(),
	}
	g.payments[p.id] = p
	res := g.payRes(p, eapi.ResultOK, "OK")
	g.mu.Unlock()
	g.writePayRes(w, res)
}

func (g *Gateway) handleOneclickStart(w http.ResponseWriter, r *http.Request) {
	g.transition(w, r, func(p *payment) (int, string) {
		if p.status != eapi.PaymentStatusInitiated {
			return eapi.ResultPaymentNotInValidState, "Payment not in valid state"
		}
		g.authorize(p)
		return eapi.ResultOK, "OK"
	})
}

var returnForm = template.Must(template.New("return").Parse(`<!DOCTYPE html>
<html><body onload="document.forms[0].submit()">
<form method="POST" action="{{.Action}}">
{{range $name, $values := .Params}}{{range $values}}<input type="hidden" name="{{$name}}" value="{{.}}">
{{end}}{{end}}</form>
</body></html>
`))

// handlePay plays the customer completing the payment page and sends the
// browser back to returnUrl with signed result parameters.
func (g *Gateway) handlePay(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	p, ok := g.payments[r.PathValue("payId")]
	if !ok || p.status != eapi.PaymentStatusInProgress {
		g.mu.Unlock()
		http.Error(w, "payment not found", http.StatusNotFound)
		return
	}
	g.authorize(p)
	ret := &eapi.PayReturn{
		PayID:         p.id,
		ResultCode:    eapi.ResultOK,
		ResultMessage: "OK",
		PaymentStatus: intPtr(p.status),
		AuthCode:      strPtr("042760"),
		MerchantData:  p.merchantData,
	}
	returnURL, method := p.returnURL, p.returnMethod
	g.mu.Unlock()

	if err := eapi.Sign(ret, g.version, g.keys.Signer, g.clock()); err != nil {
		g.logger.Error("sign return", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	params := ReturnParams(ret)
	if method == http.MethodPost {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = returnForm.Execute(w, struct {
			Action string
			Params url.Values
		}{returnURL, params})
		return
	}
	target, err := url.Parse(returnURL)
	if err != nil {
		http.Error(w, "invalid returnUrl", http.StatusBadRequest)
		return
	}
	q := target.Query()
	for name, values := range params {
		q[name] = values
	}
	target.RawQuery = q.Encode()
	http.Redirect(w, r, target.String(), http.StatusSeeOther)
}

// ReturnParams renders a signed return the way the gateway appends it to
// returnUrl.
func ReturnParams(ret *eapi.PayReturn) url.Values {
	params := url.Values{}
	params.Set("payId", ret.PayID)
	params.Set("dttm", ret.Dttm)
	params.Set("resultCode", strconv.Itoa(ret.ResultCode))
	params.Set("resultMessage", ret.ResultMessage)
	if ret.PaymentStatus != nil {
		params.Set("paymentStatus", strconv.Itoa(*ret.PaymentStatus))
	}
	if ret.AuthCode != nil {
		params.Set("authCode", *ret.AuthCode)
	}
	if ret.MerchantData != nil {
		params.Set("merchantData", *ret.MerchantData)
	}
	params.Set("signature", ret.Signature)
	return params
}

func (g *Gateway) authorize(p *payment) {
	now := g.clock()
	p.authorized = &now
	if p.closePayment {
		p.status = eapi.PaymentStatusWaitingSettlement
		p.settled = &now
		return
	}
	p.status = eapi.PaymentStatusConfirmed
}

func (g *Gateway) payRes(p *payment, code int, msg string) *eapi.PayRes {
	res := &eapi.PayRes{
		PayID:         p.id,
		ResultCode:    code,
		ResultMessage: msg,
		PaymentStatus: intPtr(p.status),
	}
	if p.authorized != nil {
		res.AuthCode = strPtr("042760")
	}
	if !g.version.Before(eapi.V1_7) {
		res.StatusDetail = strPtr(statusDetail(p.status))
	}
	return res
}

// extensions attaches the signed extensions the configured version defines.
func (g *Gateway) extensions(p *payment) []eapi.Extension {
	var msgs []eapi.Message
	if !g.version.Before(eapi.V1_7) {
		dates := &eapi.TrxDatesExtension{
			Extension:   eapi.ExtensionTrxDates,
			CreatedDate: p.created.Format(time.RFC3339),
		}
		if p.authorized != nil {
			dates.AuthDate = strPtr(eapi.FormatDttm(*p.authorized))
		}
		if p.settled != nil {
			dates.SettlementDate = strPtr(p.settled.Format("20060102"))
		}
		msgs = append(msgs, dates)
	}
	if p.authorized != nil {
		if p.operation == "oneclickPayment" {
			msgs = append(msgs, &eapi.MaskClnRPExtension{
				Extension:  eapi.ExtensionMaskClnRP,
				MaskedCln:  "****1234",
				Expiration: "12/30",
			})
		} else if !g.version.Before(eapi.V1_9) {
			msgs = append(msgs, &eapi.MaskClnExtension{
				Extension:     eapi.ExtensionMaskCln,
				MaskedCln:     "****1234",
				Expiration:    "12/30",
				LongMaskedCln: strPtr("423451****1234"),
			})
		}
	}
	var exts []eapi.Extension
	for _, m := range msgs {
		if err := eapi.Sign(m, g.version, g.keys.Signer, g.clock()); err != nil {
			g.logger.Error("sign extension", zap.String("kind", string(m.MessageKind())), zap.Error(err))
			continue
		}
		var ext eapi.Extension
		if err := ext.FromMessage(m); err != nil {
			g.logger.Error("encode extension", zap.Error(err))
			continue
		}
		exts = append(exts, ext)
	}
	return exts
}

func statusDetail(status int) string {
	switch status {
	case eapi.PaymentStatusConfirmed, eapi.PaymentStatusWaitingSettlement, eapi.PaymentStatusSettled:
		return "Authorized"
	case eapi.PaymentStatusReversed:
		return "Reversed"
	case eapi.PaymentStatusRefunded:
		return "Refunded"
	default:
		return "Processing"
	}
}

func notFound(payID string) *eapi.PayRes {
	return &eapi.PayRes{PayID: payID, ResultCode: eapi.ResultPaymentNotFound, ResultMessage: "Payment not found"}
}

// decodeSigned reads a JSON request and checks its signature, answering 400
// itself when either fails.
func (g *Gateway) decodeSigned(w http.ResponseWriter, r *http.Request, m eapi.Message) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(m); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"resultCode": eapi.ResultMissingParameter, "resultMessage": err.Error()})
		return false
	}
	return g.verify(w, m)
}

// verifyPath fills the timestamp and signature from path segments and
// checks the signature.
func (g *Gateway) verifyPath(w http.ResponseWriter, r *http.Request, m eapi.Message) bool {
	base := eapi.SignBase{Dttm: r.PathValue("dttm"), Signature: r.PathValue("signature")}
	switch v := m.(type) {
	case *eapi.PayReq:
		v.SignBase = base
	case *eapi.EchoReq:
		v.SignBase = base
	case *eapi.CustReq:
		v.SignBase = base
	}
	return g.verify(w, m)
}

func (g *Gateway) verify(w http.ResponseWriter, m eapi.Message) bool {
	ok, err := eapi.Verify(m, g.version, g.keys.Verifier)
	if err != nil || !ok {
		msg := "Invalid signature"
		if err != nil {
			msg = err.Error()
		}
		g.logger.Warn("rejected request", zap.String("kind", string(m.MessageKind())), zap.String("reason", msg))
		writeJSON(w, http.StatusBadRequest, map[string]any{"resultCode": eapi.ResultInvalidParameter, "resultMessage": msg})
		return false
	}
	return true
}

func (g *Gateway) writePayRes(w http.ResponseWriter, res *eapi.PayRes) {
	g.writeSigned(w, res)
}

func (g *Gateway) writeSigned(w http.ResponseWriter, m eapi.Message) {
	if err := eapi.Sign(m, g.version, g.keys.Signer, g.clock()); err != nil {
		g.logger.Error("sign response", zap.String("kind", string(m.MessageKind())), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{"resultCode": eapi.ResultInternalError, "resultMessage": "Internal error"})
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

// WriteHeader captures the status code before forwarding to the real writer.
func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func newPayID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:15]
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }
