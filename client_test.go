package eapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const testMerchant = "M1MIPS0000"

func newTestClient(t *testing.T, handler http.Handler, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	opts = append([]Option{withClock(func() time.Time { return fixedNow })}, opts...)
	c, err := NewClient(srv.URL+"/", testMerchant, testKeys, opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

// strictMux fails the test for any request no handler was registered for.
func strictMux(t *testing.T) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		http.NotFound(w, r)
	})
	return mux
}

func reply(t *testing.T, w http.ResponseWriter, v Version, m Message) {
	t.Helper()
	if err := Sign(m, v, testSecret, fixedNow); err != nil {
		t.Errorf("sign reply: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(t, w, m)
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encode reply: %v", err)
	}
}

// decodeSigned reads a signed JSON request and fails the request when its
// signature does not verify.
func decodeSigned(t *testing.T, w http.ResponseWriter, r *http.Request, v Version, m Message) bool {
	t.Helper()
	if err := json.NewDecoder(r.Body).Decode(m); err != nil {
		t.Errorf("decode request: %v", err)
		w.WriteHeader(http.StatusBadRequest)
		return false
	}
	if ok, err := Verify(m, v, testSecret); err != nil || !ok {
		t.Errorf("request signature: ok=%v err=%v", ok, err)
		w.WriteHeader(http.StatusBadRequest)
		return false
	}
	return true
}

// verifyPayPath checks the signature carried in a GET path.
func verifyPayPath(t *testing.T, w http.ResponseWriter, r *http.Request, v Version) (*PayReq, bool) {
	t.Helper()
	req := &PayReq{MerchantID: r.PathValue("merchantId"), PayID: r.PathValue("payId")}
	req.Dttm = r.PathValue("dttm")
	req.Signature = r.PathValue("signature")
	if ok, err := Verify(req, v, testSecret); err != nil || !ok {
		t.Errorf("path signature: ok=%v err=%v", ok, err)
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}
	return req, true
}

func signedExtension(t *testing.T, v Version, m Message) Extension {
	t.Helper()
	if err := Sign(m, v, testSecret, fixedNow); err != nil {
		t.Errorf("sign extension: %v", err)
	}
	var ext Extension
	if err := ext.FromMessage(m); err != nil {
		t.Errorf("store extension: %v", err)
	}
	return ext
}

func requireError(t *testing.T, err error, typ ErrorType, code ErrorCode) *Error {
	t.Helper()
	var e *Error
	if !errors.As(err, &e) {
		t.Fatalf("expected *Error %s/%s, got %v", typ, code, err)
	}
	if e.Type != typ || e.Code != code {
		t.Fatalf("expected %s/%s, got %s/%s (%v)", typ, code, e.Type, e.Code, e)
	}
	return e
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewClient("gateway.example", testMerchant, testKeys); err == nil {
		t.Fatalf("expected error for url without scheme")
	}
	if _, err := NewClient("https://gateway.example/api", " ", testKeys); err == nil {
		t.Fatalf("expected error for empty merchant id")
	}
	if _, err := NewClient("https://gateway.example/api", testMerchant, Keys{Signer: testSecret}); err == nil {
		t.Fatalf("expected error for missing verifier")
	}

	c, err := NewClient("https://gateway.example/api/", testMerchant, testKeys)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if c.Version() != DefaultVersion || c.MerchantID() != testMerchant {
		t.Fatalf("unexpected defaults %s %s", c.Version(), c.MerchantID())
	}
	if got := c.endpoint("/echo"); got != "https://gateway.example/api/v1.6/echo" {
		t.Fatalf("unexpected endpoint %q", got)
	}
}

func TestOptionsPanicOnProgrammerErrors(t *testing.T) {
	t.Parallel()

	for name, fn := range map[string]func(){
		"version": func() { WithVersion("2.0") },
		"timeout": func() { WithTimeout(-time.Second) },
		"skew":    func() { WithMaxClockSkew(0, nil) },
	} {
		func() {
			defer func() {
				if recover() == nil {
					t.Fatalf("%s: expected panic", name)
				}
			}()
			fn()
		}()
	}
}

func TestNilOptionsKeepDefaults(t *testing.T) {
	t.Parallel()

	c, err := NewClient("https://gateway.example/api", testMerchant, testKeys, WithHTTPClient(nil), WithLogger(nil))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if c.httpClient == nil || c.httpClient.CheckRedirect == nil {
		t.Fatalf("expected the default HTTP client with redirects disabled")
	}
	if c.cfg.logger == nil {
		t.Fatalf("expected the default logger")
	}
}

func TestPaymentInit(t *testing.T) {
	t.Parallel()

	mux := strictMux(t)
	mux.HandleFunc("POST /v1.6/payment/init", func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("unexpected content type %q", ct)
		}
		var req PayInitReq
		if !decodeSigned(t, w, r, V1_6, &req) {
			return
		}
		if req.MerchantID != testMerchant || req.Dttm != "20250101120000" {
			t.Errorf("unexpected merchant or dttm: %q %q", req.MerchantID, req.Dttm)
		}
		if len(req.Cart) != 2 || req.TotalAmount != 1789600 {
			t.Errorf("unexpected payload %+v", req)
		}
		reply(t, w, V1_6, &PayRes{PayID: "pay123", ResultMessage: "OK", PaymentStatus: intPtr(PaymentStatusInitiated)})
	})
	c := newTestClient(t, mux)

	req := samplePayInitReq()
	res, err := c.PaymentInit(context.Background(), req)
	if err != nil {
		t.Fatalf("payment init: %v", err)
	}
	if res.PayID != "pay123" || res.PaymentStatus == nil || *res.PaymentStatus != PaymentStatusInitiated {
		t.Fatalf("unexpected response %+v", res)
	}
	if req.MerchantID != "" || req.Dttm != "" || req.Signature != "" {
		t.Fatalf("caller request must not be modified: %+v", req)
	}
}

func TestPaymentInitRejectedBeforeSending(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, strictMux(t), WithVersion(V1_7))

	cases := []struct {
		name   string
		mutate func(*PayInitReq)
		code   ErrorCode
		param  string
	}{
		{"missing order number", func(r *PayInitReq) { r.OrderNo = "" }, MissingParameter, "orderNo"},
		{"long item name", func(r *PayInitReq) { r.Cart[0].Name = strings.Repeat("x", 21) }, MalformedParameter, "cart[0].name"},
		{"cart total", func(r *PayInitReq) { r.TotalAmount++ }, MalformedParameter, "totalAmount"},
		{"field not signed in version", func(r *PayInitReq) { r.Description = strPtr("Order 5547") }, UnsupportedVersion, "description"},
	}
	for _, tc := range cases {
		req := samplePayInitReq()
		tc.mutate(req)
		_, err := c.PaymentInit(context.Background(), req)
		e := requireError(t, err, InvalidParameter, tc.code)
		if e.Param == nil || *e.Param != tc.param {
			t.Fatalf("%s: expected param %q, got %v", tc.name, tc.param, e.Param)
		}
		if e.Status != 0 {
			t.Fatalf("%s: no HTTP status expected", tc.name)
		}
	}

	_, err := c.PaymentInit(context.Background(), nil)
	requireError(t, err, InvalidParameter, MissingParameter)
}

func TestMissingPayIDNeverReachesGateway(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, strictMux(t))
	ctx := context.Background()

	calls := map[Operation]func() error{
		OpPaymentStatus:        func() error { _, err := c.PaymentStatus(ctx, ""); return err },
		OpPaymentClose:         func() error { _, err := c.PaymentClose(ctx, ""); return err },
		OpPaymentReverse:       func() error { _, err := c.PaymentReverse(ctx, " "); return err },
		OpPaymentRefund:        func() error { _, err := c.PaymentRefund(ctx, "", nil); return err },
		OpPaymentProcess:       func() error { _, err := c.PaymentProcess(ctx, ""); return err },
		OpPaymentOneclickStart: func() error { _, err := c.PaymentOneclickStart(ctx, ""); return err },
	}
	for op, fn := range calls {
		e := requireError(t, fn(), InvalidParameter, MissingParameter)
		if e.Operation != op {
			t.Fatalf("expected operation %s, got %s", op, e.Operation)
		}
		if e.Param == nil || *e.Param != "payId" {
			t.Fatalf("%s: expected payId param, got %v", op, e.Param)
		}
	}

	_, err := c.CustomerInfo(ctx, "")
	requireError(t, err, InvalidParameter, MissingParameter)
	if _, err := c.PaymentProcessURL(""); err == nil {
		t.Fatalf("expected error for empty payId")
	}
}

func TestPaymentStatusVerifiesExtensions(t *testing.T) {
	t.Parallel()

	mux := strictMux(t)
	mux.HandleFunc("GET /v1.7/payment/status/{merchantId}/{payId}/{dttm}/{signature}", func(w http.ResponseWriter, r *http.Request) {
		req, ok := verifyPayPath(t, w, r, V1_7)
		if !ok {
			return
		}
		if accept := r.Header.Get("Accept"); !strings.HasPrefix(accept, "application/json") {
			t.Errorf("unexpected accept header %q", accept)
		}
		res := &PayRes{
			PayID:         req.PayID,
			ResultMessage: "OK",
			PaymentStatus: intPtr(PaymentStatusWaitingSettlement),
			AuthCode:      strPtr("042760"),
			Extensions: []Extension{
				signedExtension(t, V1_7, &TrxDatesExtension{Extension: ExtensionTrxDates, CreatedDate: "2025-01-01T12:00:00+01:00"}),
				signedExtension(t, V1_7, &MaskClnRPExtension{Extension: ExtensionMaskClnRP, MaskedCln: "****1234", Expiration: "12/30"}),
			},
		}
		switch req.PayID {
		case "forged-extension":
			forged := &MaskClnRPExtension{Extension: ExtensionMaskClnRP, MaskedCln: "****1234", Expiration: "12/30"}
			if err := Sign(forged, V1_7, testSecret, fixedNow); err != nil {
				t.Errorf("sign: %v", err)
			}
			forged.MaskedCln = "****9999"
			_ = res.Extensions[1].FromMessage(forged)
		case "unknown-extension":
			var ext Extension
			_ = ext.UnmarshalJSON([]byte(`{"extension":"dcc","dttm":"20250101120000","signature":"c2ln"}`))
			res.Extensions = append(res.Extensions, ext)
		}
		reply(t, w, V1_7, res)
	})
	c := newTestClient(t, mux, WithVersion(V1_7))
	ctx := context.Background()

	res, err := c.PaymentStatus(ctx, "pay123")
	if err != nil {
		t.Fatalf("payment status: %v", err)
	}
	if len(res.Extensions) != 2 {
		t.Fatalf("expected 2 extensions, got %d", len(res.Extensions))
	}
	masked, err := res.Extensions[1].AsMaskClnRP()
	if err != nil || masked.MaskedCln != "****1234" {
		t.Fatalf("unexpected extension %+v, %v", masked, err)
	}

	_, err = c.PaymentStatus(ctx, "forged-extension")
	e := requireError(t, err, SignatureInvalid, SignatureMismatch)
	if e.Param == nil || *e.Param != "extensions[1]" {
		t.Fatalf("expected extensions[1], got %v", e.Param)
	}

	_, err = c.PaymentStatus(ctx, "unknown-extension")
	requireError(t, err, SignatureInvalid, UnknownExtension)
}

func TestResponseSignatureFailures(t *testing.T) {
	t.Parallel()

	mux := strictMux(t)
	mux.HandleFunc("GET /v1.6/payment/status/{merchantId}/{payId}/{dttm}/{signature}", func(w http.ResponseWriter, r *http.Request) {
		req, ok := verifyPayPath(t, w, r, V1_6)
		if !ok {
			return
		}
		res := &PayRes{PayID: req.PayID, ResultMessage: "OK", PaymentStatus: intPtr(PaymentStatusSettled)}
		switch req.PayID {
		case "tampered":
			if err := Sign(res, V1_6, testSecret, fixedNow); err != nil {
				t.Errorf("sign: %v", err)
			}
			res.PaymentStatus = intPtr(PaymentStatusRefunded)
		case "unsigned":
			res.Dttm = FormatDttm(fixedNow)
		case "garbage-signature":
			res.Dttm = FormatDttm(fixedNow)
			res.Signature = "%%%"
		}
		writeJSON(t, w, res)
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	_, err := c.PaymentStatus(ctx, "tampered")
	requireError(t, err, SignatureInvalid, SignatureMismatch)

	_, err = c.PaymentStatus(ctx, "unsigned")
	requireError(t, err, SignatureInvalid, MissingSignature)

	_, err = c.PaymentStatus(ctx, "garbage-signature")
	requireError(t, err, SignatureInvalid, SignatureMismatch)
}

func TestUnexpectedHTTPStatus(t *testing.T) {
	t.Parallel()

	mux := strictMux(t)
	mux.HandleFunc("PUT /v1.6/payment/close", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("PUT /v1.6/payment/reverse", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	_, err := c.PaymentClose(ctx, "pay123")
	e := requireError(t, err, TransportFailure, UnexpectedStatus)
	if e.Status != http.StatusInternalServerError || e.Retryable() {
		t.Fatalf("500 should be recorded and not retryable: %+v", e)
	}

	_, err = c.PaymentReverse(ctx, "pay123")
	e = requireError(t, err, TransportFailure, UnexpectedStatus)
	if e.Status != http.StatusServiceUnavailable || !e.Retryable() {
		t.Fatalf("503 should be retryable: %+v", e)
	}
}

func TestMalformedAndExtendedResponses(t *testing.T) {
	t.Parallel()

	mux := strictMux(t)
	mux.HandleFunc("POST /v1.6/echo", func(w http.ResponseWriter, r *http.Request) {
		var req EchoReq
		if !decodeSigned(t, w, r, V1_6, &req) {
			return
		}
		res := &EchoRes{ResultMessage: "OK"}
		if err := Sign(res, V1_6, testSecret, fixedNow); err != nil {
			t.Errorf("sign: %v", err)
		}
		body := map[string]any{
			"dttm":          res.Dttm,
			"signature":     res.Signature,
			"resultCode":    res.ResultCode,
			"resultMessage": res.ResultMessage,
			"newField":      "added in a later gateway release",
		}
		writeJSON(t, w, body)
	})
	mux.HandleFunc("GET /v1.6/echo/{merchantId}/{dttm}/{signature}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>not json</html>")
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	res, err := c.EchoPost(ctx)
	if err != nil {
		t.Fatalf("unknown response fields must be tolerated: %v", err)
	}
	if res.ResultMessage != "OK" {
		t.Fatalf("unexpected response %+v", res)
	}

	_, err = c.EchoGet(ctx)
	requireError(t, err, TransportFailure, MalformedResponse)
}

func TestPaymentProcess(t *testing.T) {
	t.Parallel()

	mux := strictMux(t)
	mux.HandleFunc("GET /v1.6/payment/process/{merchantId}/{payId}/{dttm}/{signature}", func(w http.ResponseWriter, r *http.Request) {
		req, ok := verifyPayPath(t, w, r, V1_6)
		if !ok {
			return
		}
		switch req.PayID {
		case "pay123":
			w.Header().Set("Location", "https://pay.example/page?id="+req.PayID)
			w.WriteHeader(http.StatusSeeOther)
		case "expired":
			w.WriteHeader(http.StatusSeeOther)
		default:
			w.WriteHeader(http.StatusOK)
		}
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	location, err := c.PaymentProcess(ctx, "pay123")
	if err != nil {
		t.Fatalf("payment process: %v", err)
	}
	if location != "https://pay.example/page?id=pay123" {
		t.Fatalf("unexpected location %q", location)
	}

	_, err = c.PaymentProcess(ctx, "expired")
	e := requireError(t, err, RemoteBusinessError, PaymentNotFound)
	if e.Status != http.StatusSeeOther {
		t.Fatalf("expected status 303 to be recorded, got %d", e.Status)
	}

	_, err = c.PaymentProcess(ctx, "other")
	requireError(t, err, TransportFailure, UnexpectedStatus)
}

func TestPaymentProcessURL(t *testing.T) {
	t.Parallel()

	c, err := NewClient("https://gateway.example/api", testMerchant, testKeys, withClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	raw, err := c.PaymentProcessURL("pay123")
	if err != nil {
		t.Fatalf("process url: %v", err)
	}
	prefix := "https://gateway.example/api/v1.6/payment/process/M1MIPS0000/pay123/20250101120000/"
	if !strings.HasPrefix(raw, prefix) {
		t.Fatalf("unexpected url %q", raw)
	}
	sig, err := url.QueryUnescape(strings.TrimPrefix(raw, prefix))
	if err != nil {
		t.Fatalf("unescape signature: %v", err)
	}
	req := &PayReq{MerchantID: testMerchant, PayID: "pay123", SignBase: SignBase{Dttm: "20250101120000", Signature: sig}}
	if ok, err := Verify(req, V1_6, testSecret); err != nil || !ok {
		t.Fatalf("url signature does not verify: ok=%v err=%v", ok, err)
	}
}

func TestPaymentProcessURLIsObserved(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	core, logs := observer.New(zap.DebugLevel)
	c, err := NewClient("https://gateway.example/api", testMerchant, testKeys, WithMetrics(reg), WithLogger(zap.New(core)))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := c.PaymentProcessURL("pay123"); err != nil {
		t.Fatalf("process url: %v", err)
	}
	if _, err := c.PaymentProcessURL(""); err == nil {
		t.Fatalf("expected missing payId error")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	counts := map[string]float64{}
	for _, family := range families {
		if family.GetName() != "eapi_client_calls_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			counts[labels["operation"]+"/"+labels["outcome"]] = m.GetCounter().GetValue()
		}
	}
	if counts["paymentProcessURL/ok"] != 1 || counts["paymentProcessURL/invalid_parameter"] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}
	if failed := logs.FilterMessage("gateway call failed").Len(); failed != 1 {
		t.Fatalf("expected one logged failure, got %d", failed)
	}
}

func TestPaymentRefund(t *testing.T) {
	t.Parallel()

	mux := strictMux(t)
	mux.HandleFunc("PUT /v1.6/payment/refund", func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read body: %v", err)
		}
		var req PayRefundReq
		if err := json.Unmarshal(raw, &req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if ok, err := Verify(&req, V1_6, testSecret); err != nil || !ok {
			t.Errorf("refund signature: ok=%v err=%v", ok, err)
		}
		status := PaymentStatusRefunded
		switch req.PayID {
		case "partial":
			if req.Amount == nil || *req.Amount != 5000 {
				t.Errorf("expected amount 5000, got %v", req.Amount)
			}
			status = PaymentStatusSettled
		case "full":
			if strings.Contains(string(raw), "amount") {
				t.Errorf("full refund must not send an amount: %s", raw)
			}
		}
		reply(t, w, V1_6, &PayRes{PayID: req.PayID, ResultMessage: "OK", PaymentStatus: &status})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	amount := int64(5000)
	res, err := c.PaymentRefund(ctx, "partial", &amount)
	if err != nil {
		t.Fatalf("partial refund: %v", err)
	}
	if *res.PaymentStatus != PaymentStatusSettled {
		t.Fatalf("unexpected status %d", *res.PaymentStatus)
	}

	res, err = c.PaymentRefund(ctx, "full", nil)
	if err != nil {
		t.Fatalf("full refund: %v", err)
	}
	if *res.PaymentStatus != PaymentStatusRefunded {
		t.Fatalf("unexpected status %d", *res.PaymentStatus)
	}

	zero := int64(0)
	_, err = c.PaymentRefund(ctx, "partial", &zero)
	e := requireError(t, err, InvalidParameter, MalformedParameter)
	if e.Param == nil || *e.Param != "amount" {
		t.Fatalf("expected amount param, got %v", e.Param)
	}
}

func TestBusinessResultIsReturned(t *testing.T) {
	t.Parallel()

	mux := strictMux(t)
	mux.HandleFunc("PUT /v1.6/payment/close", func(w http.ResponseWriter, r *http.Request) {
		var req PayReq
		if !decodeSigned(t, w, r, V1_6, &req) {
			return
		}
		reply(t, w, V1_6, &PayRes{PayID: req.PayID, ResultCode: ResultPaymentNotInValidState, ResultMessage: "Payment not in valid state"})
	})
	c := newTestClient(t, mux)

	res, err := c.PaymentClose(context.Background(), "pay123")
	if err != nil {
		t.Fatalf("a verified refusal is not a call failure: %v", err)
	}
	e := requireError(t, ResultError(OpPaymentClose, res), RemoteBusinessError, GatewayRejected)
	if e.ResultCode == nil || *e.ResultCode != ResultPaymentNotInValidState {
		t.Fatalf("unexpected result code %v", e.ResultCode)
	}
}

func TestEchoAndCustomerInfo(t *testing.T) {
	t.Parallel()

	mux := strictMux(t)
	mux.HandleFunc("GET /v1.9/echo/{merchantId}/{dttm}/{signature}", func(w http.ResponseWriter, r *http.Request) {
		req := &EchoReq{MerchantID: r.PathValue("merchantId")}
		req.Dttm = r.PathValue("dttm")
		req.Signature = r.PathValue("signature")
		if ok, err := Verify(req, V1_9, testSecret); err != nil || !ok {
			t.Errorf("echo signature: ok=%v err=%v", ok, err)
		}
		reply(t, w, V1_9, &EchoRes{ResultMessage: "OK"})
	})
	mux.HandleFunc("GET /v1.9/customer/info/{merchantId}/{customerId}/{dttm}/{signature}", func(w http.ResponseWriter, r *http.Request) {
		req := &CustReq{MerchantID: r.PathValue("merchantId"), CustomerID: r.PathValue("customerId")}
		req.Dttm = r.PathValue("dttm")
		req.Signature = r.PathValue("signature")
		if ok, err := Verify(req, V1_9, testSecret); err != nil || !ok {
			t.Errorf("customer signature: ok=%v err=%v", ok, err)
		}
		reply(t, w, V1_9, &CustRes{CustomerID: req.CustomerID, ResultCode: ResultCustomerHasSavedCards, ResultMessage: "Customer found, found saved card(s)"})
	})
	c := newTestClient(t, mux, WithVersion(V1_9))
	ctx := context.Background()

	echo, err := c.EchoGet(ctx)
	if err != nil {
		t.Fatalf("echo: %v", err)
	}
	if echo.Dttm != "20250101120000" {
		t.Fatalf("unexpected echo %+v", echo)
	}

	cust, err := c.CustomerInfo(ctx, "cust 1")
	if err != nil {
		t.Fatalf("customer info: %v", err)
	}
	if cust.CustomerID != "cust 1" || cust.ResultCode != ResultCustomerHasSavedCards {
		t.Fatalf("unexpected customer response %+v", cust)
	}
}

func TestOneclickPayment(t *testing.T) {
	t.Parallel()

	mux := strictMux(t)
	mux.HandleFunc("POST /v1.7/payment/oneclick/init", func(w http.ResponseWriter, r *http.Request) {
		var req PayOneclickInitReq
		if !decodeSigned(t, w, r, V1_7, &req) {
			return
		}
		if req.OrigPayID != "template" || req.MerchantID != testMerchant {
			t.Errorf("unexpected request %+v", req)
		}
		reply(t, w, V1_7, &PayRes{PayID: "oneclick1", ResultMessage: "OK", PaymentStatus: intPtr(PaymentStatusInitiated)})
	})
	mux.HandleFunc("POST /v1.7/payment/oneclick/start", func(w http.ResponseWriter, r *http.Request) {
		var req PayReq
		if !decodeSigned(t, w, r, V1_7, &req) {
			return
		}
		reply(t, w, V1_7, &PayRes{PayID: req.PayID, ResultMessage: "OK", PaymentStatus: intPtr(PaymentStatusInProgress)})
	})
	c := newTestClient(t, mux, WithVersion(V1_7))
	ctx := context.Background()

	created, err := c.PaymentOneclickInit(ctx, &PayOneclickInitReq{
		OrigPayID:   "template",
		OrderNo:     "5548",
		TotalAmount: 1000,
		Currency:    "CZK",
		ClientIP:    strPtr("10.0.0.1"),
	})
	if err != nil {
		t.Fatalf("oneclick init: %v", err)
	}
	started, err := c.PaymentOneclickStart(ctx, created.PayID)
	if err != nil {
		t.Fatalf("oneclick start: %v", err)
	}
	if started.PayID != "oneclick1" || *started.PaymentStatus != PaymentStatusInProgress {
		t.Fatalf("unexpected response %+v", started)
	}

	_, err = c.PaymentOneclickInit(ctx, &PayOneclickInitReq{OrderNo: "1", TotalAmount: 1, Currency: "CZK"})
	requireError(t, err, InvalidParameter, MissingParameter)
}

func returnParams(r *PayReturn) url.Values {
	params := url.Values{}
	params.Set("payId", r.PayID)
	params.Set("dttm", r.Dttm)
	params.Set("resultCode", strconv.Itoa(r.ResultCode))
	params.Set("resultMessage", r.ResultMessage)
	if r.PaymentStatus != nil {
		params.Set("paymentStatus", strconv.Itoa(*r.PaymentStatus))
	}
	if r.AuthCode != nil {
		params.Set("authCode", *r.AuthCode)
	}
	if r.MerchantData != nil {
		params.Set("merchantData", *r.MerchantData)
	}
	params.Set("signature", r.Signature)
	return params
}

func TestVerifyReturn(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, strictMux(t))
	ret := &PayReturn{
		PayID:         "pay123",
		ResultMessage: "OK",
		PaymentStatus: intPtr(PaymentStatusWaitingSettlement),
		AuthCode:      strPtr("042760"),
		MerchantData:  strPtr("b3JkZXI9NTU0Nw=="),
	}
	if err := Sign(ret, V1_6, testSecret, fixedNow); err != nil {
		t.Fatalf("sign: %v", err)
	}

	got, err := c.VerifyReturn(returnParams(ret))
	if err != nil {
		t.Fatalf("verify return: %v", err)
	}
	if got.PayID != "pay123" || *got.PaymentStatus != PaymentStatusWaitingSettlement || *got.MerchantData != "b3JkZXI9NTU0Nw==" {
		t.Fatalf("unexpected return %+v", got)
	}

	forged := returnParams(ret)
	forged.Set("paymentStatus", strconv.Itoa(PaymentStatusSettled))
	_, err = c.VerifyReturn(forged)
	requireError(t, err, SignatureInvalid, SignatureMismatch)

	unsigned := returnParams(ret)
	unsigned.Del("signature")
	_, err = c.VerifyReturn(unsigned)
	requireError(t, err, SignatureInvalid, MissingSignature)

	missing := returnParams(ret)
	missing.Del("payId")
	_, err = c.VerifyReturn(missing)
	requireError(t, err, InvalidParameter, MissingParameter)

	malformed := returnParams(ret)
	malformed.Set("resultCode", "ok")
	_, err = c.VerifyReturn(malformed)
	requireError(t, err, InvalidParameter, MalformedParameter)
}

func TestTimeoutAndCancellation(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	mux := strictMux(t)
	mux.HandleFunc("POST /v1.6/echo", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	})
	c := newTestClient(t, mux, WithTimeout(50*time.Millisecond))
	t.Cleanup(func() { close(release) })

	_, err := c.EchoPost(context.Background())
	e := requireError(t, err, TransportFailure, Timeout)
	if !e.Retryable() {
		t.Fatalf("timeouts should be retryable")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.EchoPost(ctx)
	requireError(t, err, TransportFailure, Canceled)
}

func TestNetworkFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := NewClient(base, testMerchant, testKeys)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	_, err = c.EchoPost(context.Background())
	e := requireError(t, err, TransportFailure, NetworkFailure)
	if !e.Retryable() || e.Status != 0 {
		t.Fatalf("unexpected error %+v", e)
	}
}

func TestMaxClockSkew(t *testing.T) {
	t.Parallel()

	mux := strictMux(t)
	mux.HandleFunc("POST /v1.6/echo", func(w http.ResponseWriter, r *http.Request) {
		res := &EchoRes{ResultMessage: "OK"}
		res.Dttm = FormatDttm(fixedNow.Add(-5 * time.Minute))
		reply(t, w, V1_6, res)
	})

	lenient := newTestClient(t, mux, WithMaxClockSkew(10*time.Minute, time.UTC))
	if _, err := lenient.EchoPost(context.Background()); err != nil {
		t.Fatalf("within skew: %v", err)
	}

	strict := newTestClient(t, mux, WithMaxClockSkew(time.Minute, time.UTC))
	_, err := strict.EchoPost(context.Background())
	requireError(t, err, SignatureInvalid, StaleTimestamp)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestWithHTTPClient(t *testing.T) {
	t.Parallel()

	var seen []string
	hc := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		seen = append(seen, r.Method+" "+r.URL.Path)
		res := &EchoRes{ResultMessage: "OK"}
		if err := Sign(res, V1_6, testSecret, fixedNow); err != nil {
			return nil, err
		}
		body, _ := json.Marshal(res)
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(string(body))),
			Request:    r,
		}, nil
	})}

	c, err := NewClient("https://gateway.example/api", testMerchant, testKeys, WithHTTPClient(hc))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := c.EchoPost(context.Background()); err != nil {
		t.Fatalf("echo: %v", err)
	}
	if len(seen) != 1 || seen[0] != "POST /api/v1.6/echo" {
		t.Fatalf("unexpected requests %v", seen)
	}
	if hc.CheckRedirect != nil {
		t.Fatalf("caller's http client must not be modified")
	}
}

func TestMetricsAndLogging(t *testing.T) {
	t.Parallel()

	mux := strictMux(t)
	mux.HandleFunc("POST /v1.6/echo", func(w http.ResponseWriter, r *http.Request) {
		reply(t, w, V1_6, &EchoRes{ResultMessage: "OK"})
	})
	mux.HandleFunc("GET /v1.6/payment/status/{merchantId}/{payId}/{dttm}/{signature}", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	reg := prometheus.NewRegistry()
	core, logs := observer.New(zap.DebugLevel)
	c := newTestClient(t, mux, WithMetrics(reg), WithLogger(zap.New(core)))
	ctx := context.Background()

	if _, err := c.EchoPost(ctx); err != nil {
		t.Fatalf("echo: %v", err)
	}
	if _, err := c.PaymentStatus(ctx, "pay123"); err == nil {
		t.Fatalf("expected status call to fail")
	}

	// A second client on the same registry shares the collectors.
	other := newTestClient(t, mux, WithMetrics(reg))
	if _, err := other.EchoPost(ctx); err != nil {
		t.Fatalf("echo: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	counts := map[string]float64{}
	var histograms int
	for _, family := range families {
		switch family.GetName() {
		case "eapi_client_calls_total":
			for _, m := range family.GetMetric() {
				labels := map[string]string{}
				for _, lp := range m.GetLabel() {
					labels[lp.GetName()] = lp.GetValue()
				}
				counts[labels["operation"]+"/"+labels["outcome"]] = m.GetCounter().GetValue()
			}
		case "eapi_client_call_duration_seconds":
			histograms = len(family.GetMetric())
		}
	}
	if counts["echoPost/ok"] != 2 {
		t.Fatalf("expected two successful echo calls, got %v", counts)
	}
	if counts["paymentStatus/transport_failure"] != 1 {
		t.Fatalf("expected one failed status call, got %v", counts)
	}
	if histograms != 2 {
		t.Fatalf("expected latency for two operations, got %d", histograms)
	}

	failed := logs.FilterMessage("gateway call failed").All()
	if len(failed) != 1 {
		t.Fatalf("expected one failure log, got %d", len(failed))
	}
	fields := failed[0].ContextMap()
	if fields["operation"] != string(OpPaymentStatus) || fields["code"] != string(UnexpectedStatus) {
		t.Fatalf("unexpected log fields %v", fields)
	}
	if fields["request_id"] == "" {
		t.Fatalf("expected a request id")
	}
	if fields["status"] != int64(http.StatusBadGateway) {
		t.Fatalf("expected status field, got %v", fields["status"])
	}
}
