package eapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Operation names a gateway call. It is reported in errors, logs and metrics.
type Operation string

const (
	OpPaymentInit          Operation = "paymentInit"
	OpPaymentProcess       Operation = "paymentProcess"
	OpPaymentProcessURL    Operation = "paymentProcessURL"
	OpPaymentStatus        Operation = "paymentStatus"
	OpPaymentClose         Operation = "paymentClose"
	OpPaymentReverse       Operation = "paymentReverse"
	OpPaymentRefund        Operation = "paymentRefund"
	OpEchoGet              Operation = "echoGet"
	OpEchoPost             Operation = "echoPost"
	OpCustomerInfo         Operation = "customerInfo"
	OpPaymentOneclickInit  Operation = "paymentOneclickInit"
	OpPaymentOneclickStart Operation = "paymentOneclickStart"
	OpPaymentReturn        Operation = "paymentReturn"
)

// Client talks to one gateway on behalf of one merchant. It is safe for
// concurrent use; every call is independent.
type Client struct {
	baseURL    string
	merchantID string
	keys       Keys
	cfg        config
	httpClient *http.Client
	metrics    *metrics
}

// NewClient builds a client for the gateway at baseURL, e.g.
// https://iapi.iplatebnibrana.csob.cz/api. The version prefix is appended per
// call.
func NewClient(baseURL, merchantID string, keys Keys, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("eapi: invalid gateway url %q", baseURL)
	}
	if strings.TrimSpace(merchantID) == "" {
		return nil, errors.New("eapi: merchant id is required")
	}
	if keys.Signer == nil || keys.Verifier == nil {
		return nil, errors.New("eapi: signing and verification keys are required")
	}

	cfg := config{
		version:    DefaultVersion,
		httpClient: http.DefaultClient,
		timeout:    DefaultTimeout,
		logger:     zap.NewNop(),
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	hc := *cfg.httpClient
	hc.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		merchantID: merchantID,
		keys:       keys,
		cfg:        cfg,
		httpClient: &hc,
		metrics:    newMetrics(cfg.registerer),
	}, nil
}

// Version returns the protocol version the client speaks.
func (c *Client) Version() Version {
	return c.cfg.version
}

// MerchantID returns the merchant the client signs for.
func (c *Client) MerchantID() string {
	return c.merchantID
}

func (c *Client) now() time.Time {
	t := c.cfg.clock()
	if c.cfg.location != nil {
		t = t.In(c.cfg.location)
	}
	return t
}

func (c *Client) verifyConfig() verifyConfig {
	return verifyConfig{
		version:      c.cfg.version,
		verifier:     c.keys.Verifier,
		maxClockSkew: c.cfg.maxClockSkew,
		location:     c.cfg.location,
		clock:        c.cfg.clock,
	}
}

// begin starts logging and timing a call. The returned func records the
// outcome.
func (c *Client) begin(op Operation) (*zap.Logger, func(error)) {
	start := time.Now()
	logger := c.cfg.logger.With(
		zap.String("operation", string(op)),
		zap.String("request_id", uuid.NewString()),
	)
	logger.Debug("calling gateway")
	return logger, func(err error) {
		elapsed := time.Since(start)
		c.metrics.observe(op, err, elapsed)
		if err == nil {
			logger.Debug("gateway call succeeded", zap.Duration("elapsed", elapsed))
			return
		}
		fields := []zap.Field{zap.Duration("elapsed", elapsed), zap.Error(err)}
		var e *Error
		if errors.As(err, &e) {
			fields = append(fields, zap.String("type", string(e.Type)), zap.String("code", string(e.Code)))
			if e.Status != 0 {
				fields = append(fields, zap.Int("status", e.Status))
			}
		}
		logger.Warn("gateway call failed", fields...)
	}
}

// sign resets the timestamp to now and signs m, translating failures into
// caller errors raised before any network traffic.
func (c *Client) sign(op Operation, m Message) error {
	m.signBase().Dttm = ""
	err := Sign(m, c.cfg.version, c.keys.Signer, c.now())
	if err == nil {
		return nil
	}
	var unsigned *UnsignedFieldError
	var unsupported *UnsupportedError
	switch {
	case errors.As(err, &unsigned):
		return NewInvalidParameterError(op, UnsupportedVersion,
			fmt.Sprintf("%s not supported by protocol version %s", strings.Join(unsigned.Fields, ", "), c.cfg.version),
			WithOffendingParam(unsigned.Fields[0]), WithCause(err))
	case errors.As(err, &unsupported):
		return NewInvalidParameterError(op, UnsupportedVersion,
			fmt.Sprintf("%s is not available in protocol version %s", op, c.cfg.version), WithCause(err))
	default:
		return NewInternalError(op, "cannot sign request", err)
	}
}

// exchange performs the call, expects 200 with a JSON body and verifies the
// decoded response.
func exchange[T any, PT interface {
	*T
	Message
}](ctx context.Context, c *Client, cl call) (PT, error) {
	resp, err := c.send(ctx, cl)
	if err != nil {
		return nil, err
	}
	if resp.status != http.StatusOK {
		return nil, NewTransportError(cl.op, UnexpectedStatus,
			fmt.Sprintf("expected http %d, got %d", http.StatusOK, resp.status), WithHTTPStatus(resp.status))
	}
	res := PT(new(T))
	if err := decodeJSON(resp.body, res); err != nil {
		return nil, NewTransportError(cl.op, MalformedResponse, "cannot decode response", WithCause(err), WithHTTPStatus(resp.status))
	}
	if err := verifyMessage(cl.op, res, c.verifyConfig()); err != nil {
		return nil, err
	}
	return res, nil
}

func requireParam(op Operation, name, value string) error {
	if strings.TrimSpace(value) == "" {
		return NewInvalidParameterError(op, MissingParameter, name+" is required", WithOffendingParam(name))
	}
	return nil
}

// validationError maps a request validation failure to an [InvalidParameter] error.
func validationError(op Operation, err error) error {
	var fe *FieldError
	if errors.As(err, &fe) {
		code := MalformedParameter
		if fe.Tag == "required" {
			code = MissingParameter
		}
		return NewInvalidParameterError(op, code, fe.Error(), WithOffendingParam(fe.Field), WithCause(err))
	}
	return NewInvalidParameterError(op, MalformedParameter, err.Error(), WithCause(err))
}
