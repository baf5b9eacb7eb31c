package eapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/paygate/eapi/signature"
)

// maxResponseBytes caps how much of a gateway response is read.
const maxResponseBytes = 1 << 20

// call describes one HTTP exchange with the gateway.
type call struct {
	op     Operation
	method string
	// Path below the version prefix, already escaped.
	path string
	// JSON body, nil for GET.
	body   Message
	logger *zap.Logger
}

type rawResponse struct {
	status   int
	header   http.Header
	body     []byte
	location string
}

func (c *Client) send(ctx context.Context, cl call) (*rawResponse, error) {
	if c.cfg.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.timeout)
		defer cancel()
	}

	var body io.Reader
	if cl.body != nil {
		payload, err := json.Marshal(cl.body)
		if err != nil {
			return nil, NewInternalError(cl.op, "marshal request", err)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, c.endpoint(cl.path), body)
	if err != nil {
		return nil, NewInternalError(cl.op, "build request", err)
	}
	req.Header.Set("Accept", "application/json;charset=UTF-8")
	if cl.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, cl.op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, transportError(ctx, cl.op, err, WithHTTPStatus(resp.StatusCode))
	}
	if len(raw) > maxResponseBytes {
		return nil, NewTransportError(cl.op, MalformedResponse, fmt.Sprintf("response body exceeds %d bytes", maxResponseBytes), WithHTTPStatus(resp.StatusCode))
	}
	cl.logger.Debug("gateway responded",
		zap.String("method", cl.method),
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(raw)),
	)

	out := &rawResponse{
		status: resp.StatusCode,
		header: resp.Header,
		body:   raw,
	}
	if loc, err := resp.Location(); err == nil {
		out.location = loc.String()
	}
	return out, nil
}

func (c *Client) endpoint(path string) string {
	return c.baseURL + c.cfg.version.path() + path
}

func transportError(ctx context.Context, op Operation, err error, opts ...errorOption) *Error {
	opts = append(opts, WithCause(err))
	var netErr net.Error
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return NewTransportError(op, Timeout, "gateway did not answer in time", opts...)
	case errors.Is(err, context.Canceled):
		return NewTransportError(op, Canceled, "call canceled", opts...)
	case errors.As(err, &netErr) && netErr.Timeout():
		return NewTransportError(op, Timeout, "gateway did not answer in time", opts...)
	default:
		return NewTransportError(op, NetworkFailure, "gateway unreachable", opts...)
	}
}

// signedPath joins the path prefix with escaped segments. The signature, which
// is always last, is percent-encoded the way the gateway expects in GET URLs.
func signedPath(prefix string, base *SignBase, segments ...string) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	b.WriteByte('/')
	b.WriteString(url.PathEscape(base.Dttm))
	b.WriteByte('/')
	b.WriteString(signature.QueryEscape(base.Signature))
	return b.String()
}

// decodeJSON tolerates unknown fields: the gateway adds fields in minor
// releases and only signed fields are trusted anyway.
func decodeJSON(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("response body required")
		}
		return err
	}
	if dec.More() {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// describe renders a message for error text with keys in canonical order.
func describe(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	canonical, err := signature.CanonicalJSON(raw)
	if err != nil {
		return string(raw)
	}
	return string(canonical)
}
