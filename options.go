package eapi

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// DefaultTimeout bounds a single gateway round trip unless [WithTimeout] says otherwise.
const DefaultTimeout = 30 * time.Second

type config struct {
	version      Version
	httpClient   *http.Client
	timeout      time.Duration
	logger       *zap.Logger
	registerer   prometheus.Registerer
	maxClockSkew time.Duration
	location     *time.Location
	clock        func() time.Time
}

// Option customizes the client behavior.
type Option func(*config)

// WithVersion selects the protocol version. It defaults to [DefaultVersion].
func WithVersion(v Version) Option {
	if !v.Valid() {
		panic("eapi: unsupported protocol version " + string(v))
	}
	return func(cfg *config) {
		cfg.version = v
	}
}

// WithHTTPClient replaces the HTTP client. Redirects are never followed: the
// client installs its own CheckRedirect on a copy. A nil client keeps the
// default.
func WithHTTPClient(client *http.Client) Option {
	return func(cfg *config) {
		if client != nil {
			cfg.httpClient = client
		}
	}
}

// WithTimeout bounds every call. Zero disables the bound, leaving only the
// caller's context.
func WithTimeout(d time.Duration) Option {
	if d < 0 {
		panic("eapi: timeout must not be negative")
	}
	return func(cfg *config) {
		cfg.timeout = d
	}
}

// WithLogger sets the logger used for per-call diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithMetrics registers call counters and latency histograms on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(cfg *config) {
		cfg.registerer = reg
	}
}

// WithMaxClockSkew rejects responses whose dttm differs from the local clock
// by more than skew. The gateway timestamp is read in loc; nil means
// time.Local.
func WithMaxClockSkew(skew time.Duration, loc *time.Location) Option {
	if skew <= 0 {
		panic("eapi: max clock skew must be positive")
	}
	return func(cfg *config) {
		cfg.maxClockSkew = skew
		cfg.location = loc
	}
}

// withClock provides deterministic time in tests.
func withClock(fn func() time.Time) Option {
	return func(cfg *config) {
		cfg.clock = fn
	}
}
