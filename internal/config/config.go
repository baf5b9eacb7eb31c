// Package config loads the YAML file that drives the eapi command.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Signature algorithms.
const (
	AlgorithmRSA  = "rsa"
	AlgorithmHMAC = "hmac"
)

// Config is the whole configuration file.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Merchant  MerchantConfig  `yaml:"merchant"`
	Signature SignatureConfig `yaml:"signature"`
	Log       LogConfig       `yaml:"log"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
}

// GatewayConfig locates the gateway and the protocol spoken with it.
type GatewayConfig struct {
	URL          string        `yaml:"url"`
	Version      string        `yaml:"version"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxClockSkew time.Duration `yaml:"max_clock_skew"`
	// Time zone of gateway timestamps, e.g. Europe/Prague.
	TimeZone string `yaml:"time_zone"`
	// PEM file with the gateway public key.
	PublicKey string `yaml:"public_key"`
}

// MerchantConfig identifies the merchant.
type MerchantConfig struct {
	ID string `yaml:"id"`
	// PEM file with the merchant private key.
	PrivateKey string `yaml:"private_key"`
}

// SignatureConfig selects the signing scheme. HMAC is only for the local mock
// gateway; the real gateway uses RSA.
type SignatureConfig struct {
	Algorithm   string `yaml:"algorithm"`
	HMACKeyFile string `yaml:"hmac_key_file"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DefaultsConfig holds request fields applied where a request file leaves
// them out.
type DefaultsConfig struct {
	PaymentInit  map[string]any `yaml:"payment_init"`
	OneclickInit map[string]any `yaml:"oneclick_init"`
}

// Load reads, defaults and validates the file at path. Relative key paths are
// resolved against the file's directory.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	cfg.Gateway.PublicKey = resolve(dir, cfg.Gateway.PublicKey)
	cfg.Merchant.PrivateKey = resolve(dir, cfg.Merchant.PrivateKey)
	cfg.Signature.HMACKeyFile = resolve(dir, cfg.Signature.HMACKeyFile)
	return cfg, nil
}

// Parse decodes a YAML document. Unknown keys are rejected.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Gateway.Version == "" {
		c.Gateway.Version = "1.6"
	}
	if c.Gateway.Timeout == 0 {
		c.Gateway.Timeout = 30 * time.Second
	}
	if c.Signature.Algorithm == "" {
		c.Signature.Algorithm = AlgorithmRSA
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	switch {
	case c.Gateway.URL == "":
		return errors.New("gateway.url is required")
	case c.Merchant.ID == "":
		return errors.New("merchant.id is required")
	case c.Gateway.Timeout < 0:
		return errors.New("gateway.timeout must not be negative")
	case c.Gateway.MaxClockSkew < 0:
		return errors.New("gateway.max_clock_skew must not be negative")
	}
	switch c.Signature.Algorithm {
	case AlgorithmRSA:
		if c.Merchant.PrivateKey == "" {
			return errors.New("merchant.private_key is required for rsa signatures")
		}
		if c.Gateway.PublicKey == "" {
			return errors.New("gateway.public_key is required for rsa signatures")
		}
	case AlgorithmHMAC:
		if c.Signature.HMACKeyFile == "" {
			return errors.New("signature.hmac_key_file is required for hmac signatures")
		}
	default:
		return fmt.Errorf("signature.algorithm must be %s or %s, got %q", AlgorithmRSA, AlgorithmHMAC, c.Signature.Algorithm)
	}
	if c.Gateway.TimeZone != "" {
		if _, err := time.LoadLocation(c.Gateway.TimeZone); err != nil {
			return fmt.Errorf("gateway.time_zone: %w", err)
		}
	}
	return nil
}

// Location returns the gateway time zone, nil when unset.
func (c *Config) Location() *time.Location {
	if c.Gateway.TimeZone == "" {
		return nil
	}
	loc, err := time.LoadLocation(c.Gateway.TimeZone)
	if err != nil {
		return nil
	}
	return loc
}

// PaymentInitDefaults renders the payment/init defaults as a JSON object, nil
// when there are none.
func (c *Config) PaymentInitDefaults() ([]byte, error) {
	return defaultsJSON(c.Defaults.PaymentInit)
}

// OneclickInitDefaults renders the payment/oneclick/init defaults as a JSON
// object, nil when there are none.
func (c *Config) OneclickInitDefaults() ([]byte, error) {
	return defaultsJSON(c.Defaults.OneclickInit)
}

func defaultsJSON(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("config: encode defaults: %w", err)
	}
	return raw, nil
}

func resolve(dir, path string) string {
	if path == "" || filepath.IsAbs(path) || strings.HasPrefix(path, "~") {
		return path
	}
	return filepath.Join(dir, path)
}
