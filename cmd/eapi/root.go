package main

import (
	"crypto"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/paygate/eapi"
	"github.com/paygate/eapi/internal/config"
	"github.com/paygate/eapi/signature"
)

type globalFlags struct {
	configPath  string
	metricsFile string
}

// app is the state shared by every run mode once the configuration is loaded.
type app struct {
	flags    globalFlags
	cfg      *config.Config
	client   *eapi.Client
	logger   *zap.Logger
	registry *prometheus.Registry
	out      io.Writer
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "eapi",
		Short: "Call the ČSOB payment gateway eAPI",
		Long: `eapi runs one gateway operation per invocation and prints the verified
response as JSON. Every request is signed with the merchant key and every
response is checked against the gateway key before it is printed.

Examples:
  eapi --config eapi.yaml echo
  eapi init --file payment.json
  eapi process --pay-id 0c1ee3b6f4ed2AB
  eapi refund --pay-id 0c1ee3b6f4ed2AB --amount 125.50`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return a.setup()
		},
	}
	root.PersistentFlags().StringVarP(&a.flags.configPath, "config", "c", "eapi.yaml", "configuration file")
	root.PersistentFlags().StringVar(&a.flags.metricsFile, "metrics-file", "", "write call metrics in Prometheus text format to this file")

	root.AddCommand(
		newInitCmd(a),
		newProcessCmd(a),
		newStatusCmd(a),
		newCloseCmd(a),
		newReverseCmd(a),
		newRefundCmd(a),
		newEchoCmd(a),
		newCustomerCmd(a),
		newOneclickInitCmd(a),
		newOneclickStartCmd(a),
	)
	return root
}

func (a *app) setup() error {
	flags := a.flags
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	version, err := eapi.ParseVersion(cfg.Gateway.Version)
	if err != nil {
		return err
	}
	keys, err := loadKeys(cfg, version)
	if err != nil {
		return err
	}

	opts := []eapi.Option{
		eapi.WithVersion(version),
		eapi.WithTimeout(cfg.Gateway.Timeout),
		eapi.WithLogger(logger),
	}
	if cfg.Gateway.MaxClockSkew > 0 {
		opts = append(opts, eapi.WithMaxClockSkew(cfg.Gateway.MaxClockSkew, cfg.Location()))
	}
	if flags.metricsFile != "" {
		a.registry = prometheus.NewRegistry()
		opts = append(opts, eapi.WithMetrics(a.registry))
	}
	client, err := eapi.NewClient(cfg.Gateway.URL, cfg.Merchant.ID, keys, opts...)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	a.client = client
	logger.Debug("configuration loaded",
		zap.String("config", flags.configPath),
		zap.String("gateway", cfg.Gateway.URL),
		zap.String("version", string(version)),
		zap.String("merchant_id", cfg.Merchant.ID),
	)
	return nil
}

// teardown runs after the command whether or not it failed.
func (a *app) teardown() error {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if a.registry != nil {
		if err := prometheus.WriteToTextfile(a.flags.metricsFile, a.registry); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

func loadKeys(cfg *config.Config, v eapi.Version) (eapi.Keys, error) {
	switch cfg.Signature.Algorithm {
	case config.AlgorithmHMAC:
		raw, err := os.ReadFile(cfg.Signature.HMACKeyFile)
		if err != nil {
			return eapi.Keys{}, fmt.Errorf("read hmac key: %w", err)
		}
		key := []byte(strings.TrimSpace(string(raw)))
		if len(key) == 0 {
			return eapi.Keys{}, errors.New("hmac key file is empty")
		}
		h := signature.HMACSigner{Key: key, Hash: crypto.SHA256}
		return eapi.Keys{Signer: h, Verifier: h}, nil
	default:
		return eapi.LoadRSAKeys(cfg.Merchant.PrivateKey, cfg.Gateway.PublicKey, v)
	}
}

// print writes v as indented JSON.
func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// report prints a verified response and turns a gateway refusal into an
// error so the process exits non-zero.
func (a *app) report(op eapi.Operation, res eapi.Result) error {
	if err := a.print(res); err != nil {
		return err
	}
	return eapi.ResultError(op, res)
}

// reportFailure logs err with its classification. Before setup has built the
// logger it falls back to writing err to w.
func (a *app) reportFailure(w io.Writer, err error) {
	if a.logger == nil {
		fmt.Fprintf(w, "error: %v\n", err)
		return
	}
	fields := []zap.Field{zap.Error(err)}
	var e *eapi.Error
	if errors.As(err, &e) {
		fields = append(fields, zap.String("type", string(e.Type)), zap.String("code", string(e.Code)))
		if e.ResultCode != nil {
			fields = append(fields, zap.Int("result_code", *e.ResultCode))
		}
	}
	a.logger.Error("command failed", fields...)
	_ = a.logger.Sync()
}
