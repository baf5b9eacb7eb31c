package main

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/paygate/eapi"
)

func newInitCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a payment from a JSON request file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			defaults, err := a.cfg.PaymentInitDefaults()
			if err != nil {
				return err
			}
			req, err := eapi.LoadPayInitReq(file, defaults)
			if err != nil {
				return err
			}
			res, err := a.client.PaymentInit(cmd.Context(), req)
			if err != nil {
				return err
			}
			return a.report(eapi.OpPaymentInit, res)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "payment/init request file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newProcessCmd(a *app) *cobra.Command {
	var (
		payID   string
		urlOnly bool
	)
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Resolve the payment page for a created payment",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				location string
				err      error
			)
			if urlOnly {
				location, err = a.client.PaymentProcessURL(payID)
			} else {
				location, err = a.client.PaymentProcess(cmd.Context(), payID)
			}
			if err != nil {
				return err
			}
			return a.print(map[string]string{"payId": payID, "location": location})
		},
	}
	cmd.Flags().StringVar(&payID, "pay-id", "", "payment identifier")
	cmd.Flags().BoolVar(&urlOnly, "url-only", false, "print the signed payment/process URL without calling it")
	_ = cmd.MarkFlagRequired("pay-id")
	return cmd
}

// payCmd builds the run modes that only need a payId.
func payCmd(a *app, use, short string, op eapi.Operation, call func(*app, *cobra.Command, string) (*eapi.PayRes, error)) *cobra.Command {
	var payID string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := call(a, cmd, payID)
			if err != nil {
				return err
			}
			return a.report(op, res)
		},
	}
	cmd.Flags().StringVar(&payID, "pay-id", "", "payment identifier")
	_ = cmd.MarkFlagRequired("pay-id")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return payCmd(a, "status", "Show the state of a payment", eapi.OpPaymentStatus,
		func(a *app, cmd *cobra.Command, payID string) (*eapi.PayRes, error) {
			return a.client.PaymentStatus(cmd.Context(), payID)
		})
}

func newCloseCmd(a *app) *cobra.Command {
	return payCmd(a, "close", "Confirm an authorized payment for settlement", eapi.OpPaymentClose,
		func(a *app, cmd *cobra.Command, payID string) (*eapi.PayRes, error) {
			return a.client.PaymentClose(cmd.Context(), payID)
		})
}

func newReverseCmd(a *app) *cobra.Command {
	return payCmd(a, "reverse", "Cancel an authorized payment", eapi.OpPaymentReverse,
		func(a *app, cmd *cobra.Command, payID string) (*eapi.PayRes, error) {
			return a.client.PaymentReverse(cmd.Context(), payID)
		})
}

func newOneclickStartCmd(a *app) *cobra.Command {
	return payCmd(a, "oneclick-start", "Start a one-click payment", eapi.OpPaymentOneclickStart,
		func(a *app, cmd *cobra.Command, payID string) (*eapi.PayRes, error) {
			return a.client.PaymentOneclickStart(cmd.Context(), payID)
		})
}

func newRefundCmd(a *app) *cobra.Command {
	var (
		payID  string
		amount string
	)
	cmd := &cobra.Command{
		Use:   "refund",
		Short: "Refund a settled payment, fully or partially",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var minor *int64
			if amount != "" {
				v, err := minorUnits(amount)
				if err != nil {
					return err
				}
				minor = &v
			}
			res, err := a.client.PaymentRefund(cmd.Context(), payID, minor)
			if err != nil {
				return err
			}
			return a.report(eapi.OpPaymentRefund, res)
		},
	}
	cmd.Flags().StringVar(&payID, "pay-id", "", "payment identifier")
	cmd.Flags().StringVar(&amount, "amount", "", "partial refund in currency units, e.g. 125.50; omit for a full refund")
	_ = cmd.MarkFlagRequired("pay-id")
	return cmd
}

// minorUnits converts an amount in currency units to hundredths.
func minorUnits(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("amount %q: %w", s, err)
	}
	if !d.IsPositive() {
		return 0, fmt.Errorf("amount %q must be positive", s)
	}
	minor := d.Shift(2)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("amount %q has more than two decimal places", s)
	}
	return minor.IntPart(), nil
}

func newEchoCmd(a *app) *cobra.Command {
	var post bool
	cmd := &cobra.Command{
		Use:   "echo",
		Short: "Check connectivity and keys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			op := eapi.OpEchoGet
			call := a.client.EchoGet
			if post {
				op = eapi.OpEchoPost
				call = a.client.EchoPost
			}
			res, err := call(cmd.Context())
			if err != nil {
				return err
			}
			return a.report(op, res)
		},
	}
	cmd.Flags().BoolVar(&post, "post", false, "use the POST form of echo")
	return cmd
}

func newCustomerCmd(a *app) *cobra.Command {
	var customerID string
	cmd := &cobra.Command{
		Use:   "customer",
		Short: "Check whether a customer has stored cards",
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := a.client.CustomerInfo(cmd.Context(), customerID)
			if err != nil {
				return err
			}
			if err := a.print(res); err != nil {
				return err
			}
			switch res.ResultCode {
			case eapi.ResultOK, eapi.ResultCustomerHasSavedCards, eapi.ResultCustomerHasNoSavedCards:
				return nil
			}
			return eapi.ResultError(eapi.OpCustomerInfo, res)
		},
	}
	cmd.Flags().StringVar(&customerID, "customer-id", "", "merchant's customer identifier")
	_ = cmd.MarkFlagRequired("customer-id")
	return cmd
}

func newOneclickInitCmd(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "oneclick-init",
		Short: "Create a one-click payment from a JSON request file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			defaults, err := a.cfg.OneclickInitDefaults()
			if err != nil {
				return err
			}
			req, err := eapi.LoadPayOneclickInitReq(file, defaults)
			if err != nil {
				return err
			}
			res, err := a.client.PaymentOneclickInit(cmd.Context(), req)
			if err != nil {
				return err
			}
			return a.report(eapi.OpPaymentOneclickInit, res)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "payment/oneclick/init request file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
