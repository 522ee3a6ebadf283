package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func operator() string {
	if user := os.Getenv("USER"); user != "" {
		return "cli:" + user
	}
	return "cli"
}

func expireStaleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "expire-stale",
		Short: "Error carts stuck before payment and expire abandoned ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			report, err := app.Janitor.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "errored: %d, expired: %d, skipped: %d, failed: %d\n", report.Errored, report.Expired, report.Skipped, report.Failed)
			return nil
		},
	}
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [cart-id]",
		Short: "Print a cart and its transitions as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			cart, err := app.Carts.GetByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			transitions, err := app.Audit.GetByCart(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			return encoder.Encode(map[string]interface{}{"cart": cart, "transitions": transitions})
		},
	}
}

func forcePayCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "force-pay [cart-id]",
		Short: "Mark a cart paid and send its tickets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			cart, err := app.Machine.ForcePay(cmd.Context(), args[0], operator(), reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cart %s is now %s\n", cart.ID, cart.TransactionState)
			return nil
		},
	}

	cmd.Flags().StringVarP(&reason, "reason", "r", "", "reason recorded in the audit trail")
	return cmd
}

func refundCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "refund [cart-id]",
		Short: "Refund a paid cart with its payment provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			cart, err := app.Machine.Refund(cmd.Context(), args[0], operator(), reason)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cart %s is now %s\n", cart.ID, cart.TransactionState)
			return nil
		},
	}

	cmd.Flags().StringVarP(&reason, "reason", "r", "", "reason recorded in the audit trail")
	return cmd
}

func resendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resend [cart-id]",
		Short: "Mail the tickets of a paid cart again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.Dispatcher.Resend(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Tickets of cart %s sent\n", args[0])
			return nil
		},
	}
}
