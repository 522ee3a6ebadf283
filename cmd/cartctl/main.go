package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"lan-registration-platform/internal/config"
	"lan-registration-platform/internal/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "cartctl",
		Short:         "cartctl - operate the LAN registration cart backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedItemsCmd())
	rootCmd.AddCommand(expireStaleCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(forcePayCmd())
	rootCmd.AddCommand(refundCmd())
	rootCmd.AddCommand(resendCmd())
	rootCmd.AddCommand(setupArchiveCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

// openApp wires the full application for commands that change carts
func openApp(ctx context.Context) (*server.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return server.New(ctx, cfg, prometheus.NewRegistry())
}
