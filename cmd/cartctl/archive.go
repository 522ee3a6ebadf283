package main

import (
	"fmt"

	"lan-registration-platform/internal/config"
	"lan-registration-platform/internal/services"

	"github.com/spf13/cobra"
)

func setupArchiveCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "setup-archive",
		Short: "Validate the R2 configuration and create the ticket bucket",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			factory := services.NewStorageFactory(cfg)
			if err := factory.ValidateR2Configuration(); err != nil {
				return fmt.Errorf("R2 configuration validation failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "R2 configuration is valid (bucket %s)\n", cfg.R2.BucketName)

			if check {
				return nil
			}
			if err := factory.SetupR2Bucket(cmd.Context()); err != nil {
				return fmt.Errorf("failed to set up R2 bucket: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "R2 bucket setup completed successfully")
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "only validate the configuration")
	return cmd
}
