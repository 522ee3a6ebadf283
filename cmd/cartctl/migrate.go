package main

import (
	"fmt"

	"lan-registration-platform/internal/config"
	"lan-registration-platform/internal/database"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			db, err := database.NewConnection(cmd.Context(), database.Config{
				URL:      cfg.Database.URL,
				Host:     cfg.Database.Host,
				Port:     cfg.Database.Port,
				User:     cfg.Database.User,
				Password: cfg.Database.Password,
				DBName:   cfg.Database.DBName,
				SSLMode:  cfg.Database.SSLMode,
			})
			if err != nil {
				return err
			}
			defer db.Close()

			if status {
				states, err := db.MigrationStatus(cmd.Context())
				if err != nil {
					return err
				}
				for _, s := range states {
					mark := "pending"
					if s.Applied {
						mark = "applied"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%03d %-40s %s\n", s.Version, s.Name, mark)
				}
				return nil
			}

			if err := db.RunMigrations(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All migrations completed successfully")
			return nil
		},
	}

	cmd.Flags().BoolVar(&status, "status", false, "show migration status instead of migrating")
	return cmd
}
