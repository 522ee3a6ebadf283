package main

import (
	"fmt"
	"io"
	"os"

	"lan-registration-platform/internal/models"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// catalogFile is the YAML layout of a catalog seed
type catalogFile struct {
	Items []*models.Item `yaml:"items"`
}

// loadCatalog parses and validates a catalog seed. Positions default to
// the order of the file.
func loadCatalog(r io.Reader) ([]*models.Item, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var file catalogFile
	if err := decoder.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if len(file.Items) == 0 {
		return nil, fmt.Errorf("catalog has no items")
	}

	seen := make(map[string]bool, len(file.Items))
	for i, item := range file.Items {
		if seen[item.ID] {
			return nil, fmt.Errorf("item %s is declared twice", item.ID)
		}
		seen[item.ID] = true

		if item.Position == 0 {
			item.Position = i + 1
		}
		if err := item.Validate(); err != nil {
			return nil, fmt.Errorf("item %q: %w", item.ID, err)
		}
	}
	return file.Items, nil
}

func seedItemsCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "seed-items [catalog.yaml]",
		Short: "Create or update catalog items from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			items, err := loadCatalog(f)
			if err != nil {
				return err
			}

			if dryRun {
				for _, item := range items {
					fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-10s %6d\n", item.ID, item.Category, item.Price)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d items valid, nothing written\n", len(items))
				return nil
			}

			app, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			for _, item := range items {
				if err := app.Items.Upsert(cmd.Context(), item); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d items\n", len(items))
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the file without writing")
	return cmd
}
