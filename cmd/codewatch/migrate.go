package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codewatch/codewatch-go/internal/store"
)

var seedPricingPath string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Long: `Create or update the CodeWatch tables in PostgreSQL.

The schema is idempotent, so running migrate against an up-to-date database
is a no-op. Pass --seed-pricing to also upsert model pricing rows from a
YAML file (see pricing.yaml in the repository root).`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().StringVar(&seedPricingPath, "seed-pricing", "", "YAML file with model pricing rows to upsert")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if cfg.Database.URL == "" {
		return fmt.Errorf("database URL is not configured (set DATABASE_URL or database.url)")
	}

	st, err := store.NewPostgresStore(cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return err
	}
	fmt.Println("✅ Database schema applied")

	if seedPricingPath != "" {
		rows, err := store.LoadPricingSeed(seedPricingPath)
		if err != nil {
			return err
		}
		if err := st.UpsertModelPricing(ctx, rows); err != nil {
			return err
		}
		fmt.Printf("✅ Seeded %d model pricing rows\n", len(rows))
	}
	return nil
}
