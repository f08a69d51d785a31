// Command budgetguard is the operator CLI: a thin direct-database door
// into tenant, key, budget, and catalog management, modeled on the
// teacher's cmd/pllm CLI.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/budgetguard/budgetguard/cmd/budgetguard/commands"
	"github.com/budgetguard/budgetguard/internal/models"
)

var (
	dbURL      string
	outputJSON bool
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "budgetguard",
		Short: "BudgetGuard operator CLI",
		Long:  "Manage tenants, API keys, budgets, and the model pricing catalog.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initDB()
		},
	}

	root.PersistentFlags().StringVar(&dbURL, "db-url", os.Getenv("DATABASE_URL"), "database connection URL")
	root.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")

	ctx := context.Background()
	root.AddCommand(commands.NewTenantCommand(ctx))
	root.AddCommand(commands.NewKeyCommand(ctx))
	root.AddCommand(commands.NewBudgetCommand(ctx))
	root.AddCommand(commands.NewCatalogCommand(ctx))

	return root
}

func initDB() error {
	if dbURL == "" {
		return fmt.Errorf("--db-url or DATABASE_URL is required")
	}

	db, err := gorm.Open(postgres.Open(dbURL), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(
		&models.Tenant{}, &models.ApiKey{}, &models.ModelPricing{},
		&models.Budget{}, &models.TagBudget{}, &models.Tag{},
		&models.UsageLedger{}, &models.RequestTag{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	commands.SetDB(db)
	commands.SetOutputJSON(outputJSON)
	return nil
}
