package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/budgetguard/budgetguard/internal/models"
)

// seedPricing is the well-known public per-1M-token USD pricing for the
// models this proxy ships adapters for. Catalog population itself is an
// external-collaborator concern (spec.md §1 "Out of scope"); this command
// is the thin operator door into it the teacher's CLI uses for seed data.
var seedPricing = []models.ModelPricing{
	{ModelName: "gpt-3.5-turbo", Provider: strPtr("openai"), InputPrice: 0.5, OutputPrice: 1.5},
	{ModelName: "gpt-4", Provider: strPtr("openai"), InputPrice: 30, OutputPrice: 60},
	{ModelName: "gpt-4o", Provider: strPtr("openai"), InputPrice: 2.5, OutputPrice: 10},
	{ModelName: "claude-3-haiku-20240307", Provider: strPtr("anthropic"), InputPrice: 0.25, OutputPrice: 1.25},
	{ModelName: "claude-3-5-sonnet-20241022", Provider: strPtr("anthropic"), InputPrice: 3, OutputPrice: 15},
	{ModelName: "gemini-2.5-pro-low", Provider: strPtr("google"), InputPrice: 1.25, OutputPrice: 10},
	{ModelName: "gemini-2.5-pro-high", Provider: strPtr("google"), InputPrice: 2.5, OutputPrice: 15},
}

func strPtr(s string) *string { return &s }

// NewCatalogCommand manages ModelPricing rows (spec §3, §4.2).
func NewCatalogCommand(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Manage the model pricing catalog",
	}
	cmd.AddCommand(newCatalogSyncCommand(ctx))
	cmd.AddCommand(newCatalogListCommand(ctx))
	return cmd
}

func newCatalogSyncCommand(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Upsert the built-in seed pricing into the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			synced := 0
			for _, row := range seedPricing {
				row := row
				res := db.WithContext(ctx).
					Where(models.ModelPricing{ModelName: row.ModelName}).
					Assign(models.ModelPricing{
						Provider:         row.Provider,
						InputPrice:       row.InputPrice,
						CachedInputPrice: row.CachedInputPrice,
						OutputPrice:      row.OutputPrice,
					}).
					FirstOrCreate(&row)
				if res.Error != nil {
					return fmt.Errorf("failed to sync %s: %w", row.ModelName, res.Error)
				}
				synced++
			}
			fmt.Printf("Synced %d catalog entries\n", synced)
			return nil
		},
	}
	return cmd
}

func newCatalogListCommand(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			var rows []models.ModelPricing
			if err := db.WithContext(ctx).Find(&rows).Error; err != nil {
				return fmt.Errorf("failed to list catalog: %w", err)
			}

			if outputJSON {
				OutputJSON(rows)
				return nil
			}

			headers := []string{"Model", "Provider", "InputPrice", "OutputPrice"}
			var out [][]string
			for _, r := range rows {
				provider := "unroutable"
				if r.Provider != nil {
					provider = *r.Provider
				}
				out = append(out, []string{r.ModelName, provider, fmt.Sprintf("%.2f", r.InputPrice), fmt.Sprintf("%.2f", r.OutputPrice)})
			}
			OutputTable(headers, out)
			return nil
		},
	}
	return cmd
}
