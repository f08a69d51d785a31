package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/budgetguard/budgetguard/internal/models"
)

// NewTenantCommand manages Tenant rows (spec §3).
func NewTenantCommand(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}
	cmd.AddCommand(newTenantCreateCommand(ctx))
	cmd.AddCommand(newTenantListCommand(ctx))
	return cmd
}

func newTenantCreateCommand(ctx context.Context) *cobra.Command {
	var name string
	var rateLimit int

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			tenant := models.Tenant{Name: name, IsActive: true}
			if rateLimit > 0 {
				tenant.RateLimitPerMin = &rateLimit
			}
			if err := db.WithContext(ctx).Create(&tenant).Error; err != nil {
				return fmt.Errorf("failed to create tenant: %w", err)
			}

			if outputJSON {
				OutputJSON(tenant)
			} else {
				fmt.Printf("Tenant created: id=%d name=%s\n", tenant.ID, tenant.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "Tenant name (required)")
	cmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "Requests per minute cap (0 = use default)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newTenantListCommand(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			var tenants []models.Tenant
			if err := db.WithContext(ctx).Find(&tenants).Error; err != nil {
				return fmt.Errorf("failed to list tenants: %w", err)
			}

			if outputJSON {
				OutputJSON(tenants)
				return nil
			}

			headers := []string{"ID", "Name", "RateLimit", "Active"}
			var rows [][]string
			for _, t := range tenants {
				limit := "default"
				if t.RateLimitPerMin != nil {
					limit = fmt.Sprintf("%d", *t.RateLimitPerMin)
				}
				rows = append(rows, []string{fmt.Sprintf("%d", t.ID), t.Name, limit, fmt.Sprintf("%v", t.IsActive)})
			}
			OutputTable(headers, rows)
			return nil
		},
	}
	return cmd
}
