package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/budgetguard/budgetguard/internal/models"
)

// NewBudgetCommand manages Budget rows (spec §3, §4.3).
func NewBudgetCommand(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Manage tenant budgets",
	}
	cmd.AddCommand(newBudgetSetCommand(ctx))
	cmd.AddCommand(newBudgetStatusCommand(ctx))
	return cmd
}

func newBudgetSetCommand(ctx context.Context) *cobra.Command {
	var tenantIDStr, period string
	var amount float64

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Set (or replace) a tenant's budget for a period",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := strconv.ParseInt(tenantIDStr, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid --tenant-id: %w", err)
			}
			if amount <= 0 {
				return fmt.Errorf("--amount must be positive")
			}

			p := models.BudgetPeriod(period)
			switch p {
			case models.PeriodDaily, models.PeriodMonthly, models.PeriodCustom:
			default:
				return fmt.Errorf("--period must be one of daily, monthly, custom")
			}

			budget := models.Budget{TenantID: tenantID, Period: p, AmountUSD: amount}
			if err := db.WithContext(ctx).Create(&budget).Error; err != nil {
				return fmt.Errorf("failed to set budget: %w", err)
			}

			if outputJSON {
				OutputJSON(budget)
			} else {
				fmt.Printf("Budget set: tenant=%d period=%s amount=$%.2f\n", tenantID, p, amount)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantIDStr, "tenant-id", "", "Tenant id (required)")
	cmd.Flags().StringVar(&period, "period", "monthly", "Budget period (daily, monthly, custom)")
	cmd.Flags().Float64Var(&amount, "amount", 0, "Budget amount in USD (required)")
	_ = cmd.MarkFlagRequired("tenant-id")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func newBudgetStatusCommand(ctx context.Context) *cobra.Command {
	var tenantIDStr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show a tenant's configured budgets",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := strconv.ParseInt(tenantIDStr, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid --tenant-id: %w", err)
			}

			var budgets []models.Budget
			if err := db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at desc").Find(&budgets).Error; err != nil {
				return fmt.Errorf("failed to read budgets: %w", err)
			}

			if outputJSON {
				OutputJSON(budgets)
				return nil
			}

			headers := []string{"Period", "AmountUSD", "Created"}
			var rows [][]string
			for _, b := range budgets {
				rows = append(rows, []string{string(b.Period), fmt.Sprintf("%.2f", b.AmountUSD), b.CreatedAt.Format("2006-01-02 15:04:05")})
			}
			OutputTable(headers, rows)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantIDStr, "tenant-id", "", "Tenant id (required)")
	_ = cmd.MarkFlagRequired("tenant-id")
	return cmd
}
