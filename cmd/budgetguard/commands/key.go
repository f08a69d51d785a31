package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/budgetguard/budgetguard/internal/models"
)

// NewKeyCommand manages ApiKey rows (spec §3, §4.1).
func NewKeyCommand(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage API keys",
	}
	cmd.AddCommand(newKeyIssueCommand(ctx))
	cmd.AddCommand(newKeyRevokeCommand(ctx))
	return cmd
}

func newKeyIssueCommand(ctx context.Context) *cobra.Command {
	var tenantIDStr string

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a new API key for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := strconv.ParseInt(tenantIDStr, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid --tenant-id: %w", err)
			}

			var tenant models.Tenant
			if err := db.WithContext(ctx).First(&tenant, tenantID).Error; err != nil {
				return fmt.Errorf("tenant not found: %w", err)
			}

			plaintext, hash, prefix, err := models.GenerateApiKeySecret()
			if err != nil {
				return fmt.Errorf("failed to generate key: %w", err)
			}

			key := models.ApiKey{
				TenantID:  tenant.ID,
				KeyPrefix: prefix,
				KeyHash:   hash,
				IsActive:  true,
			}
			if err := db.WithContext(ctx).Create(&key).Error; err != nil {
				return fmt.Errorf("failed to persist key: %w", err)
			}

			if outputJSON {
				OutputJSON(map[string]interface{}{"id": key.ID, "tenant": tenant.Name, "key": plaintext, "prefix": prefix})
			} else {
				fmt.Printf("API key issued for tenant %q:\n", tenant.Name)
				fmt.Printf("  id:     %d\n", key.ID)
				fmt.Printf("  prefix: %s\n", prefix)
				fmt.Printf("  key:    %s\n", plaintext)
				fmt.Printf("\nSave this key now; it will not be shown again.\n")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&tenantIDStr, "tenant-id", "", "Tenant id to issue the key for (required)")
	_ = cmd.MarkFlagRequired("tenant-id")
	return cmd
}

func newKeyRevokeCommand(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke [KEY_ID]",
		Short: "Deactivate an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keyID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid key id: %w", err)
			}
			res := db.WithContext(ctx).Model(&models.ApiKey{}).Where("id = ?", keyID).Update("is_active", false)
			if res.Error != nil {
				return fmt.Errorf("failed to revoke key: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("key %d not found", keyID)
			}
			fmt.Printf("Key %d revoked\n", keyID)
			return nil
		},
	}
	return cmd
}
