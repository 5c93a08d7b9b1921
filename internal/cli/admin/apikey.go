package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/as775116191/ragflow/internal/domain"
	"github.com/as775116191/ragflow/internal/pagination"
	"github.com/as775116191/ragflow/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

// resolveUserID accepts a user ID or an email address.
func resolveUserID(ctx context.Context, pool *pgxpool.Pool, ref string) (string, error) {
	users := repository.NewUserRepository(pool)
	if _, err := uuid.Parse(ref); err == nil {
		u, err := users.GetByID(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("user not found: %s", ref)
		}
		return u.ID, nil
	}

	u, err := users.GetByEmail(ctx, ref)
	if err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return "", fmt.Errorf("user not found: %s", ref)
		}
		return "", err
	}
	return u.ID, nil
}

func printJSON(v interface{}) {
	jsonBytes, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(jsonBytes))
}

func APIKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
		Long:  "Create, list, and revoke API keys",
	}

	cmd.AddCommand(APIKeyCreateCmd())
	cmd.AddCommand(APIKeyListCmd())
	cmd.AddCommand(APIKeyRevokeCmd())

	return cmd
}

func APIKeyCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Create a new API key that authenticates as a user",
		RunE:  runAPIKeyCreate,
	}

	cmd.Flags().StringP("user", "u", "", "User ID or email (required)")
	cmd.Flags().StringP("name", "n", "", "API key name (required)")
	cmd.Flags().StringP("output", "", "text", "Output format (text or json)")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("name")

	return cmd
}

func runAPIKeyCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	userRef, _ := cmd.Flags().GetString("user")
	name, _ := cmd.Flags().GetString("name")
	outputFormat, _ := cmd.Flags().GetString("output")

	auth, pool, err := openAuth(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	userID, err := resolveUserID(ctx, pool, userRef)
	if err != nil {
		return err
	}

	plaintext, err := auth.CreateAPIKey(ctx, userID, name)
	if err != nil {
		return fmt.Errorf("failed to create API key: %w", err)
	}

	if outputFormat == "json" {
		printJSON(map[string]interface{}{
			"name":    name,
			"user_id": userID,
			"token":   plaintext,
		})
		return nil
	}

	fmt.Printf("API key created for user %s\n", userID)
	fmt.Printf("Key Name: %s\n", name)
	fmt.Printf("Token: %s\n", plaintext)
	fmt.Println("\nSave this token now. You won't be able to see it again!")
	return nil
}

func APIKeyListCmd() *cobra.Command {
	var (
		limit  int
		cursor string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys of a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			userRef, _ := cmd.Flags().GetString("user")
			outputFormat, _ := cmd.Flags().GetString("output")
			return runAPIKeyList(cmd.Context(), userRef, outputFormat, limit, cursor)
		},
	}

	cmd.Flags().StringP("user", "u", "", "User ID or email (required)")
	cmd.Flags().StringP("output", "", "text", "Output format (text or json)")
	cmd.Flags().IntVarP(&limit, "limit", "n", pagination.DefaultLimit, "Maximum number of results")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Pagination cursor from previous response")
	cmd.MarkFlagRequired("user")

	return cmd
}

func runAPIKeyList(ctx context.Context, userRef, outputFormat string, limit int, cursorStr string) error {
	_, pool, err := openAuth(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	userID, err := resolveUserID(ctx, pool, userRef)
	if err != nil {
		return err
	}

	cursor, err := pagination.DecodeCursor(cursorStr)
	if err != nil {
		return err
	}
	result, err := repository.NewAPIKeyRepository(pool).ListByUserWithCursor(ctx, userID, cursor, limit)
	if err != nil {
		return fmt.Errorf("failed to list API keys: %w", err)
	}

	if outputFormat == "json" {
		data := make([]map[string]interface{}, len(result.Items))
		for i, key := range result.Items {
			data[i] = map[string]interface{}{
				"id":         key.ID,
				"name":       key.Name,
				"user_id":    key.UserID,
				"created_at": key.CreatedAt,
				"revoked_at": key.RevokedAt,
				"revoked":    key.IsRevoked(),
			}
		}
		printJSON(map[string]interface{}{
			"items":    data,
			"cursor":   result.NextCursor,
			"has_more": result.HasMore,
		})
		return nil
	}

	if len(result.Items) == 0 {
		fmt.Printf("No API keys found for user %s\n", userID)
		return nil
	}
	fmt.Printf("API keys for user %s:\n", userID)
	for _, key := range result.Items {
		status := "active"
		if key.IsRevoked() {
			status = "revoked"
		}
		fmt.Printf("  %s: %s (%s, created: %s)\n", key.ID, key.Name, status, key.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	if result.HasMore && result.NextCursor != "" {
		fmt.Printf("\nMore results available. Use --cursor %s\n", result.NextCursor)
	}
	return nil
}

func APIKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE:  runAPIKeyRevoke,
	}

	cmd.Flags().StringP("output", "", "text", "Output format (text or json)")

	return cmd
}

func runAPIKeyRevoke(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	keyID := args[0]
	outputFormat, _ := cmd.Flags().GetString("output")

	auth, pool, err := openAuth(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := auth.RevokeAPIKey(ctx, keyID); err != nil {
		return fmt.Errorf("failed to revoke API key: %w", err)
	}

	if outputFormat == "json" {
		printJSON(map[string]interface{}{"id": keyID, "revoked": true})
		return nil
	}
	fmt.Printf("API key %s revoked successfully\n", keyID)
	return nil
}
