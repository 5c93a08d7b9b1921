package admin

import (
	"fmt"

	"github.com/spf13/cobra"
)

func UserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
		Long:  "Create users, list them and grant roles",
	}

	cmd.AddCommand(userCreateCmd())
	cmd.AddCommand(userListCmd())
	cmd.AddCommand(userGrantRoleCmd())

	return cmd
}

func userCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <email>",
		Short: "Create a user together with a personal tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			name, _ := cmd.Flags().GetString("name")
			outputFormat, _ := cmd.Flags().GetString("output")

			auth, pool, err := openAuth(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			user, err := auth.CreateUser(ctx, args[0], name)
			if err != nil {
				return fmt.Errorf("failed to create user: %w", err)
			}

			if outputFormat == "json" {
				printJSON(map[string]interface{}{
					"id":         user.ID,
					"email":      user.Email,
					"name":       user.Name,
					"created_at": user.CreatedAt,
				})
				return nil
			}
			fmt.Printf("User created: %s (%s)\n", user.Email, user.ID)
			return nil
		},
	}

	cmd.Flags().String("name", "", "Display name")
	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func userListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all users",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			outputFormat, _ := cmd.Flags().GetString("output")

			auth, pool, err := openAuth(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			users, err := auth.ListUsers(ctx)
			if err != nil {
				return fmt.Errorf("failed to list users: %w", err)
			}

			if outputFormat == "json" {
				data := make([]map[string]interface{}, len(users))
				for i, u := range users {
					data[i] = map[string]interface{}{
						"id":         u.ID,
						"email":      u.Email,
						"name":       u.Name,
						"created_at": u.CreatedAt,
					}
				}
				printJSON(data)
				return nil
			}

			if len(users) == 0 {
				fmt.Println("No users found")
				return nil
			}
			fmt.Println("Users:")
			for _, u := range users {
				fmt.Printf("  %s: %s (created: %s)\n", u.ID, u.Email, u.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func userGrantRoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "grant-role <user> <role-id>",
		Short: "Grant a role to a user",
		Long:  "Grant a role to a user. Knowledge bases in role mode are visible to holders of any listed role.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			auth, pool, err := openAuth(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			userID, err := resolveUserID(ctx, pool, args[0])
			if err != nil {
				return err
			}
			if err := auth.GrantRole(ctx, userID, args[1]); err != nil {
				return fmt.Errorf("failed to grant role: %w", err)
			}
			fmt.Printf("Role %s granted to user %s\n", args[1], userID)
			return nil
		},
	}
}

func TenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
		Long:  "Create tenants, list them and add members",
	}

	cmd.AddCommand(tenantCreateCmd())
	cmd.AddCommand(tenantListCmd())
	cmd.AddCommand(tenantAddMemberCmd())

	return cmd
}

func tenantCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a team tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			outputFormat, _ := cmd.Flags().GetString("output")

			auth, pool, err := openAuth(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			tenant, err := auth.CreateTenant(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to create tenant: %w", err)
			}

			if outputFormat == "json" {
				printJSON(map[string]interface{}{
					"id":         tenant.ID,
					"name":       tenant.Name,
					"created_at": tenant.CreatedAt,
				})
				return nil
			}
			fmt.Printf("Tenant created: %s (%s)\n", tenant.Name, tenant.ID)
			return nil
		},
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func tenantListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			outputFormat, _ := cmd.Flags().GetString("output")

			auth, pool, err := openAuth(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			tenants, err := auth.ListTenants(ctx)
			if err != nil {
				return fmt.Errorf("failed to list tenants: %w", err)
			}

			if outputFormat == "json" {
				data := make([]map[string]interface{}, len(tenants))
				for i, t := range tenants {
					data[i] = map[string]interface{}{
						"id":         t.ID,
						"name":       t.Name,
						"created_at": t.CreatedAt,
					}
				}
				printJSON(data)
				return nil
			}

			if len(tenants) == 0 {
				fmt.Println("No tenants found")
				return nil
			}
			fmt.Println("Tenants:")
			for _, t := range tenants {
				fmt.Printf("  %s: %s (created: %s)\n", t.ID, t.Name, t.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func tenantAddMemberCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-member <tenant-id> <user>",
		Short: "Add a user to a tenant",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			auth, pool, err := openAuth(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			userID, err := resolveUserID(ctx, pool, args[1])
			if err != nil {
				return err
			}
			if err := auth.AddTenantMember(ctx, args[0], userID); err != nil {
				return fmt.Errorf("failed to add member: %w", err)
			}
			fmt.Printf("User %s added to tenant %s\n", userID, args[0])
			return nil
		},
	}
}
