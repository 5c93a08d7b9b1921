package client

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

type SyncConfig struct {
	Enabled bool   `json:"enabled"`
	Kind    string `json:"kind,omitempty"`
	Account string `json:"account,omitempty"`
	Folder  string `json:"folder,omitempty"`
}

type KnowledgeBase struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	OwnerID     string     `json:"owner_id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Permission  string     `json:"permission"`
	RoleIDs     []string   `json:"role_ids"`
	Sync        SyncConfig `json:"sync"`
	CreatedAt   string     `json:"created_at"`
	UpdatedAt   string     `json:"updated_at"`
}

type page[T any] struct {
	Items   []T    `json:"items"`
	Cursor  string `json:"cursor,omitempty"`
	HasMore bool   `json:"has_more"`
}

func pageQuery(cursor string, limit int) string {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func KBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "kb",
		Aliases: []string{"kbs"},
		Short:   "Manage knowledge bases",
	}

	cmd.AddCommand(kbListCmd())
	cmd.AddCommand(kbGetCmd())
	cmd.AddCommand(kbCreateCmd())
	cmd.AddCommand(kbConfigureSyncCmd())
	cmd.AddCommand(kbDeleteCmd())

	return cmd
}

func kbListCmd() *cobra.Command {
	var (
		limit  int
		cursor string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List knowledge bases you can access",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			var out page[KnowledgeBase]
			if err := c.GetJSON(cmd.Context(), "/kbs"+pageQuery(cursor, limit), &out); err != nil {
				return err
			}
			return render(cmd, out, func(w io.Writer) {
				if len(out.Items) == 0 {
					fmt.Fprintln(w, "No knowledge bases found")
					return
				}
				for _, kb := range out.Items {
					sync := "manual"
					if kb.Sync.Enabled {
						sync = kb.Sync.Kind
					}
					fmt.Fprintf(w, "%s  %-30s  %-5s  %s\n", kb.ID, kb.Name, kb.Permission, sync)
				}
				if out.HasMore {
					fmt.Fprintf(w, "\nMore results available. Use --cursor %s\n", out.Cursor)
				}
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of results")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Pagination cursor from previous response")

	return cmd
}

func printKnowledgeBase(w io.Writer, kb KnowledgeBase) {
	fmt.Fprintf(w, "ID:          %s\n", kb.ID)
	fmt.Fprintf(w, "Name:        %s\n", kb.Name)
	if kb.Description != "" {
		fmt.Fprintf(w, "Description: %s\n", kb.Description)
	}
	fmt.Fprintf(w, "Tenant:      %s\n", kb.TenantID)
	fmt.Fprintf(w, "Owner:       %s\n", kb.OwnerID)
	fmt.Fprintf(w, "Permission:  %s\n", kb.Permission)
	if len(kb.RoleIDs) > 0 {
		fmt.Fprintf(w, "Roles:       %s\n", strings.Join(kb.RoleIDs, ", "))
	}
	if kb.Sync.Enabled {
		fmt.Fprintf(w, "Sync:        %s %s", kb.Sync.Kind, kb.Sync.Account)
		if kb.Sync.Folder != "" {
			fmt.Fprintf(w, " (%s)", kb.Sync.Folder)
		}
		fmt.Fprintln(w)
	} else {
		fmt.Fprintln(w, "Sync:        disabled")
	}
}

func kbGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <kb-id>",
		Short: "Show a knowledge base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			var kb KnowledgeBase
			if err := c.GetJSON(cmd.Context(), "/kbs/"+url.PathEscape(args[0]), &kb); err != nil {
				return err
			}
			return render(cmd, kb, func(w io.Writer) { printKnowledgeBase(w, kb) })
		},
	}
}

func kbCreateCmd() *cobra.Command {
	var (
		tenantID    string
		description string
		permission  string
		roles       []string
	)

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a knowledge base owned by you",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			body := map[string]interface{}{
				"tenant_id":   tenantID,
				"name":        args[0],
				"description": description,
				"permission":  permission,
				"role_ids":    roles,
			}
			var kb KnowledgeBase
			if err := c.PostJSON(cmd.Context(), "/kbs", body, &kb); err != nil {
				return err
			}
			return render(cmd, kb, func(w io.Writer) {
				fmt.Fprintf(w, "Knowledge base created: %s (%s)\n", kb.Name, kb.ID)
			})
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "Tenant ID (default: your first tenant)")
	cmd.Flags().StringVar(&description, "description", "", "Description")
	cmd.Flags().StringVar(&permission, "permission", "team", "Visibility: team or role")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Role allowed to read (repeatable, required for role permission)")

	return cmd
}

func kbConfigureSyncCmd() *cobra.Command {
	var cfg SyncConfig

	cmd := &cobra.Command{
		Use:   "configure-sync <kb-id>",
		Short: "Bind a knowledge base to a drive or mailbox folder",
		Long: `Bind a knowledge base to a remote source.

  ragflow kb configure-sync <kb-id> --kind drive --account ops@example.com
  ragflow kb configure-sync <kb-id> --kind mailbox --account ops@example.com --folder Inbox
  ragflow kb configure-sync <kb-id> --disable`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			disable, _ := cmd.Flags().GetBool("disable")
			cfg.Enabled = !disable

			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			var kb KnowledgeBase
			if err := c.PutJSON(cmd.Context(), "/kbs/"+url.PathEscape(args[0])+"/sync-config", cfg, &kb); err != nil {
				return err
			}
			return render(cmd, kb, func(w io.Writer) { printKnowledgeBase(w, kb) })
		},
	}

	cmd.Flags().StringVar(&cfg.Kind, "kind", "", "Source kind: drive or mailbox")
	cmd.Flags().StringVar(&cfg.Account, "account", "", "Account whose drive or mailbox is synced")
	cmd.Flags().StringVar(&cfg.Folder, "folder", "", "Drive folder path or mail folder name")
	cmd.Flags().Bool("disable", false, "Turn syncing off")

	return cmd
}

func kbDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <kb-id>",
		Short: "Delete a knowledge base and all its documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			if err := c.Delete(cmd.Context(), "/kbs/"+url.PathEscape(args[0])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Knowledge base %s deleted\n", args[0])
			return nil
		},
	}
}
