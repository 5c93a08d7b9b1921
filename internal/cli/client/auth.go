package client

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func AuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage authentication credentials",
		Long:  "Login, logout, and check authentication status for the ragflow CLI",
	}

	cmd.AddCommand(authLoginCmd())
	cmd.AddCommand(authLogoutCmd())
	cmd.AddCommand(authStatusCmd())
	cmd.AddCommand(authWhoAmICmd())

	return cmd
}

func authLoginCmd() *cobra.Command {
	var apiKey, apiURL string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Login with API key",
		Long:  "Store API key and URL in the global config (~/.config/ragflow/config.json)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if apiKey == "" {
				fmt.Fprint(cmd.OutOrStdout(), "Enter API key: ")
				input, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && err != io.EOF {
					return fmt.Errorf("failed to read API key: %w", err)
				}
				apiKey = strings.TrimSpace(input)
			}
			return runAuthLogin(cmd.OutOrStdout(), apiKey, apiURL)
		},
	}

	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key (rfk_...)")
	cmd.Flags().StringVar(&apiURL, "url", defaultAPIURL, "API URL")

	return cmd
}

func authLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := DeleteGlobalConfig(); err != nil {
				return fmt.Errorf("failed to logout: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Successfully logged out")
			return nil
		},
	}
}

func authStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show where credentials come from",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthStatus(cmd.OutOrStdout(), outputJSON(cmd))
		},
	}
}

func authWhoAmICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the user, tenants and roles behind the active API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			var me struct {
				UserID    string   `json:"user_id"`
				TenantIDs []string `json:"tenant_ids"`
				RoleIDs   []string `json:"role_ids"`
			}
			if err := c.GetJSON(cmd.Context(), "/me", &me); err != nil {
				return err
			}
			return render(cmd, me, func(w io.Writer) {
				fmt.Fprintf(w, "User:    %s\n", me.UserID)
				fmt.Fprintf(w, "Tenants: %s\n", strings.Join(me.TenantIDs, ", "))
				fmt.Fprintf(w, "Roles:   %s\n", strings.Join(me.RoleIDs, ", "))
			})
		},
	}
}

func runAuthLogin(w io.Writer, apiKey, apiURL string) error {
	if !IsValidAPIKey(apiKey) {
		return fmt.Errorf("invalid API key format (expected: rfk_ + 64 hex characters)")
	}

	if err := SaveGlobalConfig(&GlobalConfig{APIKey: apiKey, APIURL: apiURL}); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}

	fmt.Fprintln(w, "Successfully logged in")
	return nil
}

func runAuthStatus(w io.Writer, asJSON bool) error {
	source, apiKey, apiURL := GetCredentialSource("", "")

	if asJSON {
		status := map[string]interface{}{
			"authenticated": source != SourceNone,
			"source":        string(source),
		}
		if source != SourceNone {
			status["api_key"] = maskAPIKey(apiKey)
			status["api_url"] = apiURL
		}
		return json.NewEncoder(w).Encode(status)
	}

	if source == SourceNone {
		fmt.Fprintln(w, "Not authenticated")
		fmt.Fprintln(w, "Run 'ragflow auth login' to authenticate")
		return nil
	}

	fmt.Fprintf(w, "Authenticated: yes\n")
	fmt.Fprintf(w, "Source: %s\n", source)
	fmt.Fprintf(w, "API Key: %s\n", maskAPIKey(apiKey))
	fmt.Fprintf(w, "API URL: %s\n", apiURL)
	return nil
}

func maskAPIKey(key string) string {
	if len(key) < 8 {
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}

// outputJSON reports whether the root --output flag asks for JSON.
func outputJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("output")
	return v
}

// render writes v as JSON when --output is set and as text otherwise.
func render(cmd *cobra.Command, v interface{}, text func(w io.Writer)) error {
	w := cmd.OutOrStdout()
	if outputJSON(cmd) {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

