package client

import (
	"fmt"
	"io"
	"net/url"

	"github.com/spf13/cobra"
)

type APIKey struct {
	ID        string `json:"id,omitempty"`
	Token     string `json:"token,omitempty"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at,omitempty"`
	Revoked   bool   `json:"revoked"`
}

func APIKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"keys", "apikey"},
		Short:   "Manage your own API keys",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List your API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			var keys []APIKey
			if err := c.GetJSON(cmd.Context(), "/apikeys", &keys); err != nil {
				return err
			}
			return render(cmd, keys, func(w io.Writer) {
				for _, k := range keys {
					state := "active"
					if k.Revoked {
						state = "revoked"
					}
					fmt.Fprintf(w, "%s  %-20s  %-7s  %s\n", k.ID, k.Name, state, k.CreatedAt)
				}
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Create an API key; the token is shown once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			var key APIKey
			if err := c.PostJSON(cmd.Context(), "/apikeys", map[string]string{"name": args[0]}, &key); err != nil {
				return err
			}
			return render(cmd, key, func(w io.Writer) {
				fmt.Fprintf(w, "API key %q created:\n%s\n", key.Name, key.Token)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke one of your API keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			if err := c.Delete(cmd.Context(), "/apikeys/"+url.PathEscape(args[0])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "API key %s revoked\n", args[0])
			return nil
		},
	})

	return cmd
}
