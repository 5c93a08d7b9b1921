package client

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

type Document struct {
	ID          string `json:"id"`
	KBID        string `json:"kb_id"`
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Size        int64  `json:"size"`
	ContentHash string `json:"content_hash"`
	Source      string `json:"source"`
	RemoteID    string `json:"remote_id,omitempty"`
	RemotePath  string `json:"remote_path,omitempty"`
	Status      string `json:"status"`
	StatusMsg   string `json:"status_msg,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func DocCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "doc",
		Aliases: []string{"docs"},
		Short:   "Manage the documents of a knowledge base",
	}

	cmd.AddCommand(docListCmd())
	cmd.AddCommand(docUploadCmd())
	cmd.AddCommand(docDeleteCmd())
	cmd.AddCommand(docDownloadCmd())

	return cmd
}

func docsPath(kbID string) string {
	return "/kbs/" + url.PathEscape(kbID) + "/documents"
}

func docListCmd() *cobra.Command {
	var (
		limit  int
		cursor string
	)

	cmd := &cobra.Command{
		Use:   "list <kb-id>",
		Short: "List documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			var out page[Document]
			if err := c.GetJSON(cmd.Context(), docsPath(args[0])+pageQuery(cursor, limit), &out); err != nil {
				return err
			}
			return render(cmd, out, func(w io.Writer) {
				if len(out.Items) == 0 {
					fmt.Fprintln(w, "No documents found")
					return
				}
				for _, d := range out.Items {
					fmt.Fprintf(w, "%s  %-40s  %-7s  %-9s  %s\n", d.ID, d.Name, d.Source, d.Status, formatSize(d.Size))
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

func docUploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload <kb-id> <file>...",
		Short: "Upload files for parsing",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			kbID := args[0]
			uploaded := make([]Document, 0, len(args)-1)
			for _, path := range args[1:] {
				var doc Document
				if err := c.UploadDocument(cmd.Context(), kbID, path, nil, &doc); err != nil {
					return fmt.Errorf("%s: %w", filepath.Base(path), err)
				}
				uploaded = append(uploaded, doc)
			}
			return render(cmd, uploaded, func(w io.Writer) {
				for _, d := range uploaded {
					fmt.Fprintf(w, "Uploaded %s (%s, %s)\n", d.Name, d.ID, formatSize(d.Size))
				}
			})
		},
	}
}

func docDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <kb-id> <doc-id>",
		Short: "Delete a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			if err := c.Delete(cmd.Context(), docsPath(args[0])+"/"+url.PathEscape(args[1])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Document %s deleted\n", args[1])
			return nil
		},
	}
}

func docDownloadCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "download <kb-id> <doc-id>",
		Short: "Download the original file of a document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			var link struct {
				DownloadURL string `json:"download_url"`
			}
			if err := c.GetJSON(cmd.Context(), docsPath(args[0])+"/"+url.PathEscape(args[1])+"/download", &link); err != nil {
				return err
			}
			if output == "" {
				output = args[1]
			}
			if err := c.DownloadFile(cmd.Context(), link.DownloadURL, output, nil); err != nil {
				_ = os.Remove(output)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "out", "O", "", "Output path (default: the document ID)")

	return cmd
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
