package main

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

type exportResponse struct {
	ExportedAt    string            `json:"exportedAt"`
	TotalMessages int               `json:"totalMessages"`
	Messages      []json.RawMessage `json:"messages"`
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Download every cached message as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := serverURL(cmd, "/api/messages/export")
			if err != nil {
				return err
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, target, nil)
			if err != nil {
				return err
			}
			resp, err := httpClient(cmd).Do(req)
			if err != nil {
				return fmt.Errorf("failed to fetch export: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("export failed: %s", resp.Status)
			}

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("failed to read export: %w", err)
			}
			var export exportResponse
			if err := json.Unmarshal(body, &export); err != nil {
				return fmt.Errorf("failed to decode export: %w", err)
			}

			out := cmd.OutOrStdout()
			if path, _ := cmd.Flags().GetString("out"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", path, err)
				}
				defer f.Close()
				out = f
			}

			indented, err := json.MarshalIndent(export, "", "  ")
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintln(out, string(indented)); err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "exported %d messages\n", export.TotalMessages)
			return nil
		},
	}

	cmd.Flags().StringP("out", "o", "", "write to file instead of stdout")
	return cmd
}
