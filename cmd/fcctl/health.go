package main

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

type readiness struct {
	Status string `json:"status"`
	Checks map[string]struct {
		Status    string `json:"status"`
		LatencyMs int64  `json:"latency_ms"`
		Error     string `json:"error"`
	} `json:"checks"`
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show server readiness and fail when not ready",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := serverURL(cmd, "/health/ready")
			if err != nil {
				return err
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, target, nil)
			if err != nil {
				return err
			}
			resp, err := httpClient(cmd).Do(req)
			if err != nil {
				return fmt.Errorf("failed to reach server: %w", err)
			}
			defer resp.Body.Close()

			var ready readiness
			if err := json.NewDecoder(resp.Body).Decode(&ready); err != nil {
				return fmt.Errorf("failed to decode readiness: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "status: %s\n", ready.Status)

			names := make([]string, 0, len(ready.Checks))
			for name := range ready.Checks {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				c := ready.Checks[name]
				line := fmt.Sprintf("  %-10s %-5s %dms", name, c.Status, c.LatencyMs)
				if c.Error != "" {
					line += "  " + c.Error
				}
				fmt.Fprintln(out, line)
			}

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("server not ready")
			}
			return nil
		},
	}
}
