package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

const appName = "fcctl"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Operator tools for a friendclub server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	server := os.Getenv("FRIENDCLUB_URL")
	if server == "" {
		server = "http://localhost:3891"
	}
	cmd.PersistentFlags().String("server", server, "server base URL")
	cmd.PersistentFlags().Duration("timeout", 30*time.Second, "request timeout")

	cmd.AddCommand(
		newExportCmd(),
		newWatchCmd(),
		newHealthCmd(),
	)
	return cmd
}

// serverURL joins the --server flag with path.
func serverURL(cmd *cobra.Command, path string) (string, error) {
	base, _ := cmd.Flags().GetString("server")
	u, err := url.Parse(strings.TrimRight(base, "/") + path)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid server URL %q: want http or https", base)
	}
	return u.String(), nil
}

func httpClient(cmd *cobra.Command) *http.Client {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	return &http.Client{Timeout: timeout}
}
