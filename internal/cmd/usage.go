package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/panelsim/panelsim/internal/observability"
	"github.com/panelsim/panelsim/internal/output"
	"github.com/panelsim/panelsim/internal/quota"
)

var (
	usageServer string
	usageFormat string
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show quota usage of a running server",
	Long: `Show the per-minute and per-day quota usage reported by a running server.

Quota state lives in the serving process, so this queries GET /api/usage.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(usageFormat)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		status, err := fetchUsage(ctx, http.DefaultClient, usageServer)
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitExternalServiceUnavailable, "Failed to read usage", err)
		}
		rendered, err := output.Usage(format, status)
		if err != nil {
			return err
		}
		fmt.Println(rendered)
		return nil
	},
}

func fetchUsage(ctx context.Context, client *http.Client, server string) (quota.Status, error) {
	var status quota.Status
	url := strings.TrimRight(server, "/") + "/api/usage"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return status, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return status, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return status, err
	}
	if resp.StatusCode != http.StatusOK {
		return status, fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := jsoniter.Unmarshal(body, &status); err != nil {
		return status, fmt.Errorf("decode usage: %w", err)
	}
	return status, nil
}

func init() {
	rootCmd.AddCommand(usageCmd)

	usageCmd.Flags().StringVar(&usageServer, "server", "http://localhost:8000", "base URL of the running server")
	usageCmd.Flags().StringVarP(&usageFormat, "format", "f", "table", "output format: table, markdown or json")
}
