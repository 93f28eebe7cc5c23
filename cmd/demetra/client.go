package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/demetra.report/internal/httputil"
)

// healthPaths lists the health endpoint of every service.
var healthPaths = []string{
	"/health",
	"/api/v1/stats/health",
	"/api/v1/arima/health",
	"/api/v1/tramoseats/health",
	"/api/v1/x13/health",
	"/api/v1/io/health",
	"/api/v1/viz/health",
}

func newClientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Talk to a running server",
	}

	health := &cobra.Command{
		Use:   "health",
		Short: "Check that every service reports healthy",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, err := cmd.Flags().GetString("addr")
			if err != nil {
				return err
			}
			timeout, err := cmd.Flags().GetDuration("timeout")
			if err != nil {
				return err
			}
			c := &http.Client{Timeout: timeout}
			return checkHealth(cmd.Context(), cmd.OutOrStdout(), c, addr)
		},
	}
	health.Flags().String("addr", "http://localhost:8080", "Server base URL")
	health.Flags().Duration("timeout", 5*time.Second, "Per-request timeout")

	cmd.AddCommand(health)
	return cmd
}

type healthStatus struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// checkHealth queries each service's health endpoint and writes one line
// per service. It fails if any service is unreachable or unhealthy.
func checkHealth(ctx context.Context, out io.Writer, c httputil.HTTPClient, addr string) error {
	base := strings.TrimRight(addr, "/")
	failed := 0
	for _, p := range healthPaths {
		var st healthStatus
		if err := httputil.GetJSON(ctx, c, base+p, &st); err != nil {
			fmt.Fprintf(out, "✗ %-28s %v\n", p, err)
			failed++
			continue
		}
		if st.Status != "healthy" {
			fmt.Fprintf(out, "✗ %-28s %s: %s\n", p, st.Service, st.Status)
			failed++
			continue
		}
		fmt.Fprintf(out, "✓ %-28s %s\n", p, st.Service)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d services unhealthy", failed, len(healthPaths))
	}
	return nil
}
