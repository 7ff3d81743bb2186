// Package cli implements smakectl, the operator CLI for a smake server.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/instant-demo/smake/internal/client"
)

type app struct {
	server  string
	apiKey  string
	json    bool
	timeout time.Duration
	client  *client.Client
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the smakectl command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "smakectl",
		Short:         "Operate a smake fleet reconciler",
		Long:          "smakectl talks to a smake server: it lists and launches instances, manages tags and TTLs, and allocates from or reconciles the warm pool.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			a.client = client.New(a.server, client.Options{APIKey: a.apiKey})
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.server, "server", envOr("SMAKE_SERVER", "http://localhost:8080"), "smake server URL")
	flags.StringVar(&a.apiKey, "api-key", os.Getenv("SMAKE_API_KEY"), "API key")
	flags.BoolVar(&a.json, "json", false, "print JSON")
	flags.DurationVar(&a.timeout, "timeout", 30*time.Second, "request timeout")

	rootCmd.AddCommand(
		newHealthCmd(a),
		newInstancesCmd(a),
		newPoolCmd(a),
	)

	return rootCmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// requestContext returns the command context bounded by --timeout.
func (a *app) requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if a.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, a.timeout)
}

// print writes v as indented JSON when --json is set, else calls text.
func (a *app) print(w io.Writer, v any, text func(io.Writer) error) error {
	if a.json {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return text(w)
}

func newHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.requestContext(cmd)
			defer cancel()

			health, err := a.client.Health(ctx)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), health, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "status: %s\nprovider: %s\nreconcile: %s\n",
					health["status"], health["provider"], health["reconcile"])
				return err
			})
		},
	}
}
