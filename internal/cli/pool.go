package cli

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newPoolCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Inspect and operate the warm pool",
	}

	cmd.AddCommand(
		newPoolStatusCmd(a),
		newPoolAcquireCmd(a),
		newPoolReconcileCmd(a),
	)

	return cmd
}

func newPoolStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pool members per type against the desired inventory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.requestContext(cmd)
			defer cancel()

			stats, err := a.client.PoolStats(ctx)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), stats, func(w io.Writer) error {
				_, _ = fmt.Fprintf(w, "reconcile: %s\n", stats.State)
				if len(stats.Types) == 0 {
					_, err := fmt.Fprintln(w, "pool: empty")
					return err
				}
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "TYPE\tRUNNING\tPENDING\tDESIRED\tDEFICIT")
				for _, s := range stats.Types {
					_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", s.InstanceType, s.Running, s.Pending, s.Desired, s.Deficit())
				}
				return tw.Flush()
			})
		},
	}
}

func newPoolAcquireCmd(a *app) *cobra.Command {
	var ttl int

	cmd := &cobra.Command{
		Use:   "acquire TYPE",
		Short: "Take one instance out of the pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.requestContext(cmd)
			defer cancel()

			inst, err := a.client.Acquire(ctx, args[0], ttl)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), inst, func(w io.Writer) error {
				return writeInstanceDetail(w, inst)
			})
		},
	}

	cmd.Flags().IntVar(&ttl, "ttl", 0, "terminate after this many hours (server default if 0)")
	return cmd
}

func newPoolReconcileCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation cycle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.requestContext(cmd)
			defer cancel()

			resp, err := a.client.Reconcile(ctx)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), resp, func(w io.Writer) error {
				_, _ = fmt.Fprintf(w, "creates: %d\ndestroys: %d\n", resp.Creates, resp.Destroys)
				types := make([]string, 0, len(resp.Diff))
				for t := range resp.Diff {
					types = append(types, t)
				}
				sort.Strings(types)
				for _, t := range types {
					_, _ = fmt.Fprintf(w, "  %s: %+d\n", t, resp.Diff[t])
				}
				return nil
			})
		},
	}
}
