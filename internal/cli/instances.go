package cli

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/instant-demo/smake/internal/api"
	"github.com/instant-demo/smake/internal/client"
)

func newInstancesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "instances",
		Aliases: []string{"instance", "i"},
		Short:   "Manage individual instances",
	}

	cmd.AddCommand(
		newInstancesListCmd(a),
		newInstancesGetCmd(a),
		newInstancesCreateCmd(a),
		newInstancesTerminateCmd(a),
		newInstancesTagCmd(a),
		newInstancesUntagCmd(a),
		newInstancesTTLCmd(a),
	)

	return cmd
}

func newInstancesListCmd(a *app) *cobra.Command {
	var opts client.ListOptions

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List instances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.requestContext(cmd)
			defer cancel()

			list, err := a.client.ListInstances(ctx, opts)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), list, func(w io.Writer) error {
				return writeInstanceTable(w, list.Instances)
			})
		},
	}

	cmd.Flags().StringVar(&opts.InstanceType, "type", "", "filter by instance type")
	cmd.Flags().StringVar(&opts.State, "state", "", "filter by state")
	cmd.Flags().StringArrayVar(&opts.Tags, "tag", nil, "filter by tag key or key=value (repeatable)")
	return cmd
}

func newInstancesGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show one instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.requestContext(cmd)
			defer cancel()

			inst, err := a.client.GetInstance(ctx, args[0])
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), inst, func(w io.Writer) error {
				return writeInstanceDetail(w, inst)
			})
		},
	}
}

func newInstancesCreateCmd(a *app) *cobra.Command {
	var (
		tags []string
		ttl  int
	)

	cmd := &cobra.Command{
		Use:   "create TYPE",
		Short: "Launch an instance outside the pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseTags(tags)
			if err != nil {
				return err
			}

			ctx, cancel := a.requestContext(cmd)
			defer cancel()

			resp, err := a.client.CreateInstance(ctx, api.CreateInstanceRequest{
				InstanceType: args[0],
				Tags:         parsed,
				TTLHours:     ttl,
			})
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), resp, func(w io.Writer) error {
				if resp.TerminationTime != nil {
					_, err := fmt.Fprintf(w, "Launched %s (terminates %s)\n", resp.ID, resp.TerminationTime.Format(time.RFC3339))
					return err
				}
				_, err := fmt.Fprintf(w, "Launched %s\n", resp.ID)
				return err
			})
		},
	}

	cmd.Flags().StringArrayVar(&tags, "tag", nil, "tag as key=value (repeatable)")
	cmd.Flags().IntVar(&ttl, "ttl", 0, "terminate after this many hours")
	return cmd
}

func newInstancesTerminateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "terminate ID...",
		Short: "Terminate instances",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.requestContext(cmd)
			defer cancel()

			for _, id := range args {
				if err := a.client.TerminateInstance(ctx, id); err != nil {
					return fmt.Errorf("terminate %s: %w", id, err)
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Terminating %s\n", id)
			}
			return nil
		},
	}
}

func newInstancesTagCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tag ID KEY=VALUE...",
		Short: "Add or overwrite tags",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			tags, err := parseTags(args[1:])
			if err != nil {
				return err
			}

			ctx, cancel := a.requestContext(cmd)
			defer cancel()

			if err := a.client.ApplyTags(ctx, args[0], tags); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Tagged %s\n", args[0])
			return nil
		},
	}
}

func newInstancesUntagCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "untag ID KEY...",
		Short: "Remove tags",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.requestContext(cmd)
			defer cancel()

			if err := a.client.RemoveTags(ctx, args[0], args[1:]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Untagged %s\n", args[0])
			return nil
		},
	}
}

func newInstancesTTLCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ttl ID HOURS",
		Short: "Schedule termination HOURS from now",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			hours, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid hours %q", args[1])
			}

			ctx, cancel := a.requestContext(cmd)
			defer cancel()

			resp, err := a.client.SetTTL(ctx, args[0], hours)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), resp, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "%s terminates %s\n", resp.ID, resp.TerminationTime.Format(time.RFC3339))
				return err
			})
		},
	}
}

func parseTags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	tags := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid tag %q, want key=value", pair)
		}
		tags[key] = value
	}
	return tags, nil
}

func writeInstanceTable(w io.Writer, instances []api.InstanceResponse) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tTYPE\tSTATE\tLAUNCHED\tTERMINATES")
	for _, inst := range instances {
		terminates := "-"
		if inst.TerminationTime != nil {
			terminates = inst.TerminationTime.Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			inst.ID, inst.InstanceType, inst.State, inst.LaunchTime.Format(time.RFC3339), terminates)
	}
	return tw.Flush()
}

func writeInstanceDetail(w io.Writer, inst *api.InstanceResponse) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "id:\t%s\n", inst.ID)
	_, _ = fmt.Fprintf(tw, "type:\t%s\n", inst.InstanceType)
	_, _ = fmt.Fprintf(tw, "state:\t%s\n", inst.State)
	_, _ = fmt.Fprintf(tw, "reachability:\t%s\n", inst.Reachability)
	_, _ = fmt.Fprintf(tw, "launched:\t%s\n", inst.LaunchTime.Format(time.RFC3339))
	if inst.TerminationTime != nil {
		_, _ = fmt.Fprintf(tw, "terminates:\t%s\n", inst.TerminationTime.Format(time.RFC3339))
	}

	keys := make([]string, 0, len(inst.Tags))
	for k := range inst.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		_, _ = fmt.Fprintf(tw, "tag %s:\t%s\n", k, inst.Tags[k])
	}
	return tw.Flush()
}
