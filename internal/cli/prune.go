package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"packlink/internal/app"
)

type pruneOptions struct {
	InstanceID string
	KeepLast   int
	KeepDays   int
	Protect    []string
	DryRun     bool
}

func newPruneCommand() *cobra.Command {
	opts := pruneOptions{}
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Prune content snapshots based on retention policy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPrune(cmd.Context(), cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.InstanceID, "instance", "", "Instance id")
	cmd.Flags().IntVar(&opts.KeepLast, "keep-last", 0, "Keep last N snapshots")
	cmd.Flags().IntVar(&opts.KeepDays, "keep-days", 0, "Keep snapshots newer than N days")
	cmd.Flags().StringSliceVar(&opts.Protect, "protect", nil, "Snapshot ids that are never pruned")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", true, "Only report prune actions without deleting")

	_ = viper.BindPFlag("keep_last", cmd.Flags().Lookup("keep-last"))
	_ = viper.BindPFlag("keep_days", cmd.Flags().Lookup("keep-days"))
	_ = viper.BindPFlag("protect_snapshots", cmd.Flags().Lookup("protect"))
	_ = viper.BindPFlag("dry_run", cmd.Flags().Lookup("dry-run"))

	return cmd
}

func runPrune(ctx context.Context, cmd *cobra.Command, opts pruneOptions) error {
	if err := requireFlag(opts.InstanceID, "instance"); err != nil {
		return err
	}
	return withService(func(service app.Service) error {
		result, err := service.PruneSnapshots(ctx, app.PruneRequest{
			InstanceID: opts.InstanceID,
			KeepLast:   resolveInt(cmd, opts.KeepLast, "keep_last", "keep-last"),
			KeepDays:   resolveInt(cmd, opts.KeepDays, "keep_days", "keep-days"),
			ProtectIDs: resolveStrings(cmd, opts.Protect, "protect_snapshots", "protect"),
			DryRun:     resolveBool(cmd, opts.DryRun, "dry_run", "dry-run"),
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if result.DryRun {
			fmt.Fprintf(out, "dry-run: keep=%d delete=%d\n", result.KeepCount, result.DeleteCount)
			for _, id := range result.Deleted {
				fmt.Fprintf(out, "- %s\n", id)
			}
			return nil
		}
		fmt.Fprintf(out, "pruned snapshots: %d\n", result.DeleteCount)
		return nil
	})
}
