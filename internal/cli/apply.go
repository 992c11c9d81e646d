package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"packlink/internal/app"
	"packlink/internal/types"
)

type applyOptions struct {
	PlanID             string
	OneTime            bool
	PartialApplyUnsafe bool
	JSON               bool
}

func newApplyCommand() *cobra.Command {
	opts := applyOptions{}
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a stored plan to its instance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlag(opts.PlanID, "plan"); err != nil {
				return err
			}
			linkMode := types.LinkModeLinked
			if opts.OneTime {
				linkMode = types.LinkModeUnlinked
			}
			return withService(func(service app.Service) error {
				result, err := service.ApplyPlan(cmd.Context(), app.ApplyRequest{
					PlanID:             opts.PlanID,
					LinkMode:           linkMode,
					PartialApplyUnsafe: resolveBool(cmd, opts.PartialApplyUnsafe, "partial_apply_unsafe", "partial-apply-unsafe"),
				})
				out := cmd.OutOrStdout()
				if opts.JSON && (err == nil || result.PlanID != "") {
					if printErr := printJSON(out, result); printErr != nil {
						return printErr
					}
					return err
				}
				if result.PlanID != "" {
					printApplyResult(cmd, result)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&opts.PlanID, "plan", "", "Plan id")
	cmd.Flags().BoolVar(&opts.OneTime, "one-time", false, "Apply without linking the instance to the modpack")
	cmd.Flags().BoolVar(&opts.PartialApplyUnsafe, "partial-apply-unsafe", false, "Skip required entries that failed to resolve")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Print the result as JSON")
	_ = viper.BindPFlag("partial_apply_unsafe", cmd.Flags().Lookup("partial-apply-unsafe"))
	return cmd
}

func printApplyResult(cmd *cobra.Command, result types.ModpackApplyResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n", result.Message)
	fmt.Fprintf(out, "state: %s applied=%d skipped=%d failed=%d\n",
		result.FinalState, result.AppliedEntries, result.SkippedEntries, result.FailedEntries)
	if result.SnapshotID != "" {
		fmt.Fprintf(out, "snapshot: %s\n", result.SnapshotID)
	}
	if result.RolledBack {
		fmt.Fprintln(out, "instance restored from snapshot")
	}
	for _, failure := range result.Failures {
		fmt.Fprintf(out, "! %s: %s\n", failure.Key, failure.Message)
	}
	for _, warning := range result.Warnings {
		fmt.Fprintf(out, "warning: %s\n", warning)
	}
}

type rollbackOptions struct {
	InstanceID string
	SnapshotID string
}

func newRollbackCommand() *cobra.Command {
	opts := rollbackOptions{}
	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Restore an instance from a content snapshot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlag(opts.InstanceID, "instance"); err != nil {
				return err
			}
			return withService(func(service app.Service) error {
				result, err := service.Rollback(cmd.Context(), app.RollbackRequest{
					InstanceID: opts.InstanceID,
					SnapshotID: opts.SnapshotID,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%d files)\n", result.Message, result.RestoredFiles)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.InstanceID, "instance", "", "Instance id")
	cmd.Flags().StringVar(&opts.SnapshotID, "snapshot", "", "Snapshot id (defaults to the linked or newest snapshot)")
	return cmd
}

func newSnapshotsCommand() *cobra.Command {
	var instanceID string
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List content snapshots of an instance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlag(instanceID, "instance"); err != nil {
				return err
			}
			return withService(func(service app.Service) error {
				snapshots, err := service.ListSnapshots(cmd.Context(), instanceID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, snapshot := range snapshots {
					fmt.Fprintf(out, "%s\t%s\t%s\t%d files\n",
						snapshot.ID, snapshot.CreatedAt.Format("2006-01-02 15:04:05"), snapshot.Reason, snapshot.Files)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&instanceID, "instance", "", "Instance id")
	return cmd
}

func newUnlinkCommand() *cobra.Command {
	var instanceID string
	cmd := &cobra.Command{
		Use:   "unlink",
		Short: "Stop tracking drift for an instance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlag(instanceID, "instance"); err != nil {
				return err
			}
			return withService(func(service app.Service) error {
				link, err := service.Unlink(cmd.Context(), instanceID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "instance %s is now %s\n", link.InstanceID, link.Mode)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&instanceID, "instance", "", "Instance id")
	return cmd
}
