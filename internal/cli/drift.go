package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"packlink/internal/app"
	"packlink/internal/types"
)

func newDriftCommand() *cobra.Command {
	var instanceID string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Compare an instance with the lockfile of its last linked apply",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlag(instanceID, "instance"); err != nil {
				return err
			}
			return withService(func(service app.Service) error {
				report, err := service.DetectDrift(cmd.Context(), instanceID)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), report)
				}
				printDriftReport(cmd.OutOrStdout(), report)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&instanceID, "instance", "", "Instance id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}

func printDriftReport(out io.Writer, report types.DriftReport) {
	fmt.Fprintf(out, "%s: %s\n", report.InstanceID, report.Status)
	for _, item := range report.Added {
		fmt.Fprintf(out, "+ %s %s\n", item.Key, item.CurrentNumber)
	}
	for _, item := range report.Removed {
		fmt.Fprintf(out, "- %s %s\n", item.Key, item.ExpectedNumber)
	}
	for _, item := range report.VersionChanged {
		fmt.Fprintf(out, "~ %s %s -> %s\n", item.Key, item.ExpectedNumber, item.CurrentNumber)
	}
}

func newRealignCommand() *cobra.Command {
	var target targetOptions
	cmd := &cobra.Command{
		Use:   "realign",
		Short: "Re-resolve the linked modpack and apply it over manual changes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlag(target.InstanceID, "instance"); err != nil {
				return err
			}
			return withService(func(service app.Service) error {
				result, err := service.Realign(cmd.Context(), app.RealignRequest{
					InstanceID: target.InstanceID,
					Target:     target.target(),
				})
				if result.PlanID != "" {
					printApplyResult(cmd, result)
				}
				return err
			})
		},
	}
	addTargetFlags(cmd, &target)
	return cmd
}
