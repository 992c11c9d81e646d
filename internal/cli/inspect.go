package cli

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"packlink/internal/app"
	"packlink/internal/types"
)

type inspectOptions struct {
	PlanID string
	JSON   bool
}

func newInspectCommand() *cobra.Command {
	opts := inspectOptions{}
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Inspect a stored resolution plan",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInspect(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.PlanID, "plan", "", "Plan id")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Print the inspection as JSON")
	return cmd
}

func runInspect(cmd *cobra.Command, opts inspectOptions) error {
	if err := requireFlag(opts.PlanID, "plan"); err != nil {
		return err
	}
	return withService(func(service app.Service) error {
		result, err := service.InspectPlan(cmd.Context(), opts.PlanID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if opts.JSON {
			return printJSON(out, result)
		}

		fmt.Fprintf(out, "plan %s for %s on %s: %s (%d)\n",
			result.PlanID, result.ModpackID, result.InstanceID, result.ConfidenceLabel, result.ConfidenceScore)
		fmt.Fprintln(out, "resolved groups:")
		for _, summary := range result.Groups {
			fmt.Fprintf(out, "- %s: %d entries\n", summary.ContentType, summary.Count)
			if len(summary.Entries) > 0 {
				fmt.Fprintf(out, "  %s\n", strings.Join(summary.Entries, ", "))
			}
		}
		fmt.Fprintf(out, "failures: %d required\n", result.RequiredFailures)
		for _, reason := range sortedReasons(result.FailuresByReason) {
			fmt.Fprintf(out, "- %s: %d\n", reason, result.FailuresByReason[reason])
		}
		fmt.Fprintf(out, "conflicts: %d\n", result.Conflicts)
		for _, hint := range result.Hints {
			fmt.Fprintln(out, hint)
		}
		return nil
	})
}

func sortedReasons(counts map[types.FailureReason]int) []types.FailureReason {
	reasons := make([]types.FailureReason, 0, len(counts))
	for reason := range counts {
		reasons = append(reasons, reason)
	}
	slices.Sort(reasons)
	return reasons
}
