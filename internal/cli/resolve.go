package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"packlink/internal/app"
	"packlink/internal/core"
)

type resolveOptions struct {
	SpecID  string
	Profile string
	Target  targetOptions
	JSON    bool
}

func newResolveCommand() *cobra.Command {
	opts := resolveOptions{}
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Resolve a stored spec against an instance target and store the plan",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runResolve(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.SpecID, "spec", "", "Spec id")
	cmd.Flags().StringVar(&opts.Profile, "profile", "", "Profile id (defaults to recommended)")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Print the plan as JSON")
	addTargetFlags(cmd, &opts.Target)

	_ = viper.BindPFlag("profile", cmd.Flags().Lookup("profile"))

	return cmd
}

func runResolve(ctx context.Context, cmd *cobra.Command, opts resolveOptions) error {
	if err := requireFlag(opts.SpecID, "spec"); err != nil {
		return err
	}
	return withService(func(service app.Service) error {
		plan, err := service.Resolve(ctx, app.ResolveRequest{
			SpecID:    opts.SpecID,
			Target:    opts.Target.target(),
			ProfileID: resolveString(cmd, opts.Profile, "profile", "profile"),
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if opts.JSON {
			return printJSON(out, plan)
		}
		fmt.Fprint(out, core.RenderPlanSummary(plan))
		for _, hint := range app.PlanHints(plan) {
			fmt.Fprintln(out, hint)
		}
		return nil
	})
}
