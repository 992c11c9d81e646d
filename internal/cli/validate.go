package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"packlink/internal/app"
)

type validateOptions struct {
	Spec   string
	Target targetOptions
	JSON   bool
}

func newValidateCommand() *cobra.Command {
	opts := validateOptions{}
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a modpack spec file and report layer conflicts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidate(cmd.Context(), cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.Spec, "spec", "", "Spec file path")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Print the result as JSON")
	addTargetFlags(cmd, &opts.Target)
	_ = viper.BindPFlag("spec", cmd.Flags().Lookup("spec"))
	return cmd
}

func runValidate(ctx context.Context, cmd *cobra.Command, opts validateOptions) error {
	return withService(func(service app.Service) error {
		result, err := service.ValidateSpecFile(ctx, app.ValidateRequest{
			Path:   resolveString(cmd, opts.Spec, "spec", "spec"),
			Target: opts.Target.target(),
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if opts.JSON {
			return printJSON(out, result)
		}
		fmt.Fprintf(out, "validated: %s (%d layers, %d entries)\n", result.SpecID, result.Layers, result.Entries)
		for _, conflict := range result.Conflicts {
			fmt.Fprintf(out, "- %s: %s\n", conflict.Code, conflict.Message)
		}
		return nil
	})
}

func resolveString(cmd *cobra.Command, value string, key string, flagName string) string {
	if cmd == nil {
		if value != "" {
			return value
		}
		return viper.GetString(key)
	}
	if flagChanged(cmd, flagName) {
		return value
	}
	return viper.GetString(key)
}

func resolveStrings(cmd *cobra.Command, values []string, key string, flagName string) []string {
	if cmd == nil {
		if len(values) > 0 {
			return values
		}
		return viper.GetStringSlice(key)
	}
	if flagChanged(cmd, flagName) {
		return values
	}
	return viper.GetStringSlice(key)
}

func resolveBool(cmd *cobra.Command, value bool, key string, flagName string) bool {
	if cmd == nil {
		return value
	}
	if flagChanged(cmd, flagName) {
		return value
	}
	return viper.GetBool(key)
}

func resolveInt(cmd *cobra.Command, value int, key string, flagName string) int {
	if cmd == nil {
		return value
	}
	if flagChanged(cmd, flagName) {
		return value
	}
	return viper.GetInt(key)
}

func flagChanged(cmd *cobra.Command, name string) bool {
	if cmd == nil || strings.TrimSpace(name) == "" {
		return false
	}
	if flag := cmd.Flags().Lookup(name); flag != nil {
		return flag.Changed
	}
	if flag := cmd.PersistentFlags().Lookup(name); flag != nil {
		return flag.Changed
	}
	return false
}
