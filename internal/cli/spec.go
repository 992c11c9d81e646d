package cli

import (
	"fmt"
	"os"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"packlink/internal/app"
	"packlink/internal/types"
)

func newSpecCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spec",
		Short: "Manage layered modpack specs",
	}
	cmd.AddCommand(newSpecCreateCommand())
	cmd.AddCommand(newSpecImportCommand())
	cmd.AddCommand(newSpecListCommand())
	cmd.AddCommand(newSpecShowCommand())
	cmd.AddCommand(newSpecDeleteCommand())
	cmd.AddCommand(newSpecSetLayerCommand())
	cmd.AddCommand(newSpecSuggestCommand())
	cmd.AddCommand(newSpecDiffCommand())
	cmd.AddCommand(newSpecUpdateFromInstanceCommand())
	return cmd
}

func newSpecCreateCommand() *cobra.Command {
	var req app.CreateSpecRequest
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a spec with the default layers and profiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(func(service app.Service) error {
				spec, err := service.CreateSpec(cmd.Context(), req)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "created spec: %s\n", spec.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&req.ID, "id", "", "Spec id (generated when empty)")
	cmd.Flags().StringVar(&req.Name, "name", "", "Display name")
	cmd.Flags().StringVar(&req.Description, "description", "", "Description")
	return cmd
}

func newSpecImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Store a spec document, replacing a spec with the same id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(service app.Service) error {
				spec, err := service.ImportSpec(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported spec: %s\n", spec.ID)
				return nil
			})
		},
	}
}

func newSpecListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored specs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withService(func(service app.Service) error {
				specs, err := service.ListSpecs(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, spec := range specs {
					fmt.Fprintf(out, "%s\t%s\t%d layers\t%s\n",
						spec.ID, spec.Name, len(spec.Layers), spec.UpdatedAt.Format("2006-01-02 15:04:05"))
				}
				return nil
			})
		},
	}
}

func newSpecShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a stored spec as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(service app.Service) error {
				spec, err := service.GetSpec(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				encoder := yaml.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent(2)
				if err := encoder.Encode(spec); err != nil {
					return err
				}
				return encoder.Close()
			})
		},
	}
}

func newSpecDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a stored spec",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(service app.Service) error {
				if err := service.DeleteSpec(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted spec: %s\n", args[0])
				return nil
			})
		},
	}
}

type setLayerOptions struct {
	LayerID string
	File    string
}

func newSpecSetLayerCommand() *cobra.Command {
	opts := setLayerOptions{}
	cmd := &cobra.Command{
		Use:   "set-layer <spec-id>",
		Short: "Replace the entries delta of one layer from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag(opts.LayerID, "layer"); err != nil {
				return err
			}
			if err := requireFlag(opts.File, "file"); err != nil {
				return err
			}
			delta, err := readEntriesDelta(opts.File)
			if err != nil {
				return err
			}
			return withService(func(service app.Service) error {
				spec, err := service.SetLayerEntries(cmd.Context(), app.SetLayerEntriesRequest{
					SpecID:  args[0],
					LayerID: opts.LayerID,
					Delta:   delta,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "updated layer %s of %s\n", opts.LayerID, spec.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.LayerID, "layer", "", "Layer id")
	cmd.Flags().StringVar(&opts.File, "file", "", "YAML file with add/remove/override lists")
	return cmd
}

func readEntriesDelta(path string) (types.EntriesDelta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.EntriesDelta{}, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("entries file not found").
			WithCause(err)
	}
	var delta types.EntriesDelta
	if err := yaml.Unmarshal(data, &delta); err != nil {
		return types.EntriesDelta{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("invalid entries file").
			WithCause(err)
	}
	return delta, nil
}

type suggestOptions struct {
	PlanID   string
	Conflict int
}

func newSpecSuggestCommand() *cobra.Command {
	opts := suggestOptions{}
	cmd := &cobra.Command{
		Use:   "suggest <spec-id>",
		Short: "Apply the suggested fix for a conflict recorded on a plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag(opts.PlanID, "plan"); err != nil {
				return err
			}
			return withService(func(service app.Service) error {
				result, err := service.ApplyConflictSuggestion(cmd.Context(), app.ApplySuggestionRequest{
					SpecID:        args[0],
					PlanID:        opts.PlanID,
					ConflictIndex: opts.Conflict,
				})
				if err != nil {
					return err
				}
				if !result.Changed {
					fmt.Fprintln(cmd.OutOrStdout(), "suggestion already applied")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied suggestion to %s; resolve again to refresh the plan\n", result.Spec.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.PlanID, "plan", "", "Plan id holding the conflict")
	cmd.Flags().IntVar(&opts.Conflict, "conflict", 0, "Conflict index within the plan")
	return cmd
}

func newSpecDiffCommand() *cobra.Command {
	var layerID string
	cmd := &cobra.Command{
		Use:   "diff <spec-id>",
		Short: "Show what one layer changes relative to the layers below it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag(layerID, "layer"); err != nil {
				return err
			}
			return withService(func(service app.Service) error {
				diff, err := service.LayerDiff(cmd.Context(), args[0], layerID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, entry := range diff.Added {
					fmt.Fprintf(out, "+ %s\n", types.EntryKey(entry))
				}
				for _, entry := range diff.Removed {
					fmt.Fprintf(out, "- %s\n", types.EntryKey(entry))
				}
				for _, entry := range diff.Overridden {
					fmt.Fprintf(out, "~ %s\n", types.EntryKey(entry))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&layerID, "layer", "", "Layer id")
	return cmd
}

type updateFromInstanceOptions struct {
	InstanceID string
	Apply      bool
}

func newSpecUpdateFromInstanceCommand() *cobra.Command {
	opts := updateFromInstanceOptions{}
	cmd := &cobra.Command{
		Use:   "update-from-instance <spec-id>",
		Short: "Fold content installed by hand into the instance overrides layer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireFlag(opts.InstanceID, "instance"); err != nil {
				return err
			}
			req := app.UpdateFromInstanceRequest{SpecID: args[0], InstanceID: opts.InstanceID}
			return withService(func(service app.Service) error {
				out := cmd.OutOrStdout()
				preview, err := service.PreviewUpdateFromInstance(cmd.Context(), req)
				if err != nil {
					return err
				}
				for _, entry := range preview.Added {
					fmt.Fprintf(out, "+ %s %s\n", types.EntryKey(entry), entry.Pin)
				}
				for _, entry := range preview.Changed {
					fmt.Fprintf(out, "~ %s %s\n", types.EntryKey(entry), entry.Pin)
				}
				if !opts.Apply {
					fmt.Fprintf(out, "preview: %d added, %d changed (use --apply to write)\n", len(preview.Added), len(preview.Changed))
					return nil
				}
				spec, err := service.ApplyUpdateFromInstance(cmd.Context(), req)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "updated %s layer of %s\n", types.LayerInstanceOverridesID, spec.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.InstanceID, "instance", "", "Instance id")
	cmd.Flags().BoolVar(&opts.Apply, "apply", false, "Write the changes instead of previewing")
	return cmd
}
