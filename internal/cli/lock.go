package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"packlink/internal/app"
)

func newLockCommand() *cobra.Command {
	var instanceID string
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Print the lockfile of an instance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := requireFlag(instanceID, "instance"); err != nil {
				return err
			}
			return withService(func(service app.Service) error {
				lock, err := service.Instances.ReadLockfile(cmd.Context(), instanceID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if asJSON {
					return printJSON(out, lock)
				}
				for _, entry := range lock.Entries {
					state := "enabled"
					if !entry.Enabled {
						state = "disabled"
					}
					fmt.Fprintf(out, "%s\t%s\t%s\t%s\n", entry.Key(), entry.VersionNumber, entry.Filename, state)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&instanceID, "instance", "", "Instance id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the lockfile as JSON")
	return cmd
}
