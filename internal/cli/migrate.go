package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// openSession migrates as part of opening the backend.
			rt, err := openSession(cmd.Context(), rootOpts)
			if err != nil {
				return err
			}
			defer rt.Close()

			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", rt.backend.Name())
			return nil
		},
	}
}
