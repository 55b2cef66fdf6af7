package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/punchamoorthee/bitbeam/internal/domain"
	"github.com/punchamoorthee/bitbeam/internal/service"
)

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	Count  int
	Status string
}

func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert synthetic beams",
		Long: `Insert synthetic beams through the ledger, each walked to the requested status.

Example:
  bitbeam seed --count 500
  bitbeam seed --count 20 --status completed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Count < 1 {
				return NewExitError(ExitCommandError, "--count must be positive")
			}
			status, err := domain.ParseStatus(opts.Status)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --status", err)
			}

			rt, err := openSession(cmd.Context(), opts.RootOptions)
			if err != nil {
				return err
			}
			defer rt.Close()

			ledger := service.NewLedger(rt.backend, service.WithLogger(rt.logger))
			recs, err := service.Seed(cmd.Context(), ledger, opts.Count, status)
			if err != nil {
				return WrapExitError(ExitFailure, fmt.Sprintf("seeding stopped after %d beams", len(recs)), err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d %s beams\n", len(recs), status)
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.Count, "count", "n", 100, "number of beams to insert")
	cmd.Flags().StringVar(&opts.Status, "status", string(domain.StatusSubmitted), "status to leave the beams in")

	return cmd
}
