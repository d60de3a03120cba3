package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/canopy"
	"github.com/aretw0/canopy/internal/cli"
	"github.com/aretw0/canopy/internal/validator"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the charter for consistency",
	Long: `Loads and binds the charter, then crawls it from the entry node following
scripted moves. Dead links fail validation; unreachable nodes and
declarations without an implementation are reported as warnings.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		opts := optionsFrom(cmd)
		logger := newLogger(opts)

		src, err := cli.LoadCharter(ctx, opts, logger)
		if err != nil {
			return err
		}
		if _, err := canopy.New(src.Charter, canopy.WithLoader(src.Loader), canopy.WithLogger(logger)); err != nil {
			return err
		}

		start := opts.Start
		if start == "" {
			start = cli.EntryNode(src.Charter, opts.Charter)
		}
		report := validator.Validate(src.Charter, start, src.Scripts)

		out := cmd.OutOrStdout()
		for _, w := range report.Warnings {
			fmt.Fprintf(out, "warning: %s\n", w)
		}
		if err := report.Err(); err != nil {
			return fmt.Errorf("validation failed:\n%w", err)
		}
		fmt.Fprintf(out, "Charter %q is valid: %d nodes, entry %q ✅\n",
			src.Charter.Name(), len(src.Charter.Nodes()), start)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
