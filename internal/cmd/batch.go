package cmd

import (
	"errors"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/panelsim/panelsim/internal/archive"
	"github.com/panelsim/panelsim/internal/observability"
	"github.com/panelsim/panelsim/internal/output"
)

var (
	batchFormat string
	batchLimit  int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Inspect archived bulk runs",
}

var batchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent bulk runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(batchFormat)
		if err != nil {
			return err
		}
		arc := openArchive(cmd)
		defer func() { _ = arc.Close() }()

		batches, err := arc.RecentBatches(cmd.Context(), batchLimit)
		if err != nil {
			return err
		}
		rendered, err := output.Batches(format, batches)
		if err != nil {
			return err
		}
		fmt.Println(rendered)
		return nil
	},
}

var batchShowCmd = &cobra.Command{
	Use:   "show <batch-id>",
	Short: "Replay the archived answers of a bulk run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(batchFormat)
		if err != nil {
			return err
		}
		arc := openArchive(cmd)
		defer func() { _ = arc.Close() }()

		batch, err := arc.Batch(cmd.Context(), args[0])
		if errors.Is(err, archive.ErrNotFound) {
			return fmt.Errorf("batch %s not found", args[0])
		}
		if err != nil {
			return err
		}
		outcomes, err := arc.Outcomes(cmd.Context(), batch.ID)
		if err != nil {
			return err
		}
		rendered, err := output.Batch(format, *batch, outcomes)
		if err != nil {
			return err
		}
		fmt.Println(rendered)
		return nil
	},
}

func openArchive(cmd *cobra.Command) *archive.Archive {
	cfg := loadConfig()
	arc, err := archive.Open(cmd.Context(), cfg.Store)
	if err != nil {
		ExitWithCode(observability.CLILogger, foundry.ExitFileNotFound, "Failed to open batch archive", err)
	}
	return arc
}

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.AddCommand(batchListCmd, batchShowCmd)

	batchCmd.PersistentFlags().StringVarP(&batchFormat, "format", "f", "table", "output format: table, markdown or json")
	batchListCmd.Flags().IntVarP(&batchLimit, "limit", "n", 20, "number of batches to list")
}
