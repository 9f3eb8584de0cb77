package commands

import (
	"fmt"

	"github.com/DrSkyle/codevet/pkg/artifact"
	"github.com/DrSkyle/codevet/pkg/engine/history"
	"github.com/DrSkyle/codevet/pkg/engine/report"
	"github.com/spf13/cobra"
)

var (
	historyLimit  int
	historyExport string
	historyRepo   string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past ingestion runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ledger, err := history.Open(cmd.Context(), cfg.HistoryURL)
		if err != nil {
			return err
		}
		defer ledger.Close()

		var runs []artifact.IngestionProgress
		if historyRepo != "" {
			runs, err = history.ForRepository(cmd.Context(), ledger, historyRepo, historyLimit)
		} else {
			runs, err = ledger.Load(cmd.Context(), historyLimit)
		}
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), renderHistory(runs))

		if historyExport != "" {
			if err := report.GenerateFile(historyExport, runs); err != nil {
				return fmt.Errorf("export history: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", historyExport)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of most recent runs to show (0 for all)")
	historyCmd.Flags().StringVar(&historyRepo, "repo", "", "Only show runs of this owner/name repository")
	historyCmd.Flags().StringVar(&historyExport, "export", "", "Also write the runs to a .csv, .json or .html file")
}
