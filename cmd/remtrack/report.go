package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/remtrack/remtrack/internal/database"
	"github.com/remtrack/remtrack/internal/reporter"
)

func newReportCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:       "report [period]",
		Short:     "Show per-server connection time for a period",
		Long:      "Show per-server connection time aggregated from recorded session events.\nPeriod is one of: day, week, month (default: day).",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"day", "week", "month"},
		RunE: func(cmd *cobra.Command, args []string) error {
			period := "day"
			if len(args) > 0 {
				period = args[0]
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			db, err := database.Connect(cfg.Database.Path)
			if err != nil {
				return fmt.Errorf("failed to open report database: %w", err)
			}
			defer db.Close()
			if err := db.Initialize(); err != nil {
				return fmt.Errorf("failed to initialize report database: %w", err)
			}

			rep := reporter.New(database.NewRepository(db))
			report, err := rep.GenerateReport(period)
			if err != nil {
				return err
			}

			if jsonOutput {
				out, err := rep.FormatReportJSON(report)
				if err != nil {
					return err
				}
				fmt.Println(out)
				return nil
			}

			fmt.Print(rep.FormatReportText(report))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output report as JSON")
	return cmd
}
