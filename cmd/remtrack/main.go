package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	commit  = "unknown"
	date    = "unknown"
)

var (
	flagConfig        string
	flagCSVPath       string
	flagIdleThreshold int
	flagNoIdle        bool
	flagLogLevel      string
	flagLogFile       string
)

func main() {
	root := &cobra.Command{
		Use:          "remtrack",
		Short:        "Remmina session time tracker with idle auto-disconnect",
		Long:         "remtrack watches for RDP/SSH sessions opened through Remmina, logs session start and end times to CSV, and automatically disconnects sessions after a configurable inactivity period.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&flagCSVPath, "csv-path", "", "path to the CSV session log")
	root.PersistentFlags().IntVar(&flagIdleThreshold, "idle-threshold", 0, "idle threshold in minutes before auto-disconnect")
	root.PersistentFlags().BoolVar(&flagNoIdle, "no-idle", false, "disable idle detection and auto-disconnect (tracking only)")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "daemon log destination (default from config)")

	root.AddCommand(
		newStartCmd(),
		newRunCmd(),
		newStopCmd(),
		newStatusCmd(),
		newReportCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("remtrack version %s\n", version)
			fmt.Printf("  commit: %s\n", commit)
			fmt.Printf("  built:  %s\n", date)
		},
	}
}
