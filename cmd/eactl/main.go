// Command eactl imports and exports events from the command line. Batch runs
// execute in this process.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/activism/internal/service"
)

var rootCmd = &cobra.Command{
	Use:   "eactl",
	Short: "Import and export group events.",
	Long: `eactl imports events into a group from a CSV file or an iCalendar feed,
and exports a group's events as CSV or XLSX.

Configuration is read from the environment and an optional .env file,
the same way the server reads it.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
	},
}

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Print the CSV import header line",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), service.Template())
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("loglevel", "l", "warn", "Set log level. Available: debug, info, warn, error")
	rootCmd.AddCommand(templateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
