package main

import (
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import events into a group",
}

var importCSVCmd = &cobra.Command{
	Use:   "csv FILE",
	Short: "Import events from a CSV file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		groupID, _ := cmd.Flags().GetString("group")
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx := commandContext(cmd)
		run, err := app.Service.ImportCSVFile(ctx, groupID, args[0])
		if err != nil {
			return rejection(cmd.ErrOrStderr(), err)
		}
		return report(ctx, cmd.OutOrStdout(), app.Service, run)
	},
}

var importICalCmd = &cobra.Command{
	Use:   "ical URL",
	Short: "Import events from an iCalendar feed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		groupID, _ := cmd.Flags().GetString("group")
		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx := commandContext(cmd)
		run, err := app.Service.ImportICal(ctx, groupID, args[0])
		if err != nil {
			return rejection(cmd.ErrOrStderr(), err)
		}
		return report(ctx, cmd.OutOrStdout(), app.Service, run)
	},
}

func init() {
	importCmd.PersistentFlags().StringP("group", "g", "", "Group to import into")
	_ = importCmd.MarkPersistentFlagRequired("group")

	importCmd.AddCommand(importCSVCmd)
	importCmd.AddCommand(importICalCmd)
	rootCmd.AddCommand(importCmd)
}
