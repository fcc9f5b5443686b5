package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/activism/internal/exporter"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a group's events",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		groupID, _ := cmd.Flags().GetString("group")
		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")
		fromFlag, _ := cmd.Flags().GetString("from")
		toFlag, _ := cmd.Flags().GetString("to")

		if format != "csv" && format != "xlsx" {
			return fmt.Errorf("unknown format %q, want csv or xlsx", format)
		}
		from, err := parseDate(fromFlag)
		if err != nil {
			return err
		}
		to, err := parseDate(toFlag)
		if err != nil {
			return err
		}

		app, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close()

		var opts []exporter.Option
		if !from.IsZero() || !to.IsZero() {
			if !to.IsZero() {
				to = to.AddDate(0, 0, 1).Add(-1)
			}
			opts = append(opts, exporter.WithWindow(from, to))
		}
		doc, err := app.Service.Export(commandContext(cmd), groupID, opts...)
		if err != nil {
			return err
		}

		var w io.Writer = cmd.OutOrStdout()
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		if format == "xlsx" {
			if output == "" {
				return fmt.Errorf("xlsx output needs --output")
			}
			return doc.WriteXLSX(w)
		}
		return doc.WriteCSV(w)
	},
}

func init() {
	exportCmd.Flags().StringP("group", "g", "", "Group to export")
	exportCmd.Flags().StringP("format", "f", "csv", "Output format: csv or xlsx")
	exportCmd.Flags().StringP("output", "o", "", "Output file (default stdout)")
	exportCmd.Flags().String("from", "", "Only events starting on or after this date (YYYY-MM-DD)")
	exportCmd.Flags().String("to", "", "Only events starting on or before this date (YYYY-MM-DD)")
	_ = exportCmd.MarkFlagRequired("group")
	rootCmd.AddCommand(exportCmd)
}
