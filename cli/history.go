package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/checkerls/checkerls/server/logger"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Lists the recorded checks. The results can be exported to an excel file.",
	RunE: func(cmd *cobra.Command, args []string) error {
		history, err := logger.NewHistory()
		if err != nil {
			return err
		}
		defer history.Close()

		file, _ := cmd.Flags().GetString("file")
		limit, _ := cmd.Flags().GetUint64("limit")
		showSummary, _ := cmd.Flags().GetBool("summary")
		exportPath, _ := cmd.Flags().GetString("export")

		it, err := history.Checks(logger.CheckFilter{File: file, Limit: limit})
		if err != nil {
			return err
		}

		checks, err := it.List()
		if err != nil {
			return err
		}

		summary, err := history.Summary()
		if err != nil {
			return err
		}

		if len(exportPath) != 0 {
			workers, err := history.Workers()
			if err != nil {
				return err
			}

			if err := exportHistory(exportPath, checks, summary, workers); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "saved %d checks to %s\n", len(checks), exportPath)
			return nil
		}

		if showSummary {
			return printSummary(cmd.OutOrStdout(), summary)
		}
		return printChecks(cmd.OutOrStdout(), checks)
	},
}

var historyResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Deletes every recorded check and worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		history, err := logger.NewHistory()
		if err != nil {
			return err
		}
		defer history.Close()

		if err := history.Reset(); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), "ok")
		return nil
	},
}

func formatTime(t logger.NullTime) string {
	if !t.Valid {
		return "-"
	}
	return t.Time.Local().Format(time.DateTime)
}

func printChecks(w io.Writer, checks []logger.CheckEntry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tKIND\tFILE\tDIAGNOSTICS\tNOTES")

	for _, c := range checks {
		createdAt := logger.NullTime{}
		if c.CreatedAt != nil {
			createdAt = *c.CreatedAt
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", formatTime(createdAt), c.Kind, c.File, c.Diagnostics, c.Notes)
	}
	return tw.Flush()
}

func printSummary(w io.Writer, summary []logger.FileSummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tCHECKS\tDIAGNOSTICS\tNOTES")

	for _, s := range summary {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\n", s.File, s.Checks, s.Diagnostics, s.Notes)
	}
	return tw.Flush()
}

func exportHistory(path string, checks []logger.CheckEntry, summary []logger.FileSummary, workers []logger.WorkerEntry) error {
	wb := xlsx.NewFile()

	sheet, err := wb.AddSheet("Checks")
	if err != nil {
		return err
	}

	// write the header
	row := sheet.AddRow()
	row.AddCell().SetValue("Time")
	row.AddCell().SetValue("Kind")
	row.AddCell().SetValue("File")
	row.AddCell().SetValue("Diagnostics")
	row.AddCell().SetValue("Notes")
	row.AddCell().SetValue("Worker")

	for _, c := range checks {
		createdAt := logger.NullTime{}
		if c.CreatedAt != nil {
			createdAt = *c.CreatedAt
		}

		row = sheet.AddRow()
		row.AddCell().SetValue(formatTime(createdAt))
		row.AddCell().SetValue(c.Kind)
		row.AddCell().SetValue(c.File)
		row.AddCell().SetValue(c.Diagnostics)
		row.AddCell().SetValue(c.Notes)
		row.AddCell().SetValue(c.WorkerID)
	}

	if sheet, err = wb.AddSheet("Summary"); err != nil {
		return err
	}

	row = sheet.AddRow()
	row.AddCell().SetValue("File")
	row.AddCell().SetValue("Checks")
	row.AddCell().SetValue("Diagnostics")
	row.AddCell().SetValue("Notes")

	for _, s := range summary {
		row = sheet.AddRow()
		row.AddCell().SetValue(s.File)
		row.AddCell().SetValue(s.Checks)
		row.AddCell().SetValue(s.Diagnostics)
		row.AddCell().SetValue(s.Notes)
	}

	if sheet, err = wb.AddSheet("Workers"); err != nil {
		return err
	}

	row = sheet.AddRow()
	row.AddCell().SetValue("ID")
	row.AddCell().SetValue("Command")
	row.AddCell().SetValue("Started")
	row.AddCell().SetValue("Stopped")
	row.AddCell().SetValue("Exit Reason")

	for _, w := range workers {
		row = sheet.AddRow()
		row.AddCell().SetValue(w.ID)
		row.AddCell().SetValue(w.Command)
		row.AddCell().SetValue(formatTime(w.StartedAt))
		row.AddCell().SetValue(formatTime(w.StoppedAt))
		row.AddCell().SetValue(w.ExitReason)
	}

	return wb.Save(path)
}

func init() {
	historyCmd.Flags().String("file", "", "only list checks of this file")
	historyCmd.Flags().Uint64("limit", 0, "maximum number of checks to list")
	historyCmd.Flags().Bool("summary", false, "list the totals per file instead of single checks")
	historyCmd.Flags().String("export", "", "save the checks, totals and workers to this xlsx file")
	historyCmd.AddCommand(historyResetCmd)
}
