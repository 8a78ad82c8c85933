package cmd

import (
	"bytes"
	"fmt"

	"github.com/harrison/ultrasession/internal/filelock"
	"github.com/harrison/ultrasession/internal/report"
	"github.com/spf13/cobra"
)

func newReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <expdir>",
		Short: "Summarize the catalogued runs of an experiment",
		Long: `Print a Markdown table with one row per catalogued run of <expdir>, or
write it as HTML with --html. Use --index to refresh the catalog first.`,
		Args: exactArgs(1),
		RunE: runReport,
	}
	cmd.Flags().String("db", "", "Catalog database (default: <expdir>/.ultrasession/catalog.db)")
	cmd.Flags().String("html", "", "Write an HTML report to this file")
	cmd.Flags().Bool("index", false, "Index the experiment before reporting")
	return cmd
}

func runReport(cmd *cobra.Command, args []string) error {
	_, store, ix, err := catalogForArgs(cmd, args[0])
	if err != nil {
		return err
	}
	defer store.Close()

	if refresh, _ := cmd.Flags().GetBool("index"); refresh {
		if _, err := ix.IndexTree(cmd.Context()); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
		}
	}

	records, err := store.Runs(cmd.Context(), ix.ExpDir())
	if err != nil {
		return err
	}
	rep := report.New(ix.ExpDir(), records)

	htmlPath, _ := cmd.Flags().GetString("html")
	if htmlPath == "" {
		return rep.WriteMarkdown(cmd.OutOrStdout())
	}

	var buf bytes.Buffer
	if err := rep.WriteHTML(&buf); err != nil {
		return err
	}
	if err := filelock.AtomicWrite(htmlPath, buf.Bytes()); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote report for %d runs to %s\n", len(records), htmlPath)
	return nil
}
