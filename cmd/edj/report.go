package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/franz/edition-janitor/internal/report"
	"github.com/franz/edition-janitor/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var reportCmd = &cobra.Command{
	Use:   "report [SCAN_ID]",
	Short: "Write a Markdown summary of a scan",
	Long: `Write a Markdown summary of a scan (the latest by default): run counters,
duplicate groups with their kept edition, moves and the most common errors.

The report is saved to <artifacts-dir>/reports/<timestamp>/summary.md`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().String("out", "", "output directory (default <artifacts-dir>/reports/<timestamp>)")
	reportCmd.Flags().Bool("stdout", false, "print the report instead of writing it")
}

func runReport(cmd *cobra.Command, args []string) error {
	outDir, _ := cmd.Flags().GetString("out")
	toStdout, _ := cmd.Flags().GetBool("stdout")

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.svc.Summary(scanArg(args))
	if err != nil {
		return fmt.Errorf("failed to build summary: %w", err)
	}
	if toStdout {
		fmt.Print(summary.Markdown())
		return nil
	}

	if outDir == "" {
		outDir = filepath.Join(viper.GetString("artifacts_dir"), "reports", time.Now().Format("20060102-150405"))
	}
	outPath := filepath.Join(outDir, "summary.md")
	if err := report.WriteMarkdownReport(summary, outPath); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	util.SuccessLog("Report written to %s", outPath)
	return nil
}
