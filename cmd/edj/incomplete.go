package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/franz/edition-janitor/internal/incomplete"
	"github.com/franz/edition-janitor/internal/util"
	"github.com/spf13/cobra"
)

var incompleteCmd = &cobra.Command{
	Use:   "incomplete",
	Short: "Work with editions that are missing tracks",
}

var incompleteListCmd = &cobra.Command{
	Use:   "list [SCAN_ID]",
	Short: "List incomplete editions found by a scan",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIncompleteList,
}

var incompleteMoveCmd = &cobra.Command{
	Use:   "move [SCAN_ID]",
	Short: "Move incomplete editions to the quarantine root",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIncompleteMove,
}

var incompleteExportCmd = &cobra.Command{
	Use:   "export [SCAN_ID]",
	Short: "Export incomplete editions as JSON or CSV",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIncompleteExport,
}

func init() {
	rootCmd.AddCommand(incompleteCmd)
	incompleteCmd.AddCommand(incompleteListCmd)
	incompleteCmd.AddCommand(incompleteMoveCmd)
	incompleteCmd.AddCommand(incompleteExportCmd)

	incompleteMoveCmd.Flags().Int64Slice("ids", nil, "album ids to move (from 'edj incomplete list')")
	incompleteMoveCmd.MarkFlagRequired("ids")
	incompleteExportCmd.Flags().String("format", incomplete.FormatJSON, "json or csv")
	incompleteExportCmd.Flags().StringP("out", "o", "", "output file (default stdout)")
}

func runIncompleteList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	items, err := a.svc.GetIncompleteAlbums(scanArg(args))
	if err != nil {
		return err
	}
	if len(items) == 0 {
		util.InfoLog("No incomplete editions")
		return nil
	}

	rows := make([][]string, 0, len(items))
	for _, it := range items {
		moved := ""
		if it.Moved {
			moved = "moved"
		}
		rows = append(rows, []string{
			strconv.FormatInt(it.AlbumID, 10),
			it.Artist,
			it.Album,
			fmt.Sprintf("%d/%d", it.ActualTracks, it.ExpectedTracks),
			incomplete.FormatRanges(it.MissingRanges),
			it.ExpectedSource,
			moved,
		})
	}
	fmt.Println(renderTable(
		[]string{"ID", "Artist", "Album", "Tracks", "Missing", "Source", ""},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft},
	))
	return nil
}

func runIncompleteMove(cmd *cobra.Command, args []string) error {
	ids, _ := cmd.Flags().GetInt64Slice("ids")
	if len(ids) == 0 {
		return fmt.Errorf("no album ids given")
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.svc.MoveIncompleteAlbums(cmd.Context(), scanArg(args), ids)
	if err != nil {
		return err
	}
	printOutcomes(res)
	util.InfoLog("Quarantined: %d, skipped: %d, failed: %d", res.Moved, res.Skipped, res.Failed)
	if res.Failed > 0 {
		return fmt.Errorf("%d moves failed", res.Failed)
	}
	return nil
}

func runIncompleteExport(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	outPath, _ := cmd.Flags().GetString("out")
	if format != incomplete.FormatJSON && format != incomplete.FormatCSV {
		return fmt.Errorf("unknown format %q (json or csv)", format)
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var w io.Writer = os.Stdout
	if outPath != "" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", outPath, err)
		}
		defer f.Close()
		w = f
	}
	if err := a.svc.ExportIncomplete(w, scanArg(args), format); err != nil {
		return err
	}
	if outPath != "" {
		util.SuccessLog("Wrote %s", outPath)
	}
	return nil
}
