package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/franz/edition-janitor/internal/util"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past scan runs",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var movesCmd = &cobra.Command{
	Use:   "moves [SCAN_ID]",
	Short: "List the moves recorded for a scan",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMoves,
}

var restoreCmd = &cobra.Command{
	Use:   "restore SCAN_ID",
	Short: "Move recorded moves back to where they came from",
	Long: `Restore moves of a scan to their original paths. Pick moves with --move
(repeatable) or restore every move of the scan with --all. A restore never
overwrites: if the original path is occupied the move is reported as a
conflict and left alone.`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(movesCmd)
	rootCmd.AddCommand(restoreCmd)

	restoreCmd.Flags().StringSlice("move", nil, "move id to restore")
	restoreCmd.Flags().Bool("all", false, "restore every move of the scan")
}

// scanArg maps "latest" and a missing argument to the latest run
func scanArg(args []string) string {
	if len(args) == 0 || args[0] == "latest" {
		return ""
	}
	return args[0]
}

func runHistory(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	runs, err := a.svc.GetScanHistory()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		util.InfoLog("No scans yet")
		return nil
	}

	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		took := "-"
		if !r.EndedAt.IsZero() {
			took = r.EndedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		rows = append(rows, []string{
			r.ScanID,
			r.Status,
			humanize.Time(r.StartedAt),
			took,
			humanize.Comma(int64(r.AlbumsScanned)),
			humanize.Comma(int64(r.GroupsFound)),
			humanize.Comma(int64(r.AlbumsMoved)),
			formatMB(r.SpaceSavedMB),
		})
	}
	fmt.Println(renderTable(
		[]string{"Scan", "Status", "Started", "Took", "Albums", "Groups", "Moved", "Saved"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
	))
	return nil
}

func runMoves(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	moves, err := a.svc.GetScanMoves(scanArg(args))
	if err != nil {
		return err
	}
	if len(moves) == 0 {
		util.InfoLog("No moves")
		return nil
	}

	rows := make([][]string, 0, len(moves))
	for _, m := range moves {
		status := m.Status
		if m.Restored {
			status = "restored"
		}
		rows = append(rows, []string{m.MoveID, m.Reason, status, formatMB(m.SizeMB), m.OriginalPath, m.MovedToPath})
	}
	fmt.Println(renderTable(
		[]string{"Move", "Reason", "Status", "Size", "From", "To"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	))
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	ids, _ := cmd.Flags().GetStringSlice("move")
	all, _ := cmd.Flags().GetBool("all")

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.svc.RestoreMoves(cmd.Context(), scanArg(args), ids, all)
	if err != nil {
		return err
	}
	for _, id := range res.Restored {
		util.SuccessLog("Restored %s", id)
	}
	for _, id := range res.AlreadyRestored {
		util.InfoLog("Already restored %s", id)
	}
	for _, c := range res.Conflicts {
		util.WarnLog("Conflict on %s at %s: %s", c.MoveID, c.Path, c.Reason)
	}
	if len(res.Conflicts) > 0 {
		return fmt.Errorf("%d moves could not be restored", len(res.Conflicts))
	}
	return nil
}
