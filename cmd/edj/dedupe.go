package main

import (
	"fmt"

	"github.com/franz/edition-janitor/internal/execute"
	"github.com/franz/edition-janitor/internal/util"
	"github.com/spf13/cobra"
)

var dedupeCmd = &cobra.Command{
	Use:   "dedupe [GROUP_KEY]",
	Short: "Move the losing editions of a group to the dupes root",
	Long: `Move every edition except the kept one to the dupes root.

Pass a group key for one group or --all for every resolved group of a scan.
Groups flagged for manual review are skipped until 'edj choose' resolves them.
Every move is recorded and can be undone with 'edj restore'.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDedupe,
}

var dryRunCmd = &cobra.Command{
	Use:   "dry-run GROUP_KEY",
	Short: "Show where dedupe would move a group's editions",
	Args:  cobra.ExactArgs(1),
	RunE:  runDryRun,
}

func init() {
	rootCmd.AddCommand(dedupeCmd)
	rootCmd.AddCommand(dryRunCmd)

	dedupeCmd.Flags().Bool("all", false, "dedupe every resolved group of the scan")
	dedupeCmd.Flags().String("scan", "", "scan id for --all (default latest)")
}

func runDedupe(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	scanID, _ := cmd.Flags().GetString("scan")
	if all == (len(args) == 1) {
		return fmt.Errorf("pass either a group key or --all")
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var res *execute.Result
	if all {
		res, err = a.svc.DedupeAll(cmd.Context(), scanID)
	} else {
		res, err = a.svc.DedupeGroup(cmd.Context(), args[0])
	}
	if err != nil {
		return err
	}

	printOutcomes(res)
	util.InfoLog("Moved: %d, skipped: %d, failed: %d, space saved: %s",
		res.Moved, res.Skipped, res.Failed, formatMB(res.SizeMB))
	if res.Failed > 0 {
		return fmt.Errorf("%d moves failed", res.Failed)
	}
	return nil
}

func runDryRun(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.svc.DryRun(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printOutcomes(res)
	util.InfoLog("%d editions would move", res.Planned)
	return nil
}

func printOutcomes(res *execute.Result) {
	if len(res.Outcomes) == 0 {
		return
	}
	rows := make([][]string, 0, len(res.Outcomes))
	for _, o := range res.Outcomes {
		detail := o.MoveID
		if o.Err != nil {
			detail = o.Err.Error()
		}
		rows = append(rows, []string{o.Status, o.Item.Reason, o.Item.Source, o.Item.Dest, detail})
	}
	fmt.Println(renderTable([]string{"Status", "Reason", "From", "To", "Move"}, rows, nil))
}
