package main

import (
	"github.com/franz/edition-janitor/internal/util"
	"github.com/spf13/cobra"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Settle moves an interrupted run left half done",
	Long: `Check every move still marked pending. A move whose files reached the
destination is committed; one that never left its source is discarded.
Scan runs a crashed process left running or paused are marked failed.
Nothing is touched while a scan holds the session lock.

Every command does this on startup; this command lists what it settled.`,
	Args: cobra.NoArgs,
	RunE: runRecover,
}

func init() {
	rootCmd.AddCommand(recoverCmd)
}

func runRecover(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res := a.recovered
	if res == nil {
		util.WarnLog("Scan in progress; its pending moves are left alone")
		return nil
	}
	for _, id := range res.Committed {
		util.InfoLog("Committed %s", id)
	}
	for _, id := range res.Discarded {
		util.InfoLog("Discarded %s", id)
	}
	if res.InterruptedRuns > 0 {
		util.InfoLog("Failed %d interrupted scan run(s)", res.InterruptedRuns)
	}
	if len(res.Committed)+len(res.Discarded) == 0 {
		util.SuccessLog("No pending moves")
	}
	return nil
}
