package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/franz/edition-janitor/internal/session"
	"github.com/franz/edition-janitor/internal/store"
	"github.com/franz/edition-janitor/internal/util"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var scanCmd = &cobra.Command{
	Use:   "scan [root...]",
	Short: "Scan library roots, group editions and rank them",
	Long: `Scan the library roots for album folders, group editions of the same album,
rank each group by quality and record the result.

Roots come from the arguments or library.roots. With --auto-move the losers
of every resolved group are moved to the dupes root at the end of the run;
otherwise use 'edj dedupe'.

Ctrl-C stops the run. Albums scanned so far are cached and the next scan
skips them.`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().String("dupes-root", "", "destination for moved editions")
	scanCmd.Flags().IntP("threads", "t", 0, "albums scanned in parallel")
	scanCmd.Flags().Bool("auto-move", false, "move losers once the run completes")

	viper.BindPFlag("library.dupes_root", scanCmd.Flags().Lookup("dupes-root"))
	viper.BindPFlag("scan.threads", scanCmd.Flags().Lookup("threads"))
	viper.BindPFlag("scan.auto_move", scanCmd.Flags().Lookup("auto-move"))
}

func runScan(cmd *cobra.Command, args []string) error {
	a, err := openApp(args...)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.scanConfig(args)
	if len(cfg.Roots) == 0 {
		return fmt.Errorf("no library roots (pass them as arguments or set library.roots)")
	}
	for _, root := range cfg.Roots {
		if _, err := os.Stat(root); err != nil {
			return fmt.Errorf("library root %s: %w", root, err)
		}
	}
	if cfg.AutoMove && cfg.DupesRoot == "" {
		return fmt.Errorf("--auto-move needs a dupes root (--dupes-root or library.dupes_root)")
	}

	util.InfoLog("=== Scan ===")
	for _, root := range cfg.Roots {
		util.InfoLog("Root: %s", root)
	}
	util.InfoLog("Threads: %d", cfg.Concurrency)
	if a.logger.Path() != "" {
		util.InfoLog("Event log: %s", a.logger.Path())
	}

	start := time.Now()
	sess, err := a.svc.StartScan(context.Background(), cfg)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	waitWithProgress(sess, sigCh)

	p := sess.Snapshot()
	elapsed := time.Since(start).Round(time.Millisecond)
	switch p.State {
	case store.RunCompleted:
		util.SuccessLog("Scan %s completed in %v", shortID(p.ScanID), elapsed)
	case store.RunStopped:
		util.WarnLog("Scan %s stopped after %v with %.0f%% of albums scanned", shortID(p.ScanID), elapsed, p.Percent())
	default:
		util.ErrorLog("Scan %s %s: %s", shortID(p.ScanID), p.State, p.LastError)
	}

	fmt.Println(renderTable(
		[]string{"Albums", "Cached", "Errors", "Groups", "Moved", "Space Saved", "AI Failed", "AI Recovered"},
		[][]string{{
			humanize.Comma(int64(p.AlbumsScanned)),
			humanize.Comma(int64(p.AlbumsCached)),
			humanize.Comma(int64(p.ScanErrors)),
			humanize.Comma(int64(p.GroupsFound)),
			humanize.Comma(int64(p.AlbumsMoved)),
			formatMB(p.SpaceSavedMB),
			humanize.Comma(int64(p.AIFailed)),
			humanize.Comma(int64(p.AIRecovered)),
		}},
		[]columnAlignment{alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
	))

	if p.State == store.RunFailed {
		return fmt.Errorf("scan failed: %s", p.LastError)
	}
	if p.GroupsFound > 0 && !cfg.AutoMove {
		util.InfoLog("Next step: edj groups, then edj dedupe --all")
	}
	return nil
}

// waitWithProgress draws a progress bar until the session ends. The first
// signal stops the session; the bar keeps going until it has wound down.
func waitWithProgress(sess *session.Session, sigCh <-chan os.Signal) {
	var bar *progressbar.ProgressBar
	if util.IsTerminal(os.Stdout) && !util.IsQuiet() {
		bar = progressbar.NewOptions(-1,
			progressbar.OptionSetDescription("Discovering"),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetItsString("albums"),
			progressbar.OptionShowIts(),
			progressbar.OptionThrottle(200*time.Millisecond),
			progressbar.OptionClearOnFinish(),
			progressbar.OptionSetRenderBlankState(true),
		)
		defer bar.Finish()
	}

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	sized := false
	for {
		select {
		case <-sess.Done():
			return
		case <-sigCh:
			util.WarnLog("Stopping scan...")
			if err := sess.Stop(); err != nil {
				util.DebugLog("Stop: %v", err)
			}
		case <-ticker.C:
			if bar == nil {
				continue
			}
			p := sess.Snapshot()
			if !sized && p.AlbumsTotal > 0 {
				bar.ChangeMax(p.AlbumsTotal)
				sized = true
			}
			bar.Describe(string(p.Phase))
			bar.Set(p.AlbumsScanned)
		}
	}
}
