package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/franz/edition-janitor/internal/execute"
	"github.com/franz/edition-janitor/internal/service"
	"github.com/franz/edition-janitor/internal/util"
	"github.com/spf13/cobra"
)

var groupsCmd = &cobra.Command{
	Use:   "groups",
	Short: "List duplicate groups of a scan",
	Long: `List the groups with two or more editions found by a scan (the latest by
default). Groups marked "manual" need 'edj choose' before they can be deduped.`,
	Args: cobra.NoArgs,
	RunE: runGroups,
}

var showCmd = &cobra.Command{
	Use:   "show GROUP_KEY",
	Short: "Show every edition and track of a group",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

var chooseCmd = &cobra.Command{
	Use:   "choose GROUP_KEY EDITION_INDEX",
	Short: "Pick the edition to keep in a group",
	Long: `Pick the edition to keep by its index in 'edj show'. This resolves groups
flagged for manual review so they can be deduped.`,
	Args: cobra.ExactArgs(2),
	RunE: runChoose,
}

var mergeCmd = &cobra.Command{
	Use:   "merge-bonus GROUP_KEY EDITION_INDEX TRACK_PATH TARGET_INDEX",
	Short: "Move a bonus track from one edition into another",
	Args:  cobra.ExactArgs(4),
	RunE:  runMerge,
}

func init() {
	rootCmd.AddCommand(groupsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(chooseCmd)
	rootCmd.AddCommand(mergeCmd)

	groupsCmd.Flags().String("scan", "", "scan id (default latest)")
}

func groupStatus(v *service.GroupView) string {
	if v.NoMove {
		return "manual (" + v.NoMoveReason + ")"
	}
	return v.Status
}

func runGroups(cmd *cobra.Command, args []string) error {
	scanID, _ := cmd.Flags().GetString("scan")

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	views, err := a.svc.ListDuplicateGroups(scanID)
	if err != nil {
		return err
	}
	if len(views) == 0 {
		util.InfoLog("No duplicate groups")
		return nil
	}

	rows := make([][]string, 0, len(views))
	for _, v := range views {
		keep := "-"
		if i := v.KeptIndex(); i >= 0 && i < len(v.Editions) {
			e := v.Editions[i]
			keep = formatQuality(e.Format, e.BitDepth, e.SampleRate, e.BitrateKbps)
		}
		rows = append(rows, []string{
			v.GroupKey,
			v.Artist,
			v.Title,
			strconv.Itoa(len(v.Editions)),
			keep,
			fmt.Sprintf("%.1f", v.Margin),
			groupStatus(v),
		})
	}
	fmt.Println(renderTable(
		[]string{"Group", "Artist", "Album", "Editions", "Keep", "Margin", "Status"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft},
	))
	util.InfoLog("%s groups", humanize.Comma(int64(len(views))))
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	v, err := a.svc.GetEditionDetails(args[0])
	if err != nil {
		return err
	}
	printGroup(v)
	return nil
}

func printGroup(v *service.GroupView) {
	fmt.Printf("%s - %s [%s]\n", v.Artist, v.Title, groupStatus(v))
	if v.AIRationale != "" {
		fmt.Printf("Tie-break: %s\n", v.AIRationale)
	}

	rows := make([][]string, 0, len(v.Editions))
	kept := v.KeptIndex()
	for i, e := range v.Editions {
		mark := ""
		switch {
		case i == kept:
			mark = "keep"
		case e.Moved:
			mark = "moved"
		}
		score := ""
		if i < len(v.Scores) {
			score = fmt.Sprintf("%.1f", v.Scores[i])
		}
		rows = append(rows, []string{
			strconv.Itoa(i),
			mark,
			formatQuality(e.Format, e.BitDepth, e.SampleRate, e.BitrateKbps),
			strconv.Itoa(len(e.Tracks)),
			formatMB(e.SizeMB()),
			score,
			e.Path,
		})
	}
	fmt.Println(renderTable(
		[]string{"#", "", "Quality", "Tracks", "Size", "Score", "Path"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
	))

	if len(v.MergeList) > 0 {
		fmt.Println("Bonus tracks in other editions:")
		for _, p := range v.MergeList {
			fmt.Printf("  %s\n", p)
		}
	}
	if util.IsVerbose() {
		for i, e := range v.Editions {
			fmt.Printf("\n[%d] %s\n", i, e.Path)
			for _, t := range e.Tracks {
				bonus := ""
				if t.IsBonus {
					bonus = " (bonus)"
				}
				fmt.Printf("  %02d %s%s\n", t.Index, t.Title, bonus)
			}
		}
	}
}

func parseIndex(arg, name string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", name, arg)
	}
	return n, nil
}

func runChoose(cmd *cobra.Command, args []string) error {
	idx, err := parseIndex(args[1], "EDITION_INDEX")
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	v, err := a.svc.ChooseEdition(args[0], idx)
	if err != nil {
		return err
	}
	util.SuccessLog("Keeping %s", v.Editions[v.KeptIndex()].Path)
	util.InfoLog("Run 'edj dedupe %s' to move the others", v.GroupKey)
	return nil
}

func runMerge(cmd *cobra.Command, args []string) error {
	from, err := parseIndex(args[1], "EDITION_INDEX")
	if err != nil {
		return err
	}
	to, err := parseIndex(args[3], "TARGET_INDEX")
	if err != nil {
		return err
	}

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	o, err := a.svc.MoveBonusTrack(cmd.Context(), args[0], from, args[2], to)
	if err != nil {
		return err
	}
	if o.Status == execute.StatusMoved {
		util.SuccessLog("Moved %s -> %s (move %s)", o.Item.Source, o.Item.Dest, o.MoveID)
	} else {
		util.InfoLog("Track %s: %s", o.Item.Source, o.Status)
	}
	return nil
}
