package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/franz/edition-janitor/internal/probe"
	"github.com/franz/edition-janitor/internal/scan"
	"github.com/franz/edition-janitor/internal/store"
	"github.com/franz/edition-janitor/internal/util"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks on the environment and configuration",
	Long: `Run diagnostic checks to ensure edj can operate correctly.

This command checks:
- ffprobe (optional; FLAC is probed natively and other formats fall back to the extension)
- The audio extensions a scan picks up
- Database accessibility and integrity
- Library roots are readable
- Dupes and quarantine roots are writable
- Disk space and network shares
- The AI tie-breaker key when ai.enabled is set`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type checkResult struct {
	name    string
	message string
	error   bool
	warning bool
}

func runDoctor(cmd *cobra.Command, args []string) error {
	util.InfoLog("=== edj doctor ===")
	util.InfoLog("")

	results := []checkResult{
		checkFFprobe(),
		checkExtensions(viper.GetStringSlice("scan.extensions")),
		checkDatabase(viper.GetString("db")),
	}

	roots := viper.GetStringSlice("library.roots")
	if len(roots) == 0 {
		results = append(results, checkResult{name: "Library roots", warning: true,
			message: "library.roots is not set (pass roots to 'edj scan' instead)"})
	}
	for _, root := range roots {
		results = append(results, checkLibraryRoot(root))
	}

	for _, target := range []struct{ key, label string }{
		{"library.dupes_root", "Dupes root"},
		{"library.quarantine_root", "Quarantine root"},
	} {
		path := viper.GetString(target.key)
		if path == "" {
			results = append(results, checkResult{name: target.label, warning: true,
				message: target.key + " is not set"})
			continue
		}
		results = append(results, checkWritableDirectory(target.label, path))
		results = append(results, checkDiskSpace(path, target.label))
	}

	for _, path := range append(roots, viper.GetString("library.dupes_root")) {
		if path != "" {
			results = append(results, checkMount(path))
		}
	}
	results = append(results, checkAIKey(viper.GetBool("ai.enabled"), viper.GetString("ai.api_key")))

	util.InfoLog("")
	util.InfoLog("=== Diagnostic Results ===")
	util.InfoLog("")

	hasErrors := false
	hasWarnings := false
	for _, r := range results {
		symbol := "✓"
		if r.error {
			symbol = "✗"
			hasErrors = true
		} else if r.warning {
			symbol = "⚠"
			hasWarnings = true
		}

		line := fmt.Sprintf("[%s] %s", symbol, r.name)
		if r.message != "" {
			line += fmt.Sprintf(": %s", r.message)
		}

		if r.error {
			util.ErrorLog("%s", line)
		} else if r.warning {
			util.WarnLog("%s", line)
		} else {
			util.SuccessLog("%s", line)
		}
	}

	util.InfoLog("")
	if hasErrors {
		util.ErrorLog("Some critical checks failed. Resolve them before scanning.")
		return fmt.Errorf("system diagnostics failed")
	} else if hasWarnings {
		util.WarnLog("Some checks produced warnings. Review them before proceeding.")
	} else {
		util.SuccessLog("All checks passed.")
	}
	return nil
}

// checkFFprobe reports the ffprobe version. A missing ffprobe is a warning:
// FLAC is read natively and other formats are ranked by extension alone.
func checkFFprobe() checkResult {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, "ffprobe", "-version").CombinedOutput()
	if err != nil {
		return checkResult{
			name:    "ffprobe (optional)",
			warning: true,
			message: "not found; non-FLAC editions are ranked by format only",
		}
	}

	version := "unknown"
	if lines := strings.Split(string(output), "\n"); len(lines) > 0 {
		if parts := strings.Fields(lines[0]); len(parts) >= 3 {
			version = parts[2]
		}
	}
	return checkResult{name: "ffprobe (optional)", message: fmt.Sprintf("version %s", version)}
}

// checkExtensions lists the file extensions a scan treats as audio
func checkExtensions(additional []string) checkResult {
	s := scan.New(&scan.Config{AdditionalExts: additional, Prober: probe.NewDefaultProber()})
	exts := s.SupportedExtensions()
	return checkResult{name: "Audio extensions", message: fmt.Sprintf("%d: %s", len(exts), strings.Join(exts, " "))}
}

// checkDatabase verifies the state database opens and passes an integrity check
func checkDatabase(dbPath string) checkResult {
	if dbPath == "" {
		return checkResult{name: "Database", warning: true, message: "no database path specified (use --db or config)"}
	}

	info, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return checkResult{name: "Database", message: fmt.Sprintf("%s (will be created on first run)", dbPath)}
		}
		return checkResult{name: "Database", error: true, message: fmt.Sprintf("cannot access %s: %v", dbPath, err)}
	}
	if !info.Mode().IsRegular() {
		return checkResult{name: "Database", error: true, message: fmt.Sprintf("%s is not a regular file", dbPath)}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return checkResult{name: "Database", error: true, message: fmt.Sprintf("cannot open %s: %v", dbPath, err)}
	}
	defer db.Close()

	if err := db.CheckIntegrity(); err != nil {
		return checkResult{name: "Database", error: true, message: fmt.Sprintf("integrity check failed: %v", err)}
	}

	version, err := db.SQLiteVersion()
	if err != nil {
		version = "unknown"
	}
	runs, _ := db.ListScanRuns()
	return checkResult{
		name:    "Database",
		message: fmt.Sprintf("%s (%s, %d scans, SQLite %s)",
			dbPath, humanize.IBytes(uint64(info.Size())), len(runs), version),
	}
}

// checkLibraryRoot verifies a library root is a readable directory
func checkLibraryRoot(path string) checkResult {
	name := "Library root"
	info, err := os.Stat(path)
	if err != nil {
		return checkResult{name: name, error: true, message: fmt.Sprintf("cannot access %s: %v", path, err)}
	}
	if !info.IsDir() {
		return checkResult{name: name, error: true, message: fmt.Sprintf("%s is not a directory", path)}
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return checkResult{name: name, error: true, message: fmt.Sprintf("cannot read %s: %v", path, err)}
	}
	return checkResult{name: name, message: fmt.Sprintf("%s (%d entries)", path, len(entries))}
}

// checkWritableDirectory verifies a move destination exists or can be
// created, and accepts writes
func checkWritableDirectory(name, path string) checkResult {
	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return checkResult{name: name, error: true, message: fmt.Sprintf("cannot access %s: %v", path, err)}
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return checkResult{name: name, error: true, message: fmt.Sprintf("cannot create %s: %v", path, err)}
		}
		return checkResult{name: name, message: fmt.Sprintf("%s (created)", path)}
	}
	if !info.IsDir() {
		return checkResult{name: name, error: true, message: fmt.Sprintf("%s is not a directory", path)}
	}

	testFile := filepath.Join(path, ".edj_write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return checkResult{name: name, error: true, message: fmt.Sprintf("cannot write to %s: %v", path, err)}
	}
	f.Close()
	os.Remove(testFile)

	return checkResult{name: name, message: fmt.Sprintf("%s (writable)", path)}
}

// checkDiskSpace warns below 10 GiB free or above 90% used
func checkDiskSpace(path string, label string) checkResult {
	name := fmt.Sprintf("Disk space (%s)", label)
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return checkResult{name: name, warning: true, message: fmt.Sprintf("cannot determine disk space: %v", err)}
	}

	availBytes := stat.Bavail * uint64(stat.Bsize)
	totalBytes := stat.Blocks * uint64(stat.Bsize)
	usedBytes := totalBytes - (stat.Bfree * uint64(stat.Bsize))

	usedPercent := 0.0
	if totalBytes > 0 {
		usedPercent = float64(usedBytes) / float64(totalBytes) * 100
	}

	warning := false
	warningMsg := ""
	if availBytes < 10<<30 {
		warning = true
		warningMsg = " (low space!)"
	} else if usedPercent > 90 {
		warning = true
		warningMsg = " (>90% used)"
	}

	return checkResult{
		name:    name,
		warning: warning,
		message: fmt.Sprintf("%s available%s", humanize.IBytes(availBytes), warningMsg),
	}
}

// checkMount notes network shares; moves there get longer retries
func checkMount(path string) checkResult {
	name := "Filesystem"
	info, err := util.DetectMount(path)
	if err != nil {
		return checkResult{name: name, warning: true, message: fmt.Sprintf("%s: %v", path, err)}
	}
	if !info.Network {
		return checkResult{name: name, message: fmt.Sprintf("%s (%s, local)", path, info.FSType)}
	}
	return checkResult{
		name:    name,
		warning: true,
		message: fmt.Sprintf("%s is on a network share (%s at %s); scans run with reduced concurrency",
			path, info.FSType, info.MountPoint),
	}
}

// checkAIKey verifies a key is configured when the tie-breaker is enabled
func checkAIKey(enabled bool, key string) checkResult {
	name := "AI tie-breaker"
	if !enabled {
		return checkResult{name: name, message: "disabled"}
	}
	if key == "" && os.Getenv("OPENAI_API_KEY") == "" {
		return checkResult{name: name, warning: true,
			message: "ai.enabled is set but neither ai.api_key nor OPENAI_API_KEY is present"}
	}
	return checkResult{name: name, message: "enabled, key configured"}
}
