package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/franz/edition-janitor/internal/ai"
	"github.com/franz/edition-janitor/internal/meta"
	"github.com/franz/edition-janitor/internal/musicbrainz"
	"github.com/franz/edition-janitor/internal/probe"
	"github.com/franz/edition-janitor/internal/report"
	"github.com/franz/edition-janitor/internal/score"
	"github.com/franz/edition-janitor/internal/service"
	"github.com/franz/edition-janitor/internal/session"
	"github.com/franz/edition-janitor/internal/store"
	"github.com/franz/edition-janitor/internal/util"
	"github.com/spf13/viper"
)

func setDefaults() {
	viper.SetDefault("scan.threads", 8)
	viper.SetDefault("group.strip_qualifiers", true)
	viper.SetDefault("group.similarity_threshold", 0.85)
	viper.SetDefault("group.weak_overlap", 0.75)
	viper.SetDefault("score.format_preference", score.DefaultFormatPreference)
	viper.SetDefault("score.epsilon", score.DefaultEpsilon)
	viper.SetDefault("ai.model", "gpt-4o-mini")
	viper.SetDefault("ai.timeout", ai.DefaultTimeout)
	viper.SetDefault("ai.requests_per_minute", ai.DefaultRequestsPerMinute)
	viper.SetDefault("serve.addr", "127.0.0.1:8088")
}

// nasMode maps the nas_mode setting to the tri-state TuneForLibrary takes
func nasMode() *bool {
	v := viper.GetString("nas_mode")
	if v == "" || v == "auto" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		util.WarnLog("Ignoring nas_mode %q, expected auto, true or false", v)
		return nil
	}
	return &b
}

// moveRetry reads the move.* keys on top of the tuned defaults
func moveRetry(base *util.RetryConfig) *util.RetryConfig {
	cfg := *base
	if n := viper.GetInt("move.max_attempts"); n > 0 {
		cfg.MaxAttempts = n
	}
	if d := viper.GetDuration("move.initial_wait"); d > 0 {
		cfg.InitialWait = d
	}
	if d := viper.GetDuration("move.max_wait"); d > 0 {
		cfg.MaxWait = d
	}
	return &cfg
}

// app is everything a command needs, opened from the current config
type app struct {
	store  *store.Store
	logger *report.EventLogger
	svc    *service.Service
	tuning *util.Tuning

	recovered *service.Recovery // nil when a scan held the lock
}

// openApp opens the state database, the event log and the service, then
// settles any moves and runs an earlier process left half done. Recovery is
// skipped while a scan holds the lock. extraRoots are library roots given on
// the command line.
func openApp(extraRoots ...string) (*app, error) {
	paths := append(viper.GetStringSlice("library.roots"), extraRoots...)
	paths = append(paths, viper.GetString("library.dupes_root"))
	tuning := util.TuneForLibrary(paths, nasMode(), viper.GetInt("scan.threads"))

	dbPath := viper.GetString("db")
	util.DebugLog("Opening database: %s", dbPath)
	db, err := store.OpenWithOptions(dbPath, &store.OpenOptions{NetworkOptimized: tuning.NetworkDB})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	logLevel := report.LevelInfo
	if viper.GetBool("quiet") {
		logLevel = report.LevelWarning
	} else if viper.GetBool("verbose") {
		logLevel = report.LevelDebug
	}
	logger, err := report.NewEventLogger(viper.GetString("artifacts_dir"), logLevel)
	if err != nil {
		util.WarnLog("Failed to create event logger: %v", err)
		logger = report.NullLogger()
	}

	a := &app{store: db, logger: logger, tuning: tuning}
	a.svc = service.New(&service.Config{
		Store:          db,
		Logger:         logger,
		DupesRoot:      viper.GetString("library.dupes_root"),
		QuarantineRoot: viper.GetString("library.quarantine_root"),
		Concurrency:    tuning.Concurrency,
		MoveRetry:      moveRetry(tuning.MoveRetry),
		Releases:       releaseProvider(db),
	})

	res, err := a.svc.Recover()
	if errors.Is(err, util.ErrScanActive) {
		util.DebugLog("Skipping recovery: %v", err)
		return a, nil
	}
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to recover interrupted moves: %w", err)
	}
	if n := len(res.Committed) + len(res.Discarded); n > 0 {
		util.WarnLog("Recovered %d interrupted moves: %d committed, %d discarded",
			n, len(res.Committed), len(res.Discarded))
	}
	if res.InterruptedRuns > 0 {
		util.WarnLog("Marked %d interrupted scan run(s) as failed", res.InterruptedRuns)
	}
	a.recovered = res
	return a, nil
}

// Close stops any running session and closes the log and database
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.svc.Shutdown(ctx); err != nil {
		util.WarnLog("Shutdown: %v", err)
	}
	a.logger.Close()
	a.store.Close()
}

func releaseProvider(db *store.Store) meta.ReleaseProvider {
	if !viper.GetBool("musicbrainz.enabled") {
		return nil
	}
	return musicbrainz.NewCache(db, musicbrainz.NewClient())
}

func tieBreaker() ai.TieBreaker {
	if !viper.GetBool("ai.enabled") {
		return ai.Null{}
	}
	key := viper.GetString("ai.api_key")
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	if key == "" {
		util.WarnLog("ai.enabled is set but no API key is configured; ties go to the scorer")
		return ai.Null{}
	}
	return ai.NewOpenAI(ai.OpenAIConfig{
		APIKey:  key,
		BaseURL: viper.GetString("ai.base_url"),
		Model:   viper.GetString("ai.model"),
	})
}

// scanConfig builds a session config from the current settings
func (a *app) scanConfig(roots []string) *session.Config {
	if len(roots) == 0 {
		roots = viper.GetStringSlice("library.roots")
	}
	return &session.Config{
		Roots:               roots,
		DupesRoot:           viper.GetString("library.dupes_root"),
		QuarantineRoot:      viper.GetString("library.quarantine_root"),
		Concurrency:         a.tuning.Concurrency,
		AdditionalExts:      viper.GetStringSlice("scan.extensions"),
		AutoMove:            viper.GetBool("scan.auto_move"),
		StripQualifiers:     viper.GetBool("group.strip_qualifiers"),
		SimilarityThreshold: viper.GetFloat64("group.similarity_threshold"),
		WeakOverlap:         viper.GetFloat64("group.weak_overlap"),
		FormatPreference:    viper.GetStringSlice("score.format_preference"),
		Epsilon:             viper.GetFloat64("score.epsilon"),
		TieBreaker:          tieBreaker(),
		AITimeout:           viper.GetDuration("ai.timeout"),
		AIRequestsPerMinute: viper.GetInt("ai.requests_per_minute"),
		Tags:                meta.FileTagReader{},
		Prober:              probe.NewCachedProber(probe.NewDefaultProber()),
		Releases:            releaseProvider(a.store),
	}
}
