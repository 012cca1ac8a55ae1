package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "edition_janitor"

var (
	registerOnce sync.Once

	albumsScanned = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "albums_scanned_total",
		Help:      "Albums scanned, by whether the checkpoint allowed skipping them",
	}, []string{"cached"})
	scanErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scan_errors_total",
		Help:      "Albums skipped because they could not be scanned",
	})
	groupsFound = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "groups_total",
		Help:      "Album groups with two or more editions, by manual-review flag",
	}, []string{"no_move"})
	moves = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "moves_total",
		Help:      "Ledger moves by reason and outcome",
	}, []string{"reason", "outcome"})
	moveDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "move_duration_seconds",
		Help:      "Filesystem move duration including retries",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"reason"})
	restores = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "restores_total",
		Help:      "Restore attempts by outcome",
	}, []string{"outcome"})
	spaceSaved = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "space_saved_megabytes",
		Help:      "Space saved by the most recent scan run",
	})
	aiCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ai_calls_total",
		Help:      "Tie-breaker calls by outcome",
	}, []string{"outcome"})
	sessionState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "session_state",
		Help:      "1 for the current scan session state",
	}, []string{"state"})
)

// Register initializes metrics with the global Prometheus registry (idempotent)
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(albumsScanned, scanErrors, groupsFound, moves, moveDuration,
			restores, spaceSaved, aiCalls, sessionState)
	})
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Scan helpers
func IncAlbumsScanned(cached bool) { albumsScanned.WithLabelValues(boolLabel(cached)).Inc() }
func IncScanErrors()               { scanErrors.Inc() }
func IncGroups(noMove bool)        { groupsFound.WithLabelValues(boolLabel(noMove)).Inc() }

// Move helpers
func IncMove(reason, outcome string) { moves.WithLabelValues(reason, outcome).Inc() }
func ObserveMoveDuration(reason string, d time.Duration) {
	moveDuration.WithLabelValues(reason).Observe(d.Seconds())
}
func IncRestore(outcome string) { restores.WithLabelValues(outcome).Inc() }
func SetSpaceSaved(mb float64)  { spaceSaved.Set(mb) }

// IncAI counts a tie-breaker outcome: decided, deferred, failed, recovered, unresolved
func IncAI(outcome string) { aiCalls.WithLabelValues(outcome).Inc() }

// SetSessionState marks state as current and clears the others
func SetSessionState(state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		sessionState.WithLabelValues(s).Set(v)
	}
}
