package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIdempotent(t *testing.T) {
	Register()
	Register()
}

func TestMoveCounters(t *testing.T) {
	before := testutil.ToFloat64(moves.WithLabelValues("dedupe", "moved"))
	IncMove("dedupe", "moved")
	IncMove("dedupe", "moved")
	if got := testutil.ToFloat64(moves.WithLabelValues("dedupe", "moved")); got != before+2 {
		t.Errorf("moves = %v, expected %v", got, before+2)
	}
	ObserveMoveDuration("dedupe", 20*time.Millisecond)
}

func TestScanAndAICounters(t *testing.T) {
	cached := testutil.ToFloat64(albumsScanned.WithLabelValues("true"))
	IncAlbumsScanned(true)
	IncAlbumsScanned(false)
	if got := testutil.ToFloat64(albumsScanned.WithLabelValues("true")); got != cached+1 {
		t.Errorf("cached albums = %v", got)
	}

	recovered := testutil.ToFloat64(aiCalls.WithLabelValues("recovered"))
	IncAI("recovered")
	if got := testutil.ToFloat64(aiCalls.WithLabelValues("recovered")); got != recovered+1 {
		t.Errorf("recovered = %v", got)
	}
}

func TestSessionStateIsExclusive(t *testing.T) {
	states := []string{"idle", "running", "paused"}
	SetSessionState("running", states)
	SetSessionState("paused", states)

	if testutil.ToFloat64(sessionState.WithLabelValues("running")) != 0 {
		t.Error("previous state should be cleared")
	}
	if testutil.ToFloat64(sessionState.WithLabelValues("paused")) != 1 {
		t.Error("current state should be set")
	}

	SetSpaceSaved(12.5)
	if testutil.ToFloat64(spaceSaved) != 12.5 {
		t.Error("space saved gauge not set")
	}
}
