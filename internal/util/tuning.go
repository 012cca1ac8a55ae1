package util

import "time"

// Tuning holds the settings adjusted for where the library lives
type Tuning struct {
	Concurrency int
	MoveRetry   *RetryConfig
	NetworkDB   bool       // open the state database with network pragmas
	Mount       *MountInfo // the network share that triggered tuning, if any
	MountPath   string
}

// TuneForLibrary lowers concurrency and lengthens move retries when any of
// paths is on a network share. nasMode forces the decision when non-nil.
func TuneForLibrary(paths []string, nasMode *bool, concurrency int) *Tuning {
	t := &Tuning{Concurrency: concurrency, MoveRetry: MoveRetryConfig()}

	network := false
	if nasMode != nil {
		network = *nasMode
	} else {
		t.MountPath, t.Mount = FirstNetworkMount(paths...)
		network = t.Mount != nil
	}
	if !network {
		return t
	}

	// Shares choke on many parallel readers
	if t.Concurrency <= 0 || t.Concurrency > 4 {
		t.Concurrency = 4
	}
	t.MoveRetry = &RetryConfig{
		MaxAttempts: 6,
		InitialWait: 500 * time.Millisecond,
		MaxWait:     30 * time.Second,
	}
	t.NetworkDB = true

	if t.Mount != nil {
		InfoLog("Network share detected: %s is on %s (%s)", t.MountPath, t.Mount.FSType, t.Mount.MountPoint)
	} else {
		InfoLog("NAS mode enabled")
	}
	InfoLog("  Concurrency: %d, move attempts: %d", t.Concurrency, t.MoveRetry.MaxAttempts)
	return t
}
