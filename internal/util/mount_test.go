package util

import (
	"path/filepath"
	"testing"
)

func TestDetectMountLocal(t *testing.T) {
	info, err := DetectMount(t.TempDir())
	if err != nil {
		t.Fatalf("DetectMount failed: %v", err)
	}
	if info == nil {
		t.Fatal("expected mount info")
	}
}

func TestDetectMountMissingPath(t *testing.T) {
	if _, err := DetectMount(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected an error for a missing path")
	}
}

func TestIsNetworkFSType(t *testing.T) {
	tests := []struct {
		fsType string
		want   bool
	}{
		{"nfs4", true},
		{"CIFS", true},
		{"smbfs", true},
		{"fuse.sshfs", true},
		{"ext4", false},
		{"apfs", false},
		{"tmpfs", false},
	}
	for _, tt := range tests {
		if got := isNetworkFSType(tt.fsType); got != tt.want {
			t.Errorf("isNetworkFSType(%q) = %v, expected %v", tt.fsType, got, tt.want)
		}
	}
}

func TestTuneForLibrary(t *testing.T) {
	on, off := true, false

	forced := TuneForLibrary(nil, &on, 16)
	if forced.Concurrency != 4 || !forced.NetworkDB || forced.MoveRetry.MaxAttempts != 6 {
		t.Errorf("forced NAS tuning = %+v", forced)
	}

	local := TuneForLibrary([]string{t.TempDir()}, &off, 16)
	if local.Concurrency != 16 || local.NetworkDB || local.MoveRetry.MaxAttempts != MoveRetryConfig().MaxAttempts {
		t.Errorf("local tuning = %+v", local)
	}

	small := TuneForLibrary(nil, &on, 2)
	if small.Concurrency != 2 {
		t.Errorf("concurrency below the cap should stay, got %d", small.Concurrency)
	}
}
