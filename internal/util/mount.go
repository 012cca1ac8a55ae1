package util

import (
	"fmt"
	"path/filepath"
	"strings"
)

// MountInfo describes the filesystem a library path lives on
type MountInfo struct {
	Network    bool   // NFS, SMB/CIFS, sshfs and similar
	FSType     string // filesystem type as reported by the OS, lowercased
	MountPoint string // empty when it could not be determined
}

// networkFSTypes are the filesystem type names treated as network shares
var networkFSTypes = []string{"nfs", "cifs", "smb", "afpfs", "webdav", "ncpfs", "fuse.sshfs", "fuse.rclone"}

func isNetworkFSType(fsType string) bool {
	fsType = strings.ToLower(fsType)
	for _, n := range networkFSTypes {
		if strings.Contains(fsType, n) {
			return true
		}
	}
	return false
}

// DetectMount reports the filesystem of path. The path must exist.
func DetectMount(path string) (*MountInfo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	return detectMount(abs)
}

// FirstNetworkMount returns the first of paths that lives on a network
// share, or nil. Paths that cannot be inspected are skipped.
func FirstNetworkMount(paths ...string) (string, *MountInfo) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		info, err := DetectMount(p)
		if err != nil {
			DebugLog("Cannot inspect filesystem of %s: %v", p, err)
			continue
		}
		if info.Network {
			return p, info
		}
	}
	return "", nil
}
