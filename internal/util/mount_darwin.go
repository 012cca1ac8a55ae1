//go:build darwin

package util

import (
	"fmt"
	"strings"
	"syscall"
)

func detectMount(path string) (*MountInfo, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return nil, fmt.Errorf("failed to stat filesystem: %w", err)
	}
	fsType := strings.ToLower(cString(st.Fstypename[:]))
	return &MountInfo{
		Network:    isNetworkFSType(fsType),
		FSType:     fsType,
		MountPoint: cString(st.Mntonname[:]),
	}, nil
}

func cString(b []int8) string {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c == 0 {
			break
		}
		out = append(out, byte(c))
	}
	return string(out)
}
