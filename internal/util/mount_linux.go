//go:build linux

package util

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
)

// Superblock magic numbers of network filesystems
var networkMagic = map[uint32]string{
	0x6969:     "nfs",
	0xff534d42: "cifs",
	0xfe534d42: "smb2",
	0x517b:     "smb",
	0x564c:     "ncpfs",
}

type mountEntry struct {
	point  string
	fsType string
}

func detectMount(path string) (*MountInfo, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return nil, fmt.Errorf("failed to stat filesystem: %w", err)
	}

	info := &MountInfo{}
	if fsType, ok := networkMagic[uint32(st.Type)]; ok {
		info.Network = true
		info.FSType = fsType
	}

	f, err := os.Open("/proc/mounts")
	if err != nil {
		return info, nil
	}
	defer f.Close()
	entries, err := parseMounts(f)
	if err != nil {
		return info, nil
	}

	if m, ok := findMount(entries, path); ok {
		info.MountPoint = m.point
		if info.FSType == "" {
			info.FSType = strings.ToLower(m.fsType)
		}
		if isNetworkFSType(m.fsType) {
			info.Network = true
		}
	}
	return info, nil
}

// parseMounts reads the mount table in /proc/mounts format
func parseMounts(r io.Reader) ([]mountEntry, error) {
	var entries []mountEntry
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		// device mountpoint fstype options dump pass
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		entries = append(entries, mountEntry{point: unescapeMount(fields[1]), fsType: fields[2]})
	}
	return entries, sc.Err()
}

// unescapeMount decodes the octal escapes the kernel uses for spaces and tabs
func unescapeMount(s string) string {
	r := strings.NewReplacer(`\040`, " ", `\011`, "\t", `\012`, "\n", `\134`, `\`)
	return r.Replace(s)
}

// findMount picks the longest mount point that contains path
func findMount(entries []mountEntry, path string) (mountEntry, bool) {
	var best mountEntry
	found := false
	for _, e := range entries {
		inside := e.point == "/" || path == e.point || strings.HasPrefix(path, e.point+"/")
		if inside && len(e.point) >= len(best.point) {
			best, found = e, true
		}
	}
	return best, found
}
