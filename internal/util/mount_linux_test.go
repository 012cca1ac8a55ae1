//go:build linux

package util

import (
	"strings"
	"testing"
)

const mountTable = `sysfs /sys sysfs rw,nosuid 0 0
/dev/sda1 / ext4 rw,relatime 0 0
//nas/music /mnt/music cifs rw,vers=3.0 0 0
nas:/export /mnt/music\040archive nfs4 rw 0 0
`

func TestParseAndFindMount(t *testing.T) {
	entries, err := parseMounts(strings.NewReader(mountTable))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 4 {
		t.Fatalf("entries = %+v", entries)
	}

	tests := []struct {
		path   string
		point  string
		fsType string
	}{
		{"/home/me/Music", "/", "ext4"},
		{"/mnt/music/Artist/Album", "/mnt/music", "cifs"},
		{"/mnt/music", "/mnt/music", "cifs"},
		{"/mnt/music archive/Artist", "/mnt/music archive", "nfs4"},
		{"/mnt/musical", "/", "ext4"},
	}
	for _, tt := range tests {
		m, ok := findMount(entries, tt.path)
		if !ok || m.point != tt.point || m.fsType != tt.fsType {
			t.Errorf("findMount(%q) = %+v, expected %s (%s)", tt.path, m, tt.point, tt.fsType)
		}
	}
}
