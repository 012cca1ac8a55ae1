package util

import (
	"crypto/sha1"
	"fmt"
	"os"
	"sort"
)

// FileStamp is the filesystem identity of one file inside an album folder
type FileStamp struct {
	Name      string
	Size      int64
	MtimeUnix int64
}

// StampFile reads the size and mtime of path
func StampFile(path string, name string) (FileStamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileStamp{}, fmt.Errorf("failed to stat file: %w", err)
	}
	return FileStamp{Name: name, Size: info.Size(), MtimeUnix: info.ModTime().Unix()}, nil
}

// AlbumSignature is SHA1 over the sorted (name, size, mtime) triples of an
// album folder. It changes whenever a file is added, removed, resized or
// touched, and never because of wall-clock time alone.
func AlbumSignature(stamps []FileStamp) string {
	sorted := make([]FileStamp, len(stamps))
	copy(sorted, stamps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	h := sha1.New()
	for _, s := range sorted {
		fmt.Fprintf(h, "%s\x00%d\x00%d\n", s.Name, s.Size, s.MtimeUnix)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// ProbeKey is the content-identity key used by the probe cache
func ProbeKey(path string, size, mtimeUnix int64) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s:%d:%d", path, size, mtimeUnix)
	return fmt.Sprintf("%x", h.Sum(nil))
}
