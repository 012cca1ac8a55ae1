package meta

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

var (
	// "01 - Song Title", "01- Song Title", "01. Song Title"
	trackDashRe = regexp.MustCompile(`^(\d{1,3})\s*[-.]\s*(.+)$`)
	// "1-03 Song Title" (disc-track)
	discTrackRe = regexp.MustCompile(`^\d{1,2}-(\d{1,3})\s+(.+)$`)
	// "01 Song Title"
	trackSpaceRe = regexp.MustCompile(`^(\d{1,3})\s+(.+)$`)
	// "Track 01 - Song Title"
	trackWordRe = regexp.MustCompile(`(?i)^track\s*(\d{1,3})\s*-?\s*(.*)$`)
	// "Artist - Album - 01 - Song Title", "Artist - 05 - Dancing Days"
	embeddedTrackRe = regexp.MustCompile(`-\s*(\d{1,3})\s*-\s*([^-]+)$`)
	// "01"
	bareNumberRe = regexp.MustCompile(`^(\d{1,3})$`)

	discRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\bcd\s*(\d+)`),
		regexp.MustCompile(`(?i)\bdis[ck]\s*(\d+)`),
	}

	yearAlbumRe = regexp.MustCompile(`^(\d{4})\s*-\s*(.+)$`)
)

// ParseTrackFilename extracts a track number and title from a file name.
// Examples: "01 - Song Title.mp3" -> (1, "Song Title"), "03 Song.flac" -> (3, "Song")
func ParseTrackFilename(filename string) (track int, title string) {
	name := strings.TrimSuffix(filename, filepath.Ext(filename))

	for _, re := range []*regexp.Regexp{discTrackRe, trackDashRe, trackWordRe, trackSpaceRe, embeddedTrackRe} {
		matches := re.FindStringSubmatch(name)
		if len(matches) != 3 {
			continue
		}
		num, err := strconv.Atoi(matches[1])
		if err != nil || num == 0 {
			continue
		}
		return num, strings.TrimSpace(matches[2])
	}

	if matches := bareNumberRe.FindStringSubmatch(name); len(matches) == 2 {
		if num, err := strconv.Atoi(matches[1]); err == nil {
			return num, ""
		}
	}

	return 0, ""
}

// ExtractDiscNumber extracts a disc number from folder names like "CD1", "Disc 2"
func ExtractDiscNumber(s string) int {
	for _, re := range discRes {
		if matches := re.FindStringSubmatch(s); len(matches) >= 2 {
			if num, err := strconv.Atoi(matches[1]); err == nil {
				return num
			}
		}
	}
	return 0
}

// IsDiscFolder reports whether a folder name is a disc subfolder of an album
func IsDiscFolder(name string) bool {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, prefix := range []string{"cd", "disc", "disk"} {
		if strings.HasPrefix(n, prefix) {
			rest := strings.TrimSpace(strings.TrimPrefix(n, prefix))
			if rest != "" && rest[0] >= '0' && rest[0] <= '9' {
				return true
			}
		}
	}
	return false
}

// ParseFolderAlbum extracts album and year from "YYYY - Album Name" folder names
func ParseFolderAlbum(folder string) (album string, year int) {
	if matches := yearAlbumRe.FindStringSubmatch(folder); len(matches) == 3 {
		y, _ := strconv.Atoi(matches[1])
		return strings.TrimSpace(matches[2]), y
	}
	return strings.TrimSpace(folder), 0
}
