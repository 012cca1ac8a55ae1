package meta

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)

	// Any bracketed or parenthetical qualifier: "(Deluxe)", "[2011 Remaster]", "{Live}"
	bracketedRe = regexp.MustCompile(`\s*[\(\[\{][^\)\]\}]*[\)\]\}]`)

	// Dash-separated edition suffixes: "Album - Deluxe Edition", "Album - 2011 Remaster"
	editionSuffixRe = regexp.MustCompile(`(?i)\s+-\s+[^-]*(deluxe|remaster|remastered|expanded|special|anniversary|bonus|edition|reissue)[^-]*$`)

	// Track qualifiers that never change which song it is
	trackQualifierRe = regexp.MustCompile(`(?i)\s*[\(\[][^\)\]]*(remaster|remastered|bonus|deluxe|explicit|clean|mono|stereo|album version|single version|lp version)[^\)\]]*[\)\]]`)
)

// FoldDiacritics strips combining marks: "Björk" -> "Bjork", "Motörhead" -> "Motorhead"
func FoldDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return norm.NFC.String(s)
	}
	return out
}

// NormalizeArtist produces the artist key used for bucketing
func NormalizeArtist(artist string) string {
	if artist == "" {
		return ""
	}

	artist = strings.ToLower(strings.TrimSpace(FoldDiacritics(artist)))

	// "Beatles, The" -> "the beatles"
	if strings.HasSuffix(artist, ", the") {
		artist = "the " + strings.TrimSuffix(artist, ", the")
	}

	return collapseWhitespace(removePunctuation(artist))
}

// NormalizeAlbumTitle produces the title key used for bucketing. With
// stripQualifiers set, bracketed qualifiers like "(Deluxe)" and dash-separated
// edition suffixes are removed first.
func NormalizeAlbumTitle(title string, stripQualifiers bool) string {
	if title == "" {
		return ""
	}

	title = FoldDiacritics(title)
	if stripQualifiers {
		stripped := bracketedRe.ReplaceAllString(title, "")
		stripped = editionSuffixRe.ReplaceAllString(stripped, "")
		// Never strip a title down to nothing: "(What's the Story) Morning Glory?"
		if strings.TrimSpace(stripped) != "" {
			title = stripped
		}
	}

	return collapseWhitespace(removePunctuation(strings.ToLower(title)))
}

// NormalizeTrackTitle produces the case- and punctuation-insensitive form of a
// track title used for similarity comparison
func NormalizeTrackTitle(title string) string {
	if title == "" {
		return ""
	}
	title = FoldDiacritics(title)
	if stripped := trackQualifierRe.ReplaceAllString(title, ""); strings.TrimSpace(stripped) != "" {
		title = stripped
	}
	return collapseWhitespace(removePunctuation(strings.ToLower(title)))
}

// removePunctuation keeps letters, digits and spaces; "&" becomes "and"
func removePunctuation(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '&':
			b.WriteString(" and ")
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r), r == '-', r == '_', r == '/':
			b.WriteRune(' ')
		}
	}
	return b.String()
}

// collapseWhitespace replaces runs of whitespace with a single space
func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// SanitizePathComponent makes s safe to use as a single path element
func SanitizePathComponent(s string) string {
	s = norm.NFC.String(s)

	replacer := strings.NewReplacer(
		"/", "-",
		"\\", "-",
		":", "-",
		"*", "",
		"?", "",
		"\"", "'",
		"<", "",
		">", "",
		"|", "-",
	)
	s = replacer.Replace(s)

	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)

	// Trailing dots and spaces break some SMB shares
	s = strings.Trim(collapseWhitespace(s), " .")

	if len(s) > 200 {
		s = strings.TrimSpace(s[:200])
	}
	if s == "" {
		return "_"
	}
	return s
}
