package probe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/franz/edition-janitor/internal/util"
)

// AudioProps are the derived audio properties of one file
type AudioProps struct {
	Format      string // normalized container/codec family, e.g. "flac", "mp3"
	Codec       string
	BitrateKbps int
	SampleRate  int
	BitDepth    int
	Channels    int
	DurationMs  int
	Lossless    bool
}

// Prober extracts audio properties from a file
type Prober interface {
	Probe(ctx context.Context, path string) (*AudioProps, error)
}

// CachedProber fronts a Prober with the single-flight cache, keyed by path,
// size and mtime so an edited file is probed again
type CachedProber struct {
	cache *Cache[*AudioProps]
	inner Prober
}

// NewCachedProber wraps inner with a fresh cache
func NewCachedProber(inner Prober) *CachedProber {
	return &CachedProber{cache: NewCache[*AudioProps](), inner: inner}
}

// Probe returns cached properties or probes the file once
func (p *CachedProber) Probe(ctx context.Context, path string) (*AudioProps, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	key := util.ProbeKey(path, info.Size(), info.ModTime().Unix())
	return p.cache.GetOrCompute(key, func() (*AudioProps, error) {
		return p.inner.Probe(ctx, path)
	})
}

// Stats exposes the underlying cache counters
func (p *CachedProber) Stats() Stats {
	return p.cache.Stats()
}

// DefaultProber reads FLAC stream info natively and uses ffprobe for
// everything else. When ffprobe is missing it falls back to what the file
// extension implies.
type DefaultProber struct {
	flac    Prober
	ffprobe Prober
}

// NewDefaultProber returns the native FLAC + ffprobe combination
func NewDefaultProber() *DefaultProber {
	return &DefaultProber{flac: FLACProber{}, ffprobe: FFprobe{}}
}

// Probe dispatches by extension
func (p *DefaultProber) Probe(ctx context.Context, path string) (*AudioProps, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".flac" {
		props, err := p.flac.Probe(ctx, path)
		if err == nil {
			return props, nil
		}
		util.DebugLog("Native FLAC probe failed for %s, trying ffprobe: %v", path, err)
	}

	props, err := p.ffprobe.Probe(ctx, path)
	if err == nil {
		return props, nil
	}
	if err == util.ErrNotFound {
		return FromExtension(path), nil
	}
	return nil, err
}

// FromExtension guesses the format from the file extension alone
func FromExtension(path string) *AudioProps {
	format := FormatFromExtension(path)
	return &AudioProps{Format: format, Codec: format, Lossless: IsLosslessFormat(format)}
}

// FormatFromExtension maps a file extension to a format family
func FormatFromExtension(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch ext {
	case "m4a", "mp4":
		return "aac"
	case "aif", "aiff":
		return "aiff"
	case "oga", "ogg":
		return "ogg"
	case "wv":
		return "wavpack"
	default:
		return ext
	}
}

// NormalizeCodec maps a codec name reported by a probe to a format family
func NormalizeCodec(codec string) string {
	codec = strings.ToLower(codec)
	switch {
	case strings.HasPrefix(codec, "pcm_"):
		return "wav"
	case codec == "vorbis":
		return "ogg"
	case codec == "mp3", codec == "mp3float":
		return "mp3"
	default:
		return codec
	}
}

// IsLosslessFormat reports whether a format family is lossless
func IsLosslessFormat(format string) bool {
	switch strings.ToLower(format) {
	case "flac", "alac", "ape", "wavpack", "wv", "tta", "wav", "aiff":
		return true
	}
	return strings.HasPrefix(strings.ToLower(format), "pcm_")
}
