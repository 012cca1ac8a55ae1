package probe

import (
	"context"
	"fmt"
	"os"

	"github.com/mewkiz/flac"
)

// FLACProber reads the STREAMINFO block directly, without an external binary
type FLACProber struct{}

// Probe parses the FLAC stream header of path
func (FLACProber) Probe(_ context.Context, path string) (*AudioProps, error) {
	stream, err := flac.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open flac stream: %w", err)
	}
	defer stream.Close()

	info := stream.Info
	if info == nil || info.SampleRate == 0 {
		return nil, fmt.Errorf("flac stream has no stream info")
	}

	props := &AudioProps{
		Format:     "flac",
		Codec:      "flac",
		SampleRate: int(info.SampleRate),
		BitDepth:   int(info.BitsPerSample),
		Channels:   int(info.NChannels),
		Lossless:   true,
	}
	if info.NSamples > 0 {
		props.DurationMs = int(info.NSamples * 1000 / uint64(info.SampleRate))
	}

	// Average bitrate from file size, as ffprobe reports it
	if fi, err := os.Stat(path); err == nil && props.DurationMs > 0 {
		props.BitrateKbps = int(fi.Size() * 8 / int64(props.DurationMs))
	}

	return props, nil
}
