package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/franz/edition-janitor/internal/util"
)

// ffprobeInfo represents the output from ffprobe
type ffprobeInfo struct {
	Streams []ffprobeStream `json:"streams"`
	Format  *ffprobeFormat  `json:"format"`
}

// IntOrString can unmarshal both integers and strings from JSON
type IntOrString struct {
	Value int
}

// UnmarshalJSON implements custom unmarshaling for IntOrString
func (i *IntOrString) UnmarshalJSON(data []byte) error {
	var intVal int
	if err := json.Unmarshal(data, &intVal); err == nil {
		i.Value = intVal
		return nil
	}

	var strVal string
	if err := json.Unmarshal(data, &strVal); err != nil {
		return err
	}
	if strVal == "" || strVal == "N/A" {
		i.Value = 0
		return nil
	}

	parsed, err := strconv.Atoi(strVal)
	if err != nil {
		i.Value = 0
		return nil
	}
	i.Value = parsed
	return nil
}

type ffprobeStream struct {
	CodecName        string      `json:"codec_name"`
	CodecType        string      `json:"codec_type"`
	SampleRate       IntOrString `json:"sample_rate"`
	Channels         int         `json:"channels"`
	BitsPerSample    IntOrString `json:"bits_per_sample"`
	BitsPerRawSample IntOrString `json:"bits_per_raw_sample"`
	BitRate          IntOrString `json:"bit_rate"`
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
}

// FFprobe probes files with the external ffprobe binary
type FFprobe struct{}

// Probe runs ffprobe and maps the first audio stream. It returns
// util.ErrNotFound when ffprobe is not installed.
func (FFprobe) Probe(ctx context.Context, path string) (*AudioProps, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return nil, util.ErrNotFound
	}

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, fmt.Errorf("ffprobe failed: %s", string(exitErr.Stderr))
		}
		return nil, fmt.Errorf("ffprobe execution failed: %w", err)
	}

	return parseFFprobe(output)
}

func parseFFprobe(output []byte) (*AudioProps, error) {
	var info ffprobeInfo
	if err := json.Unmarshal(output, &info); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	props := &AudioProps{}
	if info.Format != nil {
		if info.Format.Duration != "" {
			if sec, err := strconv.ParseFloat(info.Format.Duration, 64); err == nil {
				props.DurationMs = int(sec * 1000)
			}
		}
		if info.Format.BitRate != "" {
			if bps, err := strconv.Atoi(info.Format.BitRate); err == nil {
				props.BitrateKbps = bps / 1000
			}
		}
	}

	for _, stream := range info.Streams {
		if stream.CodecType != "audio" {
			continue
		}
		props.Codec = stream.CodecName
		props.Format = NormalizeCodec(stream.CodecName)
		props.SampleRate = stream.SampleRate.Value
		props.Channels = stream.Channels
		props.Lossless = IsLosslessFormat(props.Format)
		if stream.BitsPerSample.Value > 0 {
			props.BitDepth = stream.BitsPerSample.Value
		} else if stream.BitsPerRawSample.Value > 0 {
			props.BitDepth = stream.BitsPerRawSample.Value
		}
		if stream.BitRate.Value > 0 {
			props.BitrateKbps = stream.BitRate.Value / 1000
		}
		break
	}

	if props.Format == "" {
		return nil, fmt.Errorf("no audio stream found")
	}
	return props, nil
}
