package library

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Prober reports the duration of a local media file in frames at a given
// timeline rate. Split out as an interface so tests don't need ffprobe.
type Prober interface {
	DurationFrames(path string, fps float64) (int64, error)
}

// FFProbe shells out to ffprobe through ffmpeg-go.
type FFProbe struct{}

type probeFormat struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// DurationFrames probes the container duration and converts it to frames.
func (FFProbe) DurationFrames(path string, fps float64) (int64, error) {
	out, err := ffmpeg.Probe(path)
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}

	var parsed probeFormat
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(parsed.Format.Duration), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe reported no usable duration for %s: %w", path, err)
	}

	frames := int64(math.Round(seconds * fps))
	if frames <= 0 {
		return 0, fmt.Errorf("media %s has zero duration", path)
	}
	return frames, nil
}
