// Package export renders a timeline snapshot as a CMX 3600-style EDL cut
// list for the external render pipeline. Rendering the output media itself
// is not this agent's job.
package export

import (
	"fmt"
	"math"
	"strings"

	"github.com/frameloop/frameloop-agent/internal/timeline"
)

// GenerateEDL serializes every segment of every track, in track order, as
// one EDL event. Source timecodes come from the segment's source range,
// record timecodes from its timeline placement.
func GenerateEDL(tl *timeline.Timeline, clips map[string]*timeline.Clip, title string) string {
	fps := int(math.Round(tl.FPS))
	if fps <= 0 {
		fps = 30
	}

	isDropFrame := math.Abs(tl.FPS-29.97) < 0.01 || math.Abs(tl.FPS-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", SanitizeName(title, 70))}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	event := 0
	for _, track := range tl.Tracks {
		for _, seg := range track.Segments {
			event++
			srcIn := framesToTimecode(seg.SourceIn, fps)
			srcOut := framesToTimecode(seg.SourceOut, fps)
			recIn := framesToTimecode(seg.TimelineStart, fps)
			recOut := framesToTimecode(seg.TimelineEnd, fps)

			lines = append(lines,
				fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", event, "AX", "V", srcIn, srcOut, recIn, recOut),
			)
			if clip, ok := clips[seg.ClipID]; ok {
				lines = append(lines,
					fmt.Sprintf("* FROM CLIP NAME:  %s", SanitizeName(clip.ID, 40)),
					fmt.Sprintf("* SOURCE:  %s", clip.SourceURL),
				)
			}
		}
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func framesToTimecode(frame int64, fps int) string {
	f := int(frame)
	frames := f % fps
	totalSeconds := f / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
