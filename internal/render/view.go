// Package render computes the timeline view-model the browser paints: ruler
// marks, segment boxes, and the scrubber transform. Everything is derived
// for the visible viewport plus a small buffer, never the whole timeline,
// so the frontend's node count stays bounded no matter the zoom level.
package render

import (
	"fmt"
	"math"

	"github.com/frameloop/frameloop-agent/internal/timeline"
)

// minMarkSpacingPx is the closest two ruler marks may sit before the mark
// step is widened.
const minMarkSpacingPx = 64.0

// bufferFraction of the viewport width is rendered beyond each edge so
// scrolling does not pop segments in at the boundary.
const bufferFraction = 0.2

// Viewport describes what slice of the timeline the browser is showing.
type Viewport struct {
	Zoom            float64 `json:"zoom"`
	PixelsPerSecond float64 `json:"pixels_per_second"`
	ScrollPx        float64 `json:"scroll_px"`
	WidthPx         float64 `json:"width_px"`
	FPS             float64 `json:"fps"`
}

// PixelsPerFrame is the single scale factor between frames and pixels.
func (v Viewport) PixelsPerFrame() float64 {
	return v.Zoom * v.PixelsPerSecond / v.FPS
}

// FrameToPixel maps a continuous frame position to a viewport x coordinate
// with one multiply; no intermediate rounding, which is what keeps the
// scrubber speed visually even across second boundaries.
func (v Viewport) FrameToPixel(frame float64) float64 {
	return frame*v.PixelsPerFrame() - v.ScrollPx
}

// PixelToFrame is the inverse mapping, used by the input layer to turn
// pointer x into a frame.
func (v Viewport) PixelToFrame(px float64) float64 {
	ppf := v.PixelsPerFrame()
	if ppf == 0 {
		return 0
	}
	return (px + v.ScrollPx) / ppf
}

// visibleFrames returns the buffered half-open frame window to render.
func (v Viewport) visibleFrames(totalFrames int64) (int64, int64) {
	buffer := v.WidthPx * bufferFraction
	start := int64(math.Floor(v.PixelToFrame(-buffer)))
	end := int64(math.Ceil(v.PixelToFrame(v.WidthPx + buffer)))
	if start < 0 {
		start = 0
	}
	if end > totalFrames {
		end = totalFrames
	}
	return start, end
}

// RulerMark is one tick on the ruler.
type RulerMark struct {
	Frame int64   `json:"frame"`
	X     float64 `json:"x"`
	Major bool    `json:"major"`
	Label string  `json:"label,omitempty"`
}

// SegmentBox is one segment rectangle.
type SegmentBox struct {
	SegmentID string  `json:"segment_id"`
	ClipID    string  `json:"clip_id"`
	X         float64 `json:"x"`
	Width     float64 `json:"width"`
	Start     int64   `json:"start"`
	End       int64   `json:"end"`
}

// TrackView groups the visible boxes of one track.
type TrackView struct {
	TrackID string       `json:"track_id"`
	Boxes   []SegmentBox `json:"boxes"`
}

// Scrubber is the playhead. X is applied as a CSS transform only; Smooth is
// true only for discrete programmatic seeks, never while playing or
// dragging, so a transition can never fight the per-tick updates.
type Scrubber struct {
	X      float64 `json:"x"`
	Frame  float64 `json:"frame"`
	Smooth bool    `json:"smooth"`
}

// View is the full view-model for one paint.
type View struct {
	PixelsPerFrame float64     `json:"pixels_per_frame"`
	Marks          []RulerMark `json:"marks"`
	Tracks         []TrackView `json:"tracks"`
	Scrubber       Scrubber    `json:"scrubber"`
}

// Build derives the view-model for the buffered visible window.
// smoothSeek must be false while playing or scrubbing.
func Build(tl *timeline.Timeline, vp Viewport, currentFrame float64, smoothSeek bool) View {
	if vp.FPS == 0 {
		vp.FPS = tl.FPS
	}
	start, end := vp.visibleFrames(tl.TotalFrames)

	view := View{
		PixelsPerFrame: vp.PixelsPerFrame(),
		Marks:          rulerMarks(vp, tl.FPS, start, end),
		Scrubber: Scrubber{
			X:      vp.FrameToPixel(currentFrame),
			Frame:  currentFrame,
			Smooth: smoothSeek,
		},
	}

	for _, tr := range tl.Tracks {
		tv := TrackView{TrackID: tr.ID}
		for _, s := range tr.Segments {
			if s.TimelineEnd <= start || s.TimelineStart >= end {
				continue
			}
			tv.Boxes = append(tv.Boxes, SegmentBox{
				SegmentID: s.ID,
				ClipID:    s.ClipID,
				X:         vp.FrameToPixel(float64(s.TimelineStart)),
				Width:     float64(s.Duration()) * view.PixelsPerFrame,
				Start:     s.TimelineStart,
				End:       s.TimelineEnd,
			})
		}
		view.Tracks = append(view.Tracks, tv)
	}
	return view
}

// rulerMarks emits ticks for [start, end] at a step wide enough to keep
// minMarkSpacingPx between marks. Marks on whole seconds are major and
// carry a timecode label.
func rulerMarks(vp Viewport, fps float64, start, end int64) []RulerMark {
	step := markStep(vp.PixelsPerFrame(), fps)
	framesPerSecond := int64(math.Round(fps))

	var marks []RulerMark
	for f := (start / step) * step; f <= end; f += step {
		if f < start {
			continue
		}
		major := framesPerSecond > 0 && f%framesPerSecond == 0
		m := RulerMark{
			Frame: f,
			X:     vp.FrameToPixel(float64(f)),
			Major: major,
		}
		if major {
			m.Label = FormatTimecode(f, fps)
		}
		marks = append(marks, m)
	}
	return marks
}

// markStep picks the smallest step from a frame/second ladder that keeps
// marks at least minMarkSpacingPx apart at the current scale.
func markStep(ppf, fps float64) int64 {
	second := int64(math.Round(fps))
	if second <= 0 {
		second = 30
	}
	ladder := []int64{1, 2, 5, 10, second, 2 * second, 5 * second, 15 * second, 60 * second, 300 * second}
	for _, step := range ladder {
		if float64(step)*ppf >= minMarkSpacingPx {
			return step
		}
	}
	return ladder[len(ladder)-1]
}

// FormatTimecode renders a frame count as hh:mm:ss:ff.
func FormatTimecode(frame int64, fps float64) string {
	fpsInt := int64(math.Round(fps))
	if fpsInt <= 0 {
		fpsInt = 30
	}
	frames := frame % fpsInt
	totalSeconds := frame / fpsInt
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
