// Package timeline defines the immutable clip/segment data model that every
// other component consumes. A Timeline value is a snapshot: edits never mutate
// one in place, they derive a new snapshot from a deep copy.
package timeline

import (
	"fmt"

	"github.com/google/uuid"
)

// BackendKind identifies which player implementation a clip needs.
type BackendKind string

const (
	BackendHTML5   BackendKind = "html5"
	BackendYouTube BackendKind = "youtube"
)

// Clip is an imported source media item. Clips are created on import and
// never mutated; many segments may reference the same clip.
type Clip struct {
	ID             string      `json:"id"`
	SourceURL      string      `json:"source_url"`
	Backend        BackendKind `json:"backend"`
	DurationFrames int64       `json:"duration_frames"`
}

// Segment places a contiguous range of a clip onto a track. All fields are
// frame-indexed integers; [TimelineStart, TimelineEnd) is half-open, and the
// source range must have the same length as the timeline range.
type Segment struct {
	ID            string `json:"id"`
	ClipID        string `json:"clip_id"`
	TrackID       string `json:"track_id"`
	TimelineStart int64  `json:"timeline_start"`
	TimelineEnd   int64  `json:"timeline_end"`
	SourceIn      int64  `json:"source_in"`
	SourceOut     int64  `json:"source_out"`
}

// Duration returns the segment length in frames.
func (s Segment) Duration() int64 {
	return s.TimelineEnd - s.TimelineStart
}

// Contains reports whether the given timeline frame falls inside the segment.
func (s Segment) Contains(frame int64) bool {
	return frame >= s.TimelineStart && frame < s.TimelineEnd
}

// Track holds segments ordered by TimelineStart, pairwise non-overlapping.
type Track struct {
	ID       string    `json:"id"`
	Segments []Segment `json:"segments"`
}

// Timeline is one editing snapshot.
type Timeline struct {
	FPS         float64 `json:"fps"`
	TotalFrames int64   `json:"total_frames"`
	Tracks      []Track `json:"tracks"`
}

// NewID returns a fresh identifier for clips, segments, and tracks.
func NewID() string {
	return uuid.NewString()
}

// New returns an empty timeline with a single track.
func New(fps float64, totalFrames int64) *Timeline {
	return &Timeline{
		FPS:         fps,
		TotalFrames: totalFrames,
		Tracks:      []Track{{ID: NewID()}},
	}
}

// Clone returns a deep copy. Edit operations clone before touching anything
// so the previous snapshot stays valid for undo.
func (t *Timeline) Clone() *Timeline {
	out := &Timeline{
		FPS:         t.FPS,
		TotalFrames: t.TotalFrames,
		Tracks:      make([]Track, len(t.Tracks)),
	}
	for i, tr := range t.Tracks {
		segs := make([]Segment, len(tr.Segments))
		copy(segs, tr.Segments)
		out.Tracks[i] = Track{ID: tr.ID, Segments: segs}
	}
	return out
}

// Track returns the track with the given ID, or nil.
func (t *Timeline) Track(id string) *Track {
	for i := range t.Tracks {
		if t.Tracks[i].ID == id {
			return &t.Tracks[i]
		}
	}
	return nil
}

// SegmentAt returns the segment covering the given frame on a track.
func (t *Timeline) SegmentAt(trackID string, frame int64) (Segment, bool) {
	tr := t.Track(trackID)
	if tr == nil {
		return Segment{}, false
	}
	for _, s := range tr.Segments {
		if s.Contains(frame) {
			return s, true
		}
		if s.TimelineStart > frame {
			break
		}
	}
	return Segment{}, false
}

// FindSegment locates a segment by ID across all tracks.
func (t *Timeline) FindSegment(id string) (trackIdx, segIdx int, ok bool) {
	for ti := range t.Tracks {
		for si := range t.Tracks[ti].Segments {
			if t.Tracks[ti].Segments[si].ID == id {
				return ti, si, true
			}
		}
	}
	return 0, 0, false
}

// Validate checks the structural invariants: source/timeline length equality,
// segment bounds inside [0, TotalFrames), per-track ordering, and non-overlap.
func (t *Timeline) Validate() error {
	if t.FPS <= 0 {
		return fmt.Errorf("invalid fps: %v", t.FPS)
	}
	if t.TotalFrames < 0 {
		return fmt.Errorf("invalid total frames: %d", t.TotalFrames)
	}
	for _, tr := range t.Tracks {
		var prevEnd int64 = -1
		var prevStart int64 = -1
		for _, s := range tr.Segments {
			if s.TimelineStart >= s.TimelineEnd {
				return fmt.Errorf("segment %s: empty or inverted range [%d, %d)", s.ID, s.TimelineStart, s.TimelineEnd)
			}
			if s.TimelineEnd-s.TimelineStart != s.SourceOut-s.SourceIn {
				return fmt.Errorf("segment %s: timeline span %d does not match source span %d",
					s.ID, s.TimelineEnd-s.TimelineStart, s.SourceOut-s.SourceIn)
			}
			if s.TimelineStart < 0 || s.TimelineEnd > t.TotalFrames {
				return fmt.Errorf("segment %s: [%d, %d) outside timeline [0, %d)", s.ID, s.TimelineStart, s.TimelineEnd, t.TotalFrames)
			}
			if s.TimelineStart < prevStart {
				return fmt.Errorf("track %s: segments out of order at %s", tr.ID, s.ID)
			}
			if s.TimelineStart < prevEnd {
				return fmt.Errorf("track %s: segment %s overlaps previous segment", tr.ID, s.ID)
			}
			prevStart = s.TimelineStart
			prevEnd = s.TimelineEnd
		}
	}
	return nil
}
