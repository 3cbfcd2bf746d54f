// Package edit implements the non-destructive edit operations. Every
// operation takes a timeline snapshot and returns a new one; the input is
// never mutated, which is what makes undo a matter of keeping old snapshots.
package edit

import (
	"errors"
	"fmt"
	"sort"

	"github.com/frameloop/frameloop-agent/internal/timeline"
)

// Edge selects which end of a segment a trim applies to.
type Edge string

const (
	EdgeStart Edge = "start"
	EdgeEnd   Edge = "end"
)

// ErrNotFound is returned when the named segment is not in the snapshot.
// Rapid edit sequences can race a delete; callers treat this as a rejected
// edit, not a crash.
var ErrNotFound = errors.New("segment not found")

// OverlapError rejects a move that would collide with another segment on
// the same track. Policy: reject, never auto-displace neighbors.
type OverlapError struct {
	SegmentID string
	OtherID   string
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("segment %s would overlap segment %s", e.SegmentID, e.OtherID)
}

// Ops applies edit operations against a clip library. SnapThreshold is the
// magnetic snapping distance in frames for interactive trims and moves; the
// input layer converts its pixel threshold before calling in.
type Ops struct {
	LookupClip    func(id string) (timeline.Clip, bool)
	SnapThreshold int64
}

// Split replaces a segment with two contiguous segments whose combined
// source range equals the original. The split point must be strictly inside
// the segment.
func (o *Ops) Split(t *timeline.Timeline, segmentID string, atFrame int64) (*timeline.Timeline, error) {
	ti, si, ok := t.FindSegment(segmentID)
	if !ok {
		return nil, ErrNotFound
	}
	seg := t.Tracks[ti].Segments[si]
	if atFrame <= seg.TimelineStart || atFrame >= seg.TimelineEnd {
		return nil, fmt.Errorf("split frame %d not strictly inside [%d, %d)", atFrame, seg.TimelineStart, seg.TimelineEnd)
	}

	offset := atFrame - seg.TimelineStart
	left := seg
	left.TimelineEnd = atFrame
	left.SourceOut = seg.SourceIn + offset

	right := seg
	right.ID = timeline.NewID()
	right.TimelineStart = atFrame
	right.SourceIn = seg.SourceIn + offset

	out := t.Clone()
	track := &out.Tracks[ti]
	track.Segments = append(track.Segments[:si], append([]timeline.Segment{left, right}, track.Segments[si+1:]...)...)
	return out, nil
}

// Trim moves one edge of a segment to newFrame. The frame is clamped to the
// clip's available source range and to the neighboring segment's edge; when
// snapping is requested, an edge within SnapThreshold of a neighbor edge
// snaps onto it.
func (o *Ops) Trim(t *timeline.Timeline, segmentID string, edge Edge, newFrame int64, snapping bool) (*timeline.Timeline, error) {
	ti, si, ok := t.FindSegment(segmentID)
	if !ok {
		return nil, ErrNotFound
	}
	track := t.Tracks[ti]
	seg := track.Segments[si]

	switch edge {
	case EdgeStart:
		// Neighbor to the left bounds how far the edge can extend.
		var lo int64 = 0
		if si > 0 {
			lo = track.Segments[si-1].TimelineEnd
		}
		// Extending left needs source material before SourceIn.
		if limit := seg.TimelineStart - seg.SourceIn; limit > lo {
			lo = limit
		}
		hi := seg.TimelineEnd - 1

		if snapping && si > 0 {
			newFrame = snapTo(newFrame, track.Segments[si-1].TimelineEnd, o.SnapThreshold)
		}
		newFrame = clamp(newFrame, lo, hi)

		delta := newFrame - seg.TimelineStart
		seg.TimelineStart = newFrame
		seg.SourceIn += delta

	case EdgeEnd:
		lo := seg.TimelineStart + 1
		hi := t.TotalFrames
		if si < len(track.Segments)-1 {
			hi = track.Segments[si+1].TimelineStart
		}
		// Extending right needs source material after SourceOut.
		if clip, ok := o.lookupClip(seg.ClipID); ok {
			if limit := seg.TimelineEnd + (clip.DurationFrames - seg.SourceOut); limit < hi {
				hi = limit
			}
		}

		if snapping && si < len(track.Segments)-1 {
			newFrame = snapTo(newFrame, track.Segments[si+1].TimelineStart, o.SnapThreshold)
		}
		newFrame = clamp(newFrame, lo, hi)

		delta := newFrame - seg.TimelineEnd
		seg.TimelineEnd = newFrame
		seg.SourceOut += delta

	default:
		return nil, fmt.Errorf("unknown trim edge %q", edge)
	}

	out := t.Clone()
	out.Tracks[ti].Segments[si] = seg
	return out, nil
}

// Delete removes a segment. With ripple, every later segment on the track
// shifts left by the removed duration so no gap remains.
func (o *Ops) Delete(t *timeline.Timeline, segmentID string, ripple bool) (*timeline.Timeline, error) {
	ti, si, ok := t.FindSegment(segmentID)
	if !ok {
		return nil, ErrNotFound
	}
	removed := t.Tracks[ti].Segments[si]

	out := t.Clone()
	track := &out.Tracks[ti]
	track.Segments = append(track.Segments[:si], track.Segments[si+1:]...)

	if ripple {
		d := removed.Duration()
		for i := si; i < len(track.Segments); i++ {
			track.Segments[i].TimelineStart -= d
			track.Segments[i].TimelineEnd -= d
		}
	}
	return out, nil
}

// Move relocates a segment to newStart on its own track. Positions that
// would overlap another segment are rejected with OverlapError.
func (o *Ops) Move(t *timeline.Timeline, segmentID string, newStart int64) (*timeline.Timeline, error) {
	ti, si, ok := t.FindSegment(segmentID)
	if !ok {
		return nil, ErrNotFound
	}
	seg := t.Tracks[ti].Segments[si]
	dur := seg.Duration()

	newStart = clamp(newStart, 0, t.TotalFrames-dur)
	newEnd := newStart + dur

	for _, other := range t.Tracks[ti].Segments {
		if other.ID == segmentID {
			continue
		}
		if newStart < other.TimelineEnd && other.TimelineStart < newEnd {
			return nil, &OverlapError{SegmentID: segmentID, OtherID: other.ID}
		}
	}

	seg.TimelineStart = newStart
	seg.TimelineEnd = newEnd

	out := t.Clone()
	track := &out.Tracks[ti]
	track.Segments[si] = seg
	sort.Slice(track.Segments, func(i, j int) bool {
		return track.Segments[i].TimelineStart < track.Segments[j].TimelineStart
	})
	return out, nil
}

// SnapStart returns the start frame a drag preview should show for the
// given desired position: neighbor edges within SnapThreshold win, and the
// result stays inside the timeline. Used live during drag-to-move; the
// final Move call commits whatever the preview showed.
func (o *Ops) SnapStart(t *timeline.Timeline, segmentID string, desiredStart int64) int64 {
	ti, si, ok := t.FindSegment(segmentID)
	if !ok {
		return desiredStart
	}
	seg := t.Tracks[ti].Segments[si]
	dur := seg.Duration()

	best := clamp(desiredStart, 0, t.TotalFrames-dur)
	for _, other := range t.Tracks[ti].Segments {
		if other.ID == segmentID {
			continue
		}
		// Snap leading edge to the neighbor's end, trailing edge to its start.
		if candidate := snapTo(best, other.TimelineEnd, o.SnapThreshold); candidate != best {
			best = candidate
		} else if candidate := snapTo(best+dur, other.TimelineStart, o.SnapThreshold) - dur; candidate != best {
			best = candidate
		}
	}
	return clamp(best, 0, t.TotalFrames-dur)
}

func (o *Ops) lookupClip(id string) (timeline.Clip, bool) {
	if o.LookupClip == nil {
		return timeline.Clip{}, false
	}
	return o.LookupClip(id)
}

func snapTo(v, target, threshold int64) int64 {
	d := v - target
	if d < 0 {
		d = -d
	}
	if d <= threshold {
		return target
	}
	return v
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
