package edit

import (
	"errors"
	"testing"

	"github.com/frameloop/frameloop-agent/internal/timeline"
)

var testClips = map[string]timeline.Clip{
	"c1": {ID: "c1", Backend: timeline.BackendHTML5, DurationFrames: 200},
	"c2": {ID: "c2", Backend: timeline.BackendHTML5, DurationFrames: 100},
}

func testOps() *Ops {
	return &Ops{
		LookupClip: func(id string) (timeline.Clip, bool) {
			c, ok := testClips[id]
			return c, ok
		},
		SnapThreshold: 5,
	}
}

func testTimeline(t *testing.T) *timeline.Timeline {
	t.Helper()
	tl := &timeline.Timeline{
		FPS:         30,
		TotalFrames: 600,
		Tracks: []timeline.Track{
			{
				ID: "v1",
				Segments: []timeline.Segment{
					{ID: "s1", ClipID: "c1", TrackID: "v1", TimelineStart: 0, TimelineEnd: 90, SourceIn: 0, SourceOut: 90},
					{ID: "s2", ClipID: "c2", TrackID: "v1", TimelineStart: 150, TimelineEnd: 210, SourceIn: 20, SourceOut: 80},
				},
			},
		},
	}
	if err := tl.Validate(); err != nil {
		t.Fatalf("fixture timeline invalid: %v", err)
	}
	return tl
}

func TestSplit(t *testing.T) {
	ops := testOps()
	tl := testTimeline(t)

	out, err := ops.Split(tl, "s1", 30)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if err := out.Validate(); err != nil {
		t.Fatalf("result invalid: %v", err)
	}

	segs := out.Tracks[0].Segments
	if len(segs) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segs))
	}

	left, right := segs[0], segs[1]
	if left.ID != "s1" {
		t.Errorf("left half should keep the original ID, got %s", left.ID)
	}
	if right.ID == "s1" || right.ID == "" {
		t.Errorf("right half should get a fresh ID, got %q", right.ID)
	}
	if left.TimelineStart != 0 || left.TimelineEnd != 30 || left.SourceIn != 0 || left.SourceOut != 30 {
		t.Errorf("left half wrong: %+v", left)
	}
	if right.TimelineStart != 30 || right.TimelineEnd != 90 || right.SourceIn != 30 || right.SourceOut != 90 {
		t.Errorf("right half wrong: %+v", right)
	}

	// The input snapshot must be untouched.
	if len(tl.Tracks[0].Segments) != 2 {
		t.Error("Split mutated the input snapshot")
	}
}

func TestSplitRejectsEdges(t *testing.T) {
	ops := testOps()
	tl := testTimeline(t)

	for _, frame := range []int64{0, 90, 100} {
		if _, err := ops.Split(tl, "s1", frame); err == nil {
			t.Errorf("Split at %d should be rejected", frame)
		}
	}
	if _, err := ops.Split(tl, "missing", 10); !errors.Is(err, ErrNotFound) {
		t.Errorf("Split on unknown segment: got %v, want ErrNotFound", err)
	}
}

func TestTrimEnd(t *testing.T) {
	ops := testOps()
	tl := testTimeline(t)

	// Shrinking the end leaves a gap; nothing else moves.
	out, err := ops.Trim(tl, "s1", EdgeEnd, 60, false)
	if err != nil {
		t.Fatalf("Trim() error = %v", err)
	}
	seg := out.Tracks[0].Segments[0]
	if seg.TimelineEnd != 60 || seg.SourceOut != 60 {
		t.Errorf("trimmed segment wrong: %+v", seg)
	}
	if next := out.Tracks[0].Segments[1]; next.TimelineStart != 150 {
		t.Errorf("later segment should not move, got start %d", next.TimelineStart)
	}
	if err := out.Validate(); err != nil {
		t.Fatalf("result invalid: %v", err)
	}
}

func TestTrimEndClampedToSource(t *testing.T) {
	ops := testOps()
	tl := testTimeline(t)

	// c1 has 200 frames and s1 uses [0, 90); extending the end can reach at
	// most 90 + 110 = frame 200 before running out of source material.
	out, err := ops.Trim(tl, "s1", EdgeEnd, 500, false)
	if err != nil {
		t.Fatalf("Trim() error = %v", err)
	}
	seg := out.Tracks[0].Segments[0]
	if seg.TimelineEnd != 150 {
		// Clamped by the neighbor at 150 first.
		t.Errorf("TimelineEnd = %d, want 150 (neighbor edge)", seg.TimelineEnd)
	}
	if seg.SourceOut != 150 {
		t.Errorf("SourceOut = %d, want 150", seg.SourceOut)
	}
}

func TestTrimStartClampedToSource(t *testing.T) {
	ops := testOps()
	tl := testTimeline(t)

	// s2 starts at source frame 20; it can extend left by at most 20 frames.
	out, err := ops.Trim(tl, "s2", EdgeStart, 100, false)
	if err != nil {
		t.Fatalf("Trim() error = %v", err)
	}
	seg := out.Tracks[0].Segments[1]
	if seg.TimelineStart != 130 || seg.SourceIn != 0 {
		t.Errorf("start trim wrong: start=%d source_in=%d, want 130/0", seg.TimelineStart, seg.SourceIn)
	}
}

func TestTrimSnapsToNeighbor(t *testing.T) {
	ops := testOps()
	tl := testTimeline(t)

	// 147 is within the snap threshold of s2's start at 150.
	out, err := ops.Trim(tl, "s1", EdgeEnd, 147, true)
	if err != nil {
		t.Fatalf("Trim() error = %v", err)
	}
	if got := out.Tracks[0].Segments[0].TimelineEnd; got != 150 {
		t.Errorf("TimelineEnd = %d, want snapped 150", got)
	}

	// Without snapping the raw frame is kept.
	out, err = ops.Trim(tl, "s1", EdgeEnd, 147, false)
	if err != nil {
		t.Fatalf("Trim() error = %v", err)
	}
	if got := out.Tracks[0].Segments[0].TimelineEnd; got != 147 {
		t.Errorf("TimelineEnd = %d, want raw 147", got)
	}
}

func TestDelete(t *testing.T) {
	ops := testOps()
	tl := testTimeline(t)

	out, err := ops.Delete(tl, "s1", false)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	segs := out.Tracks[0].Segments
	if len(segs) != 1 || segs[0].ID != "s2" {
		t.Fatalf("expected only s2 left, got %+v", segs)
	}
	if segs[0].TimelineStart != 150 {
		t.Errorf("plain delete should leave a gap, s2 moved to %d", segs[0].TimelineStart)
	}
}

func TestDeleteRipple(t *testing.T) {
	ops := testOps()
	tl := testTimeline(t)

	out, err := ops.Delete(tl, "s1", true)
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	seg := out.Tracks[0].Segments[0]
	if seg.TimelineStart != 60 || seg.TimelineEnd != 120 {
		t.Errorf("ripple should shift s2 left by 90: got [%d, %d)", seg.TimelineStart, seg.TimelineEnd)
	}
	if seg.SourceIn != 20 || seg.SourceOut != 80 {
		t.Errorf("ripple must not change the source range: %+v", seg)
	}
	if err := out.Validate(); err != nil {
		t.Fatalf("result invalid: %v", err)
	}
}

func TestMove(t *testing.T) {
	ops := testOps()
	tl := testTimeline(t)

	out, err := ops.Move(tl, "s1", 300)
	if err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	segs := out.Tracks[0].Segments
	// Ordering invariant: s2 now comes first.
	if segs[0].ID != "s2" || segs[1].ID != "s1" {
		t.Fatalf("segments not re-sorted: %s, %s", segs[0].ID, segs[1].ID)
	}
	if segs[1].TimelineStart != 300 || segs[1].TimelineEnd != 390 {
		t.Errorf("moved segment wrong: %+v", segs[1])
	}
	if err := out.Validate(); err != nil {
		t.Fatalf("result invalid: %v", err)
	}
}

func TestMoveRejectsOverlap(t *testing.T) {
	ops := testOps()
	tl := testTimeline(t)

	_, err := ops.Move(tl, "s1", 100)
	var overlap *OverlapError
	if !errors.As(err, &overlap) {
		t.Fatalf("Move into s2 should return OverlapError, got %v", err)
	}
	if overlap.SegmentID != "s1" || overlap.OtherID != "s2" {
		t.Errorf("OverlapError = %+v", overlap)
	}

	// Rejection leaves the input untouched.
	if tl.Tracks[0].Segments[0].TimelineStart != 0 {
		t.Error("rejected move mutated the snapshot")
	}
}

func TestMoveClampsToTimeline(t *testing.T) {
	ops := testOps()
	tl := testTimeline(t)

	out, err := ops.Move(tl, "s2", 10000)
	if err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	seg := out.Tracks[0].Segments[1]
	if seg.TimelineEnd != tl.TotalFrames {
		t.Errorf("TimelineEnd = %d, want clamped to %d", seg.TimelineEnd, tl.TotalFrames)
	}
}

func TestSnapStart(t *testing.T) {
	ops := testOps()
	tl := testTimeline(t)

	if got := ops.SnapStart(tl, "s2", 92); got != 90 {
		t.Errorf("SnapStart(92) = %d, want 90 (snap to s1 end)", got)
	}
	if got := ops.SnapStart(tl, "s2", 300); got != 300 {
		t.Errorf("SnapStart(300) = %d, want 300", got)
	}
	if got := ops.SnapStart(tl, "s2", -20); got != 0 {
		t.Errorf("SnapStart(-20) = %d, want 0", got)
	}
	if got := ops.SnapStart(tl, "s2", 10000); got != tl.TotalFrames-60 {
		t.Errorf("SnapStart(10000) = %d, want %d", got, tl.TotalFrames-60)
	}
}
