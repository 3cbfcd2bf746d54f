package playback

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/frameloop/frameloop-agent/internal/engine"
	"github.com/frameloop/frameloop-agent/internal/timeline"
)

var testClips = map[string]timeline.Clip{
	"c1": {ID: "c1", SourceURL: "file:///a.mp4", Backend: timeline.BackendHTML5, DurationFrames: 600},
	"c2": {ID: "c2", SourceURL: "file:///b.mp4", Backend: timeline.BackendHTML5, DurationFrames: 600},
}

func lookupClip(id string) (timeline.Clip, bool) {
	c, ok := testClips[id]
	return c, ok
}

// fakeBackend records calls. When loadCh or seekCh is non-nil the call
// blocks until the test sends the error to return.
type fakeBackend struct {
	mu         sync.Mutex
	loadCalls  []string
	seekCalls  []float64
	playCount  int
	pauseCount int

	loadCh chan error
	seekCh chan error
}

func (b *fakeBackend) Load(ctx context.Context, url string) error {
	b.mu.Lock()
	b.loadCalls = append(b.loadCalls, url)
	ch := b.loadCh
	b.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *fakeBackend) Seek(ctx context.Context, seconds float64) error {
	b.mu.Lock()
	b.seekCalls = append(b.seekCalls, seconds)
	ch := b.seekCh
	b.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *fakeBackend) Play() {
	b.mu.Lock()
	b.playCount++
	b.mu.Unlock()
}

func (b *fakeBackend) Pause() {
	b.mu.Lock()
	b.pauseCount++
	b.mu.Unlock()
}

func (b *fakeBackend) CurrentTime() float64 { return 0 }

func (b *fakeBackend) loads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.loadCalls)
}

func (b *fakeBackend) seeks() []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]float64(nil), b.seekCalls...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// One track, two segments of different clips with a gap between them.
// Frame zero sits in a gap so a sync attached to a fresh engine starts cold.
func syncTimeline(t *testing.T) *timeline.Timeline {
	t.Helper()
	tl := &timeline.Timeline{
		FPS:         30,
		TotalFrames: 600,
		Tracks: []timeline.Track{
			{
				ID: "v1",
				Segments: []timeline.Segment{
					{ID: "s1", ClipID: "c1", TrackID: "v1", TimelineStart: 30, TimelineEnd: 90, SourceIn: 0, SourceOut: 60},
					{ID: "s2", ClipID: "c2", TrackID: "v1", TimelineStart: 120, TimelineEnd: 300, SourceIn: 30, SourceOut: 210},
				},
			},
		},
	}
	if err := tl.Validate(); err != nil {
		t.Fatalf("fixture timeline invalid: %v", err)
	}
	return tl
}

func TestTargetSeconds(t *testing.T) {
	seg := timeline.Segment{TimelineStart: 90, TimelineEnd: 300, SourceIn: 30, SourceOut: 240}

	tests := []struct {
		frame float64
		want  float64
	}{
		{90, 1.0},              // segment start maps to its source in-point
		{100, (100 - 90 + 30) / 30.0},
		{120, 2.0},
	}
	for _, tt := range tests {
		if got := TargetSeconds(seg, tt.frame, 30); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("TargetSeconds(%v) = %v, want %v", tt.frame, got, tt.want)
		}
	}
}

func TestAttachLoadsActiveSegment(t *testing.T) {
	tl := syncTimeline(t)
	e := engine.New(tl, nil)
	e.Seek(40) // inside s1, before anyone is subscribed

	backend := &fakeBackend{}
	s := NewSync(Config{
		FPS:        tl.FPS,
		Factory:    func(kind timeline.BackendKind) Backend { return backend },
		LookupClip: lookupClip,
	})
	defer s.Attach(e)()

	waitFor(t, "initial segment loaded", func() bool { return s.State("v1") == StatePaused })
	if backend.loads() != 1 {
		t.Errorf("loads = %d, want 1 for the segment under the playhead at attach", backend.loads())
	}
	seeks := backend.seeks()
	want := TargetSeconds(tl.Tracks[0].Segments[0], 40, tl.FPS)
	if len(seeks) != 1 || math.Abs(seeks[0]-want) > 1e-9 {
		t.Errorf("seeks = %v, want [%v]", seeks, want)
	}

	e.Play()
	waitFor(t, "backend playing", func() bool { return s.State("v1") == StatePlaying })
}

func TestBoundaryLoadsAndSeeks(t *testing.T) {
	tl := syncTimeline(t)
	e := engine.New(tl, nil)

	backend := &fakeBackend{}
	s := NewSync(Config{
		FPS:        tl.FPS,
		Factory:    func(kind timeline.BackendKind) Backend { return backend },
		LookupClip: lookupClip,
	})
	defer s.Attach(e)()

	e.Seek(130)

	waitFor(t, "backend paused", func() bool { return s.State("v1") == StatePaused })
	if backend.loads() != 1 {
		t.Errorf("loads = %d, want 1", backend.loads())
	}
	seeks := backend.seeks()
	want := TargetSeconds(tl.Tracks[0].Segments[1], 130, tl.FPS)
	if len(seeks) != 1 || math.Abs(seeks[0]-want) > 1e-9 {
		t.Errorf("seeks = %v, want [%v]", seeks, want)
	}
}

func TestSeekWithinSegmentSkipsReload(t *testing.T) {
	tl := syncTimeline(t)
	e := engine.New(tl, nil)

	backend := &fakeBackend{}
	s := NewSync(Config{
		FPS:        tl.FPS,
		Factory:    func(kind timeline.BackendKind) Backend { return backend },
		LookupClip: lookupClip,
	})
	defer s.Attach(e)()

	e.Seek(130)
	waitFor(t, "first seek applied", func() bool { return len(backend.seeks()) == 1 })

	e.Seek(200)
	waitFor(t, "second seek applied", func() bool { return len(backend.seeks()) == 2 })

	if backend.loads() != 1 {
		t.Errorf("seek within the segment reloaded the backend (%d loads)", backend.loads())
	}
}

func TestStaleCompletionDiscarded(t *testing.T) {
	tl := syncTimeline(t)
	e := engine.New(tl, nil)

	backend := &fakeBackend{loadCh: make(chan error), seekCh: make(chan error)}
	var errMu sync.Mutex
	var loadErrs []*LoadError
	s := NewSync(Config{
		FPS:        tl.FPS,
		Factory:    func(kind timeline.BackendKind) Backend { return backend },
		LookupClip: lookupClip,
		OnError: func(le *LoadError) {
			errMu.Lock()
			loadErrs = append(loadErrs, le)
			errMu.Unlock()
		},
	})
	defer s.Attach(e)()

	// First dispatch blocks in Load.
	e.Seek(130)
	waitFor(t, "load started", func() bool { return backend.loads() == 1 })

	// Second seek supersedes it; its dispatch blocks in Seek.
	e.Seek(200)
	waitFor(t, "superseding seek started", func() bool { return len(backend.seeks()) == 1 })

	// The first dispatch now fails, but its generation is stale: the error
	// must be dropped without a callback or a failure mark.
	backend.loadCh <- context.DeadlineExceeded

	// The second dispatch succeeds and wins.
	backend.seekCh <- nil
	waitFor(t, "backend paused", func() bool { return s.State("v1") == StatePaused })

	errMu.Lock()
	defer errMu.Unlock()
	if len(loadErrs) != 0 {
		t.Errorf("stale failure surfaced %d load errors", len(loadErrs))
	}
}

func TestLoadFailureRetriesOnceThenDisables(t *testing.T) {
	tl := syncTimeline(t)
	e := engine.New(tl, nil)

	backend := &fakeBackend{loadCh: make(chan error, 1)}
	var errMu sync.Mutex
	var loadErrs []*LoadError
	s := NewSync(Config{
		FPS:        tl.FPS,
		Factory:    func(kind timeline.BackendKind) Backend { return backend },
		LookupClip: lookupClip,
		OnError: func(le *LoadError) {
			errMu.Lock()
			loadErrs = append(loadErrs, le)
			errMu.Unlock()
		},
	})
	defer s.Attach(e)()

	errCount := func() int {
		errMu.Lock()
		defer errMu.Unlock()
		return len(loadErrs)
	}

	// Attempt 1 fails.
	backend.loadCh <- context.DeadlineExceeded
	e.Seek(130)
	waitFor(t, "first failure", func() bool { return errCount() == 1 })

	// Attempt 2 at the next boundary crossing fails too.
	backend.loadCh <- context.DeadlineExceeded
	e.Seek(100) // out to the gap
	e.Seek(130) // and back
	waitFor(t, "second failure", func() bool { return errCount() == 2 })

	// Third crossing: the segment is disabled, no further load attempts.
	e.Seek(100)
	e.Seek(130)
	time.Sleep(20 * time.Millisecond)
	if backend.loads() != 2 {
		t.Errorf("loads = %d, want 2 (segment disabled after retries)", backend.loads())
	}

	// The engine clock is untouched by backend failures.
	if got := e.CurrentFrame(); got != 130 {
		t.Errorf("engine position = %v, want 130", got)
	}
	if loadErrs[0].Segment.ID != "s2" || loadErrs[0].TrackID != "v1" {
		t.Errorf("LoadError = %+v", loadErrs[0])
	}
}

func TestTransportDrivesBackends(t *testing.T) {
	tl := syncTimeline(t)
	e := engine.New(tl, nil)

	backend := &fakeBackend{}
	s := NewSync(Config{
		FPS:        tl.FPS,
		Factory:    func(kind timeline.BackendKind) Backend { return backend },
		LookupClip: lookupClip,
	})
	defer s.Attach(e)()

	e.Seek(130)
	waitFor(t, "backend paused", func() bool { return s.State("v1") == StatePaused })

	e.Play()
	waitFor(t, "backend playing", func() bool { return s.State("v1") == StatePlaying })

	e.Pause()
	waitFor(t, "backend paused again", func() bool { return s.State("v1") == StatePaused })

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if backend.playCount == 0 {
		t.Error("backend never received Play")
	}
	if backend.pauseCount == 0 {
		t.Error("backend never received Pause")
	}
}

func TestCrossClipBoundarySilencesOldBackend(t *testing.T) {
	tl := syncTimeline(t)
	e := engine.New(tl, nil)

	var mu sync.Mutex
	var backends []*fakeBackend
	s := NewSync(Config{
		FPS: tl.FPS,
		Factory: func(kind timeline.BackendKind) Backend {
			mu.Lock()
			defer mu.Unlock()
			b := &fakeBackend{}
			backends = append(backends, b)
			return b
		},
		LookupClip: lookupClip,
	})
	defer s.Attach(e)()

	nth := func(i int) *fakeBackend {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(backends) {
			return nil
		}
		return backends[i]
	}

	e.Seek(130) // into s2 (clip c2)
	e.Play()
	waitFor(t, "first backend playing", func() bool { return s.State("v1") == StatePlaying })

	e.Seek(40) // into s1 (clip c1), replacing the backend
	waitFor(t, "second backend created", func() bool { return nth(1) != nil })
	waitFor(t, "second backend playing", func() bool { return s.State("v1") == StatePlaying && nth(1).loads() == 1 })

	first := nth(0)
	first.mu.Lock()
	defer first.mu.Unlock()
	if first.pauseCount == 0 {
		t.Error("superseded backend was never paused")
	}
}

func TestTrimmedSegmentRemapsSeeks(t *testing.T) {
	tl := syncTimeline(t)
	e := engine.New(tl, nil)

	backend := &fakeBackend{}
	s := NewSync(Config{
		FPS:        tl.FPS,
		Factory:    func(kind timeline.BackendKind) Backend { return backend },
		LookupClip: lookupClip,
	})
	defer s.Attach(e)()

	e.Seek(130)
	waitFor(t, "initial seek applied", func() bool { return len(backend.seeks()) == 1 })

	// Trim s2's source mapping in place: same ID, same clip, new in-point.
	trimmed := syncTimeline(t)
	trimmed.Tracks[0].Segments[1].SourceIn = 60
	trimmed.Tracks[0].Segments[1].SourceOut = 240
	if err := trimmed.Validate(); err != nil {
		t.Fatalf("trimmed fixture invalid: %v", err)
	}
	e.SwapTimeline(trimmed)

	waitFor(t, "remapped seek applied", func() bool { return len(backend.seeks()) == 2 })
	if backend.loads() != 1 {
		t.Errorf("trim of the live segment reloaded the backend (%d loads)", backend.loads())
	}
	want := TargetSeconds(trimmed.Tracks[0].Segments[1], 130, tl.FPS)
	if got := backend.seeks()[1]; math.Abs(got-want) > 1e-9 {
		t.Errorf("post-trim seek = %v, want %v", got, want)
	}

	// In-segment seeks after the trim use the new mapping too.
	e.Seek(150)
	waitFor(t, "in-segment seek applied", func() bool { return len(backend.seeks()) == 3 })
	want = TargetSeconds(trimmed.Tracks[0].Segments[1], 150, tl.FPS)
	if got := backend.seeks()[2]; math.Abs(got-want) > 1e-9 {
		t.Errorf("in-segment seek after trim = %v, want %v", got, want)
	}
}

func TestGapPausesBackend(t *testing.T) {
	tl := syncTimeline(t)
	e := engine.New(tl, nil)

	backend := &fakeBackend{}
	s := NewSync(Config{
		FPS:        tl.FPS,
		Factory:    func(kind timeline.BackendKind) Backend { return backend },
		LookupClip: lookupClip,
	})
	defer s.Attach(e)()

	e.Seek(130)
	waitFor(t, "backend loaded", func() bool { return backend.loads() == 1 })

	e.Seek(100)
	waitFor(t, "backend paused in gap", func() bool { return s.State("v1") == StatePaused })

	if backend.loads() != 1 {
		t.Errorf("entering a gap should not reload, loads = %d", backend.loads())
	}
}
