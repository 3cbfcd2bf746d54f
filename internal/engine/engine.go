// Package engine owns the authoritative playback position of an editing
// session. The position is a continuous float frame counter advanced by a
// single tick loop; everything else (renderer, playback sync, the browser UI)
// is a one-way derived view fed from engine events.
package engine

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/frameloop/frameloop-agent/internal/timeline"
)

// EventKind labels an engine event.
type EventKind string

const (
	// EventFrame fires on every tick while playing.
	EventFrame EventKind = "frame"
	// EventSeeked fires after an explicit seek.
	EventSeeked EventKind = "seeked"
	// EventBoundary fires when the active segment of a track changes.
	EventBoundary EventKind = "boundary"
	// EventEnded fires once when the position reaches the end of the timeline.
	EventEnded EventKind = "ended"
	// EventTransport fires on play/pause transitions.
	EventTransport EventKind = "transport"
)

// Event is delivered to subscribers. Segment is set only for boundary events
// and is nil when the track entered a gap.
type Event struct {
	Kind    EventKind
	Frame   float64
	Playing bool
	TrackID string
	Segment *timeline.Segment
}

// DefaultTickInterval approximates one animation frame.
const DefaultTickInterval = 16 * time.Millisecond

// Engine is the single mutator of the current frame. One instance per
// editing session; construct it explicitly and pass it by reference.
type Engine struct {
	mu      sync.Mutex
	tl      *timeline.Timeline
	current float64
	playing bool
	active  map[string]*timeline.Segment // track ID -> active segment (nil = gap)

	ticking atomic.Bool // in-flight guard against re-entrant ticks

	subMu   sync.Mutex
	subs    map[int]func(Event)
	nextSub int

	logger *slog.Logger
}

// New creates an engine positioned at frame zero, paused.
func New(tl *timeline.Timeline, logger *slog.Logger) *Engine {
	e := &Engine{
		tl:     tl,
		active: make(map[string]*timeline.Segment),
		subs:   make(map[int]func(Event)),
		logger: logger,
	}
	e.recomputeActive(nil)
	return e
}

// Subscribe registers an event callback and returns its disposer. The
// disposer is safe to call more than once.
func (e *Engine) Subscribe(fn func(Event)) func() {
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.subMu.Lock()
			delete(e.subs, id)
			e.subMu.Unlock()
		})
	}
}

func (e *Engine) emit(events []Event) {
	if len(events) == 0 {
		return
	}
	e.subMu.Lock()
	fns := make([]func(Event), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.subMu.Unlock()

	for _, ev := range events {
		for _, fn := range fns {
			fn(ev)
		}
	}
}

// Play starts advancing the clock on subsequent ticks.
func (e *Engine) Play() {
	e.mu.Lock()
	if e.playing || e.current >= float64(e.tl.TotalFrames) {
		e.mu.Unlock()
		return
	}
	e.playing = true
	ev := Event{Kind: EventTransport, Frame: e.current, Playing: true}
	e.mu.Unlock()
	e.emit([]Event{ev})
}

// Pause stops the clock. The position is left untouched.
func (e *Engine) Pause() {
	e.mu.Lock()
	if !e.playing {
		e.mu.Unlock()
		return
	}
	e.playing = false
	ev := Event{Kind: EventTransport, Frame: e.current, Playing: false}
	e.mu.Unlock()
	e.emit([]Event{ev})
}

// Seek moves the clock to the given frame, clamped to [0, TotalFrames].
// The new position is observable from CurrentFrame before Seek returns.
func (e *Engine) Seek(frame float64) {
	e.mu.Lock()
	clamped := math.Min(math.Max(frame, 0), float64(e.tl.TotalFrames))
	e.current = clamped
	events := []Event{{Kind: EventSeeked, Frame: clamped, Playing: e.playing}}
	events = append(events, e.recomputeActive(nil)...)
	e.mu.Unlock()
	e.emit(events)
}

// Tick advances the clock by deltaMs of wall time. It is called once per
// scheduler frame; a tick that arrives while another is in flight is
// dropped so the clock can never double-advance.
func (e *Engine) Tick(deltaMs float64) {
	if !e.ticking.CompareAndSwap(false, true) {
		return
	}
	defer e.ticking.Store(false)

	e.mu.Lock()
	if !e.playing {
		e.mu.Unlock()
		return
	}

	e.current += deltaMs * e.tl.FPS / 1000.0

	var events []Event
	if e.current >= float64(e.tl.TotalFrames) {
		e.current = float64(e.tl.TotalFrames)
		e.playing = false
		events = append(events, Event{Kind: EventEnded, Frame: e.current})
	}
	events = append(events, e.recomputeActive(nil)...)
	events = append(events, Event{Kind: EventFrame, Frame: e.current, Playing: e.playing})
	e.mu.Unlock()
	e.emit(events)
}

// recomputeActive refreshes the per-track active segment and returns the
// boundary events for tracks whose active segment changed. Callers must
// hold e.mu.
func (e *Engine) recomputeActive(into []Event) []Event {
	frame := int64(math.Floor(e.current))
	if frame >= e.tl.TotalFrames && e.tl.TotalFrames > 0 {
		frame = e.tl.TotalFrames - 1
	}
	for _, tr := range e.tl.Tracks {
		var cur *timeline.Segment
		if seg, ok := e.tl.SegmentAt(tr.ID, frame); ok {
			segCopy := seg
			cur = &segCopy
		}
		// Compared by value, not ID: an edit can change a segment's bounds
		// or source mapping while keeping its identity, and that still has
		// to reach the subscribers.
		prev := e.active[tr.ID]
		if prev == nil && cur == nil {
			continue
		}
		if prev != nil && cur != nil && *prev == *cur {
			continue
		}
		e.active[tr.ID] = cur
		ev := Event{Kind: EventBoundary, Frame: e.current, Playing: e.playing, TrackID: tr.ID}
		if cur != nil {
			segCopy := *cur
			ev.Segment = &segCopy
		}
		into = append(into, ev)
	}
	return into
}

// CurrentFrame returns the continuous float position.
func (e *Engine) CurrentFrame() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// DisplayFrame derives the integer frame shown to the user. The float
// position is the source of truth; rounding happens only here, at the
// render boundary.
func (e *Engine) DisplayFrame() int64 {
	return int64(math.Floor(e.CurrentFrame()))
}

// Playing reports whether the clock is advancing.
func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

// ActiveSegment returns the segment under the playhead on the given track.
func (e *Engine) ActiveSegment(trackID string) (timeline.Segment, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	seg := e.active[trackID]
	if seg == nil {
		return timeline.Segment{}, false
	}
	return *seg, true
}

// Timeline returns the snapshot the engine is currently driving.
func (e *Engine) Timeline() *timeline.Timeline {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tl
}

// SwapTimeline installs a new edit snapshot. The position is clamped into
// the new bounds and active segments are recomputed against it.
func (e *Engine) SwapTimeline(tl *timeline.Timeline) {
	e.mu.Lock()
	e.tl = tl
	if e.current > float64(tl.TotalFrames) {
		e.current = float64(tl.TotalFrames)
	}
	next := make(map[string]*timeline.Segment, len(tl.Tracks))
	for _, tr := range tl.Tracks {
		next[tr.ID] = e.active[tr.ID]
	}
	e.active = next
	events := e.recomputeActive(nil)
	e.mu.Unlock()
	e.emit(events)
}

// Run drives Tick from a wall-clock ticker until the context is cancelled.
// This is the session's frame loop; deltas are measured, not assumed, so a
// late tick advances the clock by the time that actually passed.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			if e.logger != nil {
				e.logger.Debug("engine tick loop stopping")
			}
			return
		case now := <-ticker.C:
			delta := now.Sub(last)
			last = now
			e.Tick(float64(delta.Microseconds()) / 1000.0)
		}
	}
}
