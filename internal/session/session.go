// Package session ties one open timeline to its engine, playback sync, and
// input controller, and serializes edits against the live snapshot.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/frameloop/frameloop-agent/internal/edit"
	"github.com/frameloop/frameloop-agent/internal/engine"
	"github.com/frameloop/frameloop-agent/internal/input"
	"github.com/frameloop/frameloop-agent/internal/playback"
	"github.com/frameloop/frameloop-agent/internal/render"
	"github.com/frameloop/frameloop-agent/internal/timeline"
)

// maxHistory bounds the undo stack; the oldest snapshot falls off first.
const maxHistory = 100

// Options configures a Session.
type Options struct {
	ID         string
	TimelineID string
	Timeline   *timeline.Timeline

	Factory    playback.BackendFactory
	LookupClip func(id string) (timeline.Clip, bool)

	StepFrames      int64
	SnapThresholdPx float64
	TickInterval    time.Duration

	// OnDirty fires after every committed edit, undo, or redo. The manager
	// hooks the debounced autosave here.
	OnDirty func()
	// OnLoadError surfaces backend load failures to the client.
	OnLoadError func(*playback.LoadError)

	Logger *slog.Logger
}

// Session is one open timeline. All edits funnel through apply, which runs
// them one at a time against the latest snapshot; concurrent edit requests
// queue on the session lock rather than racing each other.
type Session struct {
	ID         string
	TimelineID string

	engine     *engine.Engine
	sync       *playback.Sync
	controller *input.Controller

	opts   Options
	cancel context.CancelFunc
	detach func()

	mu        sync.Mutex
	ops       edit.Ops
	snapPx    float64
	undoStack []*timeline.Timeline
	redoStack []*timeline.Timeline
}

// New builds a session around an existing timeline snapshot. Start must be
// called before the engine clock advances.
func New(opts Options) *Session {
	s := &Session{
		ID:         opts.ID,
		TimelineID: opts.TimelineID,
		opts:       opts,
		snapPx:     opts.SnapThresholdPx,
		ops: edit.Ops{
			LookupClip: opts.LookupClip,
		},
	}
	s.engine = engine.New(opts.Timeline, opts.Logger)

	s.sync = playback.NewSync(playback.Config{
		FPS:        opts.Timeline.FPS,
		Factory:    opts.Factory,
		LookupClip: opts.LookupClip,
		OnError:    opts.OnLoadError,
		Logger:     opts.Logger,
	})
	s.detach = s.sync.Attach(s.engine)

	s.controller = input.NewController(s, s, opts.StepFrames)
	return s
}

// Start launches the engine frame loop. It returns once the loop goroutine
// is running; Close stops it.
func (s *Session) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	go s.engine.Run(ctx, s.opts.TickInterval)
}

// Close stops the frame loop and detaches the playback sync. Safe to call
// more than once.
func (s *Session) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.detach()
}

// Engine exposes the session clock for event subscriptions.
func (s *Session) Engine() *engine.Engine { return s.engine }

// Controller exposes the gesture state machine for the input transport.
func (s *Session) Controller() *input.Controller { return s.controller }

// Timeline returns the snapshot currently driving the engine.
func (s *Session) Timeline() *timeline.Timeline { return s.engine.Timeline() }

// SetViewport propagates the client's pixel mapping and rescales the
// magnetic snap threshold from pixels into frames at the new zoom.
func (s *Session) SetViewport(vp render.Viewport) {
	if vp.FPS == 0 {
		vp.FPS = s.engine.Timeline().FPS
	}
	s.controller.SetViewport(vp)

	s.mu.Lock()
	if ppf := vp.PixelsPerFrame(); ppf > 0 {
		s.ops.SnapThreshold = int64(math.Round(s.snapPx / ppf))
	}
	s.mu.Unlock()
}

// View derives the current render view-model. Smooth scrubber transitions
// are suppressed while playing or scrubbing.
func (s *Session) View(vp render.Viewport) render.View {
	smooth := !s.engine.Playing() && !s.controller.Scrubbing()
	return render.Build(s.engine.Timeline(), vp, s.engine.CurrentFrame(), smooth)
}

// apply runs one edit against the latest snapshot and commits the result:
// the old snapshot goes on the undo stack, the redo stack is cleared, and
// the engine swaps to the new snapshot.
func (s *Session) apply(op func(*timeline.Timeline) (*timeline.Timeline, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.engine.Timeline()
	next, err := op(prev)
	if err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}

	s.undoStack = append(s.undoStack, prev)
	if len(s.undoStack) > maxHistory {
		s.undoStack = s.undoStack[1:]
	}
	s.redoStack = nil

	s.engine.SwapTimeline(next)
	s.markDirty()
	return nil
}

// Split divides a segment at the given frame.
func (s *Session) Split(segmentID string, atFrame int64) error {
	return s.apply(func(t *timeline.Timeline) (*timeline.Timeline, error) {
		return s.ops.Split(t, segmentID, atFrame)
	})
}

// Trim moves one segment edge, optionally snapping to neighbor edges.
func (s *Session) Trim(segmentID string, edge edit.Edge, newFrame int64, snapping bool) error {
	return s.apply(func(t *timeline.Timeline) (*timeline.Timeline, error) {
		return s.ops.Trim(t, segmentID, edge, newFrame, snapping)
	})
}

// DeleteSegment removes a segment, rippling later segments left if asked.
func (s *Session) DeleteSegment(segmentID string, ripple bool) error {
	return s.apply(func(t *timeline.Timeline) (*timeline.Timeline, error) {
		return s.ops.Delete(t, segmentID, ripple)
	})
}

// Move relocates a segment on its track.
func (s *Session) Move(segmentID string, newStart int64) error {
	return s.apply(func(t *timeline.Timeline) (*timeline.Timeline, error) {
		return s.ops.Move(t, segmentID, newStart)
	})
}

// InsertSegment places a clip range onto a track at the given start frame.
func (s *Session) InsertSegment(trackID, clipID string, start, sourceIn, sourceOut int64) (string, error) {
	seg := timeline.Segment{
		ID:            timeline.NewID(),
		ClipID:        clipID,
		TrackID:       trackID,
		TimelineStart: start,
		TimelineEnd:   start + (sourceOut - sourceIn),
		SourceIn:      sourceIn,
		SourceOut:     sourceOut,
	}
	err := s.apply(func(t *timeline.Timeline) (*timeline.Timeline, error) {
		return insert(t, trackID, seg)
	})
	if err != nil {
		return "", err
	}
	return seg.ID, nil
}

// SnapStart implements the input layer's live drag preview.
func (s *Session) SnapStart(segmentID string, desiredStart int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ops.SnapStart(s.engine.Timeline(), segmentID, desiredStart)
}

// SegmentStart reports a segment's current start frame.
func (s *Session) SegmentStart(segmentID string) (int64, bool) {
	t := s.engine.Timeline()
	ti, si, ok := t.FindSegment(segmentID)
	if !ok {
		return 0, false
	}
	return t.Tracks[ti].Segments[si].TimelineStart, true
}

// Undo restores the previous snapshot. Returns false when the stack is empty.
func (s *Session) Undo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.undoStack) == 0 {
		return false
	}
	prev := s.undoStack[len(s.undoStack)-1]
	s.undoStack = s.undoStack[:len(s.undoStack)-1]
	s.redoStack = append(s.redoStack, s.engine.Timeline())

	s.engine.SwapTimeline(prev)
	s.markDirty()
	return true
}

// Redo reapplies the last undone snapshot.
func (s *Session) Redo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.redoStack) == 0 {
		return false
	}
	next := s.redoStack[len(s.redoStack)-1]
	s.redoStack = s.redoStack[:len(s.redoStack)-1]
	s.undoStack = append(s.undoStack, s.engine.Timeline())

	s.engine.SwapTimeline(next)
	s.markDirty()
	return true
}

// HistoryDepth reports the undo and redo stack sizes, for the status surface.
func (s *Session) HistoryDepth() (undo, redo int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.undoStack), len(s.redoStack)
}

func (s *Session) markDirty() {
	if s.opts.OnDirty != nil {
		s.opts.OnDirty()
	}
}

// Transport implementation, delegated to the engine.

func (s *Session) Play()                 { s.engine.Play() }
func (s *Session) Pause()                { s.engine.Pause() }
func (s *Session) Playing() bool         { return s.engine.Playing() }
func (s *Session) Seek(frame float64)    { s.engine.Seek(frame) }
func (s *Session) CurrentFrame() float64 { return s.engine.CurrentFrame() }

// insert clones the snapshot with seg added to trackID in start order. The
// caller's Validate pass rejects overlaps and out-of-bounds placements.
func insert(t *timeline.Timeline, trackID string, seg timeline.Segment) (*timeline.Timeline, error) {
	out := t.Clone()
	track := out.Track(trackID)
	if track == nil {
		return nil, fmt.Errorf("track %s not found", trackID)
	}

	pos := len(track.Segments)
	for i, other := range track.Segments {
		if other.TimelineStart > seg.TimelineStart {
			pos = i
			break
		}
	}
	track.Segments = append(track.Segments[:pos], append([]timeline.Segment{seg}, track.Segments[pos:]...)...)
	return out, nil
}
