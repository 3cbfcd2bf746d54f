// Package input turns pointer and keyboard gestures from the frontend into
// engine and edit commands. It owns the transient interaction state
// (scrubbing, drag preview, mark in/out) that belongs to neither the engine
// nor the edit log.
package input

import (
	"sync"

	"github.com/frameloop/frameloop-agent/internal/render"
)

// Transport is the slice of the engine the input layer drives.
type Transport interface {
	Play()
	Pause()
	Playing() bool
	Seek(frame float64)
	CurrentFrame() float64
}

// Editor is the slice of the editing session the input layer drives.
type Editor interface {
	Move(segmentID string, newStart int64) error
	Split(segmentID string, atFrame int64) error
	SnapStart(segmentID string, desiredStart int64) int64
	SegmentStart(segmentID string) (int64, bool)
}

// Key names understood by HandleKey. These match the frontend's key map.
const (
	KeySpace      = "space"
	KeyArrowLeft  = "left"
	KeyArrowRight = "right"
	KeyMarkIn     = "mark_in"
	KeyMarkOut    = "mark_out"
)

// Controller is one session's gesture state machine.
type Controller struct {
	transport Transport
	editor    Editor

	mu       sync.Mutex
	viewport render.Viewport

	stepFrames int64

	scrubbing  bool
	wasPlaying bool

	dragSegment string
	dragOffset  int64 // frames between pointer and segment start at grab time
	dragPreview int64
	dragging    bool

	markIn  int64
	markOut int64
	hasIn   bool
	hasOut  bool
}

// NewController builds a controller. stepFrames is the arrow-key increment.
func NewController(transport Transport, editor Editor, stepFrames int64) *Controller {
	if stepFrames <= 0 {
		stepFrames = 1
	}
	return &Controller{transport: transport, editor: editor, stepFrames: stepFrames}
}

// SetViewport updates the pixel/frame mapping after the client scrolls,
// zooms, or resizes.
func (c *Controller) SetViewport(vp render.Viewport) {
	c.mu.Lock()
	c.viewport = vp
	c.mu.Unlock()
}

// Scrubbing reports whether a pointer scrub is in progress; the renderer
// must not apply seek transitions while this is true.
func (c *Controller) Scrubbing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scrubbing
}

// ScrubStart enters scrubbing mode: the engine is paused and the playhead
// follows the pointer until ScrubEnd.
func (c *Controller) ScrubStart(pointerX float64) {
	c.mu.Lock()
	c.scrubbing = true
	c.wasPlaying = c.transport.Playing()
	frame := c.viewport.PixelToFrame(pointerX)
	c.mu.Unlock()

	c.transport.Pause()
	c.transport.Seek(frame)
}

// ScrubMove drives the playhead directly from pointer x via the inverse
// pixel mapping.
func (c *Controller) ScrubMove(pointerX float64) {
	c.mu.Lock()
	if !c.scrubbing {
		c.mu.Unlock()
		return
	}
	frame := c.viewport.PixelToFrame(pointerX)
	c.mu.Unlock()

	c.transport.Seek(frame)
}

// ScrubEnd leaves scrubbing mode and restores the prior play/pause state.
func (c *Controller) ScrubEnd() {
	c.mu.Lock()
	if !c.scrubbing {
		c.mu.Unlock()
		return
	}
	c.scrubbing = false
	resume := c.wasPlaying
	c.mu.Unlock()

	if resume {
		c.transport.Play()
	}
}

// DragStart grabs a segment for drag-to-move. The pointer's offset into the
// segment is kept so the segment doesn't jump under the cursor.
func (c *Controller) DragStart(segmentID string, pointerX float64) bool {
	start, ok := c.editor.SegmentStart(segmentID)
	if !ok {
		return false
	}
	c.mu.Lock()
	c.dragging = true
	c.dragSegment = segmentID
	c.dragOffset = int64(c.viewport.PixelToFrame(pointerX)) - start
	c.dragPreview = start
	c.mu.Unlock()
	return true
}

// DragMove updates the live snap preview and returns the previewed start
// frame for the frontend to draw.
func (c *Controller) DragMove(pointerX float64) (int64, bool) {
	c.mu.Lock()
	if !c.dragging {
		c.mu.Unlock()
		return 0, false
	}
	desired := int64(c.viewport.PixelToFrame(pointerX)) - c.dragOffset
	seg := c.dragSegment
	c.mu.Unlock()

	preview := c.editor.SnapStart(seg, desired)

	c.mu.Lock()
	c.dragPreview = preview
	c.mu.Unlock()
	return preview, true
}

// DragEnd commits the previewed move. A rejected move (overlap) leaves the
// snapshot untouched and surfaces the error to the caller for inline UI
// feedback.
func (c *Controller) DragEnd() error {
	c.mu.Lock()
	if !c.dragging {
		c.mu.Unlock()
		return nil
	}
	c.dragging = false
	seg := c.dragSegment
	target := c.dragPreview
	c.mu.Unlock()

	return c.editor.Move(seg, target)
}

// HandleKey maps a key to its command. Unknown keys are ignored.
func (c *Controller) HandleKey(key string) {
	switch key {
	case KeySpace:
		if c.transport.Playing() {
			c.transport.Pause()
		} else {
			c.transport.Play()
		}
	case KeyArrowLeft:
		c.transport.Seek(c.transport.CurrentFrame() - float64(c.stepFrames))
	case KeyArrowRight:
		c.transport.Seek(c.transport.CurrentFrame() + float64(c.stepFrames))
	case KeyMarkIn:
		c.mu.Lock()
		c.markIn = int64(c.transport.CurrentFrame())
		c.hasIn = true
		c.mu.Unlock()
	case KeyMarkOut:
		c.mu.Lock()
		c.markOut = int64(c.transport.CurrentFrame())
		c.hasOut = true
		c.mu.Unlock()
	}
}

// Selection returns the pending mark-in/mark-out range once both marks are
// set and ordered. It is consumed by split and export flows.
func (c *Controller) Selection() (in, out int64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasIn || !c.hasOut || c.markOut <= c.markIn {
		return 0, 0, false
	}
	return c.markIn, c.markOut, true
}

// ClearSelection drops the pending marks.
func (c *Controller) ClearSelection() {
	c.mu.Lock()
	c.hasIn = false
	c.hasOut = false
	c.mu.Unlock()
}
