// Package playback reconciles the engine's authoritative frame position to
// concrete video backends. Backends are injected behind a small capability
// interface; nothing in here knows about DOM nodes or player SDKs.
package playback

import (
	"context"

	"github.com/frameloop/frameloop-agent/internal/timeline"
)

// Backend is the capability interface over a specific underlying player
// (HTML5 element, YouTube IFrame API). Load and Seek may be slow and
// network-bound; both are context-bound so a teardown cancels them.
type Backend interface {
	Load(ctx context.Context, url string) error
	Seek(ctx context.Context, seconds float64) error
	Play()
	Pause()
	CurrentTime() float64
}

// BackendFactory creates a backend instance for a clip's player kind.
type BackendFactory func(kind timeline.BackendKind) Backend

// TargetSeconds maps a timeline frame to the backend's media time for a
// segment: the offset into the segment plus its source in-point, in seconds.
func TargetSeconds(seg timeline.Segment, frame float64, fps float64) float64 {
	return (frame - float64(seg.TimelineStart) + float64(seg.SourceIn)) / fps
}

// State of one track's backend reconciliation.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
)
