package playback

import (
	"context"
	"log/slog"
	"sync"

	"github.com/frameloop/frameloop-agent/internal/engine"
	"github.com/frameloop/frameloop-agent/internal/timeline"
)

// maxLoadAttempts bounds retries per segment: the initial load plus one
// retry at a later boundary crossing. After that the track stays on the
// engine's wall-clock fallback until an edit or seek changes the segment.
const maxLoadAttempts = 2

// LoadError is reported through the error callback when a backend fails to
// load or seek a segment. The engine keeps advancing regardless; preview
// never freezes on a dead backend.
type LoadError struct {
	TrackID string
	Segment timeline.Segment
	Err     error
}

func (e *LoadError) Error() string {
	return "backend load failed for segment " + e.Segment.ID + ": " + e.Err.Error()
}

func (e *LoadError) Unwrap() error { return e.Err }

// Config wires a Sync.
type Config struct {
	FPS        float64
	Factory    BackendFactory
	LookupClip func(id string) (timeline.Clip, bool)
	OnError    func(*LoadError)
	Logger     *slog.Logger
}

// Sync drives one backend per track in lockstep with the engine. It is a
// read-only consumer of engine events; it never writes engine state back.
type Sync struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	tracks map[string]*trackState
}

type trackState struct {
	state   State
	backend Backend
	clipID  string
	url     string
	seg     *timeline.Segment
	wantHot bool // engine is playing

	// generation tags every async load/seek; only the completion whose tag
	// still matches is applied, stale ones are dropped silently.
	generation uint64
	failures   map[string]int
}

// NewSync builds a Sync. Attach hooks it to an engine.
func NewSync(cfg Config) *Sync {
	ctx, cancel := context.WithCancel(context.Background())
	return &Sync{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		tracks: make(map[string]*trackState),
	}
}

// Attach subscribes to the engine and returns a disposer that detaches the
// subscription and cancels any in-flight backend operations.
func (s *Sync) Attach(e *engine.Engine) func() {
	unsubscribe := e.Subscribe(s.handleEvent)

	// The segment already under the playhead fired its boundary event
	// before anyone was subscribed. Prime every track from the engine's
	// current state so the first segment loads like any other.
	frame := e.CurrentFrame()
	playing := e.Playing()
	for _, tr := range e.Timeline().Tracks {
		var seg *timeline.Segment
		if active, ok := e.ActiveSegment(tr.ID); ok {
			segCopy := active
			seg = &segCopy
		}
		s.handleBoundary(tr.ID, seg, frame, playing)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubscribe()
			s.cancel()
		})
	}
}

func (s *Sync) handleEvent(ev engine.Event) {
	switch ev.Kind {
	case engine.EventBoundary:
		s.handleBoundary(ev.TrackID, ev.Segment, ev.Frame, ev.Playing)
	case engine.EventSeeked:
		s.handleSeeked(ev.Frame, ev.Playing)
	case engine.EventTransport:
		s.handleTransport(ev.Playing)
	case engine.EventEnded:
		s.handleTransport(false)
	}
}

// State returns the reconciliation state of a track, for status surfaces.
func (s *Sync) State(trackID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.tracks[trackID]
	if !ok {
		return StateIdle
	}
	return ts.state
}

func (s *Sync) track(trackID string) *trackState {
	ts, ok := s.tracks[trackID]
	if !ok {
		ts = &trackState{state: StateIdle, failures: make(map[string]int)}
		s.tracks[trackID] = ts
	}
	return ts
}

func (s *Sync) handleBoundary(trackID string, seg *timeline.Segment, frame float64, playing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.track(trackID)
	ts.seg = seg
	ts.wantHot = playing

	if seg == nil {
		// Entered a gap: silence the backend but keep it loaded for reuse.
		if ts.backend != nil {
			ts.backend.Pause()
			ts.state = StatePaused
		}
		return
	}

	if ts.failures[seg.ID] >= maxLoadAttempts {
		if s.cfg.Logger != nil {
			s.cfg.Logger.Warn("segment backend disabled after retries, staying on fallback clock",
				"track_id", trackID, "segment_id", seg.ID)
		}
		return
	}

	clip, ok := s.cfg.LookupClip(seg.ClipID)
	if !ok {
		if s.cfg.Logger != nil {
			s.cfg.Logger.Error("segment references unknown clip", "segment_id", seg.ID, "clip_id", seg.ClipID)
		}
		return
	}

	target := TargetSeconds(*seg, frame, s.cfg.FPS)

	// Same clip and URL as the live backend: seek-only, skip the reload.
	reuse := ts.backend != nil && ts.clipID == seg.ClipID && ts.url == clip.SourceURL
	if !reuse {
		if s.cfg.Factory == nil {
			// No backend transport wired (e.g. headless session before a
			// client attaches); the engine clock alone carries playback.
			return
		}
		if ts.backend != nil {
			// The superseded player gets no further commands; silence it
			// before it is dropped.
			ts.backend.Pause()
		}
		ts.backend = s.cfg.Factory(clip.Backend)
		ts.clipID = seg.ClipID
		ts.url = clip.SourceURL
	}

	ts.state = StateLoading
	ts.generation++
	s.dispatch(trackID, ts, *seg, clip.SourceURL, !reuse, target, ts.generation)
}

func (s *Sync) handleSeeked(frame float64, playing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for trackID, ts := range s.tracks {
		ts.wantHot = playing
		if ts.seg == nil || ts.backend == nil || !ts.seg.Contains(int64(frame)) {
			// A segment change rides in on its own boundary event.
			continue
		}
		target := TargetSeconds(*ts.seg, frame, s.cfg.FPS)
		ts.state = StateLoading
		ts.generation++
		s.dispatch(trackID, ts, *ts.seg, ts.url, false, target, ts.generation)
	}
}

func (s *Sync) handleTransport(playing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ts := range s.tracks {
		ts.wantHot = playing
		if ts.backend == nil {
			continue
		}
		switch ts.state {
		case StatePlaying, StateReady, StatePaused:
			if playing {
				ts.backend.Play()
				ts.state = StatePlaying
			} else {
				ts.backend.Pause()
				ts.state = StatePaused
			}
		}
	}
}

// dispatch runs the async load/seek. Callers hold s.mu; the goroutine
// re-acquires it before applying the completion.
func (s *Sync) dispatch(trackID string, ts *trackState, seg timeline.Segment, url string, needLoad bool, target float64, gen uint64) {
	backend := ts.backend
	go func() {
		var err error
		if needLoad {
			err = backend.Load(s.ctx, url)
		}
		if err == nil {
			err = backend.Seek(s.ctx, target)
		}

		s.mu.Lock()
		if ts.generation != gen {
			// Superseded by a newer seek or boundary; drop silently.
			s.mu.Unlock()
			return
		}
		if err != nil {
			// A failed backend is not reused; the retry starts from a fresh
			// Load instead of seeking a player in an unknown state.
			ts.state = StateIdle
			ts.backend = nil
			ts.clipID = ""
			ts.url = ""
			ts.failures[seg.ID]++
			s.mu.Unlock()
			if s.cfg.Logger != nil {
				s.cfg.Logger.Warn("backend load/seek failed", "track_id", trackID, "segment_id", seg.ID, "error", err)
			}
			if s.cfg.OnError != nil {
				s.cfg.OnError(&LoadError{TrackID: trackID, Segment: seg, Err: err})
			}
			return
		}
		delete(ts.failures, seg.ID)
		if ts.wantHot {
			backend.Play()
			ts.state = StatePlaying
		} else {
			backend.Pause()
			ts.state = StatePaused
		}
		s.mu.Unlock()
	}()
}
