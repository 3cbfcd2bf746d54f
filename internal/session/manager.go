package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bep/debounce"

	"github.com/frameloop/frameloop-agent/internal/config"
	"github.com/frameloop/frameloop-agent/internal/library"
	"github.com/frameloop/frameloop-agent/internal/logging"
	"github.com/frameloop/frameloop-agent/internal/playback"
	"github.com/frameloop/frameloop-agent/internal/timeline"
)

// Hooks let the transport layer supply per-session wiring before the
// session exists: backends and load-error delivery both go through the
// client connection that registers under the session ID.
type Hooks struct {
	FactoryFor   func(sessionID string) playback.BackendFactory
	LoadErrorFor func(sessionID string) func(*playback.LoadError)
}

// Manager owns the open sessions and their debounced autosave. One session
// per timeline at a time; opening an already-open timeline returns the
// existing session.
type Manager struct {
	repo   library.Repository
	cfg    config.Config
	hooks  Hooks
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	byTL     map[string]string // timeline ID -> session ID
	savers   map[string]func(f func())
}

func NewManager(repo library.Repository, cfg config.Config, hooks Hooks, logger *slog.Logger) *Manager {
	return &Manager{
		repo:     repo,
		cfg:      cfg,
		hooks:    hooks,
		logger:   logger,
		sessions: make(map[string]*Session),
		byTL:     make(map[string]string),
		savers:   make(map[string]func(f func())),
	}
}

// Open loads a persisted timeline and starts a session on it.
func (m *Manager) Open(ctx context.Context, timelineID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sid, ok := m.byTL[timelineID]; ok {
		return m.sessions[sid], nil
	}

	rec, err := m.repo.GetTimeline(ctx, timelineID)
	if err != nil {
		return nil, fmt.Errorf("failed to load timeline: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("timeline %s not found", timelineID)
	}

	var tl *timeline.Timeline
	if len(rec.Snapshot) == 0 {
		tl = timeline.New(rec.FPS, 0)
	} else {
		tl, err = timeline.Deserialize(rec.Snapshot)
		if err != nil {
			return nil, err
		}
	}

	id := timeline.NewID()
	logger := logging.WithSession(m.logger, id)

	var factory playback.BackendFactory
	if m.hooks.FactoryFor != nil {
		factory = m.hooks.FactoryFor(id)
	}
	var onLoadError func(*playback.LoadError)
	if m.hooks.LoadErrorFor != nil {
		onLoadError = m.hooks.LoadErrorFor(id)
	}

	saver := debounce.New(m.cfg.AutosaveDelay())
	m.savers[id] = saver

	sess := New(Options{
		ID:              id,
		TimelineID:      timelineID,
		Timeline:        tl,
		Factory:         factory,
		LookupClip:      m.clipLookup(),
		StepFrames:      m.cfg.StepFrames(),
		SnapThresholdPx: m.cfg.SnapThresholdPx(),
		TickInterval:    m.cfg.TickInterval(),
		OnLoadError:     onLoadError,
		Logger:          logger,
	})
	sess.opts.OnDirty = func() {
		saver(func() { m.save(sess) })
	}

	sess.Start(context.Background())
	m.sessions[id] = sess
	m.byTL[timelineID] = id

	logger.Info("session opened", "timeline_id", timelineID, "tracks", len(tl.Tracks))
	return sess, nil
}

// Get returns an open session by ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List returns the open sessions in no particular order.
func (m *Manager) List() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Count reports how many sessions are open.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close flushes the session's snapshot and tears it down.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		delete(m.byTL, sess.TimelineID)
		delete(m.savers, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("session %s not found", id)
	}

	sess.Close()
	m.save(sess)
	return nil
}

// CloseAll tears down every session on shutdown, flushing each snapshot.
func (m *Manager) CloseAll() {
	for _, s := range m.List() {
		if err := m.Close(s.ID); err != nil {
			m.logger.Warn("failed to close session", "session_id", s.ID, "error", err)
		}
	}
}

// save persists the session's current snapshot. Called debounced after
// edits and synchronously on close.
func (m *Manager) save(sess *Session) {
	data, err := sess.Timeline().Serialize()
	if err != nil {
		m.logger.Error("failed to serialize timeline for autosave", "session_id", sess.ID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.repo.UpdateTimelineSnapshot(ctx, sess.TimelineID, data); err != nil {
		m.logger.Error("autosave failed", "session_id", sess.ID, "timeline_id", sess.TimelineID, "error", err)
		return
	}
	m.logger.Debug("snapshot saved", "session_id", sess.ID, "timeline_id", sess.TimelineID)
}

func (m *Manager) clipLookup() func(id string) (timeline.Clip, bool) {
	return func(id string) (timeline.Clip, bool) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		clip, err := m.repo.GetClip(ctx, id)
		if err != nil || clip == nil {
			return timeline.Clip{}, false
		}
		return *clip, true
	}
}
