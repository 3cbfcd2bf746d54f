package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/frameloop/frameloop-agent/internal/config"
	"github.com/frameloop/frameloop-agent/internal/edit"
	"github.com/frameloop/frameloop-agent/internal/export"
	"github.com/frameloop/frameloop-agent/internal/library"
	"github.com/frameloop/frameloop-agent/internal/render"
	"github.com/frameloop/frameloop-agent/internal/session"
	"github.com/frameloop/frameloop-agent/internal/timeline"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))

		r.Post("/clips", importClipHandler(cfg))
		r.Get("/clips", listClipsHandler(cfg))
		r.Get("/clips/{id}", getClipHandler(cfg))
		r.Get("/media/{clip_id}", mediaHandler(cfg))

		r.Post("/timelines", createTimelineHandler(cfg))
		r.Get("/timelines", listTimelinesHandler(cfg))
		r.Delete("/timelines/{id}", deleteTimelineHandler(cfg))

		r.Post("/sessions", openSessionHandler(cfg))
		r.Get("/sessions", listSessionsHandler(cfg))
		r.Get("/sessions/{id}", getSessionHandler(cfg))
		r.Delete("/sessions/{id}", closeSessionHandler(cfg))

		r.Post("/sessions/{id}/transport", transportHandler(cfg))
		r.Post("/sessions/{id}/edits", editHandler(cfg))
		r.Post("/sessions/{id}/undo", undoHandler(cfg))
		r.Post("/sessions/{id}/redo", redoHandler(cfg))
		r.Post("/sessions/{id}/viewport", viewportHandler(cfg))
		r.Get("/sessions/{id}/view", viewHandler(cfg))
		r.Get("/sessions/{id}/selection", selectionHandler(cfg))
		r.Delete("/sessions/{id}/selection", clearSelectionHandler(cfg))
		r.Get("/sessions/{id}/export.edl", exportHandler(cfg))
		r.Get("/sessions/{id}/ws", cfg.Hub.Handler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:   "ok",
			Version:  config.Version,
			UptimeS:  uptime,
			DeviceID: cfg.DeviceID,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clipsCount, _ := cfg.Library.CountClips(r.Context())

		state := "idle"
		anyPlaying := false
		sessions := cfg.Sessions.List()
		for _, s := range sessions {
			if s.Playing() {
				anyPlaying = true
				state = "playing"
				break
			}
		}
		if !anyPlaying && len(sessions) > 0 {
			state = "editing"
		}

		WriteJSON(w, http.StatusOK, StatusResponse{
			State:        state,
			ClipsCount:   clipsCount,
			SessionsOpen: len(sessions),
			AnyPlaying:   anyPlaying,
		})
	}
}

func importClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ImportClipRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		fps := req.FPS
		if fps <= 0 {
			fps = config.DefaultFPS
		}

		var clip *timeline.Clip
		var err error
		switch {
		case req.Path != "":
			clip, err = cfg.Library.ImportFile(r.Context(), req.Path, fps)
		case req.URL != "":
			clip, err = cfg.Library.ImportYouTube(r.Context(), req.URL, req.DurationFrames)
		default:
			WriteError(w, http.StatusBadRequest, "path or url is required", "BAD_REQUEST")
			return
		}
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		WriteJSON(w, http.StatusCreated, ClipToResponse(clip))
	}
}

func listClipsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clips, err := cfg.Library.ListClips(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list clips", "INTERNAL_ERROR")
			return
		}

		resp := ClipsResponse{Clips: make([]ClipResponse, len(clips))}
		for i, c := range clips {
			resp.Clips[i] = ClipToResponse(c)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getClipHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clip, err := cfg.Library.GetClip(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if clip == nil {
			WriteError(w, http.StatusNotFound, "clip not found", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, ClipToResponse(clip))
	}
}

func mediaHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clipID := chi.URLParam(r, "clip_id")
		clip, err := cfg.Library.GetClip(r.Context(), clipID)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if clip == nil {
			WriteError(w, http.StatusNotFound, "clip not found", "NOT_FOUND")
			return
		}

		if err := cfg.Media.ServeClip(w, r, clip); err != nil {
			cfg.Logger.Error("media serve error", "error", err, "clip_id", clipID)
		}
	}
}

func createTimelineHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateTimelineRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Name == "" {
			WriteError(w, http.StatusBadRequest, "name is required", "BAD_REQUEST")
			return
		}
		if req.TotalFrames <= 0 {
			WriteError(w, http.StatusBadRequest, "total_frames must be positive", "BAD_REQUEST")
			return
		}
		fps := req.FPS
		if fps <= 0 {
			fps = config.DefaultFPS
		}

		tl := timeline.New(fps, req.TotalFrames)
		snapshot, err := tl.Serialize()
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}

		now := time.Now()
		rec := &library.TimelineRecord{
			ID:        timeline.NewID(),
			Name:      req.Name,
			FPS:       fps,
			Snapshot:  snapshot,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := cfg.Repository.CreateTimeline(r.Context(), rec); err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to create timeline", "INTERNAL_ERROR")
			return
		}

		WriteJSON(w, http.StatusCreated, TimelineToResponse(rec))
	}
}

func listTimelinesHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs, err := cfg.Repository.ListTimelines(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list timelines", "INTERNAL_ERROR")
			return
		}

		resp := TimelinesResponse{Timelines: make([]TimelineResponse, len(recs))}
		for i, rec := range recs {
			resp.Timelines[i] = TimelineToResponse(rec)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func deleteTimelineHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Repository.DeleteTimeline(r.Context(), chi.URLParam(r, "id")); err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func openSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OpenSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.TimelineID == "" {
			WriteError(w, http.StatusBadRequest, "timeline_id is required", "BAD_REQUEST")
			return
		}

		sess, err := cfg.Sessions.Open(r.Context(), req.TimelineID)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		WriteJSON(w, http.StatusCreated, sessionToResponse(sess))
	}
}

func listSessionsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions := cfg.Sessions.List()
		resp := SessionsResponse{Sessions: make([]SessionResponse, len(sessions))}
		for i, s := range sessions {
			resp.Sessions[i] = sessionToResponse(s)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := cfg.Sessions.Get(chi.URLParam(r, "id"))
		if !ok {
			WriteError(w, http.StatusNotFound, "session not found", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, sessionToResponse(sess))
	}
}

func closeSessionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := cfg.Sessions.Close(chi.URLParam(r, "id")); err != nil {
			WriteError(w, http.StatusNotFound, err.Error(), "NOT_FOUND")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func transportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := cfg.Sessions.Get(chi.URLParam(r, "id"))
		if !ok {
			WriteError(w, http.StatusNotFound, "session not found", "NOT_FOUND")
			return
		}

		var req TransportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		switch req.Action {
		case "play":
			sess.Play()
		case "pause":
			sess.Pause()
		case "toggle":
			if sess.Playing() {
				sess.Pause()
			} else {
				sess.Play()
			}
		case "seek":
			sess.Seek(req.Frame)
		default:
			WriteError(w, http.StatusBadRequest, "unknown transport action", "BAD_REQUEST")
			return
		}

		WriteJSON(w, http.StatusOK, sessionToResponse(sess))
	}
}

func editHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := cfg.Sessions.Get(chi.URLParam(r, "id"))
		if !ok {
			WriteError(w, http.StatusNotFound, "session not found", "NOT_FOUND")
			return
		}

		var req EditRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}

		var segmentID string
		var err error
		switch req.Op {
		case "split":
			err = sess.Split(req.SegmentID, req.Frame)
		case "trim":
			err = sess.Trim(req.SegmentID, edit.Edge(req.Edge), req.Frame, req.Snapping)
		case "delete":
			err = sess.DeleteSegment(req.SegmentID, req.Ripple)
		case "move":
			err = sess.Move(req.SegmentID, req.NewStart)
		case "insert":
			segmentID, err = sess.InsertSegment(req.TrackID, req.ClipID, req.NewStart, req.SourceIn, req.SourceOut)
		default:
			WriteError(w, http.StatusBadRequest, "unknown edit op", "BAD_REQUEST")
			return
		}

		if err != nil {
			status := http.StatusBadRequest
			code := "BAD_REQUEST"
			var overlap *edit.OverlapError
			switch {
			case errors.Is(err, edit.ErrNotFound):
				status, code = http.StatusNotFound, "NOT_FOUND"
			case errors.As(err, &overlap):
				status, code = http.StatusConflict, "OVERLAP"
			}
			WriteError(w, status, err.Error(), code)
			return
		}

		WriteJSON(w, http.StatusOK, EditResponse{SegmentID: segmentID, Timeline: *sess.Timeline()})
	}
}

func undoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := cfg.Sessions.Get(chi.URLParam(r, "id"))
		if !ok {
			WriteError(w, http.StatusNotFound, "session not found", "NOT_FOUND")
			return
		}
		if !sess.Undo() {
			WriteError(w, http.StatusConflict, "nothing to undo", "EMPTY_HISTORY")
			return
		}
		WriteJSON(w, http.StatusOK, EditResponse{Timeline: *sess.Timeline()})
	}
}

func redoHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := cfg.Sessions.Get(chi.URLParam(r, "id"))
		if !ok {
			WriteError(w, http.StatusNotFound, "session not found", "NOT_FOUND")
			return
		}
		if !sess.Redo() {
			WriteError(w, http.StatusConflict, "nothing to redo", "EMPTY_HISTORY")
			return
		}
		WriteJSON(w, http.StatusOK, EditResponse{Timeline: *sess.Timeline()})
	}
}

func viewportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := cfg.Sessions.Get(chi.URLParam(r, "id"))
		if !ok {
			WriteError(w, http.StatusNotFound, "session not found", "NOT_FOUND")
			return
		}

		var req ViewportRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if req.Zoom <= 0 {
			WriteError(w, http.StatusBadRequest, "zoom must be positive", "BAD_REQUEST")
			return
		}

		sess.SetViewport(viewportFromRequest(cfg, sess, req))
		w.WriteHeader(http.StatusNoContent)
	}
}

func viewHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := cfg.Sessions.Get(chi.URLParam(r, "id"))
		if !ok {
			WriteError(w, http.StatusNotFound, "session not found", "NOT_FOUND")
			return
		}

		req := ViewportRequest{
			Zoom:     queryFloat(r, "zoom", 1.0),
			ScrollPx: queryFloat(r, "scroll_px", 0),
			WidthPx:  queryFloat(r, "width_px", 1280),
		}
		WriteJSON(w, http.StatusOK, sess.View(viewportFromRequest(cfg, sess, req)))
	}
}

func selectionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := cfg.Sessions.Get(chi.URLParam(r, "id"))
		if !ok {
			WriteError(w, http.StatusNotFound, "session not found", "NOT_FOUND")
			return
		}
		in, out, set := sess.Controller().Selection()
		WriteJSON(w, http.StatusOK, SelectionResponse{In: in, Out: out, Set: set})
	}
}

func clearSelectionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := cfg.Sessions.Get(chi.URLParam(r, "id"))
		if !ok {
			WriteError(w, http.StatusNotFound, "session not found", "NOT_FOUND")
			return
		}
		sess.Controller().ClearSelection()
		w.WriteHeader(http.StatusNoContent)
	}
}

func exportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := cfg.Sessions.Get(chi.URLParam(r, "id"))
		if !ok {
			WriteError(w, http.StatusNotFound, "session not found", "NOT_FOUND")
			return
		}

		rec, err := cfg.Repository.GetTimeline(r.Context(), sess.TimelineID)
		if err != nil || rec == nil {
			WriteError(w, http.StatusInternalServerError, "failed to load timeline record", "INTERNAL_ERROR")
			return
		}

		clips := make(map[string]*timeline.Clip)
		if list, err := cfg.Library.ListClips(r.Context()); err == nil {
			for _, c := range list {
				clips[c.ID] = c
			}
		}

		edl := export.GenerateEDL(sess.Timeline(), clips, rec.Name)
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+export.SanitizeName(rec.Name, 40)+`.edl"`)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(edl))
	}
}

func sessionToResponse(s *session.Session) SessionResponse {
	undo, redo := s.HistoryDepth()
	return SessionResponse{
		ID:           s.ID,
		TimelineID:   s.TimelineID,
		CurrentFrame: s.CurrentFrame(),
		DisplayFrame: s.Engine().DisplayFrame(),
		Playing:      s.Playing(),
		UndoDepth:    undo,
		RedoDepth:    redo,
	}
}

func viewportFromRequest(cfg ServerConfig, sess *session.Session, req ViewportRequest) render.Viewport {
	return render.Viewport{
		Zoom:            req.Zoom,
		PixelsPerSecond: cfg.Config.PixelsPerSecond(),
		ScrollPx:        req.ScrollPx,
		WidthPx:         req.WidthPx,
		FPS:             sess.Timeline().FPS,
	}
}

func queryFloat(r *http.Request, key string, fallback float64) float64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
