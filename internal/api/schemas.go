package api

import (
	"time"

	"github.com/frameloop/frameloop-agent/internal/library"
	"github.com/frameloop/frameloop-agent/internal/timeline"
)

type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_s"`
	DeviceID string `json:"device_id"`
}

type StatusResponse struct {
	State        string `json:"state"`
	ClipsCount   int    `json:"clips_count"`
	SessionsOpen int    `json:"sessions_open"`
	AnyPlaying   bool   `json:"any_playing"`
}

type ImportClipRequest struct {
	Path           string  `json:"path,omitempty"`
	URL            string  `json:"url,omitempty"`
	DurationFrames int64   `json:"duration_frames,omitempty"`
	FPS            float64 `json:"fps,omitempty"`
}

type ClipResponse struct {
	ID             string `json:"id"`
	SourceURL      string `json:"source_url"`
	Backend        string `json:"backend"`
	DurationFrames int64  `json:"duration_frames"`
}

type ClipsResponse struct {
	Clips []ClipResponse `json:"clips"`
}

type CreateTimelineRequest struct {
	Name        string  `json:"name"`
	FPS         float64 `json:"fps,omitempty"`
	TotalFrames int64   `json:"total_frames"`
}

type TimelineResponse struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	FPS       float64 `json:"fps"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

type TimelinesResponse struct {
	Timelines []TimelineResponse `json:"timelines"`
}

type OpenSessionRequest struct {
	TimelineID string `json:"timeline_id"`
}

type SessionResponse struct {
	ID           string  `json:"id"`
	TimelineID   string  `json:"timeline_id"`
	CurrentFrame float64 `json:"current_frame"`
	DisplayFrame int64   `json:"display_frame"`
	Playing      bool    `json:"playing"`
	UndoDepth    int     `json:"undo_depth"`
	RedoDepth    int     `json:"redo_depth"`
}

type SessionsResponse struct {
	Sessions []SessionResponse `json:"sessions"`
}

type TransportRequest struct {
	Action string  `json:"action"` // play, pause, toggle, seek
	Frame  float64 `json:"frame,omitempty"`
}

type EditRequest struct {
	Op        string `json:"op"` // split, trim, delete, move, insert
	SegmentID string `json:"segment_id,omitempty"`
	Frame     int64  `json:"frame,omitempty"`
	Edge      string `json:"edge,omitempty"`
	Snapping  bool   `json:"snapping,omitempty"`
	Ripple    bool   `json:"ripple,omitempty"`
	NewStart  int64  `json:"new_start,omitempty"`
	TrackID   string `json:"track_id,omitempty"`
	ClipID    string `json:"clip_id,omitempty"`
	SourceIn  int64  `json:"source_in,omitempty"`
	SourceOut int64  `json:"source_out,omitempty"`
}

type EditResponse struct {
	SegmentID string            `json:"segment_id,omitempty"`
	Timeline  timeline.Timeline `json:"timeline"`
}

type ViewportRequest struct {
	Zoom     float64 `json:"zoom"`
	ScrollPx float64 `json:"scroll_px"`
	WidthPx  float64 `json:"width_px"`
}

type SelectionResponse struct {
	In  int64 `json:"in"`
	Out int64 `json:"out"`
	Set bool  `json:"set"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func ClipToResponse(c *timeline.Clip) ClipResponse {
	return ClipResponse{
		ID:             c.ID,
		SourceURL:      c.SourceURL,
		Backend:        string(c.Backend),
		DurationFrames: c.DurationFrames,
	}
}

func TimelineToResponse(rec *library.TimelineRecord) TimelineResponse {
	return TimelineResponse{
		ID:        rec.ID,
		Name:      rec.Name,
		FPS:       rec.FPS,
		CreatedAt: rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt: rec.UpdatedAt.Format(time.RFC3339),
	}
}
