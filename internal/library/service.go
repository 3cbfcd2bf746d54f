package library

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/frameloop/frameloop-agent/internal/timeline"
)

// Service is the import boundary: it creates clips, the only place they are
// ever created, and never mutates one afterwards.
type Service struct {
	repo     Repository
	prober   Prober
	mediaDir string
	logger   *slog.Logger
}

func NewService(repo Repository, prober Prober, mediaDir string, logger *slog.Logger) *Service {
	return &Service{repo: repo, prober: prober, mediaDir: mediaDir, logger: logger}
}

// ImportFile registers a local media file as an HTML5-backed clip. The
// duration is probed from the container at the timeline rate.
func (s *Service) ImportFile(ctx context.Context, path string, fps float64) (*timeline.Clip, error) {
	if !filepath.IsAbs(path) && s.mediaDir != "" {
		path = filepath.Join(s.mediaDir, path)
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("media file does not exist: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a media file")
	}

	frames, err := s.prober.DurationFrames(absPath, fps)
	if err != nil {
		return nil, err
	}

	clip := &timeline.Clip{
		ID:             timeline.NewID(),
		SourceURL:      "file://" + absPath,
		Backend:        timeline.BackendHTML5,
		DurationFrames: frames,
	}
	if err := s.repo.CreateClip(ctx, clip); err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("clip imported", "clip_id", clip.ID, "path", absPath, "duration_frames", frames)
	}
	return clip, nil
}

// ImportYouTube registers a YouTube-backed clip. Duration cannot be probed
// locally, so the caller supplies it.
func (s *Service) ImportYouTube(ctx context.Context, videoURL string, durationFrames int64) (*timeline.Clip, error) {
	if durationFrames <= 0 {
		return nil, fmt.Errorf("duration_frames must be positive")
	}
	if !strings.HasPrefix(videoURL, "http://") && !strings.HasPrefix(videoURL, "https://") {
		return nil, fmt.Errorf("invalid video url %q", videoURL)
	}

	clip := &timeline.Clip{
		ID:             timeline.NewID(),
		SourceURL:      videoURL,
		Backend:        timeline.BackendYouTube,
		DurationFrames: durationFrames,
	}
	if err := s.repo.CreateClip(ctx, clip); err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info("clip imported", "clip_id", clip.ID, "url", videoURL, "duration_frames", durationFrames)
	}
	return clip, nil
}

// LocalPath maps an HTML5 clip back to its filesystem path for the media
// range server. Non-local clips return an error.
func LocalPath(clip *timeline.Clip) (string, error) {
	if clip.Backend != timeline.BackendHTML5 || !strings.HasPrefix(clip.SourceURL, "file://") {
		return "", fmt.Errorf("clip %s is not locally served", clip.ID)
	}
	return strings.TrimPrefix(clip.SourceURL, "file://"), nil
}

func (s *Service) GetClip(ctx context.Context, id string) (*timeline.Clip, error) {
	return s.repo.GetClip(ctx, id)
}

func (s *Service) ListClips(ctx context.Context) ([]*timeline.Clip, error) {
	return s.repo.ListClips(ctx)
}

func (s *Service) CountClips(ctx context.Context) (int, error) {
	return s.repo.CountClips(ctx)
}
