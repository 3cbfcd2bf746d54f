package library

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/frameloop/frameloop-agent/internal/db"
	"github.com/frameloop/frameloop-agent/internal/timeline"
)

func testRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	database, err := db.New(filepath.Join(t.TempDir(), "test.db"), nil)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return NewRepository(database.Conn())
}

func TestClipRoundTrip(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	clip := &timeline.Clip{
		ID:             "clip-1",
		SourceURL:      "file:///media/a.mp4",
		Backend:        timeline.BackendHTML5,
		DurationFrames: 900,
	}
	if err := repo.CreateClip(ctx, clip); err != nil {
		t.Fatalf("CreateClip() error = %v", err)
	}

	got, err := repo.GetClip(ctx, "clip-1")
	if err != nil {
		t.Fatalf("GetClip() error = %v", err)
	}
	if got == nil || *got != *clip {
		t.Errorf("GetClip() = %+v, want %+v", got, clip)
	}

	missing, err := repo.GetClip(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetClip(missing) = %+v, %v; want nil, nil", missing, err)
	}

	count, err := repo.CountClips(ctx)
	if err != nil || count != 1 {
		t.Errorf("CountClips() = %d, %v; want 1", count, err)
	}

	clips, err := repo.ListClips(ctx)
	if err != nil || len(clips) != 1 {
		t.Fatalf("ListClips() = %d clips, %v", len(clips), err)
	}
}

func TestTimelineRoundTrip(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	tl := timeline.New(30, 300)
	snapshot, err := tl.Serialize()
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	rec := &TimelineRecord{
		ID:        "tl-1",
		Name:      "First Cut",
		FPS:       30,
		Snapshot:  snapshot,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repo.CreateTimeline(ctx, rec); err != nil {
		t.Fatalf("CreateTimeline() error = %v", err)
	}

	got, err := repo.GetTimeline(ctx, "tl-1")
	if err != nil {
		t.Fatalf("GetTimeline() error = %v", err)
	}
	if got == nil || got.Name != "First Cut" || got.FPS != 30 {
		t.Fatalf("GetTimeline() = %+v", got)
	}

	restored, err := timeline.Deserialize(got.Snapshot)
	if err != nil {
		t.Fatalf("stored snapshot does not deserialize: %v", err)
	}
	if restored.TotalFrames != 300 {
		t.Errorf("restored TotalFrames = %d, want 300", restored.TotalFrames)
	}

	// Update the snapshot and confirm the new bytes come back.
	tl.TotalFrames = 600
	snapshot2, _ := tl.Serialize()
	if err := repo.UpdateTimelineSnapshot(ctx, "tl-1", snapshot2); err != nil {
		t.Fatalf("UpdateTimelineSnapshot() error = %v", err)
	}
	got, _ = repo.GetTimeline(ctx, "tl-1")
	restored, err = timeline.Deserialize(got.Snapshot)
	if err != nil || restored.TotalFrames != 600 {
		t.Errorf("updated snapshot TotalFrames = %d, %v; want 600", restored.TotalFrames, err)
	}

	recs, err := repo.ListTimelines(ctx)
	if err != nil || len(recs) != 1 {
		t.Fatalf("ListTimelines() = %d, %v", len(recs), err)
	}

	if err := repo.DeleteTimeline(ctx, "tl-1"); err != nil {
		t.Fatalf("DeleteTimeline() error = %v", err)
	}
	if got, _ := repo.GetTimeline(ctx, "tl-1"); got != nil {
		t.Error("timeline still present after delete")
	}
}

func TestConfigKV(t *testing.T) {
	repo := testRepo(t)
	ctx := context.Background()

	val, err := repo.GetConfig(ctx, "auth_token")
	if err != nil || val != "" {
		t.Errorf("GetConfig(unset) = %q, %v; want empty", val, err)
	}

	if err := repo.SetConfig(ctx, "auth_token", "abc"); err != nil {
		t.Fatalf("SetConfig() error = %v", err)
	}
	if err := repo.SetConfig(ctx, "auth_token", "def"); err != nil {
		t.Fatalf("SetConfig(upsert) error = %v", err)
	}

	val, err = repo.GetConfig(ctx, "auth_token")
	if err != nil || val != "def" {
		t.Errorf("GetConfig() = %q, %v; want def", val, err)
	}
}
