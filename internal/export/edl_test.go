package export

import (
	"strings"
	"testing"

	"github.com/frameloop/frameloop-agent/internal/timeline"
)

func testTimeline(t *testing.T) *timeline.Timeline {
	t.Helper()
	tl := timeline.New(30, 300)
	tl.Tracks = []timeline.Track{
		{
			ID: "v1",
			Segments: []timeline.Segment{
				{ID: "s1", ClipID: "clip-a", TrackID: "v1", TimelineStart: 0, TimelineEnd: 90, SourceIn: 0, SourceOut: 90},
				{ID: "s2", ClipID: "clip-b", TrackID: "v1", TimelineStart: 90, TimelineEnd: 150, SourceIn: 30, SourceOut: 90},
			},
		},
	}
	if err := tl.Validate(); err != nil {
		t.Fatalf("test timeline invalid: %v", err)
	}
	return tl
}

func TestGenerateEDL(t *testing.T) {
	tl := testTimeline(t)
	clips := map[string]*timeline.Clip{
		"clip-a": {ID: "clip-a", SourceURL: "file:///media/a.mp4", Backend: timeline.BackendHTML5, DurationFrames: 300},
	}

	edl := GenerateEDL(tl, clips, "My Cut")

	if !strings.HasPrefix(edl, "TITLE: My Cut\n") {
		t.Errorf("missing title line, got %q", strings.SplitN(edl, "\n", 2)[0])
	}
	if !strings.Contains(edl, "FCM: NON-DROP FRAME") {
		t.Error("expected non-drop frame marker at 30fps")
	}
	if !strings.Contains(edl, "001  AX       V     C        00:00:00:00 00:00:03:00 00:00:00:00 00:00:03:00") {
		t.Errorf("event 1 line wrong:\n%s", edl)
	}
	if !strings.Contains(edl, "002  AX       V     C        00:00:01:00 00:00:03:00 00:00:03:00 00:00:05:00") {
		t.Errorf("event 2 line wrong:\n%s", edl)
	}
	if !strings.Contains(edl, "* FROM CLIP NAME:  clip-a") {
		t.Error("expected clip name comment for known clip")
	}
	if strings.Contains(edl, "* FROM CLIP NAME:  clip-b") {
		t.Error("unknown clip should not emit a name comment")
	}
}

func TestGenerateEDLDropFrame(t *testing.T) {
	tl := timeline.New(29.97, 100)
	edl := GenerateEDL(tl, nil, "df")
	if !strings.Contains(edl, "FCM: DROP FRAME") {
		t.Error("expected drop frame marker at 29.97fps")
	}
}

func TestFramesToTimecode(t *testing.T) {
	tests := []struct {
		frame int64
		fps   int
		want  string
	}{
		{0, 30, "00:00:00:00"},
		{29, 30, "00:00:00:29"},
		{30, 30, "00:00:01:00"},
		{1800, 30, "00:01:00:00"},
		{108000, 30, "01:00:00:00"},
		{90061, 25, "01:00:02:11"},
	}
	for _, tt := range tests {
		if got := framesToTimecode(tt.frame, tt.fps); got != tt.want {
			t.Errorf("framesToTimecode(%d, %d) = %q, want %q", tt.frame, tt.fps, got, tt.want)
		}
	}
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		maxLen int
		want   string
	}{
		{"plain", "My Project", 70, "My Project"},
		{"control chars stripped", "a\x00b\nc", 70, "abc"},
		{"shell metachars replaced", "cut; rm -rf /", 70, "cut_ rm -rf _"},
		{"truncated", "abcdefgh", 4, "abcd"},
		{"trimmed", "  padded  ", 70, "padded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeName(tt.in, tt.maxLen); got != tt.want {
				t.Errorf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
