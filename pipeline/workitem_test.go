package pipeline

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"camcopy/api"
	"camcopy/window"
)

func TestManualItemNaming(t *testing.T) {
	cam := api.Camera{UUID: "cam-uuid-1", Name: "Front Door #2"}
	win, err := window.Manual(cam.UUID, time.Unix(1700000000, 0), time.Hour)
	if err != nil {
		t.Fatalf("Manual failed: %v", err)
	}
	item := NewManualItem(cam, win, "/out")

	if item.ID == "" {
		t.Error("Work item must get an id")
	}
	wantVideo := filepath.Join("/out", "FrontDoor2_cam-uuid-1_1700000000_video.mp4")
	if got := item.VideoPath(); got != wantVideo {
		t.Errorf("VideoPath = %q, want %q", got, wantVideo)
	}
	wantCombined := filepath.Join("/out", "FrontDoor2_cam-uuid-1_1700000000_videoWithAudio.mp4")
	if got := item.CombinedPath(); got != wantCombined {
		t.Errorf("CombinedPath = %q, want %q", got, wantCombined)
	}
}

func TestAlertItemNaming(t *testing.T) {
	cam := api.Camera{UUID: "cam-uuid-1", Name: "Lobby"}
	alert := api.Alert{
		ID:          "alert/9",
		Type:        "MOTION DETECTED",
		DeviceUUID:  cam.UUID,
		TimestampMs: 1700000000000,
	}
	win, err := window.FromAlert(alert, 30*time.Second)
	if err != nil {
		t.Fatalf("FromAlert failed: %v", err)
	}
	item := NewAlertItem(cam, win, alert, "/out")

	stamp := win.Start.Format("20060102_150405")
	wantVideo := filepath.Join("/out",
		"Lobby_cam-uuid-1_"+stamp+"_alert_MOTIONDETECTED_alert9_video.mp4")
	if got := item.VideoPath(); got != wantVideo {
		t.Errorf("VideoPath = %q, want %q", got, wantVideo)
	}
	if got := item.CombinedPath(); !strings.HasSuffix(got, "_combined.mp4") {
		t.Errorf("Alert combined output must use _combined suffix, got %q", got)
	}
}

func TestItemIDsUnique(t *testing.T) {
	cam := api.Camera{UUID: "cam-1", Name: "Gate"}
	win, _ := window.Manual(cam.UUID, time.Unix(1700000000, 0), time.Minute)
	a := NewManualItem(cam, win, "/out")
	b := NewManualItem(cam, win, "/out")
	if a.ID == b.ID {
		t.Error("Two items must never share an id")
	}
}

func TestSanitizeStripsUnsafeRunes(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Front Door #2", "FrontDoor2"},
		{"cam_01-b", "cam01b"},
		{"..//..", ""},
		{"Käfig", "Kfig"},
	}
	for _, tt := range tests {
		if got := sanitize(tt.in); got != tt.want {
			t.Errorf("sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
