package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"camcopy/api"
	"camcopy/window"
)

// WorkItem is one unit of scheduled work: one camera, one window, optionally
// the alert that produced it. Consumed exactly once by one pipeline run.
type WorkItem struct {
	ID        string
	Camera    api.Camera
	Window    window.Window
	Alert     *api.Alert // nil for manual windows
	OutputDir string
}

// NewManualItem builds a work item for an explicit time range.
func NewManualItem(cam api.Camera, win window.Window, outputDir string) WorkItem {
	return WorkItem{
		ID:        uuid.New().String(),
		Camera:    cam,
		Window:    win,
		OutputDir: outputDir,
	}
}

// NewAlertItem builds a work item for an alert-derived window.
func NewAlertItem(cam api.Camera, win window.Window, alert api.Alert, outputDir string) WorkItem {
	a := alert
	return WorkItem{
		ID:        uuid.New().String(),
		Camera:    cam,
		Window:    win,
		Alert:     &a,
		OutputDir: outputDir,
	}
}

// sanitize strips everything but letters and digits from a name so it is safe
// in a filename.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// baseName is the shared output file stem:
// {name}_{uuid}_{startEpoch} for manual windows and
// {name}_{uuid}_{YYYYMMDD_HHMMSS}_alert_{type}_{id} for alert windows.
func (w WorkItem) baseName() string {
	name := sanitize(w.Camera.Name)
	if w.Alert == nil {
		return fmt.Sprintf("%s_%s_%d", name, w.Camera.UUID, w.Window.Start.Unix())
	}
	stamp := w.Window.Start.Format("20060102_150405")
	return fmt.Sprintf("%s_%s_%s_alert_%s_%s",
		name, w.Camera.UUID, stamp, sanitize(w.Alert.Type), sanitize(w.Alert.ID))
}

// VideoPath is the video track file; it doubles as the final output when no
// audio exists or muxing falls back.
func (w WorkItem) VideoPath() string {
	return filepath.Join(w.OutputDir, w.baseName()+"_video.mp4")
}

// AudioPath is the intermediate audio track file.
func (w WorkItem) AudioPath() string {
	return filepath.Join(w.OutputDir, w.baseName()+"_audio.mp4")
}

// CombinedPath is the muxed audio+video output.
func (w WorkItem) CombinedPath() string {
	suffix := "_videoWithAudio.mp4"
	if w.Alert != nil {
		suffix = "_combined.mp4"
	}
	return filepath.Join(w.OutputDir, w.baseName()+suffix)
}
