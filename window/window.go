package window

import (
	"errors"
	"fmt"
	"time"

	"camcopy/api"
)

// Window is the canonical (camera, start, end) triple one footage job
// consumes. Immutable once constructed.
type Window struct {
	CameraUUID string
	Start      time.Time
	End        time.Time
}

// Duration returns the span covered by the window.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Validate checks the window invariant: the end must be after the start.
func (w Window) Validate() error {
	if !w.End.After(w.Start) {
		return fmt.Errorf("window end %v is not after start %v", w.End, w.Start)
	}
	return nil
}

// Manual builds a window from an explicit start time and duration, applied
// identically to every camera in scope.
func Manual(cameraUUID string, start time.Time, duration time.Duration) (Window, error) {
	w := Window{CameraUUID: cameraUUID, Start: start, End: start.Add(duration)}
	if err := w.Validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}

// ErrInvalidAlert marks alerts that cannot produce a window. Such alerts are
// counted and excluded from work generation; they never fail the batch.
var ErrInvalidAlert = errors.New("invalid alert")

// FromAlert builds a window around an alert's trigger time. The window spans
// trigger-buffer to trigger+buffer, extended to eventEnd+buffer when the
// alert carries an event end timestamp.
func FromAlert(a api.Alert, buffer time.Duration) (Window, error) {
	if a.DeviceUUID == "" {
		return Window{}, fmt.Errorf("%w: alert %s has no device uuid", ErrInvalidAlert, a.ID)
	}
	if a.TimestampMs <= 0 {
		return Window{}, fmt.Errorf("%w: alert %s has no trigger timestamp", ErrInvalidAlert, a.ID)
	}

	trigger := time.UnixMilli(a.TimestampMs)
	start := trigger.Add(-buffer)
	if start.Unix() < 0 {
		start = time.Unix(0, 0)
	}

	end := trigger.Add(buffer)
	if a.EventEndMs > a.TimestampMs {
		end = time.UnixMilli(a.EventEndMs).Add(buffer)
	}

	w := Window{CameraUUID: a.DeviceUUID, Start: start, End: end}
	if err := w.Validate(); err != nil {
		return Window{}, fmt.Errorf("%w: %v", ErrInvalidAlert, err)
	}
	return w, nil
}

// Filter excludes windows outside a global time range before dispatch.
// Zero bounds are open.
type Filter struct {
	Before time.Time
	After  time.Time
}

// Allow reports whether the window's start falls inside the filter range.
func (f Filter) Allow(w Window) bool {
	if !f.Before.IsZero() && w.Start.After(f.Before) {
		return false
	}
	if !f.After.IsZero() && w.Start.Before(f.After) {
		return false
	}
	return true
}
