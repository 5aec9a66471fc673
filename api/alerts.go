package api

import (
	"context"
	"fmt"
	"log"
)

// Alert is one policy alert from the cloud event feed.
type Alert struct {
	ID         string `json:"alertId"`
	Type       string `json:"alertType"`
	DeviceUUID string `json:"deviceUuid"`
	DeviceName string `json:"deviceName"`
	// TimestampMs is the trigger time in epoch milliseconds. Zero means the
	// feed did not supply a usable trigger timestamp.
	TimestampMs int64 `json:"timestampMs"`
	// EventEndMs is the end of the triggering event, when known.
	EventEndMs int64 `json:"eventEndMs"`
}

// AlertQuery filters the policy alert listing.
type AlertQuery struct {
	MaxResults   int
	LocationUUID string
	CameraUUID   string
	BeforeMs     int64
	AfterMs      int64
}

// PolicyAlerts returns policy alerts matching the query, newest first as
// served by the API. Pagination is left to the caller via MaxResults.
func (c *Client) PolicyAlerts(ctx context.Context, q AlertQuery) ([]Alert, error) {
	body := map[string]interface{}{
		"maxResults": q.MaxResults,
	}
	if q.LocationUUID != "" {
		body["locationFilter"] = q.LocationUUID
	}
	if q.CameraUUID != "" {
		body["deviceFilter"] = q.CameraUUID
	}
	if q.BeforeMs > 0 {
		body["beforeTimestampMs"] = q.BeforeMs
	}
	if q.AfterMs > 0 {
		body["afterTimestampMs"] = q.AfterMs
	}

	var resp struct {
		Alerts []struct {
			AlertID      string `json:"alertId"`
			AlertType    string `json:"alertType"`
			DeviceUUID   string `json:"deviceUuid"`
			CameraUUID   string `json:"cameraUuid"`
			DeviceName   string `json:"deviceName"`
			CameraName   string `json:"cameraName"`
			TimestampMs  int64  `json:"timestampMs"`
			EventStartMs int64  `json:"eventStartMs"`
			EventEndMs   int64  `json:"eventEndMs"`
		} `json:"alerts"`
	}
	if err := c.post(ctx, "/api/event/getPolicyAlerts", body, &resp); err != nil {
		return nil, fmt.Errorf("failed to retrieve policy alerts: %w", err)
	}

	alerts := make([]Alert, 0, len(resp.Alerts))
	for _, a := range resp.Alerts {
		alert := Alert{
			ID:          a.AlertID,
			Type:        a.AlertType,
			DeviceUUID:  a.DeviceUUID,
			DeviceName:  a.DeviceName,
			TimestampMs: a.TimestampMs,
			EventEndMs:  a.EventEndMs,
		}
		// The feed is inconsistent about field names across alert types.
		if alert.DeviceUUID == "" {
			alert.DeviceUUID = a.CameraUUID
		}
		if alert.DeviceName == "" {
			alert.DeviceName = a.CameraName
		}
		if alert.TimestampMs == 0 {
			alert.TimestampMs = a.EventStartMs
		}
		alerts = append(alerts, alert)
	}

	log.Printf("[api] Retrieved %d policy alerts", len(alerts))
	return alerts, nil
}
