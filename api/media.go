package api

import (
	"context"
	"fmt"
)

// MediaKind selects which device endpoint serves the VOD manifest.
type MediaKind string

const (
	MediaVideo MediaKind = "video"
	MediaAudio MediaKind = "audio"
)

// MediaURITemplate returns the VOD MPD URI template for a device. The
// template carries {START_TIME} and {DURATION} placeholders that the manifest
// resolver substitutes per window. useWAN selects the WAN template over the
// first LAN template.
func (c *Client) MediaURITemplate(ctx context.Context, kind MediaKind, deviceUUID string, useWAN bool) (string, error) {
	var path string
	var body map[string]interface{}
	switch kind {
	case MediaVideo:
		path = "/api/camera/getMediaUris"
		body = map[string]interface{}{"cameraUuid": deviceUUID}
	case MediaAudio:
		path = "/api/audiogateway/getMediaUris"
		body = map[string]interface{}{"gatewayUuid": deviceUUID}
	default:
		return "", fmt.Errorf("unknown media kind %q", kind)
	}

	var resp struct {
		WANVodMpdURITemplate  string   `json:"wanVodMpdUriTemplate"`
		LANVodMpdURITemplates []string `json:"lanVodMpdUrisTemplates"`
	}
	if err := c.post(ctx, path, body, &resp); err != nil {
		return "", fmt.Errorf("failed to retrieve %s media uris for %s: %w", kind, deviceUUID, err)
	}

	if useWAN {
		if resp.WANVodMpdURITemplate == "" {
			return "", fmt.Errorf("device %s has no WAN media uri", deviceUUID)
		}
		return resp.WANVodMpdURITemplate, nil
	}
	if len(resp.LANVodMpdURITemplates) == 0 {
		return "", fmt.Errorf("device %s has no LAN media uris", deviceUUID)
	}
	return resp.LANVodMpdURITemplates[0], nil
}
