package api

import (
	"context"
	"fmt"
	"log"
)

// Camera is one camera from the organization inventory, paired with its
// associated audio gateway when one exists.
type Camera struct {
	UUID             string
	Name             string
	LocationUUID     string
	AudioGatewayUUID string // empty when the camera has no paired audio source
}

// HasAudio reports whether the camera has an associated audio gateway.
func (c Camera) HasAudio() bool {
	return c.AudioGatewayUUID != ""
}

// CameraFilter narrows the camera inventory by location and/or camera UUID.
type CameraFilter struct {
	LocationUUID string
	CameraUUID   string
}

type cameraState struct {
	UUID             string `json:"uuid"`
	Name             string `json:"name"`
	LocationUUID     string `json:"locationUuid"`
	ConnectionStatus string `json:"connectionStatus"`
}

type audioGatewayState struct {
	UUID              string   `json:"uuid"`
	AssociatedCameras []string `json:"associatedCameras"`
}

// Cameras returns the reachable cameras matching the filter, each paired with
// its audio gateway when one is associated. Cameras whose connection status is
// RED are skipped entirely.
func (c *Client) Cameras(ctx context.Context, filter CameraFilter) ([]Camera, error) {
	var camResp struct {
		CameraStates []cameraState `json:"cameraStates"`
	}
	if err := c.post(ctx, "/api/camera/getMinimalCameraStateList", map[string]interface{}{}, &camResp); err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}

	var audResp struct {
		AudioGatewayStates []audioGatewayState `json:"audioGatewayStates"`
	}
	if err := c.post(ctx, "/api/audiogateway/getMinimalAudioGatewayStateList", map[string]interface{}{}, &audResp); err != nil {
		// Audio pairing is best effort; footage is still retrievable without it.
		log.Printf("[api] Warning: failed to list audio gateways, continuing without audio pairing: %v", err)
	}

	gatewayByCamera := make(map[string]string)
	for _, gw := range audResp.AudioGatewayStates {
		for _, camUUID := range gw.AssociatedCameras {
			gatewayByCamera[camUUID] = gw.UUID
		}
	}

	var cameras []Camera
	for _, cam := range camResp.CameraStates {
		if cam.ConnectionStatus == "RED" {
			continue
		}
		if filter.LocationUUID != "" && cam.LocationUUID != filter.LocationUUID {
			continue
		}
		if filter.CameraUUID != "" && cam.UUID != filter.CameraUUID {
			continue
		}
		cameras = append(cameras, Camera{
			UUID:             cam.UUID,
			Name:             cam.Name,
			LocationUUID:     cam.LocationUUID,
			AudioGatewayUUID: gatewayByCamera[cam.UUID],
		})
	}

	log.Printf("[api] Found %d cameras matching filter", len(cameras))
	return cameras, nil
}
