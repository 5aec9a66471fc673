package manifest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"camcopy/api"
	"camcopy/fetch"
	"camcopy/window"
)

// Kind is the media kind a manifest addresses.
type Kind string

const (
	Video Kind = "video"
	Audio Kind = "audio"
)

// SegmentSeconds is the fixed quantum the camera serves segments in. The
// final segment of a window may cover less.
const SegmentSeconds = 2

// ErrUnavailable marks a camera that cannot be reached or reports no footage
// for the requested interval. The whole job fails; there is nothing to
// assemble.
var ErrUnavailable = errors.New("manifest unavailable")

// Segment is one addressable chunk of a media stream.
type Segment struct {
	Index    int           // position within the window, 0-based
	Offset   time.Duration // start offset from the window start
	Duration time.Duration
	URI      string
}

// Manifest is the addressable segment set covering one window for one media
// kind. Owned exclusively by one footage job.
type Manifest struct {
	DeviceUUID string
	Kind       Kind
	InitURI    string
	Segments   []Segment
}

// Resolver turns a (device, window) pair into a Manifest by fetching and
// parsing the device's MPD document.
type Resolver struct {
	client  *api.Client
	fetcher *fetch.Fetcher
	useWAN  bool
}

// NewResolver creates a manifest resolver. The fetcher supplies the retry
// and transient/permanent classification used for the MPD document itself.
func NewResolver(client *api.Client, fetcher *fetch.Fetcher, useWAN bool) *Resolver {
	return &Resolver{client: client, fetcher: fetcher, useWAN: useWAN}
}

// expandTemplate substitutes the window into a VOD URI template.
func expandTemplate(template string, startEpoch, durationSec int64) string {
	uri := strings.ReplaceAll(template, "{START_TIME}", fmt.Sprintf("%d", startEpoch))
	return strings.ReplaceAll(uri, "{DURATION}", fmt.Sprintf("%d", durationSec))
}

// Resolve obtains the manifest for one media kind over the window. Requesting
// the MPD document also opens the camera's media session for the clip, so the
// returned segment URIs are only valid for the same session token family.
func (r *Resolver) Resolve(ctx context.Context, kind Kind, deviceUUID string, win window.Window) (*Manifest, error) {
	mediaKind := api.MediaVideo
	if kind == Audio {
		mediaKind = api.MediaAudio
	}

	template, err := r.client.MediaURITemplate(ctx, mediaKind, deviceUUID, r.useWAN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	durationSec := int64(win.Duration() / time.Second)
	if durationSec <= 0 {
		return nil, fmt.Errorf("%w: window covers no time", ErrUnavailable)
	}
	mpdURI := expandTemplate(template, win.Start.Unix(), durationSec)

	doc, err := r.fetcher.Fetch(ctx, mpdURI)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching mpd document: %v", ErrUnavailable, err)
	}

	info, err := parseMPD(doc, kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	man, err := buildManifest(info, mpdURI, kind, deviceUUID, durationSec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	log.Printf("[manifest] Resolved %s manifest for %s: %d segments over %ds",
		kind, deviceUUID, len(man.Segments), durationSec)
	return man, nil
}

// buildManifest enumerates the window's segments from the addressing scheme.
func buildManifest(info *mpdInfo, mpdURI string, kind Kind, deviceUUID string, durationSec int64) (*Manifest, error) {
	initURI, err := segmentURI(mpdURI, info.Init)
	if err != nil {
		return nil, err
	}

	count := int((durationSec + SegmentSeconds - 1) / SegmentSeconds)
	segments := make([]Segment, 0, count)
	for i := 0; i < count; i++ {
		uri, err := segmentURI(mpdURI, info.segmentName(i))
		if err != nil {
			return nil, err
		}
		segDur := time.Duration(SegmentSeconds) * time.Second
		if remaining := time.Duration(durationSec)*time.Second - time.Duration(i*SegmentSeconds)*time.Second; remaining < segDur {
			segDur = remaining
		}
		segments = append(segments, Segment{
			Index:    i,
			Offset:   time.Duration(i*SegmentSeconds) * time.Second,
			Duration: segDur,
			URI:      uri,
		})
	}

	return &Manifest{
		DeviceUUID: deviceUUID,
		Kind:       kind,
		InitURI:    initURI,
		Segments:   segments,
	}, nil
}
