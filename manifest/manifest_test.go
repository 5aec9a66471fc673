package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"camcopy/api"
	"camcopy/config"
	"camcopy/fetch"
	"camcopy/window"
)

const sampleMPD = `<?xml version="1.0" encoding="UTF-8"?>
<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static" mediaPresentationDuration="PT1H">
  <Period>
    <AdaptationSet contentType="video" mimeType="video/mp4">
      <SegmentTemplate initialization="seg_init.mp4" media="seg_$Number$.m4v" startNumber="1" duration="2"/>
      <Representation id="v0" bandwidth="2000000"/>
    </AdaptationSet>
    <AdaptationSet contentType="audio" mimeType="audio/mp4">
      <SegmentTemplate initialization="aud_init.mp4" media="aud_$Number$.m4a" startNumber="0"/>
      <Representation id="a0" bandwidth="128000"/>
    </AdaptationSet>
  </Period>
</MPD>`

func TestParseMPDVideo(t *testing.T) {
	info, err := parseMPD([]byte(sampleMPD), Video)
	if err != nil {
		t.Fatalf("parseMPD failed: %v", err)
	}
	if info.Init != "seg_init.mp4" {
		t.Errorf("Init = %q, want seg_init.mp4", info.Init)
	}
	if info.Pattern != "seg_$Number$.m4v" {
		t.Errorf("Pattern = %q", info.Pattern)
	}
	if info.StartNumber != 1 {
		t.Errorf("StartNumber = %d, want 1", info.StartNumber)
	}
	if got := info.segmentName(0); got != "seg_1.m4v" {
		t.Errorf("segmentName(0) = %q, want seg_1.m4v", got)
	}
	if got := info.segmentName(5); got != "seg_6.m4v" {
		t.Errorf("segmentName(5) = %q, want seg_6.m4v", got)
	}
}

func TestParseMPDAudio(t *testing.T) {
	info, err := parseMPD([]byte(sampleMPD), Audio)
	if err != nil {
		t.Fatalf("parseMPD failed: %v", err)
	}
	if info.Init != "aud_init.mp4" {
		t.Errorf("Init = %q, want aud_init.mp4", info.Init)
	}
	if info.StartNumber != 0 {
		t.Errorf("StartNumber = %d, want 0", info.StartNumber)
	}
	if got := info.segmentName(3); got != "aud_3.m4a" {
		t.Errorf("segmentName(3) = %q, want aud_3.m4a", got)
	}
}

func TestParseMPDNoTemplate(t *testing.T) {
	doc := `<MPD><Period><AdaptationSet contentType="video"/></Period></MPD>`
	if _, err := parseMPD([]byte(doc), Video); err == nil {
		t.Fatal("Expected error for document without segment template")
	}
}

func TestSegmentURI(t *testing.T) {
	uri, err := segmentURI("https://cam.local/media/clip.mpd?start=1&dur=2", "seg_5.m4v")
	if err != nil {
		t.Fatalf("segmentURI failed: %v", err)
	}
	want := "https://cam.local/media/seg_5.m4v?start=1&dur=2"
	if uri != want {
		t.Errorf("segmentURI = %q, want %q", uri, want)
	}

	if _, err := segmentURI("https://cam.local/media/playlist.m3u8", "seg_5.m4v"); err == nil {
		t.Fatal("Unrecognized document ending must fail")
	}
}

func TestExpandTemplate(t *testing.T) {
	got := expandTemplate("https://cam/{START_TIME}/{DURATION}/clip.mpd", 1700000000, 3600)
	want := "https://cam/1700000000/3600/clip.mpd"
	if got != want {
		t.Errorf("expandTemplate = %q, want %q", got, want)
	}
}

func TestBuildManifestSegmentSpans(t *testing.T) {
	info := &mpdInfo{Init: "seg_init.mp4", Pattern: "seg_$Number$.m4v", StartNumber: 1}

	man, err := buildManifest(info, "https://cam/clip.mpd", Video, "cam-1", 7)
	if err != nil {
		t.Fatalf("buildManifest failed: %v", err)
	}
	if len(man.Segments) != 4 {
		t.Fatalf("7s window must yield 4 segments, got %d", len(man.Segments))
	}
	for i, seg := range man.Segments {
		if seg.Index != i {
			t.Errorf("Segment %d has index %d", i, seg.Index)
		}
	}
	if last := man.Segments[3]; last.Duration != time.Second {
		t.Errorf("Final segment duration = %v, want 1s", last.Duration)
	}
	if man.Segments[0].Duration != 2*time.Second {
		t.Errorf("First segment duration = %v, want 2s", man.Segments[0].Duration)
	}
	if man.InitURI != "https://cam/seg_init.mp4" {
		t.Errorf("InitURI = %q", man.InitURI)
	}
}

func TestResolveAgainstStubAPI(t *testing.T) {
	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/api/org/generateFederatedSessionToken", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"federatedSessionToken": "tok"})
	})
	mux.HandleFunc("/api/camera/getMediaUris", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"lanVodMpdUrisTemplates": []string{server.URL + "/media/clip.mpd?start={START_TIME}&dur={DURATION}"},
			"wanVodMpdUriTemplate":   server.URL + "/wan/clip.mpd?start={START_TIME}&dur={DURATION}",
		})
	})
	mux.HandleFunc("/media/clip.mpd", func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.RawQuery, "start=1700000000") {
			t.Errorf("Window start not substituted into mpd uri: %s", r.URL.RawQuery)
		}
		w.Write([]byte(sampleMPD))
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	client, err := api.NewClient(config.Config{APIBaseURL: server.URL, APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	fetcher := fetch.NewFetcher(client, fetch.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}, time.Second)
	resolver := NewResolver(client, fetcher, false)

	win, _ := window.Manual("cam-1", time.Unix(1700000000, 0), 10*time.Second)
	man, err := resolver.Resolve(context.Background(), Video, "cam-1", win)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(man.Segments) != 5 {
		t.Errorf("10s window must yield 5 segments, got %d", len(man.Segments))
	}
	if !strings.Contains(man.Segments[0].URI, "seg_1.m4v") {
		t.Errorf("First segment URI wrong: %s", man.Segments[0].URI)
	}
	if !strings.Contains(man.InitURI, "seg_init.mp4") {
		t.Errorf("Init URI wrong: %s", man.InitURI)
	}
}

func TestResolveUnreachableCameraIsUnavailable(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/camera/getMediaUris", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "camera offline", http.StatusServiceUnavailable)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client, err := api.NewClient(config.Config{APIBaseURL: server.URL, APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	fetcher := fetch.NewFetcher(client, fetch.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond}, time.Second)
	resolver := NewResolver(client, fetcher, false)

	win, _ := window.Manual("cam-1", time.Unix(1700000000, 0), 10*time.Second)
	_, err = resolver.Resolve(context.Background(), Video, "cam-1", win)
	if err == nil {
		t.Fatal("Expected resolve failure")
	}
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
}
