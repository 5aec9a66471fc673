package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"reflect"
	"testing"
	"time"

	"camcopy/api"
	"camcopy/config"
	"camcopy/fetch"
	"camcopy/manifest"
	"camcopy/mux"
	"camcopy/window"
)

const videoMPD = `<MPD xmlns="urn:mpeg:dash:schema:mpd:2011">
  <Period>
    <AdaptationSet contentType="video" mimeType="video/mp4">
      <SegmentTemplate initialization="seg_init.mp4" media="seg_$Number$.m4v" startNumber="1"/>
    </AdaptationSet>
  </Period>
</MPD>`

const audioMPD = `<MPD xmlns="urn:mpeg:dash:schema:mpd:2011">
  <Period>
    <AdaptationSet contentType="audio" mimeType="audio/mp4">
      <SegmentTemplate initialization="aud_init.mp4" media="aud_$Number$.m4a" startNumber="1"/>
    </AdaptationSet>
  </Period>
</MPD>`

// stubPlatform emulates the cloud API and a camera's media endpoints.
type stubPlatform struct {
	server *httptest.Server

	videoSegStatus  map[int]int // segment number -> forced http status
	videoInitStatus int         // non-zero forces the video init segment status
	audioAPIStatus  int         // non-zero forces the audio getMediaUris status
}

func newStubPlatform(t *testing.T) *stubPlatform {
	t.Helper()
	p := &stubPlatform{videoSegStatus: make(map[int]int)}

	routes := http.NewServeMux()
	routes.HandleFunc("/api/org/generateFederatedSessionToken", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"federatedSessionToken": "tok"})
	})
	routes.HandleFunc("/api/camera/getMediaUris", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"lanVodMpdUrisTemplates": []string{p.server.URL + "/video/clip.mpd?s={START_TIME}&d={DURATION}"},
		})
	})
	routes.HandleFunc("/api/audiogateway/getMediaUris", func(w http.ResponseWriter, r *http.Request) {
		if p.audioAPIStatus != 0 {
			w.WriteHeader(p.audioAPIStatus)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"lanVodMpdUrisTemplates": []string{p.server.URL + "/audio/clip.mpd?s={START_TIME}&d={DURATION}"},
		})
	})
	routes.HandleFunc("/video/clip.mpd", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(videoMPD))
	})
	routes.HandleFunc("/audio/clip.mpd", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(audioMPD))
	})
	routes.HandleFunc("/video/seg_init.mp4", func(w http.ResponseWriter, r *http.Request) {
		if p.videoInitStatus != 0 {
			w.WriteHeader(p.videoInitStatus)
			return
		}
		w.Write([]byte("VINIT|"))
	})
	routes.HandleFunc("/audio/aud_init.mp4", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("AINIT|"))
	})
	routes.HandleFunc("/video/", func(w http.ResponseWriter, r *http.Request) {
		var n int
		if _, err := fmt.Sscanf(r.URL.Path, "/video/seg_%d.m4v", &n); err != nil {
			http.NotFound(w, r)
			return
		}
		if status, ok := p.videoSegStatus[n]; ok {
			w.WriteHeader(status)
			return
		}
		fmt.Fprintf(w, "V%d|", n)
	})
	routes.HandleFunc("/audio/", func(w http.ResponseWriter, r *http.Request) {
		var n int
		if _, err := fmt.Sscanf(r.URL.Path, "/audio/aud_%d.m4a", &n); err != nil {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, "A%d|", n)
	})

	p.server = httptest.NewServer(routes)
	t.Cleanup(p.server.Close)
	return p
}

func newTestPipeline(t *testing.T, p *stubPlatform, runner mux.Runner) *Pipeline {
	t.Helper()
	client, err := api.NewClient(config.Config{APIBaseURL: p.server.URL, APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	fetcher := fetch.NewFetcher(client, fetch.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}, time.Second)
	resolver := manifest.NewResolver(client, fetcher, false)
	combiner := mux.NewCombinerWithRunner(runner, time.Second)
	return New(resolver, fetcher, combiner, 4)
}

func sixSecondWindow(t *testing.T, cam api.Camera) window.Window {
	t.Helper()
	win, err := window.Manual(cam.UUID, time.Unix(1700000000, 0), 6*time.Second)
	if err != nil {
		t.Fatalf("Manual failed: %v", err)
	}
	return win
}

func TestRunVideoOnlySuccess(t *testing.T) {
	p := newStubPlatform(t)
	pl := newTestPipeline(t, p, func(ctx context.Context, args []string) error {
		t.Error("Video-only camera must not invoke the muxer")
		return nil
	})

	cam := api.Camera{UUID: "cam-1", Name: "Gate"}
	item := NewManualItem(cam, sixSecondWindow(t, cam), t.TempDir())

	res := pl.Run(context.Background(), item)
	if res.Status != StatusSuccess {
		t.Fatalf("Status = %s (err %v), want success", res.Status, res.Err)
	}
	if res.OutputPath != item.VideoPath() || res.Combined {
		t.Errorf("Unexpected output: %+v", res)
	}

	data, err := os.ReadFile(res.OutputPath)
	if err != nil {
		t.Fatalf("Reading output: %v", err)
	}
	if got, want := string(data), "VINIT|V1|V2|V3|"; got != want {
		t.Errorf("Output = %q, want %q", got, want)
	}
}

func TestRunRecordsGapOnLostSegment(t *testing.T) {
	p := newStubPlatform(t)
	p.videoSegStatus[2] = http.StatusNotFound

	pl := newTestPipeline(t, p, nil)
	cam := api.Camera{UUID: "cam-1", Name: "Gate"}
	item := NewManualItem(cam, sixSecondWindow(t, cam), t.TempDir())

	res := pl.Run(context.Background(), item)
	if res.Status != StatusPartial {
		t.Fatalf("Status = %s (err %v), want partial", res.Status, res.Err)
	}
	if res.Err != nil {
		t.Errorf("Gap-only partial must carry no error, got %T: %v", res.Err, res.Err)
	}
	if len(res.VideoGaps) != 1 || res.VideoGaps[0] != 1 {
		t.Errorf("VideoGaps = %v, want [1]", res.VideoGaps)
	}

	data, err := os.ReadFile(res.OutputPath)
	if err != nil {
		t.Fatalf("Reading output: %v", err)
	}
	// The lost segment is a recorded gap; later footage still lands in order.
	if got, want := string(data), "VINIT|V1|V3|"; got != want {
		t.Errorf("Output = %q, want %q", got, want)
	}
}

func TestRunCombinesAudio(t *testing.T) {
	p := newStubPlatform(t)

	cam := api.Camera{UUID: "cam-1", Name: "Gate", AudioGatewayUUID: "gw-1"}
	item := NewManualItem(cam, sixSecondWindow(t, cam), t.TempDir())

	pl := newTestPipeline(t, p, func(ctx context.Context, args []string) error {
		return os.WriteFile(item.CombinedPath(), []byte("muxed"), 0644)
	})

	res := pl.Run(context.Background(), item)
	if res.Status != StatusSuccess {
		t.Fatalf("Status = %s (err %v), want success", res.Status, res.Err)
	}
	if res.OutputPath != item.CombinedPath() || !res.Combined {
		t.Errorf("Expected combined output, got %+v", res)
	}
	if _, err := os.Stat(item.VideoPath()); !os.IsNotExist(err) {
		t.Error("Video intermediate must be removed after combine")
	}
	if _, err := os.Stat(item.AudioPath()); !os.IsNotExist(err) {
		t.Error("Audio intermediate must be removed after combine")
	}
}

func TestRunAudioFailureFallsBackToVideoOnly(t *testing.T) {
	p := newStubPlatform(t)
	p.audioAPIStatus = http.StatusNotFound

	cam := api.Camera{UUID: "cam-1", Name: "Gate", AudioGatewayUUID: "gw-1"}
	item := NewManualItem(cam, sixSecondWindow(t, cam), t.TempDir())

	pl := newTestPipeline(t, p, func(ctx context.Context, args []string) error {
		t.Error("Muxer must not run when the audio track failed")
		return nil
	})

	res := pl.Run(context.Background(), item)
	if res.Status != StatusPartial {
		t.Fatalf("Status = %s (err %v), want partial", res.Status, res.Err)
	}
	if res.Err != nil {
		t.Errorf("Audio-failure partial must carry no error, got %T: %v", res.Err, res.Err)
	}
	if res.OutputPath != item.VideoPath() || res.Combined {
		t.Errorf("Expected video-only fallback, got %+v", res)
	}
	data, err := os.ReadFile(res.OutputPath)
	if err != nil {
		t.Fatalf("Reading output: %v", err)
	}
	if got, want := string(data), "VINIT|V1|V2|V3|"; got != want {
		t.Errorf("Output = %q, want %q", got, want)
	}
}

// Re-running the same item against an unchanged remote must produce
// byte-identical output with the same gap positions.
func TestRunRepeatable(t *testing.T) {
	p := newStubPlatform(t)
	p.videoSegStatus[2] = http.StatusNotFound

	pl := newTestPipeline(t, p, nil)
	cam := api.Camera{UUID: "cam-1", Name: "Gate"}
	item := NewManualItem(cam, sixSecondWindow(t, cam), t.TempDir())

	first := pl.Run(context.Background(), item)
	if first.Status != StatusPartial {
		t.Fatalf("First run status = %s (err %v), want partial", first.Status, first.Err)
	}
	firstBytes, err := os.ReadFile(first.OutputPath)
	if err != nil {
		t.Fatalf("Reading first output: %v", err)
	}

	second := pl.Run(context.Background(), item)
	if second.Status != first.Status {
		t.Errorf("Second run status = %s, first was %s", second.Status, first.Status)
	}
	secondBytes, err := os.ReadFile(second.OutputPath)
	if err != nil {
		t.Fatalf("Reading second output: %v", err)
	}
	if !bytes.Equal(firstBytes, secondBytes) {
		t.Errorf("Reruns differ: %q vs %q", firstBytes, secondBytes)
	}
	if !reflect.DeepEqual(first.VideoGaps, second.VideoGaps) {
		t.Errorf("Gap positions differ across reruns: %v vs %v", first.VideoGaps, second.VideoGaps)
	}
}

func TestRunManifestFailureFailsJob(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	client, err := api.NewClient(config.Config{APIBaseURL: server.URL, APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	fetcher := fetch.NewFetcher(client, fetch.Policy{MaxAttempts: 1, BaseDelay: time.Millisecond}, time.Second)
	resolver := manifest.NewResolver(client, fetcher, false)
	pl := New(resolver, fetcher, mux.NewCombinerWithRunner(nil, time.Second), 4)

	cam := api.Camera{UUID: "cam-1", Name: "Gate"}
	item := NewManualItem(cam, sixSecondWindow(t, cam), t.TempDir())

	res := pl.Run(context.Background(), item)
	if res.Status != StatusFailed {
		t.Fatalf("Status = %s, want failed", res.Status)
	}
	if !errors.Is(res.Err, manifest.ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", res.Err)
	}
	if _, err := os.Stat(item.VideoPath()); !os.IsNotExist(err) {
		t.Error("Failed job must not leave an output file behind")
	}
}

func TestRunInitSegmentFailureFailsStream(t *testing.T) {
	p := newStubPlatform(t)
	p.videoInitStatus = http.StatusNotFound

	pl := newTestPipeline(t, p, nil)
	cam := api.Camera{UUID: "cam-1", Name: "Gate"}
	item := NewManualItem(cam, sixSecondWindow(t, cam), t.TempDir())

	res := pl.Run(context.Background(), item)
	if res.Status != StatusFailed {
		t.Fatalf("Status = %s, want failed; a stream without its init segment is unplayable", res.Status)
	}
	if _, err := os.Stat(item.VideoPath()); !os.IsNotExist(err) {
		t.Error("Failed stream must not leave a partial file behind")
	}
}
