package mux

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"time"
)

// Runner executes the external muxing tool. Replaced in tests.
type Runner func(ctx context.Context, args []string) error

// MuxError reports a failed combine invocation. The job falls back to
// video-only output and is reported as partial.
type MuxError struct {
	Err error
}

func (e *MuxError) Error() string { return fmt.Sprintf("muxing failed: %v", e.Err) }
func (e *MuxError) Unwrap() error { return e.Err }

// Tracks is the input to Finalize: a completed video file, an optional
// completed audio file, and the destination for the combined output.
type Tracks struct {
	VideoPath    string // always present; doubles as the video-only output
	AudioPath    string // empty when the camera has no audio source
	CombinedPath string
}

// Result is the outcome of finalizing a job's tracks.
type Result struct {
	OutputPath string
	Combined   bool
}

// Combiner interleaves a video and an audio track into one container by
// invoking ffmpeg.
type Combiner struct {
	runner  Runner
	timeout time.Duration
}

// NewCombiner creates a combiner using the real ffmpeg binary.
func NewCombiner() *Combiner {
	return &Combiner{runner: runFFmpeg, timeout: 10 * time.Minute}
}

// NewCombinerWithRunner creates a combiner with an injected runner.
func NewCombinerWithRunner(runner Runner, timeout time.Duration) *Combiner {
	return &Combiner{runner: runner, timeout: timeout}
}

// Finalize produces the job's single output file. With no audio track the
// video file already is the output. With audio, ffmpeg interleaves the two;
// if that fails the video-only file is kept and a *MuxError is returned
// alongside the fallback result, so already-downloaded footage is never
// discarded. Intermediate files are removed only after the surviving output
// is confirmed on disk.
func (c *Combiner) Finalize(ctx context.Context, t Tracks) (Result, error) {
	if t.AudioPath == "" {
		if err := confirmFile(t.VideoPath); err != nil {
			return Result{}, err
		}
		return Result{OutputPath: t.VideoPath}, nil
	}

	args := []string{
		"-y",
		"-i", t.VideoPath,
		"-i", t.AudioPath,
		"-c:v", "copy",
		"-c:a", "aac",
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-shortest",
		t.CombinedPath,
	}

	muxCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.runner(muxCtx, args); err != nil {
		log.Printf("[mux] Combine failed for %s, keeping video-only output: %v", t.CombinedPath, err)
		os.Remove(t.CombinedPath) // drop any half-written container
		if ferr := confirmFile(t.VideoPath); ferr != nil {
			return Result{}, fmt.Errorf("mux failed and video track is unusable: %v (mux error: %v)", ferr, err)
		}
		os.Remove(t.AudioPath)
		return Result{OutputPath: t.VideoPath}, &MuxError{Err: err}
	}

	if err := confirmFile(t.CombinedPath); err != nil {
		if ferr := confirmFile(t.VideoPath); ferr == nil {
			os.Remove(t.AudioPath)
			return Result{OutputPath: t.VideoPath}, &MuxError{Err: err}
		}
		return Result{}, err
	}

	// Combined output confirmed; intermediates can go.
	os.Remove(t.VideoPath)
	os.Remove(t.AudioPath)
	log.Printf("[mux] Created %s", t.CombinedPath)
	return Result{OutputPath: t.CombinedPath, Combined: true}, nil
}

// confirmFile verifies an output exists and is not empty.
func confirmFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("output %s missing: %v", path, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("output %s is empty", path)
	}
	return nil
}

// runFFmpeg invokes the ffmpeg binary, keeping the tail of stderr for error
// reporting.
func runFFmpeg(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		out := stderr.Bytes()
		if len(out) > 512 {
			out = out[len(out)-512:]
		}
		return fmt.Errorf("ffmpeg: %v: %s", err, out)
	}
	return nil
}
