package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"camcopy/assemble"
	"camcopy/fetch"
	"camcopy/manifest"
	"camcopy/mux"
)

// Status is the terminal state of one work item.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// Result is the terminal, write-once record of one pipeline run.
type Result struct {
	ItemID     string
	CameraUUID string
	CameraName string
	OutputPath string
	Status     Status
	Combined   bool
	VideoGaps  []int
	AudioGaps  []int
	Err        error
	Started    time.Time
	Finished   time.Time
}

// Pipeline runs one work item end to end: manifest resolution, concurrent
// segment fetch, in-order assembly per stream, and track combination.
type Pipeline struct {
	resolver      *manifest.Resolver
	fetcher       *fetch.Fetcher
	combiner      *mux.Combiner
	segmentConc   int64
	progressEvery int
}

// New creates a pipeline. segmentConcurrency bounds how many segment fetches
// of one stream run at once, so a single job cannot starve its siblings.
func New(resolver *manifest.Resolver, fetcher *fetch.Fetcher, combiner *mux.Combiner, segmentConcurrency int) *Pipeline {
	if segmentConcurrency < 1 {
		segmentConcurrency = 1
	}
	return &Pipeline{
		resolver:      resolver,
		fetcher:       fetcher,
		combiner:      combiner,
		segmentConc:   int64(segmentConcurrency),
		progressEvery: 300, // one log line per 10 minutes of 2s footage
	}
}

// Run executes the pipeline for one work item. Errors never escape: every
// outcome is mapped into the item's Result.
func (p *Pipeline) Run(ctx context.Context, item WorkItem) Result {
	res := Result{
		ItemID:     item.ID,
		CameraUUID: item.Camera.UUID,
		CameraName: item.Camera.Name,
		Status:     StatusFailed,
		Started:    time.Now(),
	}
	defer func() { res.Finished = time.Now() }()

	log.Printf("[pipeline] Job %s: camera %s (%s), window %s - %s",
		item.ID, item.Camera.Name, item.Camera.UUID,
		item.Window.Start.Format(time.RFC3339), item.Window.End.Format(time.RFC3339))

	vman, err := p.resolver.Resolve(ctx, manifest.Video, item.Camera.UUID, item.Window)
	if err != nil {
		res.Err = err
		return res
	}

	videoRes, err := p.downloadStream(ctx, vman, item.VideoPath())
	if err != nil {
		os.Remove(item.VideoPath())
		res.Err = fmt.Errorf("video stream failed: %w", err)
		return res
	}
	res.VideoGaps = videoRes.Gaps

	audioPath := ""
	audioFailed := false
	if item.Camera.HasAudio() {
		aman, aerr := p.resolver.Resolve(ctx, manifest.Audio, item.Camera.AudioGatewayUUID, item.Window)
		if aerr != nil {
			log.Printf("[pipeline] Job %s: audio manifest unavailable, continuing video-only: %v", item.ID, aerr)
			audioFailed = true
		} else {
			audioRes, aerr := p.downloadStream(ctx, aman, item.AudioPath())
			if aerr != nil {
				log.Printf("[pipeline] Job %s: audio stream failed, continuing video-only: %v", item.ID, aerr)
				os.Remove(item.AudioPath())
				audioFailed = true
			} else {
				audioPath = item.AudioPath()
				res.AudioGaps = audioRes.Gaps
			}
		}
	}

	muxRes, err := p.combiner.Finalize(ctx, mux.Tracks{
		VideoPath:    item.VideoPath(),
		AudioPath:    audioPath,
		CombinedPath: item.CombinedPath(),
	})
	var muxErr *mux.MuxError
	if err != nil && !errors.As(err, &muxErr) {
		res.Err = err
		return res
	}

	res.OutputPath = muxRes.OutputPath
	res.Combined = muxRes.Combined
	if len(res.VideoGaps) > 0 || len(res.AudioGaps) > 0 || audioFailed || muxErr != nil {
		res.Status = StatusPartial
		if muxErr != nil {
			// Assigning a nil *MuxError would make the error interface
			// non-nil and break every Err == nil check downstream.
			res.Err = muxErr
		}
	} else {
		res.Status = StatusSuccess
	}

	log.Printf("[pipeline] Job %s: %s -> %s (video gaps: %d, audio gaps: %d)",
		item.ID, res.Status, res.OutputPath, len(res.VideoGaps), len(res.AudioGaps))
	return res
}

// downloadStream fetches one manifest's segments concurrently and assembles
// them in order into path. The init segment is written first; without it the
// stream is unplayable, so its failure fails the stream outright. Segment
// failures that survive the retry budget become gaps.
func (p *Pipeline) downloadStream(ctx context.Context, man *manifest.Manifest, path string) (assemble.Result, error) {
	out, err := os.Create(path)
	if err != nil {
		return assemble.Result{}, fmt.Errorf("creating %s: %v", path, err)
	}
	defer out.Close()

	initData, err := p.fetcher.Fetch(ctx, man.InitURI)
	if err != nil {
		return assemble.Result{}, fmt.Errorf("init segment: %w", err)
	}
	if _, err := out.Write(initData); err != nil {
		return assemble.Result{}, fmt.Errorf("writing init segment: %v", err)
	}

	asm := assemble.New(out, len(man.Segments))
	sem := semaphore.NewWeighted(p.segmentConc)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	var completed int64
	for _, seg := range man.Segments {
		if err := sem.Acquire(ctx, 1); err != nil {
			fail(err)
			break
		}
		wg.Add(1)
		go func(seg manifest.Segment) {
			defer wg.Done()
			defer sem.Release(1)

			data, err := p.fetcher.Fetch(ctx, seg.URI)
			if err != nil {
				log.Printf("[pipeline] %s segment %d lost after retries: %v", man.Kind, seg.Index, err)
				if aerr := asm.Abandon(seg.Index); aerr != nil {
					fail(aerr)
				}
				return
			}
			if aerr := asm.Deliver(seg.Index, data); aerr != nil {
				fail(aerr)
				return
			}
			if n := atomic.AddInt64(&completed, 1); p.progressEvery > 0 && n%int64(p.progressEvery) == 0 {
				log.Printf("[pipeline] %s stream: %d/%d segments written", man.Kind, n, len(man.Segments))
			}
		}(seg)
	}
	wg.Wait()

	if firstErr != nil {
		return assemble.Result{}, firstErr
	}
	result, err := asm.Complete()
	if err != nil {
		return assemble.Result{}, err
	}
	if err := out.Sync(); err != nil {
		return assemble.Result{}, fmt.Errorf("syncing %s: %v", path, err)
	}
	return result, nil
}
