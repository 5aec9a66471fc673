package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/semaphore"

	"camcopy/database"
	"camcopy/pipeline"
)

// Runner executes one work item to a terminal result. Implemented by
// pipeline.Pipeline; faked in tests.
type Runner interface {
	Run(ctx context.Context, item pipeline.WorkItem) pipeline.Result
}

// JobStore persists job state transitions. May be nil when no ledger is
// configured. Implemented by database.Database.
type JobStore interface {
	CreateJob(record database.JobRecord) error
	UpdateJob(record database.JobRecord) error
}

// OutputCollisionError reports two work items resolving to the same output
// path. Disjoint outputs are a batch precondition, so this is fatal before
// any work starts.
type OutputCollisionError struct {
	Path       string
	FirstItem  string
	SecondItem string
}

func (e *OutputCollisionError) Error() string {
	return fmt.Sprintf("work items %s and %s both target %s", e.FirstItem, e.SecondItem, e.Path)
}

// Scheduler runs a batch of work items under a bounded worker pool with
// rate-limited launch. One item's failure never cancels or corrupts its
// siblings; every item is accounted for exactly once in the returned results.
type Scheduler struct {
	runner      Runner
	store       JobStore
	concurrency int64
	launchDelay time.Duration
}

// NewScheduler creates a scheduler. store may be nil.
func NewScheduler(runner Runner, store JobStore, concurrency int, launchDelay time.Duration) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Scheduler{
		runner:      runner,
		store:       store,
		concurrency: int64(concurrency),
		launchDelay: launchDelay,
	}
}

// Dispatch runs every work item and blocks until all reach a terminal state.
// Result order does not match input order. The only errors returned are
// batch-level preconditions (output collision); per-item failures live in
// their results.
func (s *Scheduler) Dispatch(ctx context.Context, items []pipeline.WorkItem) ([]pipeline.Result, error) {
	if len(items) == 0 {
		return nil, nil
	}
	if err := checkCollisions(items); err != nil {
		return nil, err
	}

	log.Printf("[dispatch] Starting batch of %d jobs (concurrency %d)", len(items), s.concurrency)

	sem := semaphore.NewWeighted(s.concurrency)
	results := make(chan pipeline.Result, len(items))

	for i, item := range items {
		if i > 0 && s.launchDelay > 0 {
			// Throttle launches so the batch does not burst the remote API.
			select {
			case <-time.After(s.launchDelay):
			case <-ctx.Done():
			}
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			// Context gone: the item still gets a terminal, accounted result,
			// and the ledger records it like any other failure.
			res := failedResult(item, fmt.Errorf("not started: %w", err))
			s.recordResult(item, res)
			results <- res
			continue
		}

		s.recordStart(item)
		go func(item pipeline.WorkItem) {
			defer sem.Release(1)
			res := s.runItem(ctx, item)
			s.recordResult(item, res)
			results <- res
		}(item)
	}

	all := make([]pipeline.Result, 0, len(items))
	for range items {
		all = append(all, <-results)
	}

	success, partial, failed := Summarize(all)
	log.Printf("[dispatch] Batch complete: %d success, %d partial, %d failed", success, partial, failed)
	return all, nil
}

// runItem isolates one job: a panic inside the pipeline becomes that item's
// failed result instead of taking down the batch.
func (s *Scheduler) runItem(ctx context.Context, item pipeline.WorkItem) (res pipeline.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[dispatch] Job %s panicked: %v", item.ID, r)
			res = failedResult(item, fmt.Errorf("job panicked: %v", r))
		}
	}()
	return s.runner.Run(ctx, item)
}

// Summarize counts terminal states in a batch result.
func Summarize(results []pipeline.Result) (success, partial, failed int) {
	for _, r := range results {
		switch r.Status {
		case pipeline.StatusSuccess:
			success++
		case pipeline.StatusPartial:
			partial++
		default:
			failed++
		}
	}
	return
}

func checkCollisions(items []pipeline.WorkItem) error {
	seen := make(map[string]string, len(items)*2)
	for _, item := range items {
		for _, path := range []string{item.VideoPath(), item.CombinedPath()} {
			if other, ok := seen[path]; ok {
				return &OutputCollisionError{Path: path, FirstItem: other, SecondItem: item.ID}
			}
			seen[path] = item.ID
		}
	}
	return nil
}

func failedResult(item pipeline.WorkItem, err error) pipeline.Result {
	now := time.Now()
	return pipeline.Result{
		ItemID:     item.ID,
		CameraUUID: item.Camera.UUID,
		CameraName: item.Camera.Name,
		Status:     pipeline.StatusFailed,
		Err:        err,
		Started:    now,
		Finished:   now,
	}
}

func (s *Scheduler) recordStart(item pipeline.WorkItem) {
	if s.store == nil {
		return
	}
	record := database.JobRecord{
		ID:          item.ID,
		CameraUUID:  item.Camera.UUID,
		CameraName:  item.Camera.Name,
		WindowStart: item.Window.Start,
		WindowEnd:   item.Window.End,
		Status:      database.JobRunning,
		CreatedAt:   time.Now(),
	}
	if item.Alert != nil {
		record.AlertID = item.Alert.ID
		record.AlertType = item.Alert.Type
	}
	if err := s.store.CreateJob(record); err != nil {
		log.Printf("[dispatch] Error recording job %s start: %v", item.ID, err)
	}
}

func (s *Scheduler) recordResult(item pipeline.WorkItem, res pipeline.Result) {
	if s.store == nil {
		return
	}
	status := database.JobFailed
	switch res.Status {
	case pipeline.StatusSuccess:
		status = database.JobSuccess
	case pipeline.StatusPartial:
		status = database.JobPartial
	}
	errMsg := ""
	if res.Err != nil {
		errMsg = res.Err.Error()
	}
	finished := res.Finished
	record := database.JobRecord{
		ID:           item.ID,
		CameraUUID:   item.Camera.UUID,
		CameraName:   item.Camera.Name,
		WindowStart:  item.Window.Start,
		WindowEnd:    item.Window.End,
		Status:       status,
		OutputPath:   res.OutputPath,
		Combined:     res.Combined,
		VideoGaps:    len(res.VideoGaps),
		AudioGaps:    len(res.AudioGaps),
		ErrorMessage: errMsg,
		CreatedAt:    res.Started,
		FinishedAt:   &finished,
	}
	if item.Alert != nil {
		record.AlertID = item.Alert.ID
		record.AlertType = item.Alert.Type
	}
	if err := s.store.UpdateJob(record); err != nil {
		log.Printf("[dispatch] Error recording job %s result: %v", item.ID, err)
	}
}
