package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"camcopy/api"
	"camcopy/config"
	"camcopy/cron"
	"camcopy/database"
	"camcopy/dispatch"
	"camcopy/fetch"
	"camcopy/manifest"
	"camcopy/mux"
	"camcopy/pipeline"
	"camcopy/storage"
	"camcopy/window"
)

// runOptions are the per-invocation parameters, mirroring the original CLI.
type runOptions struct {
	startTime   int64
	duration    int64
	alerts      bool
	maxAlerts   int
	beforeTime  int64
	afterTime   int64
	alertBuffer int64
	location    string
	camera      string
	useWAN      bool
	watch       bool
	serve       bool
}

func parseFlags() runOptions {
	var opts runOptions
	flag.Int64Var(&opts.startTime, "start_time", time.Now().Add(-time.Hour).Unix(),
		"Start time in epoch seconds (ignored in alerts mode)")
	flag.Int64Var(&opts.duration, "duration", 3600, "Duration in seconds (ignored in alerts mode)")
	flag.BoolVar(&opts.alerts, "alerts", false, "Download footage for policy alerts instead of a manual time range")
	flag.IntVar(&opts.maxAlerts, "max_alerts", 100, "Maximum number of alerts to retrieve")
	flag.Int64Var(&opts.beforeTime, "before_time", 0, "Only use alerts before this timestamp (epoch seconds)")
	flag.Int64Var(&opts.afterTime, "after_time", 0, "Only use alerts after this timestamp (epoch seconds)")
	flag.Int64Var(&opts.alertBuffer, "alert_buffer", 30, "Buffer in seconds before and after each alert")
	flag.StringVar(&opts.location, "location_uuid", "", "Restrict to cameras at this location")
	flag.StringVar(&opts.camera, "camera_uuid", "", "Restrict to this camera")
	flag.BoolVar(&opts.useWAN, "usewan", false, "Download over WAN rather than LAN")
	flag.BoolVar(&opts.watch, "watch", false, "Keep running and poll the alert feed on a schedule")
	flag.BoolVar(&opts.serve, "serve", false, "Run the job status server")
	flag.Parse()
	return opts
}

// app bundles the wired components one batch run needs.
type app struct {
	cfg       config.Config
	opts      runOptions
	client    *api.Client
	db        database.Database
	scheduler *dispatch.Scheduler
	r2        *storage.R2Storage
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment as-is")
	}

	opts := parseFlags()
	cfg := config.LoadConfig()
	if opts.useWAN {
		cfg.UseWAN = true
	}
	config.EnsurePaths(cfg)

	client, err := api.NewClient(cfg)
	if err != nil {
		log.Fatal("Failed to initialize API client: ", err)
	}

	db, err := database.NewSQLiteDB(cfg.DatabasePath)
	if err != nil {
		log.Fatal("Failed to initialize SQLite database: ", err)
	}
	defer db.Close()

	var r2 *storage.R2Storage
	if cfg.R2Enabled {
		r2, err = storage.NewR2Storage(storage.R2Config{
			AccessKey: cfg.R2AccessKey,
			SecretKey: cfg.R2SecretKey,
			AccountID: cfg.R2AccountID,
			Bucket:    cfg.R2Bucket,
			Endpoint:  cfg.R2Endpoint,
			Region:    cfg.R2Region,
			BaseURL:   cfg.R2BaseURL,
		})
		if err != nil {
			log.Fatal("Failed to initialize R2 storage: ", err)
		}
	}

	fetcher := fetch.NewFetcher(client, fetch.Policy{
		MaxAttempts: cfg.FetchAttempts,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}, cfg.FetchTimeout)
	resolver := manifest.NewResolver(client, fetcher, cfg.UseWAN)
	pipe := pipeline.New(resolver, fetcher, mux.NewCombiner(), cfg.SegmentConcurrency)
	scheduler := dispatch.NewScheduler(pipe, db, cfg.Concurrency, cfg.LaunchDelay)

	a := &app{cfg: cfg, opts: opts, client: client, db: db, scheduler: scheduler, r2: r2}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if opts.serve {
		server := api.NewServer(db, cfg.ServerPort)
		log.Printf("Starting job status server on :%s", cfg.ServerPort)
		if err := server.Start(); err != nil {
			log.Fatal("Status server failed: ", err)
		}
		return
	}

	if err := storage.CheckFreeSpace(cfg.OutputDir, cfg.MinFreeSpaceGB); err != nil {
		log.Fatal("Refusing to start batch: ", err)
	}

	started := time.Now()
	switch {
	case opts.watch:
		a.runWatch(ctx)
	case opts.alerts:
		a.runAlertBatch(ctx)
	default:
		a.runManualBatch(ctx)
	}
	log.Printf("Total execution time: %.2f minutes", time.Since(started).Minutes())
}

// runManualBatch downloads the configured time range from every camera in
// scope.
func (a *app) runManualBatch(ctx context.Context) {
	log.Println("Running in manual mode - downloading footage for specified time range...")

	cameras, err := a.client.Cameras(ctx, api.CameraFilter{
		LocationUUID: a.opts.location,
		CameraUUID:   a.opts.camera,
	})
	if err != nil {
		log.Fatal("Failed to resolve cameras: ", err)
	}
	if len(cameras) == 0 {
		log.Fatal("No cameras resolved, nothing to do")
	}

	filter := a.globalFilter()
	items := make([]pipeline.WorkItem, 0, len(cameras))
	for _, cam := range cameras {
		win, err := window.Manual(cam.UUID, time.Unix(a.opts.startTime, 0), time.Duration(a.opts.duration)*time.Second)
		if err != nil {
			log.Fatal("Invalid time range: ", err)
		}
		if !filter.Allow(win) {
			continue
		}
		items = append(items, pipeline.NewManualItem(cam, win, a.cfg.OutputDir))
	}
	if len(items) == 0 {
		log.Fatal("Time filters excluded every camera window, nothing to do")
	}

	a.runBatch(ctx, items)
}

// runAlertBatch downloads footage around each policy alert in scope.
func (a *app) runAlertBatch(ctx context.Context) {
	log.Println("Running in alerts mode - fetching policy alerts...")

	query := api.AlertQuery{
		MaxResults:   a.opts.maxAlerts,
		LocationUUID: a.opts.location,
		CameraUUID:   a.opts.camera,
	}
	if a.opts.beforeTime > 0 {
		query.BeforeMs = a.opts.beforeTime * 1000
	}
	if a.opts.afterTime > 0 {
		query.AfterMs = a.opts.afterTime * 1000
	}

	alerts, err := a.client.PolicyAlerts(ctx, query)
	if err != nil {
		log.Fatal("Failed to retrieve policy alerts: ", err)
	}
	if len(alerts) == 0 {
		log.Println("No policy alerts found matching criteria")
		return
	}

	items := a.alertWorkItems(ctx, alerts)
	if len(items) == 0 {
		log.Println("No valid download tasks generated from alerts")
		return
	}
	a.runBatch(ctx, items)
}

// runWatch polls the alert feed on the configured schedule and dispatches
// footage jobs for new alerts until interrupted.
func (a *app) runWatch(ctx context.Context) {
	log.Printf("Running in watch mode - polling alerts on schedule %q", a.cfg.WatchSchedule)

	query := api.AlertQuery{
		MaxResults:   a.opts.maxAlerts,
		LocationUUID: a.opts.location,
		CameraUUID:   a.opts.camera,
	}
	watcher := cron.NewWatcher(a.client, func(ctx context.Context, alerts []api.Alert) {
		items := a.alertWorkItems(ctx, alerts)
		if len(items) == 0 {
			return
		}
		a.runBatch(ctx, items)
	}, query, a.cfg.WatchSchedule)

	if err := watcher.Start(ctx); err != nil {
		log.Fatal("Alert watcher failed: ", err)
	}
}

// alertWorkItems converts alerts into work items, pairing each with its
// camera's audio gateway and dropping alerts that cannot form a window.
func (a *app) alertWorkItems(ctx context.Context, alerts []api.Alert) []pipeline.WorkItem {
	cameras, err := a.client.Cameras(ctx, api.CameraFilter{
		LocationUUID: a.opts.location,
		CameraUUID:   a.opts.camera,
	})
	if err != nil {
		log.Printf("Warning: failed to resolve camera inventory, proceeding without audio pairing: %v", err)
	}
	byUUID := make(map[string]api.Camera, len(cameras))
	for _, cam := range cameras {
		byUUID[cam.UUID] = cam
	}

	filter := a.globalFilter()
	buffer := time.Duration(a.opts.alertBuffer) * time.Second

	var items []pipeline.WorkItem
	invalid, filtered := 0, 0
	for _, alert := range alerts {
		win, err := window.FromAlert(alert, buffer)
		if err != nil {
			log.Printf("Skipping alert %s: %v", alert.ID, err)
			invalid++
			continue
		}
		if !filter.Allow(win) {
			filtered++
			continue
		}

		cam, ok := byUUID[alert.DeviceUUID]
		if !ok {
			// Alert for a camera outside the inventory; still retrievable,
			// just without an audio pairing.
			cam = api.Camera{UUID: alert.DeviceUUID, Name: alert.DeviceName}
		}
		items = append(items, pipeline.NewAlertItem(cam, win, alert, a.cfg.OutputDir))
	}

	log.Printf("Prepared %d download tasks from %d alerts (%d invalid, %d filtered out)",
		len(items), len(alerts), invalid, filtered)
	return items
}

// runBatch dispatches the work items and, when configured, archives the
// outputs to R2.
func (a *app) runBatch(ctx context.Context, items []pipeline.WorkItem) {
	results, err := a.scheduler.Dispatch(ctx, items)
	if err != nil {
		// Batch-level precondition failure: nothing was started.
		log.Fatal("Batch could not start: ", err)
	}

	for _, res := range results {
		switch res.Status {
		case pipeline.StatusFailed:
			log.Printf("Job %s (%s) failed: %v", res.ItemID, res.CameraName, res.Err)
		case pipeline.StatusPartial:
			log.Printf("Job %s (%s) partial: %s", res.ItemID, res.CameraName, res.OutputPath)
		default:
			log.Printf("Job %s (%s) succeeded: %s", res.ItemID, res.CameraName, res.OutputPath)
		}
	}

	if a.r2 != nil {
		a.archiveOutputs(results)
	}
}

// archiveOutputs uploads finished outputs to R2 and records their URLs.
func (a *app) archiveOutputs(results []pipeline.Result) {
	for _, res := range results {
		if res.OutputPath == "" {
			continue
		}
		remote := filepath.Join("footage", filepath.Base(res.OutputPath))
		url, err := a.r2.UploadFile(res.OutputPath, remote)
		if err != nil {
			log.Printf("Error archiving %s: %v", res.OutputPath, err)
			continue
		}
		if err := a.db.UpdateJobUpload(res.ItemID, url); err != nil {
			log.Printf("Error recording archive URL for job %s: %v", res.ItemID, err)
		}
	}
}

func (a *app) globalFilter() window.Filter {
	var f window.Filter
	if a.opts.beforeTime > 0 {
		f.Before = time.Unix(a.opts.beforeTime, 0)
	}
	if a.opts.afterTime > 0 {
		f.After = time.Unix(a.opts.afterTime, 0)
	}
	return f
}
