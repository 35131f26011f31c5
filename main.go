package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"propsift/config"
	"propsift/connector"
	"propsift/httputil"
	"propsift/logging"
	"propsift/models"
	"propsift/pipeline"
	"propsift/queue"
	"propsift/scheduler"
	"propsift/services"
	"propsift/storage"
	"propsift/workers"
)

var (
	crawlNow  = flag.Bool("crawl", false, "Queue a crawl of every source, wait for the pipeline to drain, then exit")
	sweepNow  = flag.Bool("sweep", false, "Run the merge-review sweep once and exit")
	statusCmd = flag.Bool("status", false, "Print queue and dead-letter status and exit")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *statusCmd {
		if err := printStatus(cfg); err != nil {
			log.Fatalf("Status failed: %v", err)
		}
		return
	}

	logFile, err := logging.Setup(cfg.LogPath)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	log.Println("Starting propsift...")
	log.Printf("Loaded %d source configs", len(cfg.Sources))
	for id, src := range cfg.Sources {
		log.Printf("  - %s (%s, %s)", src.Name, id, src.Method)
	}

	ctx := context.Background()

	store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		log.Fatalf("Failed to migrate: %v", err)
	}

	jobs, err := storage.NewJobStore(cfg.JobDBPath)
	if err != nil {
		log.Fatalf("Failed to open job store: %v", err)
	}
	defer jobs.Close()
	log.Printf("Job database: %s", cfg.JobDBPath)

	clients := httputil.NewClients(cfg.ProxyURL)

	connectors := make(map[string]connector.Connector)
	for id, src := range cfg.Sources {
		conn, err := connector.New(src, clients)
		if err != nil {
			log.Fatalf("Failed to build connector %s: %v", id, err)
		}
		if conn == nil {
			continue // manual sources are never crawled
		}
		connectors[id] = conn

		if err := store.UpsertSource(ctx, &models.Source{
			ID:       src.ID,
			Name:     src.Name,
			Domain:   src.Domain,
			Method:   models.SourceMethod(src.Method),
			IsActive: true,
		}); err != nil {
			log.Fatalf("Failed to upsert source %s: %v", id, err)
		}
	}
	log.Printf("Built %d connectors", len(connectors))
	defer closeConnectors(connectors)

	resolution := services.NewResolutionService(store)
	match := services.NewMatchService(store)
	enrichment := services.NewEnrichmentService(store, cfg.ScorePreset)
	alerts := services.NewAlertService(store)

	var archiver *storage.ArchiveUploader
	if cfg.Archive.Enabled() {
		archiver, err = storage.NewArchiveUploader(ctx, storage.ArchiveConfig{
			Bucket:          cfg.Archive.Bucket,
			Region:          cfg.Archive.Region,
			Endpoint:        cfg.Archive.Endpoint,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			SecretAccessKey: cfg.Archive.SecretAccessKey,
			HTTPClient:      clients.Internal,
		})
		if err != nil {
			log.Fatalf("Failed to init archive uploader: %v", err)
		}
		log.Printf("Dead-letter archive: s3://%s", cfg.Archive.Bucket)
	}

	if *sweepNow {
		log.Println("Running merge-review sweep...")
		stats, err := match.Sweep(ctx, cfg.Sweep.Window, cfg.Sweep.Batch)
		if err != nil {
			log.Fatalf("Sweep failed: %v", err)
		}
		log.Printf("Sweep complete: scanned=%d pairs=%d reviews=%d",
			stats.Scanned, stats.PairsCompared, stats.ReviewsCreated)
		return
	}

	sweep := workers.NewSweepWorker(match, cfg.Sweep.Window, cfg.Sweep.Batch)

	queues := queue.NewManager(jobs, queue.DefaultConfigs())
	pipe := pipeline.New(pipeline.Params{
		Store:      store,
		Jobs:       jobs,
		Queues:     queues,
		Connectors: connectors,
		Resolution: resolution,
		Enrichment: enrichment,
		Alerts:     alerts,
		Archiver:   archiver,
		Sweeper:    sweep,
		Retention:  cfg.Retention,
	})
	pipe.Register()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := queues.Start(ctx); err != nil {
		log.Fatalf("Failed to start queues: %v", err)
	}

	if *crawlNow {
		log.Println("Queueing crawl for all sources...")
		if err := pipe.EnqueueCrawlAll(); err != nil {
			log.Fatalf("Failed to queue crawl: %v", err)
		}
		waitForDrain(ctx, jobs)
		queues.Close()
		log.Println("Crawl complete!")
		return
	}

	sched := scheduler.New(cfg, pipe, queues)
	if err := sched.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	go sweep.Run(ctx, cfg.Sweep.Interval)
	log.Println("Sweep worker started")

	log.Println("Daemon running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")
	sched.Stop()
	cancel()
	queues.Close()
	log.Println("Goodbye!")
}

// closeConnectors releases the browser handles scrape connectors hold.
func closeConnectors(connectors map[string]connector.Connector) {
	for _, conn := range connectors {
		if c, ok := conn.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

// waitForDrain blocks until no pending or running jobs remain. Used by the
// one-shot crawl so the process exits only once the pipeline settles.
func waitForDrain(ctx context.Context, jobs *storage.JobStore) {
	// Give the first crawl jobs a moment to land before polling.
	time.Sleep(2 * time.Second)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		active, err := jobs.ActiveCount(queue.Deliver)
		if err != nil {
			log.Printf("Drain check: %v", err)
		} else if active == 0 {
			return
		}
		time.Sleep(time.Second)
	}
}

// printStatus renders the operator view: per-queue job counts and recent
// dead letters. Payloads are deliberately not shown.
func printStatus(cfg *config.Config) error {
	jobs, err := storage.NewJobStore(cfg.JobDBPath)
	if err != nil {
		return fmt.Errorf("open job store: %w", err)
	}
	defer jobs.Close()

	stats, err := jobs.QueueStats()
	if err != nil {
		return fmt.Errorf("queue stats: %w", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Queue", "Pending", "Running", "Completed", "Dead"})
	for _, st := range stats {
		t.AppendRow(table.Row{st.Queue, st.Pending, st.Running, st.Completed, st.Dead})
	}
	t.Render()

	dead, err := jobs.ListDeadLetters(20)
	if err != nil {
		return fmt.Errorf("list dead letters: %w", err)
	}
	if len(dead) == 0 {
		return nil
	}

	fmt.Println()
	d := table.NewWriter()
	d.SetOutputMirror(os.Stdout)
	d.SetStyle(table.StyleLight)
	d.AppendHeader(table.Row{"ID", "Queue", "Attempts", "Last Error", "Updated"})
	for _, j := range dead {
		errText := j.LastError
		if len(errText) > 80 {
			errText = errText[:77] + "..."
		}
		d.AppendRow(table.Row{j.ID, j.Queue, j.Attempts, errText, j.UpdatedAt.Format(time.RFC3339)})
	}
	d.Render()
	return nil
}
