package scheduler

import (
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
	"propsift/config"
	"propsift/pipeline"
	"propsift/queue"
)

// Scheduler translates cron expressions into queued jobs. It never runs
// pipeline work itself - everything goes through the queues so retries,
// backoff and dead-lettering apply uniformly.
type Scheduler struct {
	cfg    *config.Config
	pipe   *pipeline.Pipeline
	queues *queue.Manager
	cron   *cron.Cron
}

func New(cfg *config.Config, pipe *pipeline.Pipeline, queues *queue.Manager) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		pipe:   pipe,
		queues: queues,
		cron:   cron.New(),
	}
}

func (s *Scheduler) Start() error {
	entries := []struct {
		name string
		expr string
		fn   func()
	}{
		{"crawl", s.cfg.Cron.Crawl, func() {
			if err := s.pipe.EnqueueCrawlAll(); err != nil {
				log.Printf("Scheduled crawl enqueue error: %v", err)
			}
		}},
		{"index", s.cfg.Cron.Index, func() {
			if err := s.queues.Enqueue(queue.Index, struct{}{}); err != nil {
				log.Printf("Scheduled index enqueue error: %v", err)
			}
		}},
		{"cleanup", s.cfg.Cron.Cleanup, func() {
			if err := s.queues.Enqueue(queue.Cleanup, struct{}{}); err != nil {
				log.Printf("Scheduled cleanup enqueue error: %v", err)
			}
		}},
		{"report", s.cfg.Cron.Report, func() {
			if err := s.queues.Enqueue(queue.Report, struct{}{}); err != nil {
				log.Printf("Scheduled report enqueue error: %v", err)
			}
		}},
	}

	for _, e := range entries {
		if e.expr == "" {
			continue
		}
		if _, err := s.cron.AddFunc(e.expr, e.fn); err != nil {
			return fmt.Errorf("invalid %s cron %q: %w", e.name, e.expr, err)
		}
		log.Printf("Scheduled %s: %s", e.name, e.expr)
	}

	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}
