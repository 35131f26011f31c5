package workers

import (
	"context"
	"log"
	"time"

	"propsift/services"
)

// SweepWorker periodically runs the fuzzy-match sweep that raises merge
// reviews for near-duplicate properties.
type SweepWorker struct {
	match   *services.MatchService
	window  time.Duration
	batch   int
	trigger chan struct{}
}

func NewSweepWorker(match *services.MatchService, window time.Duration, batch int) *SweepWorker {
	return &SweepWorker{
		match:   match,
		window:  window,
		batch:   batch,
		trigger: make(chan struct{}, 1),
	}
}

// Trigger requests an immediate sweep. Non-blocking; a pending trigger
// coalesces with later ones.
func (w *SweepWorker) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// Run starts the sweep loop.
func (w *SweepWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Sweep worker stopping")
			return
		case <-ticker.C:
			w.sweep(ctx)
		case <-w.trigger:
			w.sweep(ctx)
		}
	}
}

func (w *SweepWorker) sweep(ctx context.Context) {
	stats, err := w.match.Sweep(ctx, w.window, w.batch)
	if err != nil {
		log.Printf("Sweep: %v", err)
		return
	}
	if stats.ReviewsCreated > 0 || stats.Scanned > 0 {
		log.Printf("Sweep: scanned=%d pairs=%d reviews=%d",
			stats.Scanned, stats.PairsCompared, stats.ReviewsCreated)
	}
}
