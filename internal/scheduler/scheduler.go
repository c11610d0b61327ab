package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/lucaspecout/ope-protec/internal/risks"
)

// Scheduler keeps the aggregated snapshot warm: one refresh at startup so
// the first HTTP request never pays the fan-out cost, then a continuous
// background rebuild on a fixed cadence.
type Scheduler struct {
	scheduler *gocron.Scheduler
	service   *risks.Service
	interval  time.Duration
	log       *slog.Logger
}

// New creates a new Scheduler.
func New(service *risks.Service, interval time.Duration, log *slog.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	return &Scheduler{
		scheduler: s,
		service:   service,
		interval:  interval,
		log:       log,
	}
}

// Start runs the warm-up refresh in the background and schedules the
// periodic job.
func (s *Scheduler) Start() error {
	seconds := int(s.interval.Seconds())
	if seconds <= 0 {
		seconds = 90
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		s.log.Info("warming up snapshot")
		s.service.Refresh(ctx)
	}()

	_, err := s.scheduler.Every(seconds).Seconds().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		s.service.Refresh(ctx)
	})
	if err != nil {
		return err
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
