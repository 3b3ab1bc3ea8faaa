package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs recurring jobs (maintenance passes, sync passes) on cron
// expressions or plain durations.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		logger: logger,
	}
}

// Add registers a named job. schedule accepts a standard 5-field cron
// expression or a Go duration string ("30m" runs every 30 minutes).
func (s *Scheduler) Add(name, schedule string, job func(ctx context.Context) error) error {
	run := func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if ctx == nil {
			ctx = context.Background()
		}

		start := time.Now()
		if err := job(ctx); err != nil {
			s.logger.Error("scheduled job failed", "job", name, "error", err)
			return
		}
		s.logger.Info("scheduled job done", "job", name, "took", time.Since(start))
	}

	if d, err := time.ParseDuration(schedule); err == nil {
		s.cron.Schedule(cron.Every(d), cron.FuncJob(run))
		return nil
	}
	if _, err := s.cron.AddFunc(schedule, run); err != nil {
		return fmt.Errorf("add job %q: %w", name, err)
	}
	return nil
}

// Start begins executing jobs until Stop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron.Start()
	s.started = true
	s.logger.Info("scheduler started", "jobs", len(s.cron.Entries()))
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}
