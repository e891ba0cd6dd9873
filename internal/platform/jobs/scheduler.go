// Package jobs runs periodic maintenance tasks on a gocron scheduler.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"
)

// Job is a named task executed every Interval. Each run receives a context
// bounded by Timeout (defaults to the interval).
type Job struct {
	Name     string
	Interval time.Duration
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// RunRecorder receives the outcome of every run; satisfied by observability.Metrics.
type RunRecorder interface {
	JobRun(job string, err error)
}

// Scheduler wraps gocron. Runs of the same job never overlap.
type Scheduler struct {
	cron     *gocron.Scheduler
	logger   *zap.Logger
	recorder RunRecorder

	baseCtx context.Context
	cancel  context.CancelFunc

	mu   sync.Mutex
	jobs map[string]Job
}

// NewScheduler constructs a scheduler in UTC.
func NewScheduler(logger *zap.Logger, recorder RunRecorder) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cron := gocron.NewScheduler(time.UTC)
	cron.SingletonModeAll()
	cron.WaitForScheduleAll()
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:     cron,
		logger:   logger,
		recorder: recorder,
		baseCtx:  ctx,
		cancel:   cancel,
		jobs:     make(map[string]Job),
	}
}

// Register adds job to the schedule.
func (s *Scheduler) Register(job Job) error {
	job.Name = strings.TrimSpace(job.Name)
	if job.Name == "" {
		return errors.New("jobs: name is required")
	}
	if job.Interval <= 0 {
		return fmt.Errorf("jobs: %s: interval must be positive", job.Name)
	}
	if job.Run == nil {
		return fmt.Errorf("jobs: %s: run func is required", job.Name)
	}
	if job.Timeout <= 0 {
		job.Timeout = job.Interval
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("jobs: %s already registered", job.Name)
	}
	if _, err := s.cron.Every(job.Interval).Tag(job.Name).Do(func() { _ = s.RunNow(job.Name) }); err != nil {
		return fmt.Errorf("jobs: schedule %s: %w", job.Name, err)
	}
	s.jobs[job.Name] = job
	return nil
}

// Start begins executing jobs in the background.
func (s *Scheduler) Start() {
	s.cron.StartAsync()
}

// Stop halts the schedule and cancels in-flight runs.
func (s *Scheduler) Stop() {
	s.cancel()
	s.cron.Stop()
}

// RunNow executes a registered job synchronously.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("jobs: %s not registered", name)
	}

	ctx, cancel := context.WithTimeout(s.baseCtx, job.Timeout)
	defer cancel()

	start := time.Now()
	err := safeRun(ctx, job.Run)
	if s.recorder != nil {
		s.recorder.JobRun(job.Name, err)
	}
	fields := []zap.Field{zap.String("job", job.Name), zap.Duration("duration", time.Since(start))}
	if err != nil {
		s.logger.Error("scheduled job failed", append(fields, zap.Error(err))...)
		return err
	}
	s.logger.Debug("scheduled job finished", fields...)
	return nil
}

func safeRun(ctx context.Context, run func(context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("jobs: panic: %v", rec)
		}
	}()
	return run(ctx)
}
