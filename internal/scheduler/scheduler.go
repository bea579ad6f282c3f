// Package scheduler runs the periodic detector sweeps. Jobs are guarded so
// a slow cycle is skipped rather than overlapped.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one periodic unit of work.
type Job func(ctx context.Context)

// Scheduler wraps a cron runner with interval-based registration.
type Scheduler struct {
	cron    *cron.Cron
	baseCtx context.Context
}

// New creates a scheduler. Jobs launched from it inherit baseCtx.
func New(baseCtx context.Context) *Scheduler {
	logger := &cronLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithChain(
				cron.SkipIfStillRunning(logger),
				cron.Recover(logger),
			),
		),
		baseCtx: baseCtx,
	}
}

// Every registers a job to run at the given interval.
func (s *Scheduler) Every(interval time.Duration, name string, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	spec := "@every " + interval.String()
	_, err := s.cron.AddFunc(spec, func() {
		start := time.Now()
		job(s.baseCtx)
		slog.Debug("job finished", "job", name, "took", time.Since(start))
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}
	slog.Info("job scheduled", "job", name, "interval", interval)
	return nil
}

// Start launches the runner.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// cronLogger adapts the runner's logging to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug(msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{"error", err}, keysAndValues...)
	slog.Error(msg, args...)
}
