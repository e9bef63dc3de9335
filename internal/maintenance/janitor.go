// Package maintenance runs the background housekeeping jobs: sweeping
// expired schema snapshots and pruning the token usage log.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"askdb/internal/domain"
)

// SnapshotSweeper drops expired schema snapshots. Implemented by schema.Cache.
type SnapshotSweeper interface {
	SweepExpired() int
}

// Config tunes the janitor schedules and retention.
type Config struct {
	// SweepSchedule defaults to hourly.
	SweepSchedule string
	// PruneSchedule defaults to daily at 03:10.
	PruneSchedule string
	// UsageRetention is how long usage rows are kept. Zero disables pruning.
	UsageRetention time.Duration
}

// Janitor owns the cron runner.
type Janitor struct {
	cron    *cron.Cron
	sweeper SnapshotSweeper
	usage   domain.UsageRepository
	cfg     Config
	logger  *slog.Logger
}

// NewJanitor creates a stopped janitor; call Start to begin scheduling.
func NewJanitor(sweeper SnapshotSweeper, usage domain.UsageRepository, cfg Config, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = "@hourly"
	}
	if cfg.PruneSchedule == "" {
		cfg.PruneSchedule = "10 3 * * *"
	}
	return &Janitor{
		cron:    cron.New(),
		sweeper: sweeper,
		usage:   usage,
		cfg:     cfg,
		logger:  logger,
	}
}

// Start registers the jobs and starts the cron runner.
func (j *Janitor) Start() error {
	if j.sweeper != nil {
		if _, err := j.cron.AddFunc(j.cfg.SweepSchedule, j.sweepSchemas); err != nil {
			return err
		}
	}
	if j.usage != nil && j.cfg.UsageRetention > 0 {
		if _, err := j.cron.AddFunc(j.cfg.PruneSchedule, j.pruneUsage); err != nil {
			return err
		}
	}
	j.cron.Start()
	j.logger.Info("maintenance janitor started",
		"sweep_schedule", j.cfg.SweepSchedule,
		"prune_schedule", j.cfg.PruneSchedule,
		"usage_retention", j.cfg.UsageRetention)
	return nil
}

// Stop stops the cron runner and waits for running jobs to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
	j.logger.Info("maintenance janitor stopped")
}

func (j *Janitor) sweepSchemas() {
	if n := j.sweeper.SweepExpired(); n > 0 {
		j.logger.Info("swept expired schema snapshots", "count", n)
	}
}

func (j *Janitor) pruneUsage() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-j.cfg.UsageRetention)
	deleted, err := j.usage.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Warn("pruning usage log failed", "error", err)
		return
	}
	if deleted > 0 {
		j.logger.Info("pruned usage log", "deleted", deleted, "cutoff", cutoff)
	}
}
