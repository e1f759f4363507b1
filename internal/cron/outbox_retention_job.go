package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

const (
	syncOutboxRetentionDays = 14
	syncOutboxMaxAttempts   = 10
)

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	Repository settledDeleter
	// RetentionDays keeps settled rows around for inspection.
	RetentionDays int
	// MaxAttempts marks the dead-letter threshold used by the relay.
	MaxAttempts int
}

type settledDeleter interface {
	DeleteSettledBefore(ctx context.Context, cutoff time.Time, maxAttempts int) (int64, error)
}

// NewOutboxRetentionJob prunes delivered and dead-lettered sync outbox rows.
// Rows still eligible for delivery are never removed.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	retention := params.RetentionDays
	if retention <= 0 {
		retention = syncOutboxRetentionDays
	}
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = syncOutboxMaxAttempts
	}
	return &outboxRetentionJob{
		logg:        params.Logger,
		repo:        params.Repository,
		retention:   retention,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}, nil
}

type outboxRetentionJob struct {
	logg        *logger.Logger
	repo        settledDeleter
	retention   int
	maxAttempts int
	now         func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "sync-outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.retention) * 24 * time.Hour)
	deleted, err := j.repo.DeleteSettledBefore(ctx, cutoff, j.maxAttempts)
	if err != nil {
		return fmt.Errorf("sync outbox retention: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	}), "sync outbox retention complete")
	return nil
}
