package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/config"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/metrics"
	"github.com/angelmondragon/fulfillment-backend/pkg/orderclient"
)

const (
	defaultBatchSize   = 50
	defaultPollMs      = 1000
	defaultMaxAttempts = 10
	defaultRetryDelay  = 5 * time.Second
	maxPollBackoff     = 10 * time.Second
	maxRetryDelay      = 30 * time.Minute
	jitterWindow       = 250 * time.Millisecond
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type outboxRepository interface {
	FetchDueForDelivery(tx *gorm.DB, now time.Time, limit, maxAttempts int) ([]models.SyncOutboxEvent, error)
	MarkDeliveredTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error, nextAttemptAt time.Time) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.SyncOutboxDLQ) error
}

type deliverer interface {
	Deliver(ctx context.Context, row models.SyncOutboxEvent) error
}

type ServiceParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            dbClient
	Repository    outboxRepository
	DLQRepository dlqRepository
	Dispatcher    deliverer
	Metrics       *metrics.SyncMetrics
}

// Service drains the sync outbox: every due row is delivered to the order
// service, rescheduled with backoff, or dead-lettered.
type Service struct {
	logg         *logger.Logger
	db           dbClient
	repo         outboxRepository
	dlq          dlqRepository
	dispatcher   deliverer
	metrics      *metrics.SyncMetrics
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
	retryDelay   time.Duration
	now          func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Repository == nil {
		return nil, errors.New("outbox repository is required")
	}
	if params.DLQRepository == nil {
		return nil, errors.New("dlq repository is required")
	}
	if params.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}

	cfg := params.Config.Outbox
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	pollMs := cfg.PollIntervalMS
	if pollMs <= 0 {
		pollMs = defaultPollMs
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}

	return &Service{
		logg:         params.Logger,
		db:           params.DB,
		repo:         params.Repository,
		dlq:          params.DLQRepository,
		dispatcher:   params.Dispatcher,
		metrics:      params.Metrics,
		batchSize:    batch,
		maxAttempts:  maxAttempts,
		pollInterval: time.Duration(pollMs) * time.Millisecond,
		retryDelay:   retryDelay,
		now:          time.Now,
	}, nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		s.logg.Error(ctx, "database ping failed", err)
		return fmt.Errorf("database ping failed: %w", err)
	}

	interval := s.pollInterval
	backoff := interval

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "sync relay context canceled")
			return ctx.Err()
		default:
		}

		processed, err := s.processBatch(ctx)
		if err != nil {
			s.logg.Error(ctx, "sync relay batch error", err)
			backoff = nextBackoff(backoff, interval, maxPollBackoff)
			if err := s.sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}

		backoff = interval

		if processed {
			continue
		}

		if err := s.sleep(ctx, withJitter(interval)); err != nil {
			return err
		}
	}
}

func (s *Service) processBatch(ctx context.Context) (bool, error) {
	processed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.repo.FetchDueForDelivery(tx, s.now().UTC(), s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		s.metrics.SetPending(len(rows))
		if len(rows) == 0 {
			return nil
		}

		processed = true
		for _, row := range rows {
			if err := s.deliverOne(ctx, tx, row); err != nil {
				return err
			}
		}
		return nil
	})
	return processed, err
}

// deliverOne returns an error only when the outbox bookkeeping itself fails.
func (s *Service) deliverOne(ctx context.Context, tx *gorm.DB, row models.SyncOutboxEvent) error {
	fields := s.rowFields(row)
	kind := string(row.Kind)

	deliverErr := s.dispatcher.Deliver(ctx, row)
	if deliverErr == nil {
		if err := s.repo.MarkDeliveredTx(tx, row.ID); err != nil {
			return fmt.Errorf("mark delivered %s: %w", row.ID, err)
		}
		s.metrics.Observe(kind, metrics.SyncSourceRelay, metrics.SyncOutcomeDelivered)
		s.logg.Info(s.logg.WithFields(ctx, fields), "sync event delivered")
		return nil
	}

	if !orderclient.Retryable(deliverErr) {
		return s.handleTerminal(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, deliverErr, fields)
	}

	nextAttempt := row.AttemptCount + 1
	fields["attempt_count"] = nextAttempt
	if nextAttempt >= s.maxAttempts {
		fields["terminal_reason"] = "max_attempts"
		terminalErr := fmt.Errorf("max delivery attempts reached: %w", deliverErr)
		return s.handleTerminal(ctx, tx, row, enums.OutboxDLQReasonMaxAttempts, terminalErr, fields)
	}

	syncErr := pkgerrors.Wrap(pkgerrors.CodeSyncFailure, deliverErr, "order service notification failed")
	logCtx := s.logg.WithFields(ctx, fields)
	logCtx = s.logg.WithFields(logCtx, map[string]any{"error_code": syncErr.Code(), "error": syncErr.Error()})
	s.logg.Warn(logCtx, "sync event delivery failed")
	s.metrics.Observe(kind, metrics.SyncSourceRelay, metrics.SyncOutcomeFailed)

	next := s.now().UTC().Add(withJitter(retryDelay(s.retryDelay, row.AttemptCount)))
	if err := s.repo.MarkFailedTx(tx, row.ID, deliverErr, next); err != nil {
		return fmt.Errorf("mark failure %s: %w", row.ID, err)
	}
	return nil
}

func (s *Service) handleTerminal(ctx context.Context, tx *gorm.DB, row models.SyncOutboxEvent, reason enums.OutboxDLQErrorReason, err error, fields map[string]any) error {
	fields["error_reason"] = reason
	logCtx := s.logg.WithFields(ctx, fields)
	logCtx = s.logg.WithField(logCtx, "error", err.Error())
	s.logg.Warn(logCtx, "sync event will not be retried")

	msg := err.Error()
	entry := models.SyncOutboxDLQ{
		EventID:      row.ID,
		Kind:         row.Kind,
		OrderID:      row.OrderID,
		Payload:      row.Payload,
		ErrorReason:  reason,
		ErrorMessage: &msg,
		AttemptCount: row.AttemptCount + 1,
		FailedAt:     s.now().UTC(),
	}
	if dlqErr := s.dlq.InsertTx(tx, entry); dlqErr != nil {
		return fmt.Errorf("insert dlq %s: %w", row.ID, dlqErr)
	}
	if markErr := s.repo.MarkTerminalTx(tx, row.ID, err, s.maxAttempts); markErr != nil {
		return fmt.Errorf("mark terminal %s: %w", row.ID, markErr)
	}
	s.metrics.Observe(string(row.Kind), metrics.SyncSourceRelay, metrics.SyncOutcomeDeadLetter)
	return nil
}

func (s *Service) rowFields(row models.SyncOutboxEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":     row.ID.String(),
		"kind":          row.Kind,
		"order_id":      row.OrderID.String(),
		"batch_size":    s.batchSize,
		"attempt_count": row.AttemptCount,
	}
	if row.LastError != nil {
		fields["last_error"] = *row.LastError
	}
	return fields
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryDelay doubles base for every prior attempt, capped at maxRetryDelay.
func retryDelay(base time.Duration, attempts int) time.Duration {
	delay := base
	for i := 0; i < attempts; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	jitter := time.Duration(jitterSource.Int63n(int64(jitterWindow)))
	return d + jitter
}
