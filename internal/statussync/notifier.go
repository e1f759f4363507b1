package statussync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/metrics"
)

const defaultRetryDelay = 5 * time.Second

type deliverer interface {
	Deliver(ctx context.Context, row models.SyncOutboxEvent) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxMarker interface {
	MarkDeliveredTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error, nextAttemptAt time.Time) error
}

// NotifierParams wires the inline notifier.
type NotifierParams struct {
	Dispatcher deliverer
	Outbox     outboxMarker
	DB         txRunner
	Metrics    *metrics.SyncMetrics
	Logger     *logger.Logger
	// Grace is how long fresh rows stay invisible to the relay.
	Grace      time.Duration
	RetryDelay time.Duration
}

// Notifier makes the single post-commit delivery attempt for rows written by
// a tracking mutation. It never reports failure to the caller; undelivered
// rows stay in the outbox for the relay.
type Notifier struct {
	dispatcher deliverer
	outbox     outboxMarker
	db         txRunner
	metrics    *metrics.SyncMetrics
	logg       *logger.Logger
	grace      time.Duration
	retryDelay time.Duration
	now        func() time.Time
}

func NewNotifier(p NotifierParams) (*Notifier, error) {
	if p.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher required")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	if p.DB == nil {
		return nil, fmt.Errorf("db required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	retryDelay := p.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	return &Notifier{
		dispatcher: p.Dispatcher,
		outbox:     p.Outbox,
		db:         p.DB,
		metrics:    p.Metrics,
		logg:       p.Logger,
		grace:      p.Grace,
		retryDelay: retryDelay,
		now:        time.Now,
	}, nil
}

// NotBefore is the next_attempt_at to stamp on rows this notifier will try
// inline.
func (n *Notifier) NotBefore() time.Time {
	if n == nil || n.grace <= 0 {
		return time.Time{}
	}
	return n.now().UTC().Add(n.grace)
}

// Notify attempts each row once, in order.
func (n *Notifier) Notify(ctx context.Context, rows []models.SyncOutboxEvent) {
	if n == nil || len(rows) == 0 {
		return
	}
	// The caller's request may finish before the order service answers.
	ctx = context.WithoutCancel(ctx)
	for _, row := range rows {
		n.notifyOne(ctx, row)
	}
}

func (n *Notifier) notifyOne(ctx context.Context, row models.SyncOutboxEvent) {
	logCtx := n.logg.WithFields(ctx, map[string]any{
		"outbox_id": row.ID.String(),
		"kind":      row.Kind,
		"order_id":  row.OrderID.String(),
	})

	deliverErr := n.dispatcher.Deliver(ctx, row)
	if deliverErr == nil {
		if err := n.db.WithTx(ctx, func(tx *gorm.DB) error {
			return n.outbox.MarkDeliveredTx(tx, row.ID)
		}); err != nil {
			n.logg.Error(logCtx, "mark sync event delivered", err)
		}
		n.metrics.Observe(string(row.Kind), metrics.SyncSourceInline, metrics.SyncOutcomeDelivered)
		return
	}

	n.metrics.Observe(string(row.Kind), metrics.SyncSourceInline, metrics.SyncOutcomeFailed)
	syncErr := pkgerrors.Wrap(pkgerrors.CodeSyncFailure, deliverErr, "order service notification failed")
	n.logg.Warn(n.logg.WithFields(logCtx, map[string]any{
		"error_code": syncErr.Code(),
		"error":      syncErr.Error(),
	}), "order service sync failed; left for relay")

	next := n.now().UTC().Add(n.retryDelay)
	if err := n.db.WithTx(ctx, func(tx *gorm.DB) error {
		return n.outbox.MarkFailedTx(tx, row.ID, deliverErr, next)
	}); err != nil {
		n.logg.Error(logCtx, "mark sync event failed", err)
	}
}
