package statussync

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/metrics"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox"
)

const defaultReconcileBatch = 200

type outOfSyncLister interface {
	ListOutOfSync(ctx context.Context, limit int) ([]models.DeliveryTracking, error)
}

type pendingChecker interface {
	HasPending(ctx context.Context, orderID uuid.UUID, kind enums.SyncEventKind, maxAttempts int) (bool, error)
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.Event) (*models.SyncOutboxEvent, error)
}

// ReconcilerParams wires the reconciler.
type ReconcilerParams struct {
	Store       outOfSyncLister
	Outbox      pendingChecker
	Emitter     eventEmitter
	DB          txRunner
	Metrics     *metrics.SyncMetrics
	Logger      *logger.Logger
	MaxAttempts int
	BatchSize   int
}

// Reconciler re-enqueues order-status pushes for trackings the order service
// has not acknowledged and that have no delivery still in flight.
type Reconciler struct {
	store       outOfSyncLister
	outbox      pendingChecker
	emitter     eventEmitter
	db          txRunner
	metrics     *metrics.SyncMetrics
	logg        *logger.Logger
	maxAttempts int
	batchSize   int
}

func NewReconciler(p ReconcilerParams) (*Reconciler, error) {
	if p.Store == nil || p.Outbox == nil || p.Emitter == nil {
		return nil, fmt.Errorf("store, outbox repository and emitter are required")
	}
	if p.DB == nil {
		return nil, fmt.Errorf("db required")
	}
	if p.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if p.MaxAttempts <= 0 {
		return nil, fmt.Errorf("max attempts must be positive")
	}
	batch := p.BatchSize
	if batch <= 0 {
		batch = defaultReconcileBatch
	}
	return &Reconciler{
		store:       p.Store,
		outbox:      p.Outbox,
		emitter:     p.Emitter,
		db:          p.DB,
		metrics:     p.Metrics,
		logg:        p.Logger,
		maxAttempts: p.MaxAttempts,
		batchSize:   batch,
	}, nil
}

// Run scans one batch and returns how many pushes were re-enqueued.
func (r *Reconciler) Run(ctx context.Context) (int, error) {
	trackings, err := r.store.ListOutOfSync(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list out-of-sync trackings: %w", err)
	}

	enqueued := 0
	for _, tracking := range trackings {
		pending, err := r.outbox.HasPending(ctx, tracking.OrderID, enums.SyncEventOrderStatus, r.maxAttempts)
		if err != nil {
			return enqueued, fmt.Errorf("check pending sync for order %s: %w", tracking.OrderID, err)
		}
		if pending {
			continue
		}
		event, ok := StatusEvent(tracking.OrderID, tracking.Status, nil)
		if !ok {
			continue
		}
		if err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
			_, err := r.emitter.Emit(ctx, tx, event)
			return err
		}); err != nil {
			return enqueued, fmt.Errorf("re-enqueue order %s: %w", tracking.OrderID, err)
		}
		enqueued++
		r.metrics.Observe(string(enums.SyncEventOrderStatus), metrics.SyncSourceReconcile, metrics.SyncOutcomeReenqueued)
		r.logg.Info(r.logg.WithFields(ctx, map[string]any{
			"order_id":        tracking.OrderID.String(),
			"delivery_status": tracking.Status,
		}), "order status push re-enqueued")
	}
	return enqueued, nil
}
