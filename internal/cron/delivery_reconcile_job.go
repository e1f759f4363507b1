package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

type reconciler interface {
	Run(ctx context.Context) (int, error)
}

type DeliveryReconcileJobParams struct {
	Logger     *logger.Logger
	Reconciler reconciler
}

// NewDeliveryReconcileJob re-enqueues order-status pushes the order service
// never acknowledged, for example after a row was dead-lettered.
func NewDeliveryReconcileJob(params DeliveryReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("reconciler required")
	}
	return &deliveryReconcileJob{logg: params.Logger, reconciler: params.Reconciler}, nil
}

type deliveryReconcileJob struct {
	logg       *logger.Logger
	reconciler reconciler
}

func (j *deliveryReconcileJob) Name() string { return "delivery-sync-reconcile" }

func (j *deliveryReconcileJob) Run(ctx context.Context) error {
	enqueued, err := j.reconciler.Run(ctx)
	if err != nil {
		return fmt.Errorf("delivery sync reconcile after %d re-enqueued: %w", enqueued, err)
	}
	j.logg.Info(j.logg.WithField(ctx, "reenqueued", enqueued), "delivery sync reconcile complete")
	return nil
}
