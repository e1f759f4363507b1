package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

const defaultLowStockThreshold = 10

type lowStockCounter interface {
	CountLowStock(ctx context.Context, threshold int) (int64, error)
}

type lowStockGauge interface {
	SetLowStock(n int)
}

type LowStockJobParams struct {
	Logger    *logger.Logger
	Counter   lowStockCounter
	Gauge     lowStockGauge
	Threshold int
}

// NewLowStockJob refreshes the low-stock gauge and warns when any active
// record is at or below the threshold.
func NewLowStockJob(params LowStockJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Counter == nil {
		return nil, fmt.Errorf("stock counter required")
	}
	if params.Gauge == nil {
		return nil, fmt.Errorf("low stock gauge required")
	}
	threshold := params.Threshold
	if threshold <= 0 {
		threshold = defaultLowStockThreshold
	}
	return &lowStockJob{
		logg:      params.Logger,
		counter:   params.Counter,
		gauge:     params.Gauge,
		threshold: threshold,
	}, nil
}

type lowStockJob struct {
	logg      *logger.Logger
	counter   lowStockCounter
	gauge     lowStockGauge
	threshold int
}

func (j *lowStockJob) Name() string { return "low-stock-report" }

func (j *lowStockJob) Run(ctx context.Context) error {
	count, err := j.counter.CountLowStock(ctx, j.threshold)
	if err != nil {
		return fmt.Errorf("count low stock: %w", err)
	}
	j.gauge.SetLowStock(int(count))
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"threshold": j.threshold,
		"low_stock": count,
	})
	if count > 0 {
		j.logg.Warn(logCtx, "stock records at or below threshold")
		return nil
	}
	j.logg.Info(logCtx, "no low stock records")
	return nil
}
