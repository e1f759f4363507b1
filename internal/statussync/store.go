package statussync

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

// Store reads and records what the order aggregate has acknowledged.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// CurrentStatus returns the tracking status for orderID.
func (s *Store) CurrentStatus(ctx context.Context, orderID uuid.UUID) (enums.DeliveryStatus, error) {
	var tracking models.DeliveryTracking
	err := s.db.WithContext(ctx).
		Select("id", "status").
		Where("order_id = ?", orderID).
		First(&tracking).Error
	if err != nil {
		return "", err
	}
	return tracking.Status, nil
}

// MarkSynced stores the order status the order service accepted.
func (s *Store) MarkSynced(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus) error {
	return s.db.WithContext(ctx).
		Model(&models.DeliveryTracking{}).
		Where("order_id = ?", orderID).
		UpdateColumn("synced_order_status", status).Error
}

// ListOutOfSync returns trackings whose current status maps to an order
// status the order service has not acknowledged yet, oldest first.
func (s *Store) ListOutOfSync(ctx context.Context, limit int) ([]models.DeliveryTracking, error) {
	parts := make([]string, 0, len(mappedDeliveryStatuses))
	args := make([]any, 0, len(mappedDeliveryStatuses)*2)
	for _, status := range mappedDeliveryStatuses {
		mapped, _ := enums.OrderStatusFor(status)
		parts = append(parts, "(status = ? AND (synced_order_status IS NULL OR synced_order_status <> ?))")
		args = append(args, status, mapped)
	}

	var rows []models.DeliveryTracking
	err := s.db.WithContext(ctx).
		Where(strings.Join(parts, " OR "), args...).
		Order("updated_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

var mappedDeliveryStatuses = []enums.DeliveryStatus{
	enums.DeliveryStatusOutForDelivery,
	enums.DeliveryStatusDelivered,
	enums.DeliveryStatusFailed,
	enums.DeliveryStatusReturned,
}
