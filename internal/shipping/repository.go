package shipping

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/db"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/pagination"
)

// Repository persists delivery trackings and their history.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, tracking *models.DeliveryTracking) error
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.DeliveryTracking, error)
	FindByOrderIDForUpdate(ctx context.Context, orderID uuid.UUID) (*models.DeliveryTracking, error)
	Update(ctx context.Context, tracking *models.DeliveryTracking) error
	AppendHistory(ctx context.Context, entry *models.TrackingHistoryEntry) error
	ListByShipper(ctx context.Context, shipperID uuid.UUID, statuses []enums.DeliveryStatus, cursor *pagination.Cursor, limit int) ([]models.DeliveryTracking, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, tracking *models.DeliveryTracking) error {
	return r.db.WithContext(ctx).Omit("History").Create(tracking).Error
}

// FindByOrderID loads the tracking with its history, oldest entry first.
func (r *repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.DeliveryTracking, error) {
	var tracking models.DeliveryTracking
	err := r.db.WithContext(ctx).
		Preload("History", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC").Order("id ASC")
		}).
		Where("order_id = ?", orderID).
		First(&tracking).Error
	if err != nil {
		return nil, err
	}
	return &tracking, nil
}

// FindByOrderIDForUpdate row-locks the tracking for the rest of the transaction.
func (r *repository) FindByOrderIDForUpdate(ctx context.Context, orderID uuid.UUID) (*models.DeliveryTracking, error) {
	var tracking models.DeliveryTracking
	err := db.ForUpdate(r.db.WithContext(ctx)).
		Where("order_id = ?", orderID).
		First(&tracking).Error
	if err != nil {
		return nil, err
	}
	return &tracking, nil
}

// Update writes every mutable column, including cleared ones.
func (r *repository) Update(ctx context.Context, tracking *models.DeliveryTracking) error {
	return r.db.WithContext(ctx).
		Model(tracking).
		Select(
			"status",
			"current_location",
			"estimated_delivery",
			"proof_of_delivery_images",
			"customer_signature",
			"delivery_note",
			"delivery_failed_reason",
			"delivery_failed_proofs",
			"updated_at",
		).
		Updates(tracking).Error
}

func (r *repository) AppendHistory(ctx context.Context, entry *models.TrackingHistoryEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListByShipper(ctx context.Context, shipperID uuid.UUID, statuses []enums.DeliveryStatus, cursor *pagination.Cursor, limit int) ([]models.DeliveryTracking, error) {
	query := r.db.WithContext(ctx).
		Model(&models.DeliveryTracking{}).
		Where("shipper_id = ?", shipperID)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	query = pagination.After(query, cursor)

	var rows []models.DeliveryTracking
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
