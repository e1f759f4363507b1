package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/fulfillment-backend/pkg/db"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

const maxErrorLen = 1024

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event *models.SyncOutboxEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(event).Error
}

// FetchDueForDelivery locks up to limit undelivered rows whose next attempt is
// due. Other relay replicas skip the locked rows on Postgres.
func (r *Repository) FetchDueForDelivery(tx *gorm.DB, now time.Time, limit, maxAttempts int) ([]models.SyncOutboxEvent, error) {
	var rows []models.SyncOutboxEvent
	err := dbpkg.ForUpdateSkipLocked(tx).
		Where("delivered_at IS NULL").
		Where("attempt_count < ?", maxAttempts).
		Where("next_attempt_at <= ?", now).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.SyncOutboxEvent, error) {
	var row models.SyncOutboxEvent
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *Repository) MarkDeliveredTx(tx *gorm.DB, id uuid.UUID) error {
	return tx.Model(&models.SyncOutboxEvent{}).
		Where("id = ? AND delivered_at IS NULL", id).
		Updates(map[string]any{
			"delivered_at":  time.Now().UTC(),
			"attempt_count": gorm.Expr("attempt_count + 1"),
			"last_error":    nil,
		}).Error
}

func (r *Repository) MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error, nextAttemptAt time.Time) error {
	return tx.Model(&models.SyncOutboxEvent{}).
		Where("id = ? AND delivered_at IS NULL", id).
		Updates(map[string]any{
			"last_error":      truncateError(err),
			"attempt_count":   gorm.Expr("attempt_count + 1"),
			"next_attempt_at": nextAttemptAt.UTC(),
		}).Error
}

// MarkTerminalTx parks the row at terminalAttempts so it is never fetched again.
func (r *Repository) MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error {
	return tx.Model(&models.SyncOutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"last_error":    truncateError(err),
			"attempt_count": terminalAttempts,
		}).Error
}

// HasPending reports whether an undelivered, still-retryable row exists.
func (r *Repository) HasPending(ctx context.Context, orderID uuid.UUID, kind enums.SyncEventKind, maxAttempts int) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.SyncOutboxEvent{}).
		Where("order_id = ? AND kind = ?", orderID, kind).
		Where("delivered_at IS NULL AND attempt_count < ?", maxAttempts).
		Count(&count).Error
	return count > 0, err
}

// DeleteSettledBefore removes delivered or dead-lettered rows older than cutoff.
func (r *Repository) DeleteSettledBefore(ctx context.Context, cutoff time.Time, maxAttempts int) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("(delivered_at IS NOT NULL AND delivered_at < ?) OR (delivered_at IS NULL AND attempt_count >= ? AND created_at < ?)", cutoff, maxAttempts, cutoff).
		Delete(&models.SyncOutboxEvent{})
	return res.RowsAffected, res.Error
}

func truncateError(err error) *string {
	if err == nil {
		return nil
	}
	msg := clipMessage(err.Error(), maxErrorLen)
	return &msg
}
