package warehouse

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/pagination"
)

// Repository is the persistence surface of the stock ledger.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateRecord(ctx context.Context, record *models.StockRecord) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.StockRecord, error)
	FindDetail(ctx context.Context, id uuid.UUID, txLimit int) (*models.StockRecord, error)
	FindByKey(ctx context.Context, productID uuid.UUID, branchID *uuid.UUID) (*models.StockRecord, error)
	ListByProduct(ctx context.Context, productID uuid.UUID) ([]models.StockRecord, error)
	List(ctx context.Context, filter ListFilter, cursor *pagination.Cursor, limit int) ([]models.StockRecord, error)
	ListLowStock(ctx context.Context, threshold int) ([]models.StockRecord, error)
	CountLowStock(ctx context.Context, threshold int) (int64, error)
	UpdateTotals(ctx context.Context, id uuid.UUID, expectedVersion int, totals Totals) (bool, error)
	ReserveConditional(ctx context.Context, id uuid.UUID, qty int) (bool, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) (bool, error)
	InsertTransaction(ctx context.Context, txn *models.StockTransaction) error
	SumTransactions(ctx context.Context, recordID uuid.UUID) (int, error)
	InsertReservation(ctx context.Context, reservation *models.StockReservation) error
	FindReservationByKey(ctx context.Context, key string) (*models.StockReservation, error)
}

// Totals are the three quantity columns written together.
type Totals struct {
	Quantity  int
	Reserved  int
	Available int
}

// ListFilter narrows List results.
type ListFilter struct {
	ProductID  *uuid.UUID
	BranchID   *uuid.UUID
	ActiveOnly bool
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds the ledger repository to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateRecord(ctx context.Context, record *models.StockRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.StockRecord, error) {
	var record models.StockRecord
	if err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// FindDetail loads the record with its most recent transactions, newest first.
func (r *repository) FindDetail(ctx context.Context, id uuid.UUID, txLimit int) (*models.StockRecord, error) {
	var record models.StockRecord
	err := r.db.WithContext(ctx).
		Preload("Transactions", func(db *gorm.DB) *gorm.DB {
			q := db.Order("created_at DESC").Order("id DESC")
			if txLimit > 0 {
				q = q.Limit(txLimit)
			}
			return q
		}).
		First(&record, "id = ?", id).
		Error
	if err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) FindByKey(ctx context.Context, productID uuid.UUID, branchID *uuid.UUID) (*models.StockRecord, error) {
	var record models.StockRecord
	query := r.db.WithContext(ctx).Where("product_id = ?", productID)
	if branchID == nil {
		query = query.Where("branch_id IS NULL")
	} else {
		query = query.Where("branch_id = ?", *branchID)
	}
	if err := query.First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) ListByProduct(ctx context.Context, productID uuid.UUID) ([]models.StockRecord, error) {
	var rows []models.StockRecord
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("created_at ASC").
		Find(&rows).
		Error
	return rows, err
}

func (r *repository) List(ctx context.Context, filter ListFilter, cursor *pagination.Cursor, limit int) ([]models.StockRecord, error) {
	query := r.db.WithContext(ctx).Model(&models.StockRecord{})
	if filter.ProductID != nil {
		query = query.Where("product_id = ?", *filter.ProductID)
	}
	if filter.BranchID != nil {
		query = query.Where("branch_id = ?", *filter.BranchID)
	}
	if filter.ActiveOnly {
		query = query.Where("is_active = ?", true)
	}
	query = pagination.After(query, cursor)

	var rows []models.StockRecord
	err := query.
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).
		Error
	return rows, err
}

func (r *repository) ListLowStock(ctx context.Context, threshold int) ([]models.StockRecord, error) {
	var rows []models.StockRecord
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND available_quantity <= ?", true, threshold).
		Order("available_quantity ASC").
		Order("id ASC").
		Find(&rows).
		Error
	return rows, err
}

func (r *repository) CountLowStock(ctx context.Context, threshold int) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.StockRecord{}).
		Where("is_active = ? AND available_quantity <= ?", true, threshold).
		Count(&count).
		Error
	return count, err
}

// UpdateTotals writes all three quantity columns when the stored version still
// matches expectedVersion. It reports false when another writer got there first.
func (r *repository) UpdateTotals(ctx context.Context, id uuid.UUID, expectedVersion int, totals Totals) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.StockRecord{}).
		Where("id = ? AND version = ?", id, expectedVersion).
		Updates(map[string]any{
			"quantity":           totals.Quantity,
			"reserved_quantity":  totals.Reserved,
			"available_quantity": totals.Available,
			"version":            gorm.Expr("version + 1"),
			"updated_at":         time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ReserveConditional moves qty from available to reserved in one statement,
// guarded by available_quantity >= qty.
func (r *repository) ReserveConditional(ctx context.Context, id uuid.UUID, qty int) (bool, error) {
	res := r.db.WithContext(ctx).Exec(`
		UPDATE stock_records
		SET reserved_quantity = reserved_quantity + ?,
			available_quantity = available_quantity - ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND is_active = ? AND available_quantity >= ?
	`, qty, qty, time.Now().UTC(), id, true, qty)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) SetActive(ctx context.Context, id uuid.UUID, active bool) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.StockRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"is_active":  active,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) InsertTransaction(ctx context.Context, txn *models.StockTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

// SumTransactions returns the sum of all deltas logged for the record.
func (r *repository) SumTransactions(ctx context.Context, recordID uuid.UUID) (int, error) {
	var total int
	err := r.db.WithContext(ctx).
		Model(&models.StockTransaction{}).
		Select("COALESCE(SUM(quantity), 0)").
		Where("stock_record_id = ?", recordID).
		Scan(&total).
		Error
	return total, err
}

func (r *repository) InsertReservation(ctx context.Context, reservation *models.StockReservation) error {
	return r.db.WithContext(ctx).Create(reservation).Error
}

// FindReservationByKey returns (nil, nil) when no reservation carries key.
func (r *repository) FindReservationByKey(ctx context.Context, key string) (*models.StockReservation, error) {
	var reservation models.StockReservation
	err := r.db.WithContext(ctx).First(&reservation, "operation_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}
