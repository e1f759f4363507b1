package warehouse

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/db"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/metrics"
	"github.com/angelmondragon/fulfillment-backend/pkg/pagination"
)

const (
	// DefaultLowStockThreshold is used when callers omit a threshold.
	DefaultLowStockThreshold = 10
	// maxVersionRetries bounds how often a read-modify-write is retried after
	// losing a version race.
	maxVersionRetries     = 3
	recentTransactionRows = 50
	operationKeyMaxLength = 255
)

var (
	errVersionConflict = errors.New("stock record version changed")
	errReplayed        = errors.New("operation key already applied")
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the stock ledger. Every change to a record's quantity is paired
// with a stock transaction in the same database transaction.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.StockRecord, error)
	AddTransaction(ctx context.Context, input TransactionInput) (*models.StockRecord, error)
	ReserveStock(ctx context.Context, input ReservationInput) (*models.StockRecord, error)
	ReleaseReservedStock(ctx context.Context, input ReservationInput) (*models.StockRecord, error)
	AdjustStock(ctx context.Context, input AdjustInput) (*models.StockRecord, error)
	GetLowStockItems(ctx context.Context, threshold int) ([]models.StockRecord, error)
	List(ctx context.Context, filter ListFilter, params pagination.Params) (pagination.Page[models.StockRecord], error)
	Get(ctx context.Context, id uuid.UUID) (*models.StockRecord, error)
	GetByProduct(ctx context.Context, productID uuid.UUID) ([]models.StockRecord, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) (*models.StockRecord, error)
}

type service struct {
	repo    Repository
	tx      txRunner
	metrics *metrics.StockMetrics
}

// NewService wires the ledger. stockMetrics may be nil.
func NewService(repo Repository, tx txRunner, stockMetrics *metrics.StockMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("warehouse repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx, metrics: stockMetrics}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.StockRecord, error) {
	if input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if input.Quantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be zero or greater")
	}
	minLevel := 0
	if input.MinStockLevel != nil {
		minLevel = *input.MinStockLevel
	}
	if minLevel < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "min stock level must be zero or greater")
	}
	if input.MaxStockLevel != nil && *input.MaxStockLevel < minLevel {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "max stock level must not be below min stock level")
	}

	record := &models.StockRecord{
		ProductID:         input.ProductID,
		BranchID:          input.BranchID,
		Quantity:          input.Quantity,
		AvailableQuantity: input.Quantity,
		MinStockLevel:     minLevel,
		MaxStockLevel:     input.MaxStockLevel,
		IsActive:          true,
		Version:           1,
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.FindByKey(ctx, input.ProductID, input.BranchID); err == nil {
			return duplicateRecordError(input.ProductID, input.BranchID)
		} else if !db.IsNotFound(err) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing stock record")
		}

		if err := repo.CreateRecord(ctx, record); err != nil {
			if db.IsUniqueViolation(err, "") {
				return duplicateRecordError(input.ProductID, input.BranchID)
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create stock record")
		}
		if input.Quantity == 0 {
			return nil
		}
		return s.appendTransaction(ctx, repo, &models.StockTransaction{
			StockRecordID: record.ID,
			Quantity:      input.Quantity,
			Type:          enums.StockTransactionImport,
			UserID:        input.UserID,
			Note:          "initial stock",
		})
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *service) AddTransaction(ctx context.Context, input TransactionInput) (*models.StockRecord, error) {
	if input.RecordID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stock record id required")
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown transaction type %q", input.Type))
	}
	if input.Quantity == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be non-zero")
	}
	if input.Type == enums.StockTransactionImport && input.Quantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "import quantity must be positive")
	}

	return s.mutateRecord(ctx, input.RecordID, func(record *models.StockRecord) (*models.StockTransaction, Totals, error) {
		delta := input.Quantity
		if input.Type == enums.StockTransactionExport {
			delta = -absInt(input.Quantity)
		}
		totals, err := applyDelta(record, input.Type, delta)
		if err != nil {
			return nil, Totals{}, err
		}
		return &models.StockTransaction{
			StockRecordID: record.ID,
			Quantity:      delta,
			Type:          input.Type,
			OrderID:       input.OrderID,
			UserID:        input.UserID,
			Note:          input.Note,
		}, totals, nil
	})
}

func (s *service) AdjustStock(ctx context.Context, input AdjustInput) (*models.StockRecord, error) {
	if input.RecordID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stock record id required")
	}
	if input.NewQuantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be zero or greater")
	}

	return s.mutateRecord(ctx, input.RecordID, func(record *models.StockRecord) (*models.StockTransaction, Totals, error) {
		delta := input.NewQuantity - record.Quantity
		if delta == 0 {
			return nil, Totals{}, nil
		}
		totals, err := applyDelta(record, enums.StockTransactionAdjustment, delta)
		if err != nil {
			return nil, Totals{}, err
		}
		return &models.StockTransaction{
			StockRecordID: record.ID,
			Quantity:      delta,
			Type:          enums.StockTransactionAdjustment,
			UserID:        input.UserID,
			Note:          input.Note,
		}, totals, nil
	})
}

// mutateRecord runs a version-checked read-modify-write of one record plus
// its ledger entry. A nil transaction from build means nothing changes.
func (s *service) mutateRecord(
	ctx context.Context,
	recordID uuid.UUID,
	build func(record *models.StockRecord) (*models.StockTransaction, Totals, error),
) (*models.StockRecord, error) {
	for attempt := 0; ; attempt++ {
		var updated *models.StockRecord
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			record, err := s.loadRecord(ctx, repo, recordID)
			if err != nil {
				return err
			}
			entry, totals, err := build(record)
			if err != nil {
				return err
			}
			if entry == nil {
				updated = record
				return nil
			}
			ok, err := repo.UpdateTotals(ctx, record.ID, record.Version, totals)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update stock record")
			}
			if !ok {
				return errVersionConflict
			}
			if err := s.appendTransaction(ctx, repo, entry); err != nil {
				return err
			}
			updated, err = s.loadRecord(ctx, repo, recordID)
			return err
		})
		if errors.Is(err, errVersionConflict) {
			if attempt < maxVersionRetries {
				continue
			}
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "stock record modified concurrently; retry the request")
		}
		if err != nil {
			s.countInsufficient(err, "transaction")
			return nil, err
		}
		return updated, nil
	}
}

func (s *service) ReserveStock(ctx context.Context, input ReservationInput) (*models.StockRecord, error) {
	if err := validateReservation(input); err != nil {
		return nil, err
	}

	var result *models.StockRecord
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		record, err := s.loadByKey(ctx, repo, input.ProductID, input.BranchID)
		if err != nil {
			return err
		}
		if replayed, err := s.checkReplay(ctx, repo, record, enums.ReservationKindReserve, input); err != nil || replayed {
			result = record
			return err
		}
		if !record.IsActive {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "stock record is inactive")
		}

		ok, err := repo.ReserveConditional(ctx, record.ID, input.Quantity)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve stock")
		}
		if !ok {
			current, err := s.loadRecord(ctx, repo, record.ID)
			if err != nil {
				return err
			}
			return insufficientStockError(current.AvailableQuantity, input.Quantity)
		}

		if err := s.logReservation(ctx, repo, record.ID, enums.ReservationKindReserve, input, input.Quantity); err != nil {
			return err
		}
		result, err = s.loadRecord(ctx, repo, record.ID)
		return err
	})
	if errors.Is(err, errReplayed) {
		return s.currentByKey(ctx, input.ProductID, input.BranchID)
	}
	if err != nil {
		s.countInsufficient(err, "reserve")
		return nil, err
	}
	return result, nil
}

func (s *service) ReleaseReservedStock(ctx context.Context, input ReservationInput) (*models.StockRecord, error) {
	if err := validateReservation(input); err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		var result *models.StockRecord
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			record, err := s.loadByKey(ctx, repo, input.ProductID, input.BranchID)
			if err != nil {
				return err
			}
			if replayed, err := s.checkReplay(ctx, repo, record, enums.ReservationKindRelease, input); err != nil || replayed {
				result = record
				return err
			}

			reserved := record.ReservedQuantity - input.Quantity
			if reserved < 0 {
				reserved = 0
			}
			applied := record.ReservedQuantity - reserved
			totals := Totals{
				Quantity:  record.Quantity,
				Reserved:  reserved,
				Available: record.Quantity - reserved,
			}
			ok, err := repo.UpdateTotals(ctx, record.ID, record.Version, totals)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release stock")
			}
			if !ok {
				return errVersionConflict
			}
			if err := s.logReservation(ctx, repo, record.ID, enums.ReservationKindRelease, input, applied); err != nil {
				return err
			}
			result, err = s.loadRecord(ctx, repo, record.ID)
			return err
		})
		switch {
		case errors.Is(err, errVersionConflict) && attempt < maxVersionRetries:
			continue
		case errors.Is(err, errVersionConflict):
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "stock record modified concurrently; retry the request")
		case errors.Is(err, errReplayed):
			return s.currentByKey(ctx, input.ProductID, input.BranchID)
		case err != nil:
			return nil, err
		}
		return result, nil
	}
}

func (s *service) GetLowStockItems(ctx context.Context, threshold int) ([]models.StockRecord, error) {
	if threshold < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "threshold must be zero or greater")
	}
	rows, err := s.repo.ListLowStock(ctx, threshold)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list low stock records")
	}
	return rows, nil
}

func (s *service) List(ctx context.Context, filter ListFilter, params pagination.Params) (pagination.Page[models.StockRecord], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return pagination.Page[models.StockRecord]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.List(ctx, filter, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return pagination.Page[models.StockRecord]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stock records")
	}
	return pagination.BuildPage(rows, params.Limit, func(r models.StockRecord) pagination.Cursor {
		return pagination.Cursor{CreatedAt: r.CreatedAt, ID: r.ID}
	}), nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.StockRecord, error) {
	record, err := s.repo.FindDetail(ctx, id, recentTransactionRows)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "stock record not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock record")
	}
	return record, nil
}

func (s *service) GetByProduct(ctx context.Context, productID uuid.UUID) ([]models.StockRecord, error) {
	rows, err := s.repo.ListByProduct(ctx, productID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stock records for product")
	}
	if len(rows) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no stock records for product")
	}
	return rows, nil
}

func (s *service) SetActive(ctx context.Context, id uuid.UUID, active bool) (*models.StockRecord, error) {
	ok, err := s.repo.SetActive(ctx, id, active)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update stock record status")
	}
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "stock record not found")
	}
	return s.loadRecord(ctx, s.repo, id)
}

func (s *service) loadRecord(ctx context.Context, repo Repository, id uuid.UUID) (*models.StockRecord, error) {
	record, err := repo.FindByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "stock record not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock record")
	}
	return record, nil
}

func (s *service) loadByKey(ctx context.Context, repo Repository, productID uuid.UUID, branchID *uuid.UUID) (*models.StockRecord, error) {
	record, err := repo.FindByKey(ctx, productID, branchID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "stock record not found for product").
				WithDetails(map[string]any{"productId": productID, "branchId": branchID})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock record")
	}
	return record, nil
}

func (s *service) currentByKey(ctx context.Context, productID uuid.UUID, branchID *uuid.UUID) (*models.StockRecord, error) {
	return s.loadByKey(ctx, s.repo, productID, branchID)
}

// checkReplay reports whether the operation key was already applied. A key
// reused for a different record, kind or quantity is rejected.
func (s *service) checkReplay(ctx context.Context, repo Repository, record *models.StockRecord, kind enums.ReservationKind, input ReservationInput) (bool, error) {
	if input.OperationKey == "" {
		return false, nil
	}
	existing, err := repo.FindReservationByKey(ctx, input.OperationKey)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservation by operation key")
	}
	if existing == nil {
		return false, nil
	}
	if existing.StockRecordID != record.ID || existing.Kind != kind || existing.Quantity != input.Quantity {
		return false, pkgerrors.New(pkgerrors.CodeIdempotency, "operation key already used for a different request").
			WithDetails(map[string]any{"operationKey": input.OperationKey})
	}
	return true, nil
}

func (s *service) logReservation(ctx context.Context, repo Repository, recordID uuid.UUID, kind enums.ReservationKind, input ReservationInput, applied int) error {
	entry := &models.StockReservation{
		StockRecordID:   recordID,
		Kind:            kind,
		Quantity:        input.Quantity,
		AppliedQuantity: applied,
		OrderID:         input.OrderID,
		UserID:          input.UserID,
	}
	if input.OperationKey != "" {
		key := input.OperationKey
		entry.OperationKey = &key
	}
	if err := repo.InsertReservation(ctx, entry); err != nil {
		if entry.OperationKey != nil && db.IsUniqueKeyViolation(err, "stock_reservations_operation_key_key", "stock_reservations", "operation_key") {
			return errReplayed
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "log reservation")
	}
	return nil
}

func (s *service) appendTransaction(ctx context.Context, repo Repository, entry *models.StockTransaction) error {
	if err := repo.InsertTransaction(ctx, entry); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append stock transaction")
	}
	return nil
}

func (s *service) countInsufficient(err error, operation string) {
	if pkgerrors.HasCode(err, pkgerrors.CodeInsufficientStock) {
		s.metrics.IncInsufficient(operation)
	}
}

// applyDelta computes the new totals for one ledger entry. Adjustments
// recompute available from quantity and reserved; every other type moves
// quantity and available together.
func applyDelta(record *models.StockRecord, typ enums.StockTransactionType, delta int) (Totals, error) {
	totals := Totals{
		Quantity:  record.Quantity + delta,
		Reserved:  record.ReservedQuantity,
		Available: record.AvailableQuantity,
	}
	switch typ {
	case enums.StockTransactionImport, enums.StockTransactionDamaged, enums.StockTransactionReturned:
		totals.Available += delta
	case enums.StockTransactionExport:
		if record.AvailableQuantity < -delta {
			return Totals{}, insufficientStockError(record.AvailableQuantity, -delta)
		}
		totals.Available += delta
	case enums.StockTransactionAdjustment:
		totals.Available = totals.Quantity - totals.Reserved
	default:
		return Totals{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown transaction type %q", typ))
	}
	if totals.Quantity < 0 || totals.Available < 0 {
		return Totals{}, insufficientStockError(record.AvailableQuantity, -delta).
			WithDetails(map[string]any{
				"quantity":          record.Quantity,
				"reservedQuantity":  record.ReservedQuantity,
				"availableQuantity": record.AvailableQuantity,
				"delta":             delta,
			})
	}
	return totals, nil
}

func validateReservation(input ReservationInput) error {
	if input.ProductID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if input.Quantity <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	if len(input.OperationKey) > operationKeyMaxLength {
		return pkgerrors.New(pkgerrors.CodeValidation, "operation key too long")
	}
	return nil
}

func insufficientStockError(available, requested int) *pkgerrors.Error {
	return pkgerrors.New(pkgerrors.CodeInsufficientStock, fmt.Sprintf("insufficient stock: available %d, requested %d", available, requested)).
		WithDetails(map[string]any{"availableQuantity": available, "requested": requested})
}

func duplicateRecordError(productID uuid.UUID, branchID *uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeConflict, "stock record already exists for product and branch").
		WithDetails(map[string]any{"productId": productID, "branchId": branchID})
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
