package warehouse

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

// CreateInput seeds a new stock record.
type CreateInput struct {
	ProductID     uuid.UUID
	BranchID      *uuid.UUID
	Quantity      int
	MinStockLevel *int
	MaxStockLevel *int
	UserID        uuid.UUID
}

// TransactionInput is one ledger entry against an existing record.
type TransactionInput struct {
	RecordID uuid.UUID
	Quantity int
	Type     enums.StockTransactionType
	OrderID  *uuid.UUID
	Note     string
	UserID   uuid.UUID
}

// ReservationInput drives both reserve and release.
type ReservationInput struct {
	ProductID    uuid.UUID
	BranchID     *uuid.UUID
	Quantity     int
	OrderID      *uuid.UUID
	OperationKey string
	UserID       uuid.UUID
}

// AdjustInput sets an absolute on-hand quantity.
type AdjustInput struct {
	RecordID    uuid.UUID
	NewQuantity int
	Note        string
	UserID      uuid.UUID
}

// StockRecordDTO is the API shape of a stock record.
type StockRecordDTO struct {
	ID                uuid.UUID             `json:"id"`
	ProductID         uuid.UUID             `json:"productId"`
	BranchID          *uuid.UUID            `json:"branchId,omitempty"`
	Quantity          int                   `json:"quantity"`
	ReservedQuantity  int                   `json:"reservedQuantity"`
	AvailableQuantity int                   `json:"availableQuantity"`
	MinStockLevel     int                   `json:"minStockLevel"`
	MaxStockLevel     *int                  `json:"maxStockLevel,omitempty"`
	IsActive          bool                  `json:"isActive"`
	Version           int                   `json:"version"`
	CreatedAt         time.Time             `json:"createdAt"`
	UpdatedAt         time.Time             `json:"updatedAt"`
	Transactions      []StockTransactionDTO `json:"transactions,omitempty"`
}

// StockTransactionDTO is the API shape of a ledger entry.
type StockTransactionDTO struct {
	ID        uuid.UUID                  `json:"id"`
	Quantity  int                        `json:"quantity"`
	Type      enums.StockTransactionType `json:"type"`
	OrderID   *uuid.UUID                 `json:"orderId,omitempty"`
	UserID    uuid.UUID                  `json:"userId"`
	Note      string                     `json:"note,omitempty"`
	CreatedAt time.Time                  `json:"createdAt"`
}

// NewStockRecordDTO maps a model, including any preloaded transactions.
func NewStockRecordDTO(record *models.StockRecord) StockRecordDTO {
	dto := StockRecordDTO{
		ID:                record.ID,
		ProductID:         record.ProductID,
		BranchID:          record.BranchID,
		Quantity:          record.Quantity,
		ReservedQuantity:  record.ReservedQuantity,
		AvailableQuantity: record.AvailableQuantity,
		MinStockLevel:     record.MinStockLevel,
		MaxStockLevel:     record.MaxStockLevel,
		IsActive:          record.IsActive,
		Version:           record.Version,
		CreatedAt:         record.CreatedAt,
		UpdatedAt:         record.UpdatedAt,
	}
	for _, txn := range record.Transactions {
		dto.Transactions = append(dto.Transactions, StockTransactionDTO{
			ID:        txn.ID,
			Quantity:  txn.Quantity,
			Type:      txn.Type,
			OrderID:   txn.OrderID,
			UserID:    txn.UserID,
			Note:      txn.Note,
			CreatedAt: txn.CreatedAt,
		})
	}
	return dto
}

// NewStockRecordDTOs maps a slice of records.
func NewStockRecordDTOs(records []models.StockRecord) []StockRecordDTO {
	out := make([]StockRecordDTO, 0, len(records))
	for i := range records {
		out = append(out, NewStockRecordDTO(&records[i]))
	}
	return out
}
