package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StockRecord holds the on-hand, reserved and sellable counts for one product
// at one branch. A nil BranchID is the "no branch" key.
type StockRecord struct {
	ID                uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	ProductID         uuid.UUID          `gorm:"column:product_id;type:uuid;not null;index"`
	BranchID          *uuid.UUID         `gorm:"column:branch_id;type:uuid;index"`
	Quantity          int                `gorm:"column:quantity;not null;default:0"`
	ReservedQuantity  int                `gorm:"column:reserved_quantity;not null;default:0"`
	AvailableQuantity int                `gorm:"column:available_quantity;not null;default:0"`
	MinStockLevel     int                `gorm:"column:min_stock_level;not null;default:0"`
	MaxStockLevel     *int               `gorm:"column:max_stock_level"`
	IsActive          bool               `gorm:"column:is_active;not null;default:true"`
	Version           int                `gorm:"column:version;not null;default:1"`
	CreatedAt         time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time          `gorm:"column:updated_at;autoUpdateTime"`
	Transactions      []StockTransaction `gorm:"foreignKey:StockRecordID"`
}

func (StockRecord) TableName() string { return "stock_records" }

func (r *StockRecord) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
