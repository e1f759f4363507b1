package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

// StockTransaction is an immutable signed delta against a stock record.
type StockTransaction struct {
	ID            uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	StockRecordID uuid.UUID                  `gorm:"column:stock_record_id;type:uuid;not null;index"`
	Quantity      int                        `gorm:"column:quantity;not null"`
	Type          enums.StockTransactionType `gorm:"column:type;type:varchar(32);not null"`
	OrderID       *uuid.UUID                 `gorm:"column:order_id;type:uuid"`
	UserID        uuid.UUID                  `gorm:"column:user_id;type:uuid;not null"`
	Note          string                     `gorm:"column:note;not null;default:''"`
	CreatedAt     time.Time                  `gorm:"column:created_at;autoCreateTime"`
}

func (StockTransaction) TableName() string { return "stock_transactions" }

func (t *StockTransaction) BeforeCreate(*gorm.DB) error {
	ensureID(&t.ID)
	return nil
}
