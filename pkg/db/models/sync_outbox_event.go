package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

// SyncOutboxEvent is a pending order-service notification written in the same
// transaction as the tracking mutation that caused it.
type SyncOutboxEvent struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Kind          enums.SyncEventKind `gorm:"column:kind;type:varchar(32);not null"`
	OrderID       uuid.UUID           `gorm:"column:order_id;type:uuid;not null;index"`
	Payload       json.RawMessage     `gorm:"column:payload;type:jsonb;not null"`
	AttemptCount  int                 `gorm:"column:attempt_count;not null;default:0"`
	LastError     *string             `gorm:"column:last_error"`
	NextAttemptAt time.Time           `gorm:"column:next_attempt_at;not null;index"`
	DeliveredAt   *time.Time          `gorm:"column:delivered_at;index"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime"`
}

func (SyncOutboxEvent) TableName() string { return "sync_outbox_events" }

func (e *SyncOutboxEvent) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	if e.NextAttemptAt.IsZero() {
		e.NextAttemptAt = time.Now().UTC()
	}
	return nil
}
