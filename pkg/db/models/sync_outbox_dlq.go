package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

// SyncOutboxDLQ captures notifications the relay gave up on.
type SyncOutboxDLQ struct {
	ID           uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	EventID      uuid.UUID                  `gorm:"column:event_id;type:uuid;not null"`
	Kind         enums.SyncEventKind        `gorm:"column:kind;type:varchar(32);not null"`
	OrderID      uuid.UUID                  `gorm:"column:order_id;type:uuid;not null"`
	Payload      json.RawMessage            `gorm:"column:payload_json;type:jsonb;not null"`
	ErrorReason  enums.OutboxDLQErrorReason `gorm:"column:error_reason;type:varchar(32);not null"`
	ErrorMessage *string                    `gorm:"column:error_message"`
	AttemptCount int                        `gorm:"column:attempt_count;not null;default:0"`
	FailedAt     time.Time                  `gorm:"column:failed_at;autoCreateTime"`
}

func (SyncOutboxDLQ) TableName() string { return "sync_outbox_dlq" }

func (d *SyncOutboxDLQ) BeforeCreate(*gorm.DB) error {
	ensureID(&d.ID)
	return nil
}
