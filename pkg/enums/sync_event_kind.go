package enums

import "fmt"

// SyncEventKind identifies which order-service call a sync outbox row replays.
type SyncEventKind string

const (
	SyncEventOrderStatus SyncEventKind = "order_status"
	SyncEventAuditLog    SyncEventKind = "audit_log"
)

var validSyncEventKinds = []SyncEventKind{
	SyncEventOrderStatus,
	SyncEventAuditLog,
}

// IsValid reports whether the value is a known SyncEventKind.
func (k SyncEventKind) IsValid() bool {
	for _, candidate := range validSyncEventKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseSyncEventKind converts raw input into SyncEventKind.
func ParseSyncEventKind(value string) (SyncEventKind, error) {
	for _, candidate := range validSyncEventKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid sync event kind %q", value)
}
