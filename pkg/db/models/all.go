package models

// All lists every persisted model; SQLite auto-migration and tests use it.
func All() []any {
	return []any{
		&StockRecord{},
		&StockTransaction{},
		&StockReservation{},
		&DeliveryTracking{},
		&TrackingHistoryEntry{},
		&SyncOutboxEvent{},
		&SyncOutboxDLQ{},
	}
}
