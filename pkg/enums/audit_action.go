package enums

// AuditAction names the entry posted to the order audit trail.
type AuditAction string

const (
	AuditActionDeliveryStatusChanged AuditAction = "DELIVERY_STATUS_CHANGED"
	AuditActionDeliveryUpdated       AuditAction = "DELIVERY_UPDATED"
	AuditActionDeliveryAssigned      AuditAction = "DELIVERY_ASSIGNED"
)
