package shipping

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
)

// AssignInput creates the tracking for a shippable order.
type AssignInput struct {
	OrderID           uuid.UUID
	ShipperID         uuid.UUID
	EstimatedDelivery *time.Time
}

// UpdateInput carries a shipper or staff update. Nil fields are left as is.
type UpdateInput struct {
	Status                *enums.DeliveryStatus
	CurrentLocation       *string
	ProofOfDeliveryImages []string
	// ProofOfDeliveryImage is the single-image form older clients still send.
	ProofOfDeliveryImage *string
	CustomerSignature    *string
	DeliveryNote         *string
	DeliveryFailedReason *string
	DeliveryFailedProofs []string
	EstimatedDelivery    *time.Time
}

// TrackingDTO is the API shape of a delivery tracking.
type TrackingDTO struct {
	ID                    uuid.UUID              `json:"id"`
	OrderID               uuid.UUID              `json:"orderId"`
	ShipperID             uuid.UUID              `json:"shipperId"`
	Status                enums.DeliveryStatus   `json:"status"`
	AllowedNextStatuses   []enums.DeliveryStatus `json:"allowedNextStatuses"`
	CurrentLocation       *string                `json:"currentLocation,omitempty"`
	EstimatedDelivery     *time.Time             `json:"estimatedDelivery,omitempty"`
	ProofOfDeliveryImages []string               `json:"proofOfDeliveryImages"`
	CustomerSignature     *string                `json:"customerSignature,omitempty"`
	DeliveryNote          *string                `json:"deliveryNote,omitempty"`
	DeliveryFailedReason  *string                `json:"deliveryFailedReason,omitempty"`
	DeliveryFailedProofs  []string               `json:"deliveryFailedProofs"`
	CreatedAt             time.Time              `json:"createdAt"`
	UpdatedAt             time.Time              `json:"updatedAt"`
	TrackingHistory       []HistoryEntryDTO      `json:"trackingHistory,omitempty"`
}

// HistoryEntryDTO is one step of the tracking history.
type HistoryEntryDTO struct {
	Status      enums.DeliveryStatus `json:"status"`
	Location    *string              `json:"location,omitempty"`
	Note        *string              `json:"note,omitempty"`
	PerformedBy uuid.UUID            `json:"performedBy"`
	Timestamp   time.Time            `json:"timestamp"`
}

// NewTrackingDTO maps a model, including preloaded history.
func NewTrackingDTO(tracking *models.DeliveryTracking) TrackingDTO {
	dto := TrackingDTO{
		ID:                    tracking.ID,
		OrderID:               tracking.OrderID,
		ShipperID:             tracking.ShipperID,
		Status:                tracking.Status,
		AllowedNextStatuses:   AllowedNext(tracking.Status),
		CurrentLocation:       tracking.CurrentLocation,
		EstimatedDelivery:     tracking.EstimatedDelivery,
		ProofOfDeliveryImages: nonNil(tracking.ProofOfDeliveryImages),
		CustomerSignature:     tracking.CustomerSignature,
		DeliveryNote:          tracking.DeliveryNote,
		DeliveryFailedReason:  tracking.DeliveryFailedReason,
		DeliveryFailedProofs:  nonNil(tracking.DeliveryFailedProofs),
		CreatedAt:             tracking.CreatedAt,
		UpdatedAt:             tracking.UpdatedAt,
	}
	for _, entry := range tracking.History {
		dto.TrackingHistory = append(dto.TrackingHistory, HistoryEntryDTO{
			Status:      entry.Status,
			Location:    entry.Location,
			Note:        entry.Note,
			PerformedBy: entry.PerformedBy,
			Timestamp:   entry.CreatedAt,
		})
	}
	return dto
}

// NewTrackingDTOs maps a slice of trackings.
func NewTrackingDTOs(trackings []models.DeliveryTracking) []TrackingDTO {
	out := make([]TrackingDTO, 0, len(trackings))
	for i := range trackings {
		out = append(out, NewTrackingDTO(&trackings[i]))
	}
	return out
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
