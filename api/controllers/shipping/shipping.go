package shipping

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/api/middleware"
	"github.com/angelmondragon/fulfillment-backend/api/responses"
	"github.com/angelmondragon/fulfillment-backend/api/validators"
	"github.com/angelmondragon/fulfillment-backend/internal/access"
	internalshipping "github.com/angelmondragon/fulfillment-backend/internal/shipping"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/pagination"
)

const (
	maxTextLength = 1000
	maxProofs     = 20
)

type assignRequest struct {
	ShipperID         uuid.UUID  `json:"shipperId"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery"`
}

type updateRequest struct {
	Status                *string    `json:"status"`
	CurrentLocation       *string    `json:"currentLocation"`
	ProofOfDeliveryImages []string   `json:"proofOfDeliveryImages" validate:"max=20"`
	ProofOfDeliveryImage  *string    `json:"proofOfDeliveryImage"`
	CustomerSignature     *string    `json:"customerSignature"`
	DeliveryNote          *string    `json:"deliveryNote"`
	DeliveryFailedReason  *string    `json:"deliveryFailedReason"`
	DeliveryFailedProofs  []string   `json:"deliveryFailedProofs" validate:"max=20"`
	EstimatedDelivery     *time.Time `json:"estimatedDelivery"`
}

// Assign opens the tracking for an order and hands it to a shipper.
func Assign(svc internalshipping.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload assignRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tracking, err := svc.Assign(r.Context(), internalshipping.AssignInput{
			OrderID:           orderID,
			ShipperID:         payload.ShipperID,
			EstimatedDelivery: payload.EstimatedDelivery,
		}, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, internalshipping.NewTrackingDTO(tracking))
	}
}

// Update applies a status change and/or field updates to a delivery.
func Update(svc internalshipping.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderID(ctx, orderID.String())
		}
		var payload updateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		input, err := payload.toInput()
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		tracking, err := svc.UpdateStatus(ctx, orderID, input, actor)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalshipping.NewTrackingDTO(tracking))
	}
}

// Get returns the tracking and its history for an order.
func Get(svc internalshipping.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tracking, err := svc.Get(r.Context(), orderID, actor)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalshipping.NewTrackingDTO(tracking))
	}
}

// ListMine pages the caller's open deliveries; ?statuses narrows them.
func ListMine(svc internalshipping.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := parsePage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var statuses []enums.DeliveryStatus
		for _, raw := range validators.ParseQueryList(r, "statuses") {
			status, err := enums.ParseDeliveryStatus(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter").
					WithDetails(map[string]any{"status": raw}))
				return
			}
			statuses = append(statuses, status)
		}
		page, err := svc.ListMine(r.Context(), actor.UserID, statuses, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writePage(w, page)
	}
}

// History pages the caller's finished deliveries.
func History(svc internalshipping.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := requireActor(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params, err := parsePage(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.History(r.Context(), actor.UserID, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writePage(w, page)
	}
}

func (p updateRequest) toInput() (internalshipping.UpdateInput, error) {
	input := internalshipping.UpdateInput{
		CurrentLocation:       validators.SanitizeOptional(p.CurrentLocation, maxTextLength),
		ProofOfDeliveryImages: cleanList(p.ProofOfDeliveryImages),
		ProofOfDeliveryImage:  validators.SanitizeOptional(p.ProofOfDeliveryImage, maxTextLength),
		CustomerSignature:     validators.SanitizeOptional(p.CustomerSignature, maxTextLength),
		DeliveryNote:          validators.SanitizeOptional(p.DeliveryNote, maxTextLength),
		DeliveryFailedReason:  validators.SanitizeOptional(p.DeliveryFailedReason, maxTextLength),
		DeliveryFailedProofs:  cleanList(p.DeliveryFailedProofs),
		EstimatedDelivery:     p.EstimatedDelivery,
	}
	if p.Status != nil {
		status, err := enums.ParseDeliveryStatus(strings.TrimSpace(*p.Status))
		if err != nil {
			return input, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid delivery status").
				WithDetails(map[string]any{"status": *p.Status})
		}
		input.Status = &status
	}
	return input, nil
}

func cleanList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = validators.SanitizeString(v, maxTextLength); v != "" {
			out = append(out, v)
		}
	}
	if len(out) > maxProofs {
		out = out[:maxProofs]
	}
	return out
}

func parsePage(r *http.Request) (pagination.Params, error) {
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return pagination.Params{}, err
	}
	return pagination.Params{Limit: limit, Cursor: strings.TrimSpace(r.URL.Query().Get("cursor"))}, nil
}

func writePage(w http.ResponseWriter, page pagination.Page[models.DeliveryTracking]) {
	responses.WriteSuccess(w, pagination.Page[internalshipping.TrackingDTO]{
		Items:      internalshipping.NewTrackingDTOs(page.Items),
		NextCursor: page.NextCursor,
	})
}

func requireActor(r *http.Request) (access.Actor, error) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok || actor.UserID == uuid.Nil {
		return access.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return actor, nil
}
