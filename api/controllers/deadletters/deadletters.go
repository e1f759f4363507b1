// Package deadletters lets operators see which order-service notifications
// the sync relay gave up on.
package deadletters

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/api/responses"
	"github.com/angelmondragon/fulfillment-backend/api/validators"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox"
)

// Lister is satisfied by outbox.DLQRepository.
type Lister interface {
	List(ctx context.Context, filter outbox.DLQFilter) ([]models.SyncOutboxDLQ, error)
}

// DeadLetterDTO is one dead-lettered notification.
type DeadLetterDTO struct {
	ID           uuid.UUID                  `json:"id"`
	EventID      uuid.UUID                  `json:"eventId"`
	OrderID      uuid.UUID                  `json:"orderId"`
	Kind         enums.SyncEventKind        `json:"kind"`
	Reason       enums.OutboxDLQErrorReason `json:"reason"`
	Description  string                     `json:"description"`
	ErrorMessage *string                    `json:"errorMessage,omitempty"`
	AttemptCount int                        `json:"attemptCount"`
	FailedAt     time.Time                  `json:"failedAt"`
	Payload      json.RawMessage            `json:"payload"`
}

// List handles GET /sync/dead-letters?orderId&kind&limit.
func List(store Lister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := validators.ParseQueryUUID(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter := outbox.DLQFilter{OrderID: orderID, Limit: limit}
		if raw := strings.TrimSpace(r.URL.Query().Get("kind")); raw != "" {
			kind, err := enums.ParseSyncEventKind(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid kind").
					WithDetails(map[string]any{"field": "kind"}))
				return
			}
			filter.Kind = kind
		}

		rows, err := store.List(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list dead letters"))
			return
		}
		out := make([]DeadLetterDTO, 0, len(rows))
		for _, row := range rows {
			out = append(out, DeadLetterDTO{
				ID:           row.ID,
				EventID:      row.EventID,
				OrderID:      row.OrderID,
				Kind:         row.Kind,
				Reason:       row.ErrorReason,
				Description:  row.ErrorReason.Describe(),
				ErrorMessage: row.ErrorMessage,
				AttemptCount: row.AttemptCount,
				FailedAt:     row.FailedAt,
				Payload:      row.Payload,
			})
		}
		responses.WriteSuccess(w, out)
	}
}
