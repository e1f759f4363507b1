package warehouse

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-backend/api/middleware"
	"github.com/angelmondragon/fulfillment-backend/api/responses"
	"github.com/angelmondragon/fulfillment-backend/api/validators"
	internalwarehouse "github.com/angelmondragon/fulfillment-backend/internal/warehouse"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/pagination"
)

const maxNoteLength = 500

type createRequest struct {
	ProductID     uuid.UUID  `json:"productId"`
	BranchID      *uuid.UUID `json:"branchId"`
	Quantity      int        `json:"quantity" validate:"gte=0"`
	MinStockLevel *int       `json:"minStockLevel" validate:"omitempty,gte=0"`
	MaxStockLevel *int       `json:"maxStockLevel" validate:"omitempty,gte=0"`
}

type transactionRequest struct {
	Quantity int        `json:"quantity" validate:"required"`
	Type     string     `json:"type" validate:"required"`
	OrderID  *uuid.UUID `json:"orderId"`
	Note     string     `json:"note"`
}

type adjustRequest struct {
	Quantity int    `json:"quantity" validate:"gte=0"`
	Note     string `json:"note"`
}

type reservationRequest struct {
	Quantity     int        `json:"quantity" validate:"gt=0"`
	BranchID     *uuid.UUID `json:"branchId"`
	OrderID      *uuid.UUID `json:"orderId"`
	OperationKey string     `json:"operationKey" validate:"max=255"`
}

type activeRequest struct {
	IsActive *bool `json:"isActive" validate:"required"`
}

// Create seeds a stock record for a product and optional branch.
func Create(svc internalwarehouse.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload createRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		record, err := svc.Create(r.Context(), internalwarehouse.CreateInput{
			ProductID:     payload.ProductID,
			BranchID:      payload.BranchID,
			Quantity:      payload.Quantity,
			MinStockLevel: payload.MinStockLevel,
			MaxStockLevel: payload.MaxStockLevel,
			UserID:        userID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, internalwarehouse.NewStockRecordDTO(record))
	}
}

// List pages through stock records. Inactive records are included unless
// active=true is passed.
func List(svc internalwarehouse.Service, logg *logger.Logger) http.HandlerFunc {
	return listHandler(svc, logg, false)
}

// Inventory is the branch/product view; it only shows active records.
func Inventory(svc internalwarehouse.Service, logg *logger.Logger) http.HandlerFunc {
	return listHandler(svc, logg, true)
}

func listHandler(svc internalwarehouse.Service, logg *logger.Logger, activeOnly bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter, params, err := parseListQuery(r, activeOnly)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		page, err := svc.List(r.Context(), filter, params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, pagination.Page[internalwarehouse.StockRecordDTO]{
			Items:      internalwarehouse.NewStockRecordDTOs(page.Items),
			NextCursor: page.NextCursor,
		})
	}
}

// LowStock lists records at or under the threshold, defaulting to the
// configured one.
func LowStock(svc internalwarehouse.Service, defaultThreshold int, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threshold, err := validators.ParseQueryInt(r, "threshold", defaultThreshold, 0, 1_000_000)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.GetLowStockItems(r.Context(), threshold)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalwarehouse.NewStockRecordDTOs(rows))
	}
}

func ByProduct(svc internalwarehouse.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, err := validators.ParseUUIDParam(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := svc.GetByProduct(r.Context(), productID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalwarehouse.NewStockRecordDTOs(rows))
	}
}

// Detail returns one record with its most recent ledger entries.
func Detail(svc internalwarehouse.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		record, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalwarehouse.NewStockRecordDTO(record))
	}
}

func AddTransaction(svc internalwarehouse.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		userID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload transactionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		typ, err := enums.ParseStockTransactionType(strings.TrimSpace(payload.Type))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid transaction type").
				WithDetails(map[string]any{"type": payload.Type}))
			return
		}
		record, err := svc.AddTransaction(r.Context(), internalwarehouse.TransactionInput{
			RecordID: id,
			Quantity: payload.Quantity,
			Type:     typ,
			OrderID:  payload.OrderID,
			Note:     validators.SanitizeString(payload.Note, maxNoteLength),
			UserID:   userID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, internalwarehouse.NewStockRecordDTO(record))
	}
}

func Adjust(svc internalwarehouse.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		userID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload adjustRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		record, err := svc.AdjustStock(r.Context(), internalwarehouse.AdjustInput{
			RecordID:    id,
			NewQuantity: payload.Quantity,
			Note:        validators.SanitizeString(payload.Note, maxNoteLength),
			UserID:      userID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalwarehouse.NewStockRecordDTO(record))
	}
}

// Reserve holds stock for an order.
func Reserve(svc internalwarehouse.Service, logg *logger.Logger) http.HandlerFunc {
	return reservationHandler(logg, svc.ReserveStock)
}

// Release returns held stock to available.
func Release(svc internalwarehouse.Service, logg *logger.Logger) http.HandlerFunc {
	return reservationHandler(logg, svc.ReleaseReservedStock)
}

type reservationFunc func(ctx context.Context, input internalwarehouse.ReservationInput) (*models.StockRecord, error)

// reservationHandler backs reserve and release. The operation key comes from
// the body or, failing that, the Idempotency-Key header.
func reservationHandler(logg *logger.Logger, apply reservationFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		productID, err := validators.ParseUUIDParam(r, "productId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		userID, err := actorID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload reservationRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		operationKey := strings.TrimSpace(payload.OperationKey)
		if operationKey == "" {
			operationKey = middleware.IdempotencyKeyFromContext(r.Context())
		}
		record, err := apply(r.Context(), internalwarehouse.ReservationInput{
			ProductID:    productID,
			BranchID:     payload.BranchID,
			Quantity:     payload.Quantity,
			OrderID:      payload.OrderID,
			OperationKey: operationKey,
			UserID:       userID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalwarehouse.NewStockRecordDTO(record))
	}
}

func SetActive(svc internalwarehouse.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var payload activeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		record, err := svc.SetActive(r.Context(), id, *payload.IsActive)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, internalwarehouse.NewStockRecordDTO(record))
	}
}

func parseListQuery(r *http.Request, activeOnly bool) (internalwarehouse.ListFilter, pagination.Params, error) {
	var filter internalwarehouse.ListFilter
	limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return filter, pagination.Params{}, err
	}
	if filter.ProductID, err = validators.ParseQueryUUID(r, "productId"); err != nil {
		return filter, pagination.Params{}, err
	}
	if filter.BranchID, err = validators.ParseQueryUUID(r, "branchId"); err != nil {
		return filter, pagination.Params{}, err
	}
	if filter.ActiveOnly, err = validators.ParseQueryBool(r, "active", activeOnly); err != nil {
		return filter, pagination.Params{}, err
	}
	if activeOnly {
		filter.ActiveOnly = true
	}
	return filter, pagination.Params{
		Limit:  limit,
		Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
	}, nil
}

func actorID(r *http.Request) (uuid.UUID, error) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok || actor.UserID == uuid.Nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	return actor.UserID, nil
}
