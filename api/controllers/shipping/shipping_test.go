package shipping

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/fulfillment-backend/api/middleware"
	"github.com/angelmondragon/fulfillment-backend/internal/access"
	internalshipping "github.com/angelmondragon/fulfillment-backend/internal/shipping"
	"github.com/angelmondragon/fulfillment-backend/pkg/db"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/dbtest"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox"
	"github.com/angelmondragon/fulfillment-backend/pkg/pagination"
)

type envelope[T any] struct {
	Data  T `json:"data"`
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

type fixture struct {
	router  http.Handler
	admin   access.Actor
	shipper access.Actor
	other   access.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	svc, err := internalshipping.NewService(internalshipping.ServiceParams{
		Repository: internalshipping.NewRepository(conn),
		DB:         db.NewFromGorm(conn),
		Outbox:     outbox.NewService(outbox.NewRepository(conn), nil),
	})
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := req.Context()
			if raw := req.Header.Get("X-Test-User"); raw != "" {
				role, _ := enums.ParseRole(req.Header.Get("X-Test-Role"))
				ctx = middleware.WithActor(ctx, access.Actor{UserID: uuid.MustParse(raw), Role: role})
			}
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	r.Post("/shipping/order/{orderId}/assign", Assign(svc, nil))
	r.Put("/shipping/order/{orderId}/update", Update(svc, nil))
	r.Get("/shipping/order/{orderId}", Get(svc, nil))
	r.Get("/shipping/my-deliveries", ListMine(svc, nil))
	r.Get("/shipping/history", History(svc, nil))

	return &fixture{
		router:  r,
		admin:   access.Actor{UserID: uuid.New(), Role: enums.RoleAdmin},
		shipper: access.Actor{UserID: uuid.New(), Role: enums.RoleShipper},
		other:   access.Actor{UserID: uuid.New(), Role: enums.RoleShipper},
	}
}

func call[T any](t *testing.T, f *fixture, actor access.Actor, method, path, body string) (int, envelope[T]) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if actor.UserID != uuid.Nil {
		req.Header.Set("X-Test-User", actor.UserID.String())
		req.Header.Set("X-Test-Role", string(actor.Role))
	}
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	var out envelope[T]
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &out), resp.Body.String())
	return resp.Code, out
}

func (f *fixture) assign(t *testing.T) string {
	t.Helper()
	orderID := uuid.NewString()
	status, out := call[internalshipping.TrackingDTO](t, f, f.admin, http.MethodPost,
		"/shipping/order/"+orderID+"/assign", `{"shipperId":"`+f.shipper.UserID.String()+`"}`)
	require.Equal(t, http.StatusCreated, status, out.Error.Message)
	assert.Equal(t, enums.DeliveryStatusAssigned, out.Data.Status)
	return orderID
}

func (f *fixture) update(t *testing.T, orderID, body string) (int, envelope[internalshipping.TrackingDTO]) {
	t.Helper()
	return call[internalshipping.TrackingDTO](t, f, f.shipper, http.MethodPut, "/shipping/order/"+orderID+"/update", body)
}

func TestDeliveryLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)
	orderID := f.assign(t)

	for _, status := range []string{"picked_up", "in_transit", "out_for_delivery"} {
		code, out := f.update(t, orderID, `{"status":"`+status+`","currentLocation":"Quận 1"}`)
		require.Equal(t, http.StatusOK, code, out.Error.Message)
	}

	code, out := f.update(t, orderID, `{"status":"delivered"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "MISSING_PROOF", out.Error.Code)

	code, out = f.update(t, orderID, `{"status":"delivered","proofOfDeliveryImage":"https://cdn.example/pod.jpg"}`)
	require.Equal(t, http.StatusOK, code, out.Error.Message)
	assert.Equal(t, enums.DeliveryStatusDelivered, out.Data.Status)
	assert.Equal(t, []string{"https://cdn.example/pod.jpg"}, out.Data.ProofOfDeliveryImages)
	assert.Empty(t, out.Data.AllowedNextStatuses)

	code, detail := call[internalshipping.TrackingDTO](t, f, f.shipper, http.MethodGet, "/shipping/order/"+orderID, "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, detail.Data.TrackingHistory, 5)

	code, history := call[pagination.Page[internalshipping.TrackingDTO]](t, f, f.shipper, http.MethodGet, "/shipping/history", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, history.Data.Items, 1)
}

func TestUpdateRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	orderID := f.assign(t)

	code, out := f.update(t, orderID, `{"status":"teleported"}`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", out.Error.Code)

	code, out = f.update(t, orderID, `{"status":"delivered","proofOfDeliveryImage":"x"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "INVALID_TRANSITION", out.Error.Code)

	code, out = f.update(t, orderID, `{"status":"delivery_failed"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, "INVALID_TRANSITION", out.Error.Code)

	code, out = f.update(t, uuid.NewString(), `{"status":"picked_up"}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", out.Error.Code)
}

func TestOtherShipperCannotTouchDelivery(t *testing.T) {
	f := newFixture(t)
	orderID := f.assign(t)

	code, out := call[internalshipping.TrackingDTO](t, f, f.other, http.MethodPut, "/shipping/order/"+orderID+"/update", `{"status":"picked_up"}`)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "FORBIDDEN", out.Error.Code)

	code, _ = call[internalshipping.TrackingDTO](t, f, f.other, http.MethodGet, "/shipping/order/"+orderID, "")
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = call[internalshipping.TrackingDTO](t, f, access.Actor{}, http.MethodGet, "/shipping/order/"+orderID, "")
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestMyDeliveriesStatusFilter(t *testing.T) {
	f := newFixture(t)
	first := f.assign(t)
	f.assign(t)
	code, _ := f.update(t, first, `{"status":"picked_up"}`)
	require.Equal(t, http.StatusOK, code)

	code, all := call[pagination.Page[internalshipping.TrackingDTO]](t, f, f.shipper, http.MethodGet, "/shipping/my-deliveries", "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, all.Data.Items, 2)

	code, picked := call[pagination.Page[internalshipping.TrackingDTO]](t, f, f.shipper, http.MethodGet, "/shipping/my-deliveries?statuses=picked_up", "")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, picked.Data.Items, 1)
	assert.Equal(t, first, picked.Data.Items[0].OrderID.String())

	code, bad := call[pagination.Page[internalshipping.TrackingDTO]](t, f, f.shipper, http.MethodGet, "/shipping/my-deliveries?statuses=lost", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_ERROR", bad.Error.Code)
}
