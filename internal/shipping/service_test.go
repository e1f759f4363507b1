package shipping

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/internal/access"
	"github.com/angelmondragon/fulfillment-backend/internal/statussync"
	"github.com/angelmondragon/fulfillment-backend/pkg/db"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/dbtest"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox"
	"github.com/angelmondragon/fulfillment-backend/pkg/pagination"
)

type recordingNotifier struct {
	notBefore time.Time
	batches   [][]models.SyncOutboxEvent
}

func (r *recordingNotifier) NotBefore() time.Time { return r.notBefore }

func (r *recordingNotifier) Notify(_ context.Context, rows []models.SyncOutboxEvent) {
	r.batches = append(r.batches, rows)
}

type harness struct {
	conn     *gorm.DB
	svc      Service
	notifier *recordingNotifier
	admin    access.Actor
	shipper  access.Actor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	notifier := &recordingNotifier{notBefore: time.Now().UTC().Add(time.Minute)}
	svc, err := NewService(ServiceParams{
		Repository: NewRepository(conn),
		DB:         db.NewFromGorm(conn),
		Outbox:     outbox.NewService(outbox.NewRepository(conn), nil),
		Notifier:   notifier,
	})
	require.NoError(t, err)
	return &harness{
		conn:     conn,
		svc:      svc,
		notifier: notifier,
		admin:    access.Actor{UserID: uuid.New(), Role: enums.RoleAdmin},
		shipper:  access.Actor{UserID: uuid.New(), Role: enums.RoleShipper},
	}
}

func (h *harness) assign(t *testing.T) uuid.UUID {
	t.Helper()
	orderID := uuid.New()
	tracking, err := h.svc.Assign(context.Background(), AssignInput{OrderID: orderID, ShipperID: h.shipper.UserID}, h.admin)
	require.NoError(t, err)
	require.Equal(t, enums.DeliveryStatusAssigned, tracking.Status)
	return orderID
}

func (h *harness) advance(t *testing.T, orderID uuid.UUID, statuses ...enums.DeliveryStatus) *models.DeliveryTracking {
	t.Helper()
	var tracking *models.DeliveryTracking
	for _, status := range statuses {
		status := status
		var err error
		tracking, err = h.svc.UpdateStatus(context.Background(), orderID, UpdateInput{Status: &status}, h.shipper)
		require.NoError(t, err, "advance to %s", status)
	}
	return tracking
}

func statusPtr(s enums.DeliveryStatus) *enums.DeliveryStatus { return &s }

func strPtr(s string) *string { return &s }

// assertHistoryFollowsGraph checks every consecutive pair is a legal edge.
func assertHistoryFollowsGraph(t *testing.T, tracking *models.DeliveryTracking) {
	t.Helper()
	require.NotEmpty(t, tracking.History)
	assert.Equal(t, enums.DeliveryStatusAssigned, tracking.History[0].Status)
	for i := 1; i < len(tracking.History); i++ {
		from, to := tracking.History[i-1].Status, tracking.History[i].Status
		assert.True(t, CanTransition(from, to), "history edge %s -> %s", from, to)
	}
	assert.Equal(t, tracking.Status, tracking.History[len(tracking.History)-1].Status)
}

func TestDeliveredRequiresProofScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orderID := h.assign(t)

	h.advance(t, orderID, enums.DeliveryStatusPickedUp, enums.DeliveryStatusInTransit, enums.DeliveryStatusOutForDelivery)

	_, err := h.svc.UpdateStatus(ctx, orderID, UpdateInput{Status: statusPtr(enums.DeliveryStatusDelivered)}, h.shipper)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeMissingProof), "got %v", err)

	unchanged, err := h.svc.Get(ctx, orderID, h.shipper)
	require.NoError(t, err)
	assert.Equal(t, enums.DeliveryStatusOutForDelivery, unchanged.Status)
	assert.Len(t, unchanged.History, 4)

	delivered, err := h.svc.UpdateStatus(ctx, orderID, UpdateInput{
		Status:                statusPtr(enums.DeliveryStatusDelivered),
		ProofOfDeliveryImages: []string{"img1"},
	}, h.shipper)
	require.NoError(t, err)
	assert.Equal(t, enums.DeliveryStatusDelivered, delivered.Status)
	assert.Equal(t, []string{"img1"}, delivered.ProofOfDeliveryImages)
	assert.Len(t, delivered.History, 5)
	assertHistoryFollowsGraph(t, delivered)
}

func TestProofAlternatives(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	signed := h.assign(t)
	h.advance(t, signed, enums.DeliveryStatusPickedUp, enums.DeliveryStatusInTransit, enums.DeliveryStatusOutForDelivery)
	got, err := h.svc.UpdateStatus(ctx, signed, UpdateInput{
		Status:            statusPtr(enums.DeliveryStatusDelivered),
		CustomerSignature: strPtr("sig-data"),
	}, h.shipper)
	require.NoError(t, err)
	assert.Equal(t, enums.DeliveryStatusDelivered, got.Status)

	legacy := h.assign(t)
	h.advance(t, legacy, enums.DeliveryStatusPickedUp, enums.DeliveryStatusInTransit, enums.DeliveryStatusOutForDelivery)
	got, err = h.svc.UpdateStatus(ctx, legacy, UpdateInput{
		Status:               statusPtr(enums.DeliveryStatusDelivered),
		ProofOfDeliveryImage: strPtr("legacy.jpg"),
	}, h.shipper)
	require.NoError(t, err)
	assert.Equal(t, []string{"legacy.jpg"}, got.ProofOfDeliveryImages)

	earlier := h.assign(t)
	h.advance(t, earlier, enums.DeliveryStatusPickedUp, enums.DeliveryStatusInTransit, enums.DeliveryStatusOutForDelivery)
	_, err = h.svc.UpdateStatus(ctx, earlier, UpdateInput{ProofOfDeliveryImages: []string{"door.jpg"}}, h.shipper)
	require.NoError(t, err)
	got, err = h.svc.UpdateStatus(ctx, earlier, UpdateInput{Status: statusPtr(enums.DeliveryStatusDelivered)}, h.shipper)
	require.NoError(t, err, "images uploaded before the status change count as proof")
	assert.Equal(t, enums.DeliveryStatusDelivered, got.Status)
}

func TestFailedThenReturnedScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orderID := h.assign(t)
	h.advance(t, orderID, enums.DeliveryStatusPickedUp, enums.DeliveryStatusInTransit, enums.DeliveryStatusOutForDelivery)

	_, err := h.svc.UpdateStatus(ctx, orderID, UpdateInput{Status: statusPtr(enums.DeliveryStatusFailed)}, h.shipper)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeMissingReason), "got %v", err)
	_, err = h.svc.UpdateStatus(ctx, orderID, UpdateInput{
		Status:               statusPtr(enums.DeliveryStatusFailed),
		DeliveryFailedReason: strPtr("   "),
	}, h.shipper)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeMissingReason))

	unchanged, err := h.svc.Get(ctx, orderID, h.admin)
	require.NoError(t, err)
	assert.Equal(t, enums.DeliveryStatusOutForDelivery, unchanged.Status)
	assert.Len(t, unchanged.History, 4)

	failed, err := h.svc.UpdateStatus(ctx, orderID, UpdateInput{
		Status:               statusPtr(enums.DeliveryStatusFailed),
		DeliveryFailedReason: strPtr("Không có người nhận"),
		DeliveryFailedProofs: []string{"closed-door.jpg"},
	}, h.shipper)
	require.NoError(t, err)
	assert.Equal(t, enums.DeliveryStatusFailed, failed.Status)
	require.NotNil(t, failed.DeliveryFailedReason)
	assert.Equal(t, "Không có người nhận", *failed.DeliveryFailedReason)
	last := failed.History[len(failed.History)-1]
	require.NotNil(t, last.Note)
	assert.Equal(t, "Không có người nhận", *last.Note)

	returned, err := h.svc.UpdateStatus(ctx, orderID, UpdateInput{Status: statusPtr(enums.DeliveryStatusReturned)}, h.shipper)
	require.NoError(t, err)
	assert.Equal(t, enums.DeliveryStatusReturned, returned.Status)
	assertHistoryFollowsGraph(t, returned)

	_, err = h.svc.UpdateStatus(ctx, orderID, UpdateInput{Status: statusPtr(enums.DeliveryStatusOutForDelivery)}, h.admin)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition))
	_, err = h.svc.UpdateStatus(ctx, orderID, UpdateInput{DeliveryNote: strPtr("late note")}, h.admin)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition), "terminal records reject every mutation")
	details := pkgerrors.As(err).Details().(map[string]any)
	assert.Empty(t, details["allowedNextStatuses"])
}

func TestRetryAfterFailureNeedsFreshReason(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orderID := h.assign(t)
	h.advance(t, orderID, enums.DeliveryStatusPickedUp, enums.DeliveryStatusInTransit, enums.DeliveryStatusOutForDelivery)
	_, err := h.svc.UpdateStatus(ctx, orderID, UpdateInput{
		Status:               statusPtr(enums.DeliveryStatusFailed),
		DeliveryFailedReason: strPtr("gate locked"),
	}, h.shipper)
	require.NoError(t, err)
	h.advance(t, orderID, enums.DeliveryStatusOutForDelivery)

	_, err = h.svc.UpdateStatus(ctx, orderID, UpdateInput{Status: statusPtr(enums.DeliveryStatusFailed)}, h.shipper)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeMissingReason))
}

func TestInvalidTransitionListsAllowedNext(t *testing.T) {
	h := newHarness(t)
	orderID := h.assign(t)

	_, err := h.svc.UpdateStatus(context.Background(), orderID, UpdateInput{Status: statusPtr(enums.DeliveryStatusDelivered)}, h.shipper)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition))
	details, ok := pkgerrors.As(err).Details().(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []enums.DeliveryStatus{enums.DeliveryStatusPickedUp}, details["allowedNextStatuses"])

	bogus := enums.DeliveryStatus("lost")
	_, err = h.svc.UpdateStatus(context.Background(), orderID, UpdateInput{Status: &bogus}, h.shipper)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	_, err = h.svc.UpdateStatus(context.Background(), uuid.New(), UpdateInput{Status: statusPtr(enums.DeliveryStatusPickedUp)}, h.shipper)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestUpdateAuthorization(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orderID := h.assign(t)
	next := UpdateInput{Status: statusPtr(enums.DeliveryStatusPickedUp)}

	otherShipper := access.Actor{UserID: uuid.New(), Role: enums.RoleShipper}
	_, err := h.svc.UpdateStatus(ctx, orderID, next, otherShipper)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden))

	staff := access.Actor{UserID: uuid.New(), Role: enums.RoleStaff}
	_, err = h.svc.UpdateStatus(ctx, orderID, next, staff)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden), "staff must be the assigned shipper")

	service := access.Actor{UserID: uuid.New(), Role: enums.RoleService}
	_, err = h.svc.UpdateStatus(ctx, orderID, next, service)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden))

	_, err = h.svc.Get(ctx, orderID, otherShipper)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden))
	_, err = h.svc.Get(ctx, orderID, staff)
	assert.NoError(t, err)

	got, err := h.svc.UpdateStatus(ctx, orderID, next, h.admin)
	require.NoError(t, err)
	assert.Equal(t, enums.DeliveryStatusPickedUp, got.Status)
	assert.Equal(t, h.admin.UserID, got.History[len(got.History)-1].PerformedBy)

	staffShipper := access.Actor{UserID: uuid.New(), Role: enums.RoleStaff}
	staffOrder := uuid.New()
	_, err = h.svc.Assign(ctx, AssignInput{OrderID: staffOrder, ShipperID: staffShipper.UserID}, h.admin)
	require.NoError(t, err)
	_, err = h.svc.UpdateStatus(ctx, staffOrder, next, staffShipper)
	assert.NoError(t, err)
}

func TestAssign(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orderID := h.assign(t)

	_, err := h.svc.Assign(ctx, AssignInput{OrderID: orderID, ShipperID: uuid.New()}, h.admin)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConflict))

	_, err = h.svc.Assign(ctx, AssignInput{OrderID: uuid.New(), ShipperID: uuid.New()}, h.shipper)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeForbidden))

	_, err = h.svc.Assign(ctx, AssignInput{OrderID: uuid.New()}, h.admin)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	tracking, err := h.svc.Get(ctx, orderID, h.shipper)
	require.NoError(t, err)
	require.Len(t, tracking.History, 1)
	assert.Equal(t, enums.DeliveryStatusAssigned, tracking.History[0].Status)
	assert.Equal(t, h.admin.UserID, tracking.History[0].PerformedBy)
}

func TestProofImagesAreMergedWithoutDuplicates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orderID := h.assign(t)
	h.advance(t, orderID, enums.DeliveryStatusPickedUp, enums.DeliveryStatusInTransit, enums.DeliveryStatusOutForDelivery)

	_, err := h.svc.UpdateStatus(ctx, orderID, UpdateInput{ProofOfDeliveryImages: []string{"a.jpg", "b.jpg"}}, h.shipper)
	require.NoError(t, err)
	got, err := h.svc.UpdateStatus(ctx, orderID, UpdateInput{
		Status:                statusPtr(enums.DeliveryStatusDelivered),
		ProofOfDeliveryImages: []string{"b.jpg", "c.jpg", ""},
	}, h.shipper)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.jpg", "b.jpg", "c.jpg"}, got.ProofOfDeliveryImages)
}

func TestScalarUpdateWithoutStatusChangeKeepsHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orderID := h.assign(t)
	h.advance(t, orderID, enums.DeliveryStatusPickedUp)

	eta := time.Now().Add(4 * time.Hour).UTC().Truncate(time.Second)
	got, err := h.svc.UpdateStatus(ctx, orderID, UpdateInput{
		Status:            statusPtr(enums.DeliveryStatusPickedUp),
		CurrentLocation:   strPtr("Hub 7"),
		EstimatedDelivery: &eta,
	}, h.shipper)
	require.NoError(t, err)
	assert.Equal(t, enums.DeliveryStatusPickedUp, got.Status)
	require.NotNil(t, got.CurrentLocation)
	assert.Equal(t, "Hub 7", *got.CurrentLocation)
	require.NotNil(t, got.EstimatedDelivery)
	assert.True(t, eta.Equal(*got.EstimatedDelivery))
	assert.Len(t, got.History, 2)

	moved := h.advance(t, orderID, enums.DeliveryStatusInTransit)
	last := moved.History[len(moved.History)-1]
	require.NotNil(t, last.Location)
	assert.Equal(t, "Hub 7", *last.Location, "history carries the last known location")
}

func TestBlankLocationFallsBackInHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orderID := h.assign(t)

	_, err := h.svc.UpdateStatus(ctx, orderID, UpdateInput{
		Status:          statusPtr(enums.DeliveryStatusPickedUp),
		CurrentLocation: strPtr("  Depot 3 "),
	}, h.shipper)
	require.NoError(t, err)

	got, err := h.svc.UpdateStatus(ctx, orderID, UpdateInput{
		Status:          statusPtr(enums.DeliveryStatusInTransit),
		CurrentLocation: strPtr("   "),
	}, h.shipper)
	require.NoError(t, err)
	require.NotNil(t, got.CurrentLocation)
	assert.Equal(t, "Depot 3", *got.CurrentLocation)

	picked := got.History[len(got.History)-2]
	require.NotNil(t, picked.Location)
	assert.Equal(t, "Depot 3", *picked.Location)
	last := got.History[len(got.History)-1]
	require.NotNil(t, last.Location)
	assert.Equal(t, "Depot 3", *last.Location)
}

func TestNotificationsQueuedInTransaction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	orderID := h.assign(t)
	require.Len(t, h.notifier.batches, 1)
	assert.Equal(t, enums.SyncEventAuditLog, h.notifier.batches[0][0].Kind)

	h.advance(t, orderID, enums.DeliveryStatusPickedUp)
	pickedUp := h.notifier.batches[len(h.notifier.batches)-1]
	require.Len(t, pickedUp, 1, "picked_up has no order-level status")
	assert.Equal(t, enums.SyncEventAuditLog, pickedUp[0].Kind)

	h.advance(t, orderID, enums.DeliveryStatusInTransit, enums.DeliveryStatusOutForDelivery)
	batch := h.notifier.batches[len(h.notifier.batches)-1]
	require.Len(t, batch, 2)
	assert.Equal(t, enums.SyncEventOrderStatus, batch[0].Kind)
	assert.Equal(t, enums.SyncEventAuditLog, batch[1].Kind)
	assert.WithinDuration(t, h.notifier.notBefore, batch[0].NextAttemptAt, time.Second)

	registry := statussync.NewDecoderRegistry()
	env, err := outbox.DecodeEnvelope(batch[0].Payload)
	require.NoError(t, err)
	require.NotNil(t, env.Actor)
	assert.Equal(t, h.shipper.UserID, env.Actor.UserID)
	decoded, err := registry.Decode(batch[0].Kind, env.Version, env.Data)
	require.NoError(t, err)
	status := decoded.(*statussync.OrderStatusData)
	assert.Equal(t, enums.OrderStatusOutForDelivery, status.Status)
	assert.Equal(t, enums.DeliveryStatusOutForDelivery, status.DeliveryStatus)

	var stored int64
	require.NoError(t, h.conn.Model(&models.SyncOutboxEvent{}).Where("order_id = ?", orderID).Count(&stored).Error)
	assert.EqualValues(t, 5, stored)

	_, err = h.svc.UpdateStatus(ctx, orderID, UpdateInput{Status: statusPtr(enums.DeliveryStatusDelivered)}, h.shipper)
	require.Error(t, err)
	require.NoError(t, h.conn.Model(&models.SyncOutboxEvent{}).Where("order_id = ?", orderID).Count(&stored).Error)
	assert.EqualValues(t, 5, stored, "rejected updates queue nothing")
}

func TestNoopUpdateQueuesNothing(t *testing.T) {
	h := newHarness(t)
	orderID := h.assign(t)
	before := len(h.notifier.batches)

	got, err := h.svc.UpdateStatus(context.Background(), orderID, UpdateInput{Status: statusPtr(enums.DeliveryStatusAssigned)}, h.shipper)
	require.NoError(t, err)
	assert.Equal(t, enums.DeliveryStatusAssigned, got.Status)
	assert.Len(t, h.notifier.batches, before)
}

func TestListMineAndHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	active := h.assign(t)
	done := h.assign(t)
	h.advance(t, done, enums.DeliveryStatusPickedUp, enums.DeliveryStatusInTransit, enums.DeliveryStatusOutForDelivery)
	_, err := h.svc.UpdateStatus(ctx, done, UpdateInput{
		Status:            statusPtr(enums.DeliveryStatusDelivered),
		CustomerSignature: strPtr("sig"),
	}, h.shipper)
	require.NoError(t, err)
	_, err = h.svc.Assign(ctx, AssignInput{OrderID: uuid.New(), ShipperID: uuid.New()}, h.admin)
	require.NoError(t, err)

	mine, err := h.svc.ListMine(ctx, h.shipper.UserID, nil, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, mine.Items, 1)
	assert.Equal(t, active, mine.Items[0].OrderID)

	all, err := h.svc.ListMine(ctx, h.shipper.UserID, []enums.DeliveryStatus{enums.DeliveryStatusAssigned, enums.DeliveryStatusDelivered}, pagination.Params{})
	require.NoError(t, err)
	assert.Len(t, all.Items, 2)

	history, err := h.svc.History(ctx, h.shipper.UserID, pagination.Params{})
	require.NoError(t, err)
	require.Len(t, history.Items, 1)
	assert.Equal(t, done, history.Items[0].OrderID)

	_, err = h.svc.ListMine(ctx, h.shipper.UserID, []enums.DeliveryStatus{"lost"}, pagination.Params{})
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestTransitionTable(t *testing.T) {
	assert.True(t, CanTransition(enums.DeliveryStatusFailed, enums.DeliveryStatusOutForDelivery))
	assert.True(t, CanTransition(enums.DeliveryStatusFailed, enums.DeliveryStatusReturned))
	assert.False(t, CanTransition(enums.DeliveryStatusInTransit, enums.DeliveryStatusDelivered))
	assert.False(t, CanTransition(enums.DeliveryStatusDelivered, enums.DeliveryStatusReturned))
	assert.Empty(t, AllowedNext(enums.DeliveryStatusReturned))

	next := AllowedNext(enums.DeliveryStatusOutForDelivery)
	next[0] = enums.DeliveryStatusReturned
	assert.Equal(t, enums.DeliveryStatusDelivered, AllowedNext(enums.DeliveryStatusOutForDelivery)[0], "callers get a copy")
}
