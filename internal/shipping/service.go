package shipping

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/internal/access"
	"github.com/angelmondragon/fulfillment-backend/internal/statussync"
	"github.com/angelmondragon/fulfillment-backend/pkg/db"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/orderclient"
	"github.com/angelmondragon/fulfillment-backend/pkg/outbox"
	"github.com/angelmondragon/fulfillment-backend/pkg/pagination"
)

const defaultAuditSource = "shipping-service"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.Event) (*models.SyncOutboxEvent, error)
}

// SyncNotifier makes the post-commit delivery attempt for queued rows.
type SyncNotifier interface {
	NotBefore() time.Time
	Notify(ctx context.Context, rows []models.SyncOutboxEvent)
}

// Service is the delivery state machine.
type Service interface {
	Assign(ctx context.Context, input AssignInput, actor access.Actor) (*models.DeliveryTracking, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, input UpdateInput, actor access.Actor) (*models.DeliveryTracking, error)
	Get(ctx context.Context, orderID uuid.UUID, actor access.Actor) (*models.DeliveryTracking, error)
	ListMine(ctx context.Context, shipperID uuid.UUID, statuses []enums.DeliveryStatus, params pagination.Params) (pagination.Page[models.DeliveryTracking], error)
	History(ctx context.Context, shipperID uuid.UUID, params pagination.Params) (pagination.Page[models.DeliveryTracking], error)
}

// ServiceParams wires the state machine. Notifier may be nil, in which case
// queued notifications wait for the relay.
type ServiceParams struct {
	Repository Repository
	DB         txRunner
	Outbox     outboxEmitter
	Notifier   SyncNotifier
	// Source is reported in audit metadata.
	Source string
}

type service struct {
	repo     Repository
	tx       txRunner
	outbox   outboxEmitter
	notifier SyncNotifier
	source   string
	now      func() time.Time
}

func NewService(p ServiceParams) (Service, error) {
	if p.Repository == nil {
		return nil, fmt.Errorf("shipping repository required")
	}
	if p.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if p.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	source := strings.TrimSpace(p.Source)
	if source == "" {
		source = defaultAuditSource
	}
	return &service{
		repo:     p.Repository,
		tx:       p.DB,
		outbox:   p.Outbox,
		notifier: p.Notifier,
		source:   source,
		now:      time.Now,
	}, nil
}

func (s *service) Assign(ctx context.Context, input AssignInput, actor access.Actor) (*models.DeliveryTracking, error) {
	if err := access.Check(actor, access.RelationshipNone, access.ActionDeliveryAssign); err != nil {
		return nil, err
	}
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.ShipperID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipper id required")
	}

	var queued []models.SyncOutboxEvent
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.FindByOrderID(ctx, input.OrderID); err == nil {
			return pkgerrors.New(pkgerrors.CodeConflict, "delivery tracking already exists for order")
		} else if !db.IsNotFound(err) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check existing tracking")
		}

		tracking := &models.DeliveryTracking{
			OrderID:               input.OrderID,
			ShipperID:             input.ShipperID,
			Status:                enums.DeliveryStatusAssigned,
			EstimatedDelivery:     utcPtr(input.EstimatedDelivery),
			ProofOfDeliveryImages: []string{},
			DeliveryFailedProofs:  []string{},
		}
		if err := repo.Create(ctx, tracking); err != nil {
			if db.IsUniqueViolation(err, "delivery_trackings_order_id_key") {
				return pkgerrors.New(pkgerrors.CodeConflict, "delivery tracking already exists for order")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create tracking")
		}
		if err := s.appendHistory(ctx, repo, tracking, nil, nil, actor.UserID); err != nil {
			return err
		}

		entry := orderclient.AuditLogEntry{
			OrderID:         tracking.OrderID,
			Action:          enums.AuditActionDeliveryAssigned,
			PerformedBy:     actor.UserID,
			PerformedByRole: actor.Role,
			Changes: map[string]orderclient.FieldChange{
				"shipperId": {From: nil, To: tracking.ShipperID},
				"status":    {From: nil, To: tracking.Status},
			},
			Metadata: statussync.AuditMetadata(s.source, tracking),
		}
		row, err := s.emit(ctx, tx, statussync.AuditEvent(entry, actorRef(actor)))
		if err != nil {
			return err
		}
		queued = append(queued, *row)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, queued)
	return s.load(ctx, input.OrderID)
}

// UpdateStatus runs authorization, transition validation, proof policy and
// the mutation under a row lock, queues the order-service notifications in
// the same transaction, then attempts them once after commit.
func (s *service) UpdateStatus(ctx context.Context, orderID uuid.UUID, input UpdateInput, actor access.Actor) (*models.DeliveryTracking, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.Status != nil && !input.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown delivery status %q", *input.Status))
	}

	var queued []models.SyncOutboxEvent
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		tracking, err := repo.FindByOrderIDForUpdate(ctx, orderID)
		if err != nil {
			if db.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "delivery tracking not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load tracking")
		}

		if err := access.Check(actor, actor.RelationshipTo(tracking.ShipperID), access.ActionDeliveryUpdate); err != nil {
			return err
		}

		current := tracking.Status
		target := current
		if input.Status != nil {
			target = *input.Status
		}
		if current.IsTerminal() {
			return invalidTransitionError(current, target, "delivery is closed and accepts no further updates")
		}
		statusChanged := target != current
		if statusChanged && !CanTransition(current, target) {
			return invalidTransitionError(current, target, fmt.Sprintf("cannot move delivery from %s to %s", current, target))
		}

		changes := applyUpdate(tracking, input)
		if err := checkPolicy(tracking, target, statusChanged, input); err != nil {
			return err
		}
		if statusChanged {
			tracking.Status = target
			changes["status"] = orderclient.FieldChange{From: current, To: target}
		}
		if len(changes) == 0 {
			return nil
		}

		tracking.UpdatedAt = s.now().UTC()
		if err := repo.Update(ctx, tracking); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update tracking")
		}
		if statusChanged {
			if err := s.appendHistory(ctx, repo, tracking, trimmedOrNil(input.CurrentLocation), historyNote(target, input), actor.UserID); err != nil {
				return err
			}
			if event, ok := statussync.StatusEvent(orderID, target, actorRef(actor)); ok {
				row, err := s.emit(ctx, tx, event)
				if err != nil {
					return err
				}
				queued = append(queued, *row)
			}
		}

		action := enums.AuditActionDeliveryUpdated
		if statusChanged {
			action = enums.AuditActionDeliveryStatusChanged
		}
		entry := orderclient.AuditLogEntry{
			OrderID:         orderID,
			Action:          action,
			PerformedBy:     actor.UserID,
			PerformedByRole: actor.Role,
			Changes:         changes,
			Metadata:        statussync.AuditMetadata(s.source, tracking),
		}
		row, err := s.emit(ctx, tx, statussync.AuditEvent(entry, actorRef(actor)))
		if err != nil {
			return err
		}
		queued = append(queued, *row)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, queued)
	return s.load(ctx, orderID)
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID, actor access.Actor) (*models.DeliveryTracking, error) {
	tracking, err := s.load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := access.Check(actor, actor.RelationshipTo(tracking.ShipperID), access.ActionDeliveryRead); err != nil {
		return nil, err
	}
	return tracking, nil
}

func (s *service) ListMine(ctx context.Context, shipperID uuid.UUID, statuses []enums.DeliveryStatus, params pagination.Params) (pagination.Page[models.DeliveryTracking], error) {
	for _, status := range statuses {
		if !status.IsValid() {
			return pagination.Page[models.DeliveryTracking]{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown delivery status %q", status))
		}
	}
	if len(statuses) == 0 {
		statuses = enums.ActiveDeliveryStatuses()
	}
	return s.list(ctx, shipperID, statuses, params)
}

func (s *service) History(ctx context.Context, shipperID uuid.UUID, params pagination.Params) (pagination.Page[models.DeliveryTracking], error) {
	return s.list(ctx, shipperID, enums.TerminalDeliveryStatuses(), params)
}

func (s *service) list(ctx context.Context, shipperID uuid.UUID, statuses []enums.DeliveryStatus, params pagination.Params) (pagination.Page[models.DeliveryTracking], error) {
	if shipperID == uuid.Nil {
		return pagination.Page[models.DeliveryTracking]{}, pkgerrors.New(pkgerrors.CodeValidation, "shipper id required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return pagination.Page[models.DeliveryTracking]{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListByShipper(ctx, shipperID, statuses, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return pagination.Page[models.DeliveryTracking]{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list deliveries")
	}
	return pagination.BuildPage(rows, params.Limit, func(t models.DeliveryTracking) pagination.Cursor {
		return pagination.Cursor{CreatedAt: t.CreatedAt, ID: t.ID}
	}), nil
}

func (s *service) load(ctx context.Context, orderID uuid.UUID) (*models.DeliveryTracking, error) {
	tracking, err := s.repo.FindByOrderID(ctx, orderID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "delivery tracking not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load tracking")
	}
	return tracking, nil
}

func (s *service) appendHistory(ctx context.Context, repo Repository, tracking *models.DeliveryTracking, location, note *string, performedBy uuid.UUID) error {
	if location == nil {
		location = tracking.CurrentLocation
	}
	entry := &models.TrackingHistoryEntry{
		TrackingID:  tracking.ID,
		Status:      tracking.Status,
		Location:    location,
		Note:        note,
		PerformedBy: performedBy,
	}
	if err := repo.AppendHistory(ctx, entry); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append tracking history")
	}
	return nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, event outbox.Event) (*models.SyncOutboxEvent, error) {
	if s.notifier != nil {
		event.NotBefore = s.notifier.NotBefore()
	}
	row, err := s.outbox.Emit(ctx, tx, event)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue order service notification")
	}
	return row, nil
}

func (s *service) notify(ctx context.Context, rows []models.SyncOutboxEvent) {
	if s.notifier == nil || len(rows) == 0 {
		return
	}
	s.notifier.Notify(ctx, rows)
}

// applyUpdate copies present fields onto tracking and returns what changed.
// Proof lists are merged without duplicates rather than replaced.
func applyUpdate(tracking *models.DeliveryTracking, input UpdateInput) map[string]orderclient.FieldChange {
	changes := map[string]orderclient.FieldChange{}

	setString := func(field string, dst **string, value *string) {
		if value == nil {
			return
		}
		trimmed := strings.TrimSpace(*value)
		if trimmed == "" {
			return
		}
		var before any
		if *dst != nil {
			if **dst == trimmed {
				return
			}
			before = **dst
		}
		*dst = &trimmed
		changes[field] = orderclient.FieldChange{From: before, To: trimmed}
	}
	setString("currentLocation", &tracking.CurrentLocation, input.CurrentLocation)
	setString("customerSignature", &tracking.CustomerSignature, input.CustomerSignature)
	setString("deliveryNote", &tracking.DeliveryNote, input.DeliveryNote)
	setString("deliveryFailedReason", &tracking.DeliveryFailedReason, input.DeliveryFailedReason)

	if input.EstimatedDelivery != nil {
		next := input.EstimatedDelivery.UTC()
		if tracking.EstimatedDelivery == nil || !tracking.EstimatedDelivery.Equal(next) {
			var before any
			if tracking.EstimatedDelivery != nil {
				before = *tracking.EstimatedDelivery
			}
			tracking.EstimatedDelivery = &next
			changes["estimatedDelivery"] = orderclient.FieldChange{From: before, To: next}
		}
	}

	incoming := input.ProofOfDeliveryImages
	if input.ProofOfDeliveryImage != nil {
		incoming = append(append([]string{}, incoming...), *input.ProofOfDeliveryImage)
	}
	if merged, added := mergeUnique(tracking.ProofOfDeliveryImages, incoming); len(added) > 0 {
		changes["proofOfDeliveryImages"] = orderclient.FieldChange{From: tracking.ProofOfDeliveryImages, To: merged}
		tracking.ProofOfDeliveryImages = merged
	}
	if merged, added := mergeUnique(tracking.DeliveryFailedProofs, input.DeliveryFailedProofs); len(added) > 0 {
		changes["deliveryFailedProofs"] = orderclient.FieldChange{From: tracking.DeliveryFailedProofs, To: merged}
		tracking.DeliveryFailedProofs = merged
	}
	return changes
}

// checkPolicy enforces proof on delivery and a reason on failure. It runs on
// the tracking after the update fields were applied, so proof sent with the
// status change counts.
func checkPolicy(tracking *models.DeliveryTracking, target enums.DeliveryStatus, statusChanged bool, input UpdateInput) error {
	switch target {
	case enums.DeliveryStatusDelivered:
		hasSignature := tracking.CustomerSignature != nil && strings.TrimSpace(*tracking.CustomerSignature) != ""
		if len(tracking.ProofOfDeliveryImages) == 0 && !hasSignature {
			return pkgerrors.New(pkgerrors.CodeMissingProof, "delivered requires a proof of delivery image or customer signature")
		}
	case enums.DeliveryStatusFailed:
		reason := tracking.DeliveryFailedReason
		if statusChanged {
			// a fresh failure needs its own reason, not one left from an earlier attempt
			reason = input.DeliveryFailedReason
		}
		if reason == nil || strings.TrimSpace(*reason) == "" {
			return pkgerrors.New(pkgerrors.CodeMissingReason, "delivery_failed requires deliveryFailedReason")
		}
	}
	return nil
}

func historyNote(target enums.DeliveryStatus, input UpdateInput) *string {
	if note := trimmedOrNil(input.DeliveryNote); note != nil {
		return note
	}
	if target == enums.DeliveryStatusFailed {
		return trimmedOrNil(input.DeliveryFailedReason)
	}
	return nil
}

// trimmedOrNil treats a whitespace-only value as absent.
func trimmedOrNil(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// mergeUnique appends incoming values not already present, skipping blanks.
func mergeUnique(existing, incoming []string) (merged, added []string) {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	merged = make([]string, 0, len(existing)+len(incoming))
	for _, v := range existing {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		merged = append(merged, v)
	}
	for _, v := range incoming {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		merged = append(merged, v)
		added = append(added, v)
	}
	return merged, added
}

func invalidTransitionError(current, requested enums.DeliveryStatus, message string) error {
	return pkgerrors.New(pkgerrors.CodeInvalidTransition, message).WithDetails(map[string]any{
		"currentStatus":       current,
		"requestedStatus":     requested,
		"allowedNextStatuses": AllowedNext(current),
	})
}

func actorRef(actor access.Actor) *outbox.ActorRef {
	return &outbox.ActorRef{UserID: actor.UserID, Role: actor.Role}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
