package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
)

// Event is a notification destined for the order service.
type Event struct {
	Kind       enums.SyncEventKind
	OrderID    uuid.UUID
	Actor      *ActorRef
	Data       interface{}
	Version    int
	OccurredAt time.Time
	// NotBefore delays relay pickup so an inline attempt can run first.
	NotBefore time.Time
}

type Service struct {
	repo *Repository
	logg *logger.Logger
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg}
}

// Emit writes the event inside tx and returns the stored row.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event Event) (*models.SyncOutboxEvent, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if !event.Kind.IsValid() {
		return nil, errors.New("invalid sync event kind")
	}
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil, err
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if event.Version <= 0 {
		event.Version = 1
	}
	envelope := PayloadEnvelope{
		Version:    event.Version,
		EventID:    uuid.NewString(),
		OccurredAt: event.OccurredAt,
		Actor:      event.Actor,
		Data:       payload,
	}
	payloadJSON, err := json.Marshal(envelope)
	if err != nil {
		return nil, err
	}
	row := models.SyncOutboxEvent{
		Kind:          event.Kind,
		OrderID:       event.OrderID,
		Payload:       json.RawMessage(payloadJSON),
		NextAttemptAt: event.NotBefore.UTC(),
	}
	if err := s.repo.Insert(tx, &row); err != nil {
		return nil, err
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"outbox_id": row.ID.String(),
			"event_id":  envelope.EventID,
			"kind":      event.Kind,
			"order_id":  event.OrderID.String(),
		})
		s.logg.Debug(logCtx, "sync event queued")
	}
	return &row, nil
}
