package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fulfillment-backend/pkg/config"
	"github.com/angelmondragon/fulfillment-backend/pkg/db/models"
	"github.com/angelmondragon/fulfillment-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fulfillment-backend/pkg/errors"
	"github.com/angelmondragon/fulfillment-backend/pkg/logger"
	"github.com/angelmondragon/fulfillment-backend/pkg/orderclient"
)

func TestProcessBatchContinuesAfterFailure(t *testing.T) {
	repo := &fakeRepo{rows: []models.SyncOutboxEvent{newRow(0), newRow(0)}}
	dispatcher := &fakeDispatcher{errs: []error{errors.New("connection reset"), nil}}
	service, logs := newTestService(t, repo, dispatcher, &fakeDLQRepo{}, nil)

	processed, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected batch to report processed")
	}
	if len(repo.failed) != 1 || repo.failed[0] != repo.rows[0].ID {
		t.Fatalf("expected first row marked failed, got %v", repo.failed)
	}
	if len(repo.delivered) != 1 || repo.delivered[0] != repo.rows[1].ID {
		t.Fatalf("expected second row delivered, got %v", repo.delivered)
	}
	if !strings.Contains(logs.String(), string(pkgerrors.CodeSyncFailure)) {
		t.Fatalf("expected SYNC_FAILURE in logs: %s", logs.String())
	}
}

func TestProcessBatchSchedulesBackoff(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	repo := &fakeRepo{rows: []models.SyncOutboxEvent{newRow(2)}}
	dispatcher := &fakeDispatcher{errs: []error{&orderclient.StatusError{StatusCode: http.StatusServiceUnavailable}}}
	service, _ := newTestService(t, repo, dispatcher, &fakeDLQRepo{}, nil)
	service.now = func() time.Time { return now }

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	next := repo.nextAttempt[repo.rows[0].ID]
	minNext := now.Add(4 * time.Second)
	maxNext := minNext.Add(jitterWindow)
	if next.Before(minNext) || !next.Before(maxNext) {
		t.Fatalf("next attempt %s outside [%s, %s)", next, minNext, maxNext)
	}
}

func TestProcessBatchWritesDLQOnNonRetryable(t *testing.T) {
	row := newRow(0)
	repo := &fakeRepo{rows: []models.SyncOutboxEvent{row}}
	dispatcher := &fakeDispatcher{errs: []error{&orderclient.StatusError{StatusCode: http.StatusNotFound}}}
	dlqRepo := &fakeDLQRepo{}
	service, _ := newTestService(t, repo, dispatcher, dlqRepo, nil)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	entry := dlqRepo.entries[0]
	if entry.EventID != row.ID || entry.OrderID != row.OrderID {
		t.Fatalf("dlq entry does not reference the row")
	}
	if !bytes.Equal(entry.Payload, row.Payload) {
		t.Fatalf("dlq payload mismatch")
	}
	if entry.ErrorReason != enums.OutboxDLQReasonNonRetryable {
		t.Fatalf("unexpected error reason: %s", entry.ErrorReason)
	}
	if repo.terminal[row.ID] != service.maxAttempts {
		t.Fatalf("expected row parked at max attempts, got %d", repo.terminal[row.ID])
	}
}

func TestProcessBatchWritesDLQOnMaxAttempts(t *testing.T) {
	row := newRow(1)
	repo := &fakeRepo{rows: []models.SyncOutboxEvent{row}}
	dispatcher := &fakeDispatcher{errs: []error{errors.New("timeout")}}
	dlqRepo := &fakeDLQRepo{}
	service, _ := newTestService(t, repo, dispatcher, dlqRepo, &config.OutboxConfig{
		BatchSize:      1,
		PollIntervalMS: 100,
		MaxAttempts:    2,
	})

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if got := len(dlqRepo.entries); got != 1 {
		t.Fatalf("expected dlq entry, got %d", got)
	}
	if dlqRepo.entries[0].ErrorReason != enums.OutboxDLQReasonMaxAttempts {
		t.Fatalf("unexpected error reason: %s", dlqRepo.entries[0].ErrorReason)
	}
	if dlqRepo.entries[0].AttemptCount != 2 {
		t.Fatalf("expected attempt count 2, got %d", dlqRepo.entries[0].AttemptCount)
	}
	if len(repo.failed) != 0 {
		t.Fatalf("terminal row must not be rescheduled")
	}
}

func TestProcessBatchEmpty(t *testing.T) {
	service, _ := newTestService(t, &fakeRepo{}, &fakeDispatcher{}, &fakeDLQRepo{}, nil)
	processed, err := service.processBatch(context.Background())
	if err != nil || processed {
		t.Fatalf("expected idle batch, got processed=%v err=%v", processed, err)
	}
}

func TestRetryDelay(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{40, maxRetryDelay},
	}
	for _, tc := range cases {
		if got := retryDelay(time.Second, tc.attempts); got != tc.want {
			t.Fatalf("retryDelay(%d) = %s, want %s", tc.attempts, got, tc.want)
		}
	}
}

func newTestService(t *testing.T, repo outboxRepository, dispatcher deliverer, dlq dlqRepository, outboxCfgOverride *config.OutboxConfig) (*Service, *bytes.Buffer) {
	t.Helper()
	outboxCfg := config.OutboxConfig{
		BatchSize:      2,
		PollIntervalMS: 100,
		MaxAttempts:    5,
		RetryDelay:     time.Second,
	}
	if outboxCfgOverride != nil {
		outboxCfg = *outboxCfgOverride
	}
	var logs bytes.Buffer
	logg := logger.New(logger.Options{
		ServiceName: "sync-relay-test",
		Level:       logger.ParseLevel("debug"),
		Output:      &logs,
	})
	service, err := NewService(ServiceParams{
		Config:        &config.Config{Outbox: outboxCfg},
		Logger:        logg,
		DB:            &fakeDB{},
		Repository:    repo,
		DLQRepository: dlq,
		Dispatcher:    dispatcher,
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service, &logs
}

func newRow(attempts int) models.SyncOutboxEvent {
	payload, _ := json.Marshal(map[string]any{"version": 1, "data": map[string]string{"status": "shipped"}})
	return models.SyncOutboxEvent{
		ID:           uuid.New(),
		Kind:         enums.SyncEventOrderStatus,
		OrderID:      uuid.New(),
		Payload:      payload,
		AttemptCount: attempts,
	}
}

type fakeDB struct{}

func (fakeDB) Ping(context.Context) error { return nil }

func (fakeDB) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fakeDispatcher struct {
	errs []error
}

func (f *fakeDispatcher) Deliver(context.Context, models.SyncOutboxEvent) error {
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

type fakeRepo struct {
	rows        []models.SyncOutboxEvent
	delivered   []uuid.UUID
	failed      []uuid.UUID
	nextAttempt map[uuid.UUID]time.Time
	terminal    map[uuid.UUID]int
}

func (f *fakeRepo) FetchDueForDelivery(_ *gorm.DB, _ time.Time, _, _ int) ([]models.SyncOutboxEvent, error) {
	return f.rows, nil
}

func (f *fakeRepo) MarkDeliveredTx(_ *gorm.DB, id uuid.UUID) error {
	f.delivered = append(f.delivered, id)
	return nil
}

func (f *fakeRepo) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error, next time.Time) error {
	f.failed = append(f.failed, id)
	if f.nextAttempt == nil {
		f.nextAttempt = map[uuid.UUID]time.Time{}
	}
	f.nextAttempt[id] = next
	return nil
}

func (f *fakeRepo) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, terminalAttempts int) error {
	if f.terminal == nil {
		f.terminal = map[uuid.UUID]int{}
	}
	f.terminal[id] = terminalAttempts
	return nil
}

type fakeDLQRepo struct {
	entries []models.SyncOutboxDLQ
}

func (f *fakeDLQRepo) InsertTx(_ *gorm.DB, entry models.SyncOutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}
