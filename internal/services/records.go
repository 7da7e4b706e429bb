package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"spendlog/internal/amqp"
	"spendlog/internal/core"
	"spendlog/internal/log"
	"spendlog/internal/stats"
	"spendlog/internal/storage"
)

// RecordService orchestrates record operations across storage and AMQP.
type RecordService struct {
	store     storage.Repository
	publisher RecordPublisher
	now       func() time.Time

	mu       sync.RWMutex
	onCreate []func(userID string)
}

func NewRecordService(store storage.Repository, publisher RecordPublisher, now func() time.Time) *RecordService {
	if now == nil {
		now = time.Now
	}
	return &RecordService{store: store, publisher: publisher, now: now}
}

// OnCreate registers fn to run after a record is stored for userID.
func (s *RecordService) OnCreate(fn func(userID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCreate = append(s.onCreate, fn)
}

// Create validates the input and stores a record owned by the caller. The
// owner always comes from the verified identity, never from the payload.
func (s *RecordService) Create(ctx context.Context, in core.CreateRecordInput) (core.Record, error) {
	userID, err := caller(ctx)
	if err != nil {
		return core.Record{}, err
	}

	now := s.now().UTC()
	draft, err := in.Parse(now)
	if err != nil {
		return core.Record{}, err
	}

	rec, err := core.NewRecord(core.RecordParams{
		ID:        uuid.NewString(),
		Text:      draft.Text,
		Amount:    draft.Amount,
		Category:  draft.Category,
		Date:      draft.Date,
		UserID:    userID,
		CreatedAt: now,
	})
	if err != nil {
		return core.Record{}, core.Internal("Failed to create record", err)
	}

	// Save first; the event is best effort.
	stored, err := s.store.CreateRecord(ctx, rec)
	if err != nil {
		return core.Record{}, storeError(err, userNotFound, "Failed to create record")
	}

	log.NewStructuredLogger(log.FromContext(ctx).WithComponent(log.ComponentRecords)).
		LogRecordCreated(ctx, stored.ID(), userID, stored.Amount(), stored.Category().String())

	if err := s.publish(ctx, stored); err != nil {
		slog.ErrorContext(ctx, "Failed to publish record event",
			log.FieldComponent, log.ComponentRecords,
			log.FieldOperation, log.OpPublish,
			log.FieldRecordID, stored.ID(),
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeNetwork)
	}

	s.mu.RLock()
	hooks := s.onCreate
	s.mu.RUnlock()
	for _, fn := range hooks {
		fn(userID)
	}

	return stored, nil
}

func (s *RecordService) publish(ctx context.Context, r core.Record) error {
	if s.publisher == nil {
		slog.DebugContext(ctx, "AMQP publisher not configured, skipping record event",
			log.FieldRecordID, r.ID())
		return nil
	}

	return s.publisher.PublishRecordCreated(ctx, &amqp.RecordCreatedMessage{
		RecordID:  r.ID(),
		UserID:    r.UserID(),
		Text:      r.Text(),
		Amount:    r.Amount(),
		Category:  r.Category().String(),
		Date:      r.Date(),
		CreatedAt: r.CreatedAt(),
		Timestamp: s.now().UTC(),
	})
}

// UserWithRecords returns the caller with all of its records. userID is
// optional; any value other than the caller's own id is reported as missing.
func (s *RecordService) UserWithRecords(ctx context.Context, userID string) (core.UserWithRecords, error) {
	self, err := caller(ctx)
	if err != nil {
		return core.UserWithRecords{}, err
	}
	if userID != "" && userID != self {
		slog.WarnContext(ctx, "Rejected cross-user read",
			log.FieldComponent, log.ComponentRecords,
			log.FieldUserID, self,
			"requested_user_id", userID)
		return core.UserWithRecords{}, core.NotFound(userNotFound)
	}

	out, err := s.store.UserWithRecords(ctx, self)
	if err != nil {
		return core.UserWithRecords{}, storeError(err, userNotFound, "Failed to load records")
	}
	return out, nil
}

// Stats aggregates every record of the caller.
func (s *RecordService) Stats(ctx context.Context) (stats.DashboardStats, error) {
	uwr, err := s.UserWithRecords(ctx, "")
	if err != nil {
		return stats.DashboardStats{}, err
	}
	return stats.Dashboard(uwr.Records), nil
}

// Recent returns the caller's records dated within window, newest first.
func (s *RecordService) Recent(ctx context.Context, window time.Duration) ([]core.Record, error) {
	userID, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	records, err := s.store.RecentRecords(ctx, userID, s.now().Add(-window))
	if err != nil {
		return nil, core.Internal("Failed to load records", err)
	}
	return records, nil
}
