// Package services holds the use cases behind the RPC procedures. Every
// failure leaving this package is a *core.Error.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"spendlog/internal/amqp"
	"spendlog/internal/auth"
	"spendlog/internal/cache"
	"spendlog/internal/core"
	"spendlog/internal/insights"
	"spendlog/internal/log"
	"spendlog/internal/storage"
)

// RecordPublisher announces stored records. amqp.Client satisfies it.
type RecordPublisher interface {
	PublishRecordCreated(ctx context.Context, msg *amqp.RecordCreatedMessage) error
}

// Options wires the services. Publisher and Generator are optional.
type Options struct {
	Store            storage.Repository
	Publisher        RecordPublisher
	Generator        insights.Generator
	InsightsWindow   time.Duration
	InsightsCacheTTL time.Duration
	Logger           *log.Logger
	Now              func() time.Time
}

// Services bundles the use cases over one repository.
type Services struct {
	Users    *UserService
	Records  *RecordService
	Insights *InsightService

	store     storage.Repository
	publisher RecordPublisher
	caches    *cache.Manager
}

func New(opts Options) *Services {
	if opts.Logger == nil {
		opts.Logger = log.New(log.DefaultConfig())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.InsightsWindow <= 0 {
		opts.InsightsWindow = DefaultInsightsWindow
	}

	caches := cache.NewManager(opts.Logger.WithComponent(log.ComponentCache))
	ins := NewInsightService(opts.Store, opts.Generator, InsightConfig{
		Window:   opts.InsightsWindow,
		CacheTTL: opts.InsightsCacheTTL,
		Now:      opts.Now,
	})
	if ins.cache != nil {
		caches.Register(ins.cache)
	}

	records := NewRecordService(opts.Store, opts.Publisher, opts.Now)
	records.OnCreate(ins.Invalidate)

	return &Services{
		Users:     NewUserService(opts.Store, opts.Now),
		Records:   records,
		Insights:  ins,
		store:     opts.Store,
		publisher: opts.Publisher,
		caches:    caches,
	}
}

// Caches exposes the cache manager so the server can run periodic cleanup.
func (s *Services) Caches() *cache.Manager {
	return s.caches
}

// Ready reports whether the backing store answers.
func (s *Services) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Close stops cache cleanup and closes the store and publisher.
func (s *Services) Close() error {
	var errs []error

	s.caches.Stop()

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}

	if c, ok := s.publisher.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close services: %w", errors.Join(errs...))
	}
	return nil
}

// caller returns the authenticated user id or Unauthenticated.
func caller(ctx context.Context) (string, error) {
	id, ok := auth.IdentityFrom(ctx)
	if !ok {
		return "", core.Unauthenticated()
	}
	return id.UserID, nil
}

// storeError maps a storage failure onto the error taxonomy. notFound is the
// message used when the row is missing.
func storeError(err error, notFound, internal string) error {
	var ce *core.Error
	switch {
	case errors.As(err, &ce):
		return ce
	case errors.Is(err, storage.ErrNotFound):
		return &core.Error{Kind: core.KindNotFound, Message: notFound, Err: err}
	default:
		return core.Internal(internal, err)
	}
}
