package services

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"spendlog/internal/cache"
	"spendlog/internal/core"
	"spendlog/internal/insights"
	"spendlog/internal/log"
	"spendlog/internal/storage"
)

const (
	DefaultInsightsWindow = 720 * time.Hour
	MaxQuestionLength     = 1000

	insightCacheSize  = 256
	generationTimeout = 30 * time.Second
)

type InsightConfig struct {
	Window time.Duration
	// CacheTTL of zero disables caching.
	CacheTTL time.Duration
	Now      func() time.Time
}

// InsightService asks the text generator about the caller's recent records.
// Generation failures are logged and answered with static fallbacks.
type InsightService struct {
	store  storage.RecordStore
	gen    insights.Generator
	window time.Duration
	now    func() time.Time

	cache *cache.LRUCache[string, []insights.Insight]
	group singleflight.Group

	// epochs counts invalidations per user. A generation only fills the
	// cache if no invalidation happened while it ran.
	mu     sync.Mutex
	epochs map[string]uint64
}

func NewInsightService(store storage.RecordStore, gen insights.Generator, cfg InsightConfig) *InsightService {
	if cfg.Window <= 0 {
		cfg.Window = DefaultInsightsWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &InsightService{store: store, gen: gen, window: cfg.Window, now: cfg.Now, epochs: make(map[string]uint64)}
	if cfg.CacheTTL > 0 {
		s.cache = cache.NewLRUCache[string, []insights.Insight](insightCacheSize, cfg.CacheTTL)
	}
	return s
}

// Insights returns observations about the caller's recent spending.
// Concurrent requests for the same caller share one generation.
func (s *InsightService) Insights(ctx context.Context) ([]insights.Insight, error) {
	userID, err := caller(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if cached, ok := s.cache.Get(userID); ok {
			return slices.Clone(cached), nil
		}
	}

	v, err, _ := s.group.Do(userID, func() (any, error) {
		return s.generate(context.WithoutCancel(ctx), userID)
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]insights.Insight)), nil
}

func (s *InsightService) generate(ctx context.Context, userID string) ([]insights.Insight, error) {
	epoch := s.epoch(userID)

	records, err := s.recent(ctx, userID)
	if err != nil {
		return nil, err
	}

	prompt, err := insights.InsightsPrompt(records, s.window, s.now())
	if err != nil {
		return nil, core.Internal("Failed to generate insights", err)
	}

	text, err := s.complete(ctx, prompt)
	if err != nil {
		s.logFallback(ctx, userID, "insights", err)
		return insights.FallbackInsights(), nil
	}

	parsed, err := insights.ParseInsights(text)
	if err != nil {
		s.logFallback(ctx, userID, "insights", err)
		return insights.FallbackInsights(), nil
	}

	s.remember(userID, epoch, parsed)
	slog.InfoContext(ctx, "Insights generated",
		log.FieldComponent, log.ComponentInsights,
		log.FieldOperation, log.OpGenerate,
		log.FieldUserID, userID,
		"count", len(parsed))
	return parsed, nil
}

// Answer replies to a free-text question about the caller's recent records.
// insightID optionally names the insight being followed up; unknown ids are
// ignored.
func (s *InsightService) Answer(ctx context.Context, question, insightID string) (string, error) {
	userID, err := caller(ctx)
	if err != nil {
		return "", err
	}

	question = strings.TrimSpace(question)
	switch {
	case question == "":
		return "", core.Validation(map[string]string{"question": "Question is required"})
	case utf8.RuneCountInString(question) > MaxQuestionLength:
		return "", core.Validation(map[string]string{"question": "Question must be less than 1000 characters"})
	}

	records, err := s.recent(ctx, userID)
	if err != nil {
		return "", err
	}

	prompt, err := insights.AnswerPrompt(records, question, s.lookup(userID, insightID), s.window, s.now())
	if err != nil {
		return "", core.Internal("Failed to generate answer", err)
	}

	text, err := s.complete(ctx, prompt)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("empty answer")
	}
	if err != nil {
		s.logFallback(ctx, userID, "answer", err)
		return insights.FallbackAnswer, nil
	}
	return strings.TrimSpace(text), nil
}

// lookup finds an insight the caller was shown, in the cache or among the fallbacks.
func (s *InsightService) lookup(userID, insightID string) *insights.Insight {
	if insightID == "" {
		return nil
	}
	candidates := insights.FallbackInsights()
	if s.cache != nil {
		if cached, ok := s.cache.Get(userID); ok {
			candidates = append(cached[:len(cached):len(cached)], candidates...)
		}
	}
	for i := range candidates {
		if candidates[i].ID == insightID {
			return &candidates[i]
		}
	}
	return nil
}

// Invalidate drops the cached insights for userID. A generation already in
// flight still answers its waiters but is neither cached nor joined by later
// callers.
func (s *InsightService) Invalidate(userID string) {
	s.mu.Lock()
	s.epochs[userID]++
	if s.cache != nil {
		s.cache.Delete(userID)
	}
	s.mu.Unlock()
	s.group.Forget(userID)
}

func (s *InsightService) epoch(userID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epochs[userID]
}

// remember caches parsed unless userID was invalidated since epoch was read.
func (s *InsightService) remember(userID string, epoch uint64, parsed []insights.Insight) {
	if s.cache == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epochs[userID] != epoch {
		return
	}
	s.cache.Set(userID, parsed)
}

func (s *InsightService) recent(ctx context.Context, userID string) ([]core.Record, error) {
	records, err := s.store.RecentRecords(ctx, userID, s.now().Add(-s.window))
	if err != nil {
		return nil, core.Internal("Failed to load records", err)
	}
	return records, nil
}

func (s *InsightService) complete(ctx context.Context, prompt string) (string, error) {
	if s.gen == nil {
		return "", insights.ErrNoGenerator
	}
	ctx, cancel := context.WithTimeout(ctx, generationTimeout)
	defer cancel()
	return s.gen.Generate(ctx, prompt)
}

func (s *InsightService) logFallback(ctx context.Context, userID, kind string, err error) {
	level := slog.LevelWarn
	if errors.Is(err, insights.ErrNoGenerator) {
		level = slog.LevelDebug
	}
	slog.Log(ctx, level, "Serving fallback "+kind,
		log.FieldComponent, log.ComponentInsights,
		log.FieldOperation, log.OpGenerate,
		log.FieldUserID, userID,
		log.FieldError, err,
		log.FieldErrorType, log.ErrorTypeUpstream)
}
