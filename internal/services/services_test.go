package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendlog/internal/amqp"
	"spendlog/internal/auth"
	"spendlog/internal/core"
	"spendlog/internal/insights"
	"spendlog/internal/storage/memory"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func ptr[T any](v T) *T { return &v }

func as(userID string) context.Context {
	return auth.WithIdentity(context.Background(), auth.Identity{UserID: userID})
}

type fakePublisher struct {
	mu     sync.Mutex
	msgs   []*amqp.RecordCreatedMessage
	err    error
	closed bool
}

func (p *fakePublisher) PublishRecordCreated(_ context.Context, msg *amqp.RecordCreatedMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *fakePublisher) Close() error {
	p.closed = true
	return nil
}

func newTestServices(t *testing.T, pub RecordPublisher, gen insights.Generator) *Services {
	t.Helper()
	store := memory.New(
		core.User{ExternalID: "user_alice", Name: "Alice Wilson", Email: "alice@example.com"},
		core.User{ExternalID: "user_bob", Name: "Bob Johnson", Email: "bob@example.com"},
	)
	svc := New(Options{
		Store:            store,
		Publisher:        pub,
		Generator:        gen,
		InsightsWindow:   720 * time.Hour,
		InsightsCacheTTL: time.Minute,
		Now:              clock,
	})
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestCreateRecord(t *testing.T) {
	pub := &fakePublisher{}
	svc := newTestServices(t, pub, nil)

	rec, err := svc.Records.Create(as("user_alice"), core.CreateRecordInput{
		Text:     "  Lunch  ",
		Amount:   ptr(12.5),
		Category: "Food",
		Date:     "2025-06-14",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, rec.ID())
	assert.Equal(t, "Lunch", rec.Text())
	assert.Equal(t, "user_alice", rec.UserID())
	assert.Equal(t, core.Food, rec.Category())
	assert.Equal(t, fixedNow, rec.CreatedAt())

	require.Len(t, pub.msgs, 1)
	assert.Equal(t, rec.ID(), pub.msgs[0].RecordID)
	assert.Equal(t, "user_alice", pub.msgs[0].UserID)
	assert.Equal(t, "Food", pub.msgs[0].Category)
}

func TestCreateRecordErrors(t *testing.T) {
	svc := newTestServices(t, nil, nil)

	tests := []struct {
		name   string
		ctx    context.Context
		input  core.CreateRecordInput
		kind   core.Kind
		fields []string
	}{
		{
			name:  "anonymous",
			ctx:   context.Background(),
			input: core.CreateRecordInput{Text: "x", Amount: ptr(1.0)},
			kind:  core.KindUnauthenticated,
		},
		{
			name:   "invalid fields",
			ctx:    as("user_alice"),
			input:  core.CreateRecordInput{Text: " ", Amount: ptr(0.0), Category: "Rent"},
			kind:   core.KindValidation,
			fields: []string{"text", "amount", "category"},
		},
		{
			name:  "unknown owner",
			ctx:   as("user_ghost"),
			input: core.CreateRecordInput{Text: "x", Amount: ptr(1.0)},
			kind:  core.KindNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Records.Create(tt.ctx, tt.input)
			require.Error(t, err)
			assert.Equal(t, tt.kind, core.KindOf(err))

			var ce *core.Error
			require.ErrorAs(t, err, &ce)
			for _, f := range tt.fields {
				assert.Contains(t, ce.Fields, f)
			}
		})
	}
}

func TestCreateRecordSurvivesPublishFailure(t *testing.T) {
	svc := newTestServices(t, &fakePublisher{err: errors.New("broker down")}, nil)

	rec, err := svc.Records.Create(as("user_alice"), core.CreateRecordInput{Text: "Bus", Amount: ptr(2.0)})
	require.NoError(t, err)
	assert.Equal(t, core.Other, rec.Category())

	uwr, err := svc.Records.UserWithRecords(as("user_alice"), "")
	require.NoError(t, err)
	assert.Len(t, uwr.Records, 1)
}

func TestUserWithRecordsIsScopedToCaller(t *testing.T) {
	svc := newTestServices(t, nil, nil)

	_, err := svc.Records.Create(as("user_bob"), core.CreateRecordInput{Text: "Book", Amount: ptr(9.0)})
	require.NoError(t, err)

	uwr, err := svc.Records.UserWithRecords(as("user_alice"), "user_alice")
	require.NoError(t, err)
	assert.Equal(t, "user_alice", uwr.ExternalID)
	assert.Empty(t, uwr.Records)

	_, err = svc.Records.UserWithRecords(as("user_alice"), "user_bob")
	assert.Equal(t, core.KindNotFound, core.KindOf(err))

	_, err = svc.Records.UserWithRecords(context.Background(), "")
	assert.Equal(t, core.KindUnauthenticated, core.KindOf(err))
}

func TestStatsAndRecent(t *testing.T) {
	svc := newTestServices(t, nil, nil)
	ctx := as("user_alice")

	for _, in := range []core.CreateRecordInput{
		{Text: "Groceries", Amount: ptr(10.0), Category: "Food", Date: "2025-06-10"},
		{Text: "Taxi", Amount: ptr(20.0), Category: "Transportation", Date: "2025-06-12"},
		{Text: "Old bill", Amount: ptr(30.0), Category: "Bills", Date: "2025-01-01"},
	} {
		_, err := svc.Records.Create(ctx, in)
		require.NoError(t, err)
	}

	st, err := svc.Records.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Summary.Count)
	assert.InDelta(t, 60.0, st.Summary.Total, 1e-9)

	recent, err := svc.Records.Recent(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "Taxi", recent[0].Text())
	assert.Equal(t, "Groceries", recent[1].Text())
}

func TestUserService(t *testing.T) {
	svc := newTestServices(t, nil, nil)
	bg := context.Background()

	created, err := svc.Users.Create(bg, core.User{ExternalID: "user_new", Email: "new@example.com"})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	again, err := svc.Users.Create(bg, core.User{ExternalID: "user_new"})
	require.NoError(t, err)
	assert.Equal(t, created.ID, again.ID)

	named, err := svc.Users.Create(bg, core.User{ExternalID: "user_named", FirstName: "Jane", LastName: "Smith"})
	require.NoError(t, err)
	assert.Equal(t, "Jane Smith", named.Name)

	_, err = svc.Users.Create(bg, core.User{ExternalID: " "})
	assert.Equal(t, core.KindValidation, core.KindOf(err))

	updated, err := svc.Users.Update(bg, "user_new", core.UserPatch{FirstName: ptr("Nora")})
	require.NoError(t, err)
	assert.Equal(t, "Nora", updated.FirstName)
	assert.Equal(t, "new@example.com", updated.Email)

	_, err = svc.Users.Update(bg, "user_new", core.UserPatch{})
	assert.Equal(t, core.KindValidation, core.KindOf(err))

	_, err = svc.Users.Update(bg, "user_ghost", core.UserPatch{Name: ptr("x")})
	assert.Equal(t, core.KindNotFound, core.KindOf(err))

	current, err := svc.Users.Current(as("user_new"))
	require.NoError(t, err)
	assert.Equal(t, "Nora", current.FirstName)

	all, err := svc.Users.All(as("user_new"))
	require.NoError(t, err)
	assert.Len(t, all, 3)

	_, err = svc.Users.All(bg)
	assert.Equal(t, core.KindUnauthenticated, core.KindOf(err))

	require.NoError(t, svc.Users.Delete(bg, "user_new"))
	_, err = svc.Users.Current(as("user_new"))
	assert.Equal(t, core.KindNotFound, core.KindOf(err))

	err = svc.Users.Delete(bg, "user_new")
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}

func TestDeleteUserCascades(t *testing.T) {
	svc := newTestServices(t, nil, nil)

	_, err := svc.Records.Create(as("user_bob"), core.CreateRecordInput{Text: "Book", Amount: ptr(9.0)})
	require.NoError(t, err)
	require.NoError(t, svc.Users.Delete(context.Background(), "user_bob"))

	_, err = svc.Users.Create(context.Background(), core.User{ExternalID: "user_bob"})
	require.NoError(t, err)

	uwr, err := svc.Records.UserWithRecords(as("user_bob"), "")
	require.NoError(t, err)
	assert.Empty(t, uwr.Records)
}

const modelOutput = "```json\n[{\"id\":\"a\",\"type\":\"tip\",\"title\":\"Cook more\",\"message\":\"Food is your top category.\"}]\n```"

func TestInsightsCachedAndInvalidated(t *testing.T) {
	var calls atomic.Int32
	gen := insights.GeneratorFunc(func(context.Context, string) (string, error) {
		calls.Add(1)
		return modelOutput, nil
	})
	svc := newTestServices(t, nil, gen)
	ctx := as("user_alice")

	got, err := svc.Insights.Insights(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Cook more", got[0].Title)

	_, err = svc.Insights.Insights(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())

	_, err = svc.Records.Create(ctx, core.CreateRecordInput{Text: "Pizza", Amount: ptr(8.0), Category: "Food"})
	require.NoError(t, err)

	_, err = svc.Insights.Insights(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, calls.Load())
}

func TestInsightsConcurrentCallersShareOneGeneration(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	gen := insights.GeneratorFunc(func(context.Context, string) (string, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		return modelOutput, nil
	})
	svc := newTestServices(t, nil, gen)

	const callers = 8
	results := make([][]insights.Insight, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = svc.Insights.Insights(as("user_alice"))
		}()
	}

	<-started
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for i := range callers {
		require.NoError(t, errs[i])
		require.Len(t, results[i], 1)
		assert.Equal(t, results[0], results[i])
	}
}

func TestInsightsCreateDuringGenerationIsNotServedStale(t *testing.T) {
	var (
		calls   atomic.Int32
		mu      sync.Mutex
		prompts []string
	)
	started := make(chan struct{})
	release := make(chan struct{})
	gen := insights.GeneratorFunc(func(_ context.Context, prompt string) (string, error) {
		mu.Lock()
		prompts = append(prompts, prompt)
		mu.Unlock()
		if calls.Add(1) == 1 {
			close(started)
			<-release
			return strings.Replace(modelOutput, "Cook more", "Before pizza", 1), nil
		}
		return modelOutput, nil
	})
	svc := newTestServices(t, nil, gen)
	ctx := as("user_alice")

	first := make(chan error, 1)
	go func() {
		_, err := svc.Insights.Insights(ctx)
		first <- err
	}()
	<-started

	_, err := svc.Records.Create(ctx, core.CreateRecordInput{Text: "Pizza", Amount: ptr(8.0), Category: "Food"})
	require.NoError(t, err)

	// A caller arriving after the create must not wait on the older generation.
	second := make(chan error, 1)
	go func() {
		_, err := svc.Insights.Insights(ctx)
		second <- err
	}()
	select {
	case err := <-second:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		close(release)
		t.Fatal("caller joined the generation started before the record was created")
	}
	assert.EqualValues(t, 2, calls.Load())

	close(release)
	require.NoError(t, <-first)

	// The older generation finished last; its result must not be cached.
	got, err := svc.Insights.Insights(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Cook more", got[0].Title)
	assert.EqualValues(t, 2, calls.Load())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, prompts, 2)
	assert.NotContains(t, prompts[0], "Pizza")
	assert.Contains(t, prompts[1], "Pizza")
}

func TestInsightsFallback(t *testing.T) {
	tests := []struct {
		name string
		gen  insights.Generator
	}{
		{"no generator", nil},
		{"generator error", insights.GeneratorFunc(func(context.Context, string) (string, error) {
			return "", errors.New("quota exceeded")
		})},
		{"unusable output", insights.GeneratorFunc(func(context.Context, string) (string, error) {
			return "I cannot help with that.", nil
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestServices(t, nil, tt.gen)
			got, err := svc.Insights.Insights(as("user_alice"))
			require.NoError(t, err)
			assert.Equal(t, insights.FallbackInsights(), got)
		})
	}
}

func TestInsightsRequiresIdentity(t *testing.T) {
	svc := newTestServices(t, nil, nil)

	_, err := svc.Insights.Insights(context.Background())
	assert.Equal(t, core.KindUnauthenticated, core.KindOf(err))

	_, err = svc.Insights.Answer(context.Background(), "why?", "")
	assert.Equal(t, core.KindUnauthenticated, core.KindOf(err))
}

func TestAnswer(t *testing.T) {
	var prompt string
	gen := insights.GeneratorFunc(func(_ context.Context, p string) (string, error) {
		prompt = p
		return "  Spend less on taxis.  ", nil
	})
	svc := newTestServices(t, nil, gen)
	ctx := as("user_alice")

	answer, err := svc.Insights.Answer(ctx, "Where can I save?", "")
	require.NoError(t, err)
	assert.Equal(t, "Spend less on taxis.", answer)
	assert.Contains(t, prompt, "Where can I save?")
	assert.NotContains(t, prompt, "earlier insight")

	_, err = svc.Insights.Answer(ctx, "How?", "fallback-2")
	require.NoError(t, err)
	assert.Contains(t, prompt, "Set category budgets")

	_, err = svc.Insights.Answer(ctx, "How?", "no-such-insight")
	require.NoError(t, err)
	assert.NotContains(t, prompt, "earlier insight")

	_, err = svc.Insights.Answer(ctx, "   ", "")
	assert.Equal(t, core.KindValidation, core.KindOf(err))
}

func TestAnswerFallback(t *testing.T) {
	gen := insights.GeneratorFunc(func(context.Context, string) (string, error) {
		return "", errors.New("timeout")
	})
	svc := newTestServices(t, nil, gen)

	answer, err := svc.Insights.Answer(as("user_alice"), "Where can I save?", "")
	require.NoError(t, err)
	assert.Equal(t, insights.FallbackAnswer, answer)
}

func TestCloseClosesPublisher(t *testing.T) {
	pub := &fakePublisher{}
	svc := New(Options{Store: memory.New(), Publisher: pub})
	require.NoError(t, svc.Close())
	assert.True(t, pub.closed)
}
