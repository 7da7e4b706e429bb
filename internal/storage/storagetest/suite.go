// Package storagetest holds the behaviour every storage.Repository backend
// must share. Backends run it from their own tests.
package storagetest

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"spendlog/internal/core"
	"spendlog/internal/storage"
)

// RepositorySuite runs against a fresh repository per test.
type RepositorySuite struct {
	suite.Suite
	NewRepository func() storage.Repository

	repo storage.Repository
	ctx  context.Context
}

func (s *RepositorySuite) SetupTest() {
	s.ctx = context.Background()
	s.repo = s.NewRepository()
	require.NotNil(s.T(), s.repo, "failed to create test repository")
}

func (s *RepositorySuite) TearDownTest() {
	if s.repo != nil {
		s.repo.Close()
	}
}

func (s *RepositorySuite) createUser(externalID string) core.User {
	u, err := s.repo.CreateUser(s.ctx, core.User{
		ExternalID: externalID,
		Name:       "Jane Smith",
		Email:      "jane.smith@example.com",
		FirstName:  "Jane",
		LastName:   "Smith",
		Photo:      "https://images.example.com/jane.jpeg",
	})
	require.NoError(s.T(), err)
	return u
}

func (s *RepositorySuite) createRecord(userID string, amount float64, date time.Time) core.Record {
	rec := core.MustRecord(core.RecordParams{
		ID:       uuid.NewString(),
		Text:     "Groceries",
		Amount:   amount,
		Category: core.Food,
		Date:     date,
		UserID:   userID,
	})
	saved, err := s.repo.CreateRecord(s.ctx, rec)
	require.NoError(s.T(), err)
	return saved
}

func (s *RepositorySuite) TestCreateAndGetUser() {
	created := s.createUser("user_2abc")
	assert.NotZero(s.T(), created.ID)
	assert.False(s.T(), created.CreatedAt.IsZero())

	got, err := s.repo.GetUser(s.ctx, "user_2abc")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), created.ID, got.ID)
	assert.Equal(s.T(), "jane.smith@example.com", got.Email)
	assert.Equal(s.T(), "Jane", got.FirstName)
}

func (s *RepositorySuite) TestDuplicateUser() {
	s.createUser("user_dup")
	_, err := s.repo.CreateUser(s.ctx, core.User{ExternalID: "user_dup", Name: "Other"})
	assert.True(s.T(), errors.Is(err, storage.ErrAlreadyExists), "got %v", err)
}

func (s *RepositorySuite) TestGetMissingUser() {
	_, err := s.repo.GetUser(s.ctx, "user_missing")
	assert.True(s.T(), errors.Is(err, storage.ErrNotFound), "got %v", err)
}

func (s *RepositorySuite) TestUpdateUserPartial() {
	before := s.createUser("user_upd")
	time.Sleep(2 * time.Millisecond)

	name := "Janet Smith"
	after, err := s.repo.UpdateUser(s.ctx, "user_upd", core.UserPatch{Name: &name})
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "Janet Smith", after.Name)
	assert.Equal(s.T(), before.Email, after.Email)
	assert.Equal(s.T(), before.FirstName, after.FirstName)
	assert.True(s.T(), after.UpdatedAt.After(before.UpdatedAt), "updated_at should move forward")

	_, err = s.repo.UpdateUser(s.ctx, "user_nobody", core.UserPatch{Name: &name})
	assert.True(s.T(), errors.Is(err, storage.ErrNotFound), "got %v", err)
}

func (s *RepositorySuite) TestListUsers() {
	s.createUser("user_a")
	s.createUser("user_b")
	users, err := s.repo.ListUsers(s.ctx)
	require.NoError(s.T(), err)
	require.Len(s.T(), users, 2)
	assert.Equal(s.T(), "user_a", users[0].ExternalID)
}

func (s *RepositorySuite) TestRecordRoundTrip() {
	s.createUser("user_rt")
	rec := s.createRecord("user_rt", 42.5, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))

	got, err := s.repo.GetRecord(s.ctx, rec.ID())
	require.NoError(s.T(), err)
	assert.Equal(s.T(), rec.Text(), got.Text())
	assert.Equal(s.T(), rec.Amount(), got.Amount())
	assert.Equal(s.T(), rec.Category(), got.Category())
	assert.True(s.T(), rec.Date().Equal(got.Date()))

	uwr, err := s.repo.UserWithRecords(s.ctx, "user_rt")
	require.NoError(s.T(), err)
	count := 0
	for _, r := range uwr.Records {
		if r.ID() == rec.ID() {
			count++
		}
	}
	assert.Equal(s.T(), 1, count, "created record must appear exactly once")
}

func (s *RepositorySuite) TestRecordRequiresExistingOwner() {
	rec := core.MustRecord(core.RecordParams{
		ID:     uuid.NewString(),
		Text:   "Orphan",
		Amount: 1,
		Date:   time.Now(),
		UserID: "user_ghost",
	})
	_, err := s.repo.CreateRecord(s.ctx, rec)
	assert.True(s.T(), errors.Is(err, storage.ErrNotFound), "got %v", err)
}

func (s *RepositorySuite) TestUserWithRecordsOrderAndEmpty() {
	s.createUser("user_empty")
	uwr, err := s.repo.UserWithRecords(s.ctx, "user_empty")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "user_empty", uwr.ExternalID)
	assert.Empty(s.T(), uwr.Records)

	s.createUser("user_ord")
	first := s.createRecord("user_ord", 1, time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC))
	second := s.createRecord("user_ord", 2, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	uwr, err = s.repo.UserWithRecords(s.ctx, "user_ord")
	require.NoError(s.T(), err)
	require.Len(s.T(), uwr.Records, 2)
	assert.Equal(s.T(), first.ID(), uwr.Records[0].ID())
	assert.Equal(s.T(), second.ID(), uwr.Records[1].ID())

	_, err = s.repo.UserWithRecords(s.ctx, "user_missing")
	assert.True(s.T(), errors.Is(err, storage.ErrNotFound), "got %v", err)
}

func (s *RepositorySuite) TestDeleteUserCascades() {
	s.createUser("user_del")
	s.createUser("user_keep")
	rec := s.createRecord("user_del", 10, time.Now())
	kept := s.createRecord("user_keep", 5, time.Now())

	require.NoError(s.T(), s.repo.DeleteUser(s.ctx, "user_del"))

	_, err := s.repo.GetRecord(s.ctx, rec.ID())
	assert.True(s.T(), errors.Is(err, storage.ErrNotFound), "record should be gone, got %v", err)
	recent, err := s.repo.RecentRecords(s.ctx, "user_del", time.Time{})
	require.NoError(s.T(), err)
	assert.Empty(s.T(), recent)

	_, err = s.repo.GetRecord(s.ctx, kept.ID())
	assert.NoError(s.T(), err, "other users' records must survive")

	err = s.repo.DeleteUser(s.ctx, "user_del")
	assert.True(s.T(), errors.Is(err, storage.ErrNotFound), "got %v", err)
}

func (s *RepositorySuite) TestRecentRecordsWindow() {
	s.createUser("user_win")
	now := time.Now().UTC()
	old := s.createRecord("user_win", 1, now.Add(-60*24*time.Hour))
	mid := s.createRecord("user_win", 2, now.Add(-10*24*time.Hour))
	latest := s.createRecord("user_win", 3, now.Add(-1*time.Hour))

	got, err := s.repo.RecentRecords(s.ctx, "user_win", now.Add(-30*24*time.Hour))
	require.NoError(s.T(), err)
	require.Len(s.T(), got, 2)
	assert.Equal(s.T(), latest.ID(), got[0].ID())
	assert.Equal(s.T(), mid.ID(), got[1].ID())
	for _, r := range got {
		assert.NotEqual(s.T(), old.ID(), r.ID())
	}
}

func (s *RepositorySuite) TestPing() {
	assert.NoError(s.T(), s.repo.Ping(s.ctx))
}
