package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"spendlog/internal/storage"
	"spendlog/internal/storage/storagetest"
)

func TestSQLiteRepository(t *testing.T) {
	s := &storagetest.RepositorySuite{}
	s.NewRepository = func() storage.Repository {
		dbPath := filepath.Join(s.T().TempDir(), "spendlog.db")
		repo, err := storage.NewSQLiteRepository(dbPath)
		require.NoError(s.T(), err, "failed to create test database")
		return repo
	}
	suite.Run(t, s)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "spendlog.db")
	repo, err := storage.NewSQLiteRepository(dbPath)
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	repo, err = storage.NewSQLiteRepository(dbPath)
	require.NoError(t, err)
	require.NoError(t, repo.Close())
}
