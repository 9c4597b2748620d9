package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"obar/backend/internal/store"
	"obar/backend/internal/store/storetest"
)

func TestPostgresStore(t *testing.T) {
	databaseURL := os.Getenv("OBAR_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set OBAR_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	repo, err := New(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	_, err = repo.DB().ExecContext(ctx, Schema)
	require.NoError(t, err)

	suite.Run(t, &storetest.Suite{Open: func() store.Repository { return repo }})
}
