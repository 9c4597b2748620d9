package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"obar/backend/internal/store"
	"obar/backend/internal/store/storetest"
)

func TestMemoryStore(t *testing.T) {
	suite.Run(t, &storetest.Suite{Open: func() store.Repository { return New() }})
}

func TestNewSeededHasAdminAndStock(t *testing.T) {
	var logs bytes.Buffer
	s, err := NewSeeded("111111", "", zerolog.New(&logs))
	require.NoError(t, err)
	require.Contains(t, logs.String(), "default dev PINs")
	ctx := context.Background()

	admin, err := s.GetCustomer(ctx, "admin@obar.local")
	require.NoError(t, err)
	require.True(t, admin.Admin)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(admin.PINHash), []byte("111111")))

	alice, err := s.GetCustomer(ctx, "alice@obar.local")
	require.NoError(t, err)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(alice.PINHash), []byte(devCustomerPIN)))

	espresso, err := s.GetProduct(ctx, "P-ESPRESSO")
	require.NoError(t, err)
	require.True(t, espresso.Available)
	require.Positive(t, espresso.Quantity)
}

func TestNewSeededWithPINsDoesNotWarn(t *testing.T) {
	var logs bytes.Buffer
	_, err := NewSeeded("739154", "481926", zerolog.New(&logs))
	require.NoError(t, err)
	require.Empty(t, logs.String())
}
