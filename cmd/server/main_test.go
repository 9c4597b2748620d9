package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"obar/backend/internal/config"
	"obar/backend/internal/store/memory"
)

const strongSecret = "0123456789abcdef0123456789abcdef"

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	cases := map[string]config.Config{
		"short secret":   {AuthSecret: "short"},
		"short seed pin": {AuthSecret: strongSecret, SeedAdminPIN: "7391"},
		"sequential pin": {AuthSecret: strongSecret, SeedCustomerPIN: "456789"},
		"same digit pin": {AuthSecret: strongSecret, SeedAdminPIN: "777777"},
		"known weak pin": {AuthSecret: strongSecret, SeedCustomerPIN: "121212"},
	}
	for name, cfg := range cases {
		require.Error(t, validateSecurityConfig(cfg), name)
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	require.NoError(t, validateSecurityConfig(config.Config{AuthSecret: strongSecret}))
	require.NoError(t, validateSecurityConfig(config.Config{AuthSecret: strongSecret, SeedAdminPIN: "739154", SeedCustomerPIN: "481926"}))
}

func TestOpenRepositoryPrefersSQLiteOverMemory(t *testing.T) {
	ctx := context.Background()

	repo, closeFn, err := openRepository(ctx, config.Config{SQLitePath: filepath.Join(t.TempDir(), "obar.db")}, zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, closeFn)
	t.Cleanup(func() { _ = closeFn() })
	_, isMemory := repo.(*memory.Store)
	require.False(t, isMemory)

	repo, closeFn, err = openRepository(ctx, config.Config{SeedAdminPIN: "739154", SeedCustomerPIN: "481926"}, zerolog.Nop())
	require.NoError(t, err)
	require.Nil(t, closeFn)
	_, isMemory = repo.(*memory.Store)
	require.True(t, isMemory)
}

func TestOpenRepositoryFailsWhenConfiguredDatabaseIsUnreachable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "obar.db")

	repo, closeFn, err := openRepository(context.Background(), config.Config{SQLitePath: path}, zerolog.Nop())
	require.ErrorContains(t, err, "sqlite")
	require.Nil(t, repo)
	require.Nil(t, closeFn)
}
