package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func TestMemoryTokenBlacklistExpires(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b := NewMemoryTokenBlacklist()
	b.now = func() time.Time { return now }

	require.NoError(t, b.Revoke(ctx, "tok-1", time.Minute))
	require.NoError(t, b.Revoke(ctx, "tok-2", 0))

	revoked, err := b.IsRevoked(ctx, "tok-1")
	require.NoError(t, err)
	require.True(t, revoked)

	revoked, err = b.IsRevoked(ctx, "tok-2")
	require.NoError(t, err)
	require.False(t, revoked, "non-positive ttl is a no-op")

	now = now.Add(time.Minute)
	revoked, err = b.IsRevoked(ctx, "tok-1")
	require.NoError(t, err)
	require.False(t, revoked)
}

type RedisTokenBlacklistSuite struct {
	suite.Suite
	ctx       context.Context
	blacklist *RedisTokenBlacklist
}

func TestRedisTokenBlacklistSuite(t *testing.T) {
	if os.Getenv("OBAR_TEST_REDIS_ADDR") == "" {
		t.Skip("set OBAR_TEST_REDIS_ADDR to run redis integration test")
	}
	suite.Run(t, new(RedisTokenBlacklistSuite))
}

func (s *RedisTokenBlacklistSuite) SetupTest() {
	s.ctx = context.Background()
	s.blacklist = NewRedisTokenBlacklist(os.Getenv("OBAR_TEST_REDIS_ADDR"), os.Getenv("OBAR_TEST_REDIS_PASSWORD"), 0)
	require.NoError(s.T(), s.blacklist.Ping(s.ctx))
}

func (s *RedisTokenBlacklistSuite) TearDownTest() {
	_ = s.blacklist.Close()
}

func (s *RedisTokenBlacklistSuite) TestRevokeAndLookup() {
	id := uuid.NewString()

	revoked, err := s.blacklist.IsRevoked(s.ctx, id)
	require.NoError(s.T(), err)
	require.False(s.T(), revoked)

	require.NoError(s.T(), s.blacklist.Revoke(s.ctx, id, time.Minute))
	revoked, err = s.blacklist.IsRevoked(s.ctx, id)
	require.NoError(s.T(), err)
	require.True(s.T(), revoked)

	ttl, err := s.blacklist.client.TTL(s.ctx, revokedKeyPrefix+id).Result()
	require.NoError(s.T(), err)
	require.Greater(s.T(), ttl, time.Duration(0))
}

func (s *RedisTokenBlacklistSuite) TestExpiry() {
	id := uuid.NewString()
	require.NoError(s.T(), s.blacklist.Revoke(s.ctx, id, 50*time.Millisecond))

	require.Eventually(s.T(), func() bool {
		revoked, err := s.blacklist.IsRevoked(s.ctx, id)
		return err == nil && !revoked
	}, 2*time.Second, 20*time.Millisecond)
}
