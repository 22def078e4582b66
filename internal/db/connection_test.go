package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/hms-server/database"
	"github.com/stacklok/hms-server/internal/config"
)

func TestPoolConfig(t *testing.T) {
	t.Parallel()

	t.Run("nil configuration", func(t *testing.T) {
		t.Parallel()
		_, err := PoolConfig(nil)
		require.Error(t, err)
	})

	t.Run("applies limits", func(t *testing.T) {
		t.Parallel()
		cfg, err := PoolConfig(&config.DatabaseConfig{
			Host:            "db.internal",
			Port:            6432,
			User:            "hms",
			Database:        "ward",
			MaxConns:        7,
			MinConns:        2,
			ConnMaxLifetime: "3m",
		})
		require.NoError(t, err)
		assert.Equal(t, int32(7), cfg.MaxConns)
		assert.Equal(t, int32(2), cfg.MinConns)
		assert.Equal(t, 3*time.Minute, cfg.MaxConnLifetime)
		assert.Equal(t, "db.internal", cfg.ConnConfig.Host)
		assert.Equal(t, uint16(6432), cfg.ConnConfig.Port)
		assert.Equal(t, "ward", cfg.ConnConfig.Database)
		assert.Equal(t, defaultConnectTimeout, cfg.ConnConfig.ConnectTimeout)
	})
}

func TestNewPoolUnreachable(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := NewPool(ctx, &config.DatabaseConfig{Host: "127.0.0.1", Port: 1},
		WithPingRetry(2, time.Millisecond))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ping database")
}

func TestNewPool(t *testing.T) {
	t.Parallel()

	pool, cleanup := database.SetupTestDB(t)
	defer cleanup()

	cc := pool.Config().ConnConfig
	dbCfg := &config.DatabaseConfig{
		Host:     cc.Host,
		Port:     int(cc.Port),
		User:     cc.User,
		Database: cc.Database,
		Password: cc.Password,
	}

	got, err := NewPool(context.Background(), dbCfg)
	require.NoError(t, err)
	defer got.Close()

	var one int
	require.NoError(t, got.QueryRow(context.Background(), "SELECT 1").Scan(&one))
	assert.Equal(t, 1, one)
}
