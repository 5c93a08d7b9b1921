package database

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyOptions(t *testing.T) {
	cfg, err := pgxpool.ParseConfig("postgres://u:p@localhost:5432/db")
	require.NoError(t, err)
	defaultMax := cfg.MaxConns

	applyOptions(cfg, PoolOptions{})
	assert.Equal(t, defaultMax, cfg.MaxConns, "zero options keep defaults")

	applyOptions(cfg, PoolOptions{MaxConns: 20, MinConns: 2, MaxConnIdleTime: time.Minute})
	assert.Equal(t, int32(20), cfg.MaxConns)
	assert.Equal(t, int32(2), cfg.MinConns)
	assert.Equal(t, time.Minute, cfg.MaxConnIdleTime)
}

func TestApplyOptions_MinAboveMaxIgnored(t *testing.T) {
	cfg, err := pgxpool.ParseConfig("postgres://u:p@localhost:5432/db")
	require.NoError(t, err)

	applyOptions(cfg, PoolOptions{MaxConns: 4, MinConns: 8})
	assert.Equal(t, int32(4), cfg.MaxConns)
	assert.Equal(t, int32(0), cfg.MinConns)
}

func TestNewPool_InvalidURL(t *testing.T) {
	_, err := NewPool(t.Context(), "://not a url", PoolOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse database config")
}
