package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Defaults(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "memory")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 100, cfg.FanoutChunkSize)
	assert.Equal(t, 5000, cfg.FollowActivityLimit)
	assert.Equal(t, 0.01, cfg.TrimChance)
	assert.True(t, cfg.IsDevelopment())
}

func TestParse_Overrides(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("FANOUT_CHUNK_SIZE", "25")
	t.Setenv("TRIM_CHANCE", "1")
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "a-real-secret")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.FanoutChunkSize)
	assert.Equal(t, 1.0, cfg.TrimChance)
	assert.False(t, cfg.IsDevelopment())
}

func TestParse_Invalid(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "postgres")
	t.Setenv("POSTGRES_CONN_STR", "")
	t.Setenv("MONGO_URI", "")
	_, err := Parse()
	assert.Error(t, err, "postgres needs connection strings")

	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("TRIM_CHANCE", "1.5")
	_, err = Parse()
	assert.Error(t, err)

	t.Setenv("TRIM_CHANCE", "0.5")
	t.Setenv("FANOUT_CHUNK_SIZE", "abc")
	_, err = Parse()
	assert.Error(t, err)
}

func TestParse_ProductionNeedsJWTSecret(t *testing.T) {
	t.Setenv("STORAGE_BACKEND", "memory")
	t.Setenv("ENV", "production")

	_, err := Parse()
	assert.ErrorIs(t, err, ErrInsecureJWTSecret)

	t.Setenv("JWT_SECRET", DevJWTSecret)
	_, err = Parse()
	assert.ErrorIs(t, err, ErrInsecureJWTSecret)

	t.Setenv("ENV", "development")
	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, DevJWTSecret, cfg.JWTSecret)
}
