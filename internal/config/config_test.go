package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadReturnsDefaultsWithNoOverrides(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 256, cfg.CacheCapacity)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Equal(t, 3, cfg.SettleRetryCount)
}

func TestEnvOverridesDefaults(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	t.Cleanup(func() { os.Unsetenv("KEEPKEY_CACHE_CAPACITY") })

	os.Setenv("KEEPKEY_CACHE_CAPACITY", "512")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.CacheCapacity)
}

func TestLoadCachesResultAcrossCalls(t *testing.T) {
	Reset()
	t.Cleanup(Reset)
	t.Cleanup(func() { os.Unsetenv("KEEPKEY_CACHE_CAPACITY") })

	os.Setenv("KEEPKEY_CACHE_CAPACITY", "99")
	first, _ := Load()
	os.Setenv("KEEPKEY_CACHE_CAPACITY", "1")
	second, _ := Load()

	assert.Equal(t, first.CacheCapacity, second.CacheCapacity, "second Load must return the cached config, not re-parse the environment")
}
