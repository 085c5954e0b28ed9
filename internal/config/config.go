// Package config loads kernel-wide tunables (cache TTL/capacity, actor
// queue depth, settle delays) from the environment and an optional
// .env file, following the teacher's LoadDeviceConfig/
// MustGetDeviceConfig lazy-load-and-cache pattern.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// KernelConfig holds every operator-overridable tunable of the device
// access kernel. Zero values are never used directly; Load always
// fills in the package defaults first.
type KernelConfig struct {
	CacheCapacity  int
	CacheTTL       time.Duration
	ActorInboxDepth int
	SettleDelay    time.Duration
	SettleRetryDelay time.Duration
	SettleRetryCount int
	InteractionStaleAfter time.Duration
}

func defaults() KernelConfig {
	return KernelConfig{
		CacheCapacity:         256,
		CacheTTL:              30 * time.Second,
		ActorInboxDepth:       64,
		SettleDelay:           800 * time.Millisecond,
		SettleRetryDelay:      500 * time.Millisecond,
		SettleRetryCount:      3,
		InteractionStaleAfter: 120 * time.Second,
	}
}

var (
	kernelConfig *KernelConfig
	configLoaded bool
)

// Load returns the process-wide KernelConfig, parsing it from the
// environment and an optional .env file on first call and caching the
// result for subsequent calls.
func Load() (*KernelConfig, error) {
	if kernelConfig != nil && configLoaded {
		return kernelConfig, nil
	}

	cfg := defaults()

	projectRoot := findProjectRoot()
	envPath := filepath.Join(projectRoot, ".env")
	if data, err := os.ReadFile(envPath); err == nil {
		parseEnvFile(string(data), &cfg)
	}

	applyEnvOverrides(&cfg)

	kernelConfig = &cfg
	configLoaded = true
	return kernelConfig, nil
}

func applyEnvOverrides(cfg *KernelConfig) {
	if v := os.Getenv("KEEPKEY_CACHE_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.CacheCapacity = n
		}
	}
	if v := os.Getenv("KEEPKEY_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.CacheTTL = d
		}
	}
	if v := os.Getenv("KEEPKEY_ACTOR_INBOX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ActorInboxDepth = n
		}
	}
	if v := os.Getenv("KEEPKEY_SETTLE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SettleDelay = d
		}
	}
	if v := os.Getenv("KEEPKEY_SETTLE_RETRY_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SettleRetryDelay = d
		}
	}
	if v := os.Getenv("KEEPKEY_SETTLE_RETRY_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SettleRetryCount = n
		}
	}
	if v := os.Getenv("KEEPKEY_INTERACTION_STALE_AFTER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.InteractionStaleAfter = d
		}
	}
}

func parseEnvFile(content string, cfg *KernelConfig) {
	lines := strings.Split(content, "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if _, alreadySet := os.LookupEnv(key); !alreadySet {
			os.Setenv(key, value)
		}
	}
}

func findProjectRoot() string {
	cwd, _ := os.Getwd()
	if _, err := os.Stat(filepath.Join(cwd, ".env")); err == nil {
		return cwd
	}
	for {
		if _, err := os.Stat(filepath.Join(cwd, "go.mod")); err == nil {
			return cwd
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return cwd
		}
		cwd = parent
	}
}

// MustLoad returns the kernel config, panicking if it cannot be
// constructed (it never actually fails today, since every field has a
// usable default — kept for parity with the teacher's MustGet* calls
// at startup).
func MustLoad() KernelConfig {
	cfg, err := Load()
	if err != nil {
		panic("keepkeyctl: failed to load kernel config: " + err.Error())
	}
	return *cfg
}

// Reset clears the cached config, used by tests that need to exercise
// Load under different environment variables.
func Reset() {
	kernelConfig = nil
	configLoaded = false
}
