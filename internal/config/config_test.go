package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_UsesTokenServiceAPIKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "API_KEY")
	setEnvWithCleanup(t, "TOKEN_SERVICE_API_KEY", "alias-only-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.APIKey != "alias-only-key" {
		t.Fatalf("expected APIKey from alias env var, got %q", cfg.APIKey)
	}
}

func TestLoadConfig_APIKeyTakesPrecedenceOverAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "API_KEY", "primary-key")
	setEnvWithCleanup(t, "TOKEN_SERVICE_API_KEY", "alias-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.APIKey != "primary-key" {
		t.Fatalf("expected APIKey to prioritize API_KEY, got %q", cfg.APIKey)
	}
}

func TestLoadConfig_RetryDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "MAX_RETRIES")
	unsetEnvWithCleanup(t, "RETRY_BASE_DELAY_SECONDS")
	unsetEnvWithCleanup(t, "RETRY_MAX_DELAY_SECONDS")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.MaxRetries != 3 {
		t.Fatalf("expected default MaxRetries 3, got %d", cfg.MaxRetries)
	}
	if cfg.RetryBaseDelaySeconds != 2 {
		t.Fatalf("expected default base delay 2s, got %d", cfg.RetryBaseDelaySeconds)
	}
	if cfg.RetryMaxDelaySeconds != 30 {
		t.Fatalf("expected default max delay 30s, got %d", cfg.RetryMaxDelaySeconds)
	}
}

func TestLoadConfig_DefaultChainIDIsBaseSepolia(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "CHAIN_ID")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ChainID != 84532 {
		t.Fatalf("expected default chain id 84532, got %d", cfg.ChainID)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
