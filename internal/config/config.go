/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the token-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	RewardEventQueue     string `mapstructure:"REWARD_EVENT_QUEUE"`

	RPCURL               string `mapstructure:"RPC_URL"`
	HavenContractAddress string `mapstructure:"HAVEN_CONTRACT_ADDRESS"`
	BackendPrivateKey    string `mapstructure:"BACKEND_PRIVATE_KEY"`
	ChainID              int64  `mapstructure:"CHAIN_ID"`

	APIKey              string `mapstructure:"API_KEY"`
	AuroraWebhookSecret string `mapstructure:"AURORA_WEBHOOK_SECRET"`
	TribeWebhookSecret  string `mapstructure:"TRIBE_WEBHOOK_SECRET"`
	AdminJWTSecret      string `mapstructure:"ADMIN_JWT_SECRET"`

	MaxRetries             int `mapstructure:"MAX_RETRIES"`
	RetryBaseDelaySeconds  int `mapstructure:"RETRY_BASE_DELAY_SECONDS"`
	RetryMaxDelaySeconds   int `mapstructure:"RETRY_MAX_DELAY_SECONDS"`
	ConfirmTimeoutSeconds  int `mapstructure:"CONFIRM_TIMEOUT_SECONDS"`
	IdempotencyTTLHours    int `mapstructure:"IDEMPOTENCY_TTL_HOURS"`
	WebhookRateLimitPerMin int `mapstructure:"WEBHOOK_RATE_LIMIT_PER_MINUTE"`
	StakingRewardsEnabled  bool `mapstructure:"STAKING_REWARDS_ENABLED"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REWARD_EVENT_QUEUE", "token_service.reward_events")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "haven:rate_limit")
	viper.SetDefault("CHAIN_ID", 84532) // Base Sepolia
	viper.SetDefault("MAX_RETRIES", 3)
	viper.SetDefault("RETRY_BASE_DELAY_SECONDS", 2)
	viper.SetDefault("RETRY_MAX_DELAY_SECONDS", 30)
	viper.SetDefault("CONFIRM_TIMEOUT_SECONDS", 120)
	viper.SetDefault("IDEMPOTENCY_TTL_HOURS", 24)
	viper.SetDefault("WEBHOOK_RATE_LIMIT_PER_MINUTE", 120)
	viper.SetDefault("STAKING_REWARDS_ENABLED", true)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "TOKEN_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("REWARD_EVENT_QUEUE")
	_ = viper.BindEnv("RPC_URL")
	_ = viper.BindEnv("HAVEN_CONTRACT_ADDRESS")
	_ = viper.BindEnv("BACKEND_PRIVATE_KEY")
	_ = viper.BindEnv("CHAIN_ID")
	_ = viper.BindEnv("API_KEY", "API_KEY", "TOKEN_SERVICE_API_KEY")
	_ = viper.BindEnv("AURORA_WEBHOOK_SECRET")
	_ = viper.BindEnv("TRIBE_WEBHOOK_SECRET")
	_ = viper.BindEnv("ADMIN_JWT_SECRET")
	_ = viper.BindEnv("MAX_RETRIES")
	_ = viper.BindEnv("RETRY_BASE_DELAY_SECONDS")
	_ = viper.BindEnv("RETRY_MAX_DELAY_SECONDS")
	_ = viper.BindEnv("CONFIRM_TIMEOUT_SECONDS")
	_ = viper.BindEnv("IDEMPOTENCY_TTL_HOURS")
	_ = viper.BindEnv("WEBHOOK_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("STAKING_REWARDS_ENABLED")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.APIKey) == "" {
		config.APIKey = strings.TrimSpace(os.Getenv("TOKEN_SERVICE_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "haven:rate_limit"
	}
	config.BackendPrivateKey = strings.TrimSpace(config.BackendPrivateKey)
	config.HavenContractAddress = strings.TrimSpace(config.HavenContractAddress)

	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryBaseDelaySeconds <= 0 {
		config.RetryBaseDelaySeconds = 2
	}
	if config.RetryMaxDelaySeconds < config.RetryBaseDelaySeconds {
		config.RetryMaxDelaySeconds = 30
	}
	if config.ConfirmTimeoutSeconds <= 0 {
		config.ConfirmTimeoutSeconds = 120
	}
	if config.IdempotencyTTLHours <= 0 {
		config.IdempotencyTTLHours = 24
	}
	if config.WebhookRateLimitPerMin <= 0 {
		config.WebhookRateLimitPerMin = 120
	}
	if config.ChainID <= 0 {
		config.ChainID = 84532
	}

	return
}
