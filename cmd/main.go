/**
 * @description
 * This is the main entry point for the token-service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, the blockchain client and signer, message brokers, repositories,
 * the reward processor, and the HTTP server. It wires everything together and
 * starts the service.
 *
 * @dependencies
 * - net/http: Standard Go library for the HTTP server.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Redis client.
 * - github.com/rs/zerolog: Structured logging.
 * - internal/*: The service's packages.
 * - pkg/chainclient, pkg/rabbitmq: Blockchain and broker clients.
 */

package main

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/havenlabs/token-service/internal/agent"
	"github.com/havenlabs/token-service/internal/api"
	"github.com/havenlabs/token-service/internal/app"
	"github.com/havenlabs/token-service/internal/config"
	"github.com/havenlabs/token-service/internal/idempotency"
	"github.com/havenlabs/token-service/internal/store"
	"github.com/havenlabs/token-service/pkg/chainclient"
	rmrabbit "github.com/havenlabs/token-service/pkg/rabbitmq"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Fatal().Err(err).Msg("config load failed")
	}
	if strings.TrimSpace(cfg.BackendPrivateKey) == "" {
		logger.Fatal().Str("env", "BACKEND_PRIVATE_KEY").Msg("backend signing key must be configured")
	}
	if strings.TrimSpace(cfg.HavenContractAddress) == "" {
		logger.Fatal().Str("env", "HAVEN_CONTRACT_ADDRESS").Msg("token contract address must be configured")
	}

	logger.Info().Str("port", cfg.ServerPort).Msg("starting token-service")

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database url parse failed")
	}
	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute
	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer dbpool.Close()
	logger.Info().Msg("database connected")

	// Redis backs the idempotency fast path and the webhook rate limiter. The
	// guard degrades to the durable store on outages, so a failed ping is a
	// warning, not a fatal.
	redisOptions, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis url parse failed")
	}
	redisClient := redis.NewClient(redisOptions)
	defer redisClient.Close()
	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
		logger.Warn().Err(pingErr).Msg("redis ping failed; idempotency will rely on the durable store")
	} else {
		logger.Info().Msg("redis connected")
	}
	cancelPing()

	// Initialize the RabbitMQ producer to publish outcome events.
	var producer rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		logger.Warn().Err(err).Msg("rabbitmq producer unavailable; using fallback")
		producer = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		producer = rabbitProducer
		logger.Info().Msg("rabbitmq producer connected")
	}

	// Connect to the blockchain node and bind the token contract.
	dialCtx, cancelDial := context.WithTimeout(context.Background(), 15*time.Second)
	chain, err := chainclient.Dial(dialCtx, cfg.RPCURL, cfg.HavenContractAddress)
	cancelDial()
	if err != nil {
		logger.Fatal().Err(err).Msg("blockchain node connection failed")
	}
	defer chain.Close()
	logger.Info().Str("contract", chain.ContractAddress().Hex()).Int64("chain_id", cfg.ChainID).Msg("blockchain node connected")

	signer, err := agent.NewSigner(cfg.BackendPrivateKey, big.NewInt(cfg.ChainID))
	if err != nil {
		logger.Fatal().Err(err).Msg("signing key parse failed")
	}
	logger.Info().Str("signer", signer.Address().Hex()).Msg("backend wallet loaded")

	// The submission core: allocator, breaker and submitter.
	nonces := agent.NewNonceAllocator(chain)
	breaker := agent.NewCircuitBreaker(0, 0)
	submitter := agent.NewSubmitter(chain, signer, nonces, breaker, agent.SubmitterConfig{
		Policy: agent.Policy{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   time.Duration(cfg.RetryBaseDelaySeconds) * time.Second,
			MaxDelay:    time.Duration(cfg.RetryMaxDelaySeconds) * time.Second,
		},
		ConfirmTimeout: time.Duration(cfg.ConfirmTimeoutSeconds) * time.Second,
	}, logger)

	// The idempotency guard over the Redis fast path and Postgres fallback.
	guard := idempotency.NewGuard(
		idempotency.NewRedisCache(redisClient, "haven:idempotency"),
		store.NewIdempotencyRepository(dbpool),
		idempotency.Config{TTL: time.Duration(cfg.IdempotencyTTLHours) * time.Hour},
		logger,
	)

	// Initialize the data access layer and the reward processor.
	repository := store.NewPostgresRepository(dbpool)
	rewardService := app.NewService(repository, guard, submitter, producer, logger)

	// Initialize the API handlers and router.
	handlers := api.NewTokenHandlers(rewardService, repository, chain, nonces, signer.Address(), logger)
	router := api.TokenRoutes(handlers, api.RouterConfig{
		APIKey:              cfg.APIKey,
		AuroraWebhookSecret: cfg.AuroraWebhookSecret,
		TribeWebhookSecret:  cfg.TribeWebhookSecret,
		AdminJWTSecret:      cfg.AdminJWTSecret,
		Limiter:             app.NewRedisRateLimiter(redisClient, cfg.RedisRateLimitPrefix),
		WebhookRatePerMin:   cfg.WebhookRateLimitPerMin,
	}, logger)

	// Wire the asynchronous reward path: queued events go through the same
	// processor as the webhooks.
	rewardConsumer := app.NewRewardEventConsumer(rewardService, logger)
	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		logger.Warn().Err(err).Msg("rabbitmq consumer unavailable; queued rewards disabled")
	} else {
		defer rabbitConsumer.Close()
		bindings := map[string]func([]byte) bool{
			"reward.requested": rewardConsumer.HandleMessage,
		}
		if err := rabbitConsumer.ConsumeWithBindings(app.EventsExchange, cfg.RewardEventQueue, bindings); err != nil {
			logger.Fatal().Err(err).Msg("reward consumer start failed")
		}
		logger.Info().Str("queue", cfg.RewardEventQueue).Msg("reward consumer started")
	}

	// The staking yield job. Daily runs are safe: the per-week idempotency
	// keys turn repeats within one ISO week into replays.
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()
	if cfg.StakingRewardsEnabled {
		go func() {
			ticker := time.NewTicker(24 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-jobCtx.Done():
					return
				case <-ticker.C:
					if err := rewardService.RunStakingRewards(jobCtx, time.Now()); err != nil {
						logger.Error().Err(err).Msg("staking rewards run failed")
					}
				}
			}
		}()
	}

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		logger.Info().Str("addr", serverAddr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server stopped unexpectedly")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info().Msg("shutdown started")

	cancelJobs()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown failed")
	}

	logger.Info().Msg("shutdown complete")
}
