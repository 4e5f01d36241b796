/**
 * @description
 * This is the main entry point for the transfer engine. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, network adapters, the KYC provider client, message brokers,
 * repositories, the core orchestrator, and the HTTP server. It wires everything
 * together and starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/joho/godotenv: For loading .env files during local development.
 * - internal/api, internal/app, internal/compliance, internal/config,
 *   internal/indexer, internal/store: Internal packages for the engine.
 * - pkg/kycclient, pkg/network, pkg/rabbitmq: External collaborator clients.
 */

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/daveylupes/rowell-infra-sub001/internal/api"
	"github.com/daveylupes/rowell-infra-sub001/internal/app"
	"github.com/daveylupes/rowell-infra-sub001/internal/compliance"
	"github.com/daveylupes/rowell-infra-sub001/internal/config"
	"github.com/daveylupes/rowell-infra-sub001/internal/domain"
	"github.com/daveylupes/rowell-infra-sub001/internal/indexer"
	"github.com/daveylupes/rowell-infra-sub001/internal/store"
	"github.com/daveylupes/rowell-infra-sub001/pkg/kycclient"
	"github.com/daveylupes/rowell-infra-sub001/pkg/network"
	"github.com/daveylupes/rowell-infra-sub001/pkg/network/hedera"
	"github.com/daveylupes/rowell-infra-sub001/pkg/network/stellar"
	rmrabbit "github.com/daveylupes/rowell-infra-sub001/pkg/rabbitmq"
)

func main() {
	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment values\"")
	}

	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.ProjectAuthSecret) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"project auth secret must be configured\" env=PROJECT_AUTH_SECRET")
	}
	if strings.TrimSpace(cfg.InternalAPIKey) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"internal api key must be configured\" env=INTERNAL_API_KEY")
	}

	log.Printf("level=info component=bootstrap msg=\"starting transfer engine\" port=%s", cfg.ServerPort)

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 100
	poolConfig.MinConns = 20
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// Initialize the RabbitMQ producer to publish lifecycle events. Event
	// delivery is best-effort, so a missing broker degrades to the fallback.
	var publisher rmrabbit.Publisher
	rabbitProducer, err := rmrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; using fallback\" err=%v", err)
		publisher = &rmrabbit.EventProducerFallback{}
	} else {
		defer rabbitProducer.Close()
		publisher = rabbitProducer
		log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
	}

	// Initialize the network adapters. Each environment gets its credentials
	// injected at construction; nothing network-specific leaks past here.
	adapters := map[domain.Network]network.Adapter{
		domain.NetworkStellar: stellar.NewClient(cfg.StellarAPIBaseURL, cfg.StellarAPIKey),
		domain.NetworkHedera:  hedera.NewClient(cfg.HederaAPIBaseURL, cfg.HederaAPIKey, cfg.HederaOperatorID),
	}

	// Initialize the KYC provider client. Missing config degrades to
	// gate-local rules only.
	var screener kycclient.Screener
	if strings.TrimSpace(cfg.KYCProviderBaseURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"kyc provider not configured; screening rule disabled\" env=KYC_PROVIDER_BASE_URL")
	} else {
		screener = kycclient.NewClient(cfg.KYCProviderBaseURL, cfg.KYCProviderAPIKey, time.Duration(cfg.KYCTimeoutSeconds)*time.Second)
	}

	// Redis backs the shared per-network poll budget; without it polling is
	// uncapped but still bounded per transfer by the adapter budgets.
	var budgeter app.PollBudgeter = app.NoopPollBudgeter{}
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Println("level=warn component=bootstrap msg=\"redis url missing; shared poll budget disabled\" env=REDIS_URL")
	} else {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; shared poll budget disabled\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; shared poll budget disabled\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				budgeter = app.NewRedisPollBudgeter(redisClient, cfg.RedisPollBudgetPrefix, cfg.PollBudgetPerNetwork)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Wire the core components.
	gate := compliance.NewGate(repository, screener, cfg.SanctionedCountryList())
	flowIndexer := indexer.NewIndexer(repository)
	registry := app.NewRegistry(repository, adapters)
	orchestrator := app.NewOrchestrator(repository, gate, adapters, publisher, flowIndexer, app.DefaultFeeSchedules(), budgeter)

	// Start the reconciliation sweeper for stranded transfers.
	sweeper := app.NewSweeper(orchestrator, repository, cfg.SweepSchedule)
	sweeper.Start()
	defer sweeper.Stop()

	// Bind the indexer to the event stream so aggregates also heal from
	// events published by other instances.
	rabbitConsumer, err := rmrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; indexer runs on the in-process path only\" err=%v", err)
	} else {
		defer rabbitConsumer.Close()
		lifecycleHandlers := map[domain.TransferState]rmrabbit.EventHandler{
			domain.TransferStateSettled: flowIndexer.HandleLifecycleEvent,
		}
		if err := rabbitConsumer.ConsumeTransferEvents(cfg.TransferEventQueue, lifecycleHandlers); err != nil {
			log.Printf("level=warn component=bootstrap msg=\"indexer consumer start failed\" err=%v", err)
		}
	}

	// Initialize the API handlers and router.
	handlers := api.NewEngineHandlers(registry, orchestrator, flowIndexer)
	router := api.EngineRoutes(handlers, cfg.ProjectAuthSecret, cfg.InternalAPIKey)

	serverAddr := fmt.Sprintf(":%s", cfg.ServerPort)
	log.Printf("level=info component=http msg=\"server listening\" addr=%s", serverAddr)

	server := &http.Server{
		Addr:    serverAddr,
		Handler: router,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=http msg=\"server stopped unexpectedly\" err=%v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("level=info component=http msg=\"shutdown started\"")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("level=error component=http msg=\"shutdown failed\" err=%v", err)
	}
	<-sweeper.Stop().Done()

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
