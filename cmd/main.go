/**
 * @description
 * This is the main entry point for the entitlement service. It is responsible for
 * initializing all components of the service, including configuration, database
 * connection, the Stripe client, message brokers, repositories, the core
 * application service, and the HTTP server. It wires everything together and
 * starts the service.
 *
 * @dependencies
 * - log, net/http: Standard Go libraries for logging and HTTP server functionality.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/redis/go-redis/v9: Redis client for webhook dedup.
 * - internal/api, internal/app, internal/config, internal/store: Internal packages.
 * - pkg/stripeclient, pkg/rabbitmq: External service clients.
 */

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/bookin/entitlement-service/internal/api"
	"github.com/bookin/entitlement-service/internal/app"
	"github.com/bookin/entitlement-service/internal/config"
	"github.com/bookin/entitlement-service/internal/domain"
	"github.com/bookin/entitlement-service/internal/store"
	rmrabbit "github.com/bookin/entitlement-service/pkg/rabbitmq"
	"github.com/bookin/entitlement-service/pkg/stripeclient"
)

// catalogFile is the on-disk shape of the static book/collection catalog.
type catalogFile struct {
	Books       []domain.Book       `json:"books"`
	Collections []domain.Collection `json:"collections"`
}

func loadCatalog(path string) (catalogFile, error) {
	var catalog catalogFile
	data, err := os.ReadFile(path)
	if err != nil {
		return catalog, err
	}
	if err := json.Unmarshal(data, &catalog); err != nil {
		return catalog, fmt.Errorf("failed to parse catalog file: %w", err)
	}
	return catalog, nil
}

func main() {
	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}

	log.Printf("level=info component=bootstrap msg=\"starting entitlement-service\" port=%s live_mode=%t", cfg.ServerPort, cfg.IsLiveMode())

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 5
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

	// Load the static book/collection catalog.
	catalog, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		log.Printf("level=warn component=bootstrap msg=\"catalog load failed; starting with empty catalog\" path=%s err=%v", cfg.CatalogPath, err)
	} else {
		log.Printf("level=info component=bootstrap msg=\"catalog loaded\" books=%d collections=%d", len(catalog.Books), len(catalog.Collections))
	}

	// Initialize the RabbitMQ producer for entitlement-updated notifications.
	// The producer is optional; without it the service still reconciles writes.
	var rabbitProducer *rmrabbit.EventProducer
	if cfg.EntitlementEventsEnabled && cfg.RabbitMQURL != "" {
		rabbitProducer, err = rmrabbit.NewEventProducer(cfg.RabbitMQURL)
		if err != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq producer unavailable; entitlement events disabled\" err=%v", err)
			rabbitProducer = nil
		} else {
			defer rabbitProducer.Close()
			log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")
		}
	}

	// Initialize Redis for cross-replica webhook dedup, falling back to the
	// in-process guard when unavailable.
	var dedup app.EventDeduplicator
	dedupTTL := time.Duration(cfg.WebhookDedupTTLMin) * time.Minute
	if cfg.RedisURL != "" {
		redisOptions, parseErr := redis.ParseURL(cfg.RedisURL)
		if parseErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"redis url parse failed; using in-memory dedup\" err=%v", parseErr)
		} else {
			redisClient := redis.NewClient(redisOptions)
			pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancelPing()
			if pingErr := redisClient.Ping(pingCtx).Err(); pingErr != nil {
				log.Printf("level=warn component=bootstrap msg=\"redis ping failed; using in-memory dedup\" err=%v", pingErr)
				redisClient.Close()
			} else {
				defer redisClient.Close()
				dedup = app.NewRedisEventDeduplicator(redisClient, "bookin:webhook_events", dedupTTL)
				log.Println("level=info component=bootstrap msg=\"redis connected\"")
			}
		}
	}
	if dedup == nil {
		dedup = app.NewMemoryEventDeduplicator(dedupTTL)
	}

	// Initialize the Stripe client.
	stripeClient := stripeclient.NewClient(cfg.StripeSecretKey)

	// Initialize the data access layer (repository).
	repository := store.NewPostgresRepository(dbpool)

	// Initialize the entitlement cache over the repository.
	cacheTTL := time.Duration(cfg.EntitlementCacheTTLMin) * time.Minute
	entitlementCache := app.NewEntitlementCache(app.NewEntitlementFetcher(repository), cacheTTL, time.Now)

	// Initialize the core application service with its dependencies.
	service := app.NewService(
		repository,
		stripeClient,
		entitlementCache,
		catalog.Books,
		catalog.Collections,
		app.CheckoutConfig{
			CollectionPriceID: cfg.StripeCollectionPriceID,
			SuccessURL:        cfg.CheckoutSuccessURL,
			CancelURL:         cfg.CheckoutCancelURL,
		},
	)

	// Initialize the webhook reconciler and its HTTP handler.
	var producer app.Publisher
	if rabbitProducer != nil {
		producer = rabbitProducer
	}
	reconciler := app.NewReconciler(repository, producer)
	webhookHandler := api.NewStripeWebhookHandler(reconciler, dedup, cfg.StripeWebhookSecret)

	// Subscribe to entitlement events from peer replicas so each replica's
	// cache stays fresh without polling.
	if cfg.EntitlementEventsEnabled && cfg.RabbitMQURL != "" {
		rabbitConsumer, consumerErr := rmrabbit.NewConsumer(cfg.RabbitMQURL)
		if consumerErr != nil {
			log.Printf("level=warn component=bootstrap msg=\"rabbitmq consumer unavailable; cache invalidation by event disabled\" err=%v", consumerErr)
		} else {
			defer rabbitConsumer.Close()
			queueName := "entitlement_service.cache_invalidation"
			if hostname, hostErr := os.Hostname(); hostErr == nil {
				queueName = fmt.Sprintf("%s.%s", queueName, hostname)
			}
			bindings := app.EntitlementInvalidationBindings(entitlementCache)
			if err := rabbitConsumer.ConsumeWithBindings(app.EntitlementExchange, queueName, bindings); err != nil {
				log.Printf("level=warn component=bootstrap msg=\"cache invalidation consumer start failed\" err=%v", err)
			} else {
				log.Println("level=info component=bootstrap msg=\"cache invalidation consumer started\"")
			}
		}
	}

	environment := "test"
	if cfg.IsLiveMode() {
		environment = "live"
	}
	handlers := api.NewHandlers(service, environment)

	router := api.NewRouter(handlers, webhookHandler, api.RouterConfig{
		FirebaseProjectID: cfg.FirebaseProjectID,
		AuthCertsURL:      cfg.AuthCertsURL,
		AllowedOrigins:    cfg.AllowedOriginList(),
	})

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

	log.Println("level=info component=http msg=\"shutdown complete\"")
}
