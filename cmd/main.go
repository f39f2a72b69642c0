/**
 * @description
 * This is the main entry point for the settlement-service. It loads configuration,
 * connects to PostgreSQL, Redis and RabbitMQ, wires the quote engine, ledger, lock
 * manager, webhook ingestion and reconciliation matcher, and serves the HTTP API.
 *
 * @dependencies
 * - github.com/joho/godotenv: Loads a local .env file for development.
 * - github.com/redis/go-redis/v9: Rate cache, webhook dedupe and withdrawal rate limits.
 * - internal/*: Service components.
 * - pkg/bankclient, pkg/crypto, pkg/rabbitmq: Vendor API, secret decryption, messaging.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/transfa/settlement-service/internal/alert"
	"github.com/transfa/settlement-service/internal/api"
	"github.com/transfa/settlement-service/internal/app"
	"github.com/transfa/settlement-service/internal/config"
	"github.com/transfa/settlement-service/internal/ledger"
	"github.com/transfa/settlement-service/internal/lock"
	"github.com/transfa/settlement-service/internal/logger"
	"github.com/transfa/settlement-service/internal/metrics"
	"github.com/transfa/settlement-service/internal/quote"
	"github.com/transfa/settlement-service/internal/reconcile"
	"github.com/transfa/settlement-service/internal/store"
	"github.com/transfa/settlement-service/internal/store/memstore"
	"github.com/transfa/settlement-service/internal/webhook"
	"github.com/transfa/settlement-service/internal/worker"
	"github.com/transfa/settlement-service/pkg/bankclient"
	"github.com/transfa/settlement-service/pkg/crypto"
	"github.com/transfa/settlement-service/pkg/rabbitmq"
	"go.uber.org/zap"
)

func main() {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting settlement-service", zap.String("port", cfg.ServerPort), zap.String("env", cfg.AppEnv))

	rootCtx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	m := metrics.New()

	// Storage: PostgreSQL when configured, otherwise an in-memory store for local runs.
	var repo store.Repository
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		pool, err := store.NewPool(rootCtx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal("database connection failed", zap.Error(err))
		}
		defer pool.Close()
		if cfg.RunMigrations {
			if err := store.RunMigrations(rootCtx, pool); err != nil {
				log.Fatal("database migrations failed", zap.Error(err))
			}
		}
		repo = store.NewPostgresRepository(pool)
		log.Info("database connection established")
	} else {
		log.Warn("DATABASE_URL not set; using in-memory store")
		repo = memstore.New()
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Warn("invalid REDIS_URL; redis-backed features disabled", zap.Error(err))
		} else {
			redisClient = redis.NewClient(opts)
			pingCtx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
			if err := redisClient.Ping(pingCtx).Err(); err != nil {
				log.Warn("redis ping failed; continuing with lazy reconnects", zap.Error(err))
			}
			cancel()
			defer redisClient.Close()
		}
	}

	// Quoting.
	var rates quote.RateProvider = quote.NewStaticRateProvider().Set(cfg.QuoteSourceCurrency, cfg.QuoteTargetCurrency, cfg.QuoteRate)
	if redisClient != nil {
		rates = quote.NewRedisRateProvider(redisClient, rates, cfg.RedisKeyPrefix, cfg.QuoteRateCacheTTL, log)
	}
	engine := quote.NewEngine(quote.Config{
		SourceCurrency: cfg.QuoteSourceCurrency,
		TargetCurrency: cfg.QuoteTargetCurrency,
		Standard: quote.Schedule{
			FixedFee:   cfg.FeeStandardFixed,
			Multiplier: cfg.FeeStandardMultiplier,
			NobaFee:    cfg.FeeStandardNoba,
		},
		Collection: quote.Schedule{
			FixedFee:   cfg.FeeCollectionFixed,
			Multiplier: cfg.FeeCollectionMultiplier,
			NobaFee:    cfg.FeeCollectionNoba,
		},
	}, rates)

	// Locks.
	locks := lock.NewManager(repo, log, m)
	reaper := lock.NewReaper(repo, cfg.LockLease(), log, m)
	if err := reaper.Start(cfg.LockReaperSchedule); err != nil {
		log.Fatal("lock reaper start failed", zap.Error(err))
	}

	// Messaging and alerts.
	var publisher rabbitmq.Publisher = &rabbitmq.EventProducerFallback{Log: log}
	var brokerAlerter *alert.BrokerAlerter
	var alerter alert.Alerter = alert.NewLogAlerter(log, m)
	if cfg.RabbitMQURL != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, log)
		if err != nil {
			log.Warn("rabbitmq producer unavailable; events will be reconciled in-process", zap.Error(err))
		} else {
			publisher = producer
			brokerAlerter = alert.NewBrokerAlerter(producer, cfg.AlertExchange, log, m)
			alerter = brokerAlerter
		}
	}
	defer publisher.Close()

	txLedger := ledger.New(repo, log)
	matcher := reconcile.NewMatcher(txLedger, repo, locks, alerter, log, m)

	pool := worker.NewPool(cfg.WorkerCount, cfg.WorkerCount*32, log, m)
	var dispatcher webhook.Dispatcher = app.NewInlineDispatcher(pool, matcher)
	if _, brokered := publisher.(*rabbitmq.EventProducer); brokered {
		consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQURL, cfg.WorkerCount, log)
		if err != nil {
			log.Fatal("rabbitmq consumer init failed", zap.Error(err))
		}
		defer consumer.Close()

		settlementConsumer := app.NewSettlementConsumer(matcher, log)
		bindings := map[string]rabbitmq.Handler{
			app.RoutingKeyCanonicalEvent: settlementConsumer.HandleMessage,
		}
		if err := consumer.ConsumeWithBindings(cfg.SettlementExchange, cfg.SettlementEventQueue, bindings); err != nil {
			log.Fatal("settlement consumer start failed", zap.Error(err))
		}
		dispatcher = app.NewQueueDispatcher(publisher, cfg.SettlementExchange)
		log.Info("canonical events routed through rabbitmq", zap.String("queue", cfg.SettlementEventQueue))
	}

	// Webhook ingestion.
	var decrypter webhook.Decrypter
	if cfg.SecretsEncryptionKey != "" {
		enc, err := crypto.NewEncryptor(cfg.SecretsEncryptionKey)
		if err != nil {
			log.Fatal("invalid SECRETS_ENCRYPTION_KEY", zap.Error(err))
		}
		decrypter = enc
	}
	secrets := webhook.NewSecretCache(cfg.WebhookSecrets(), decrypter, cfg.SecretCacheTTL)
	go reloadSecretsOnHangup(rootCtx, secrets, log)
	var deduper webhook.Deduper
	var limiter app.RateLimiter
	if redisClient != nil {
		deduper = webhook.NewRedisDeduper(redisClient, cfg.RedisKeyPrefix, cfg.WebhookDedupeTTL)
		limiter = app.NewRedisRateLimiter(redisClient, cfg.RedisKeyPrefix)
	} else {
		log.Warn("redis unavailable; webhook dedupe and withdrawal rate limits disabled")
	}
	webhookHandler := webhook.NewHandler(webhook.NewVendors(secrets, cfg.FreshnessWindow()), dispatcher, deduper, alerter, log, m)

	// Application service and API.
	if cfg.BankAPIBaseURL == "" {
		log.Warn("BANK_API_BASE_URL not set; withdrawals and collection links will fail")
	}
	bank := bankclient.NewClient(cfg.BankAPIBaseURL, cfg.BankAPIKey, log)
	service := app.NewService(txLedger, engine, bank, repo, limiter, app.ServiceConfig{
		SettlementAccountID: cfg.BankSettlementAccount,
		WithdrawalLimit:     cfg.WithdrawalRateLimit,
		WithdrawalWindow:    cfg.WithdrawalRateWindow(),
	}, log)

	router := api.Routes(api.NewHandlers(service, log), webhookHandler, api.RouterConfig{
		Auth: api.Auth{
			JWTSecret:     []byte(cfg.JWTSecret),
			APIKey:        cfg.APIKey,
			SigningSecret: []byte(cfg.APISigningSecret),
			Window:        cfg.FreshnessWindow(),
			Log:           log,
		},
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Metrics:        m,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server stopped unexpectedly", zap.Error(err))
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown started")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("http shutdown failed", zap.Error(err))
	}
	pool.Stop()
	<-reaper.Stop().Done()
	if brokerAlerter != nil {
		brokerAlerter.Wait()
	}

	log.Info("shutdown complete")
}

// reloadSecretsOnHangup re-reads configuration on SIGHUP so rotated vendor webhook
// secrets take effect without a restart.
func reloadSecretsOnHangup(ctx context.Context, secrets *webhook.SecretCache, log *zap.Logger) {
	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)
	defer signal.Stop(hangup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hangup:
			_ = godotenv.Overload()
			cfg, err := config.LoadConfig(".")
			if err != nil {
				log.Error("config reload failed; keeping current webhook secrets", zap.Error(err))
				continue
			}
			changed := secrets.Reload(cfg.WebhookSecrets())
			log.Info("webhook secrets reloaded", zap.Strings("changed_vendors", changed))
		}
	}
}
