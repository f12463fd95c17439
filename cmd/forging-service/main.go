package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	goredis "github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"

	"tradinta-forging/internal/analytics"
	analytics_api "tradinta-forging/internal/analytics/api"
	"tradinta-forging/internal/auth"
	"tradinta-forging/internal/config"
	"tradinta-forging/internal/database"
	"tradinta-forging/internal/database/migrations"
	"tradinta-forging/internal/forging"
	"tradinta-forging/internal/forging/api"
	"tradinta-forging/internal/forging/db"
	forgingredis "tradinta-forging/internal/forging/redis"
	"tradinta-forging/internal/kafka"
	"tradinta-forging/internal/logger"
	"tradinta-forging/internal/scheduler"
	"tradinta-forging/internal/sse"
)

func prepareSchema(ctx context.Context, bunDB *bun.DB, cfg config.DatabaseConfig, log *logger.Logger) error {
	if !cfg.AutoMigrate {
		log.Info("MIGRATE", "Auto-migration disabled")
		return nil
	}
	if cfg.Driver == database.DriverSQLite {
		log.Info("MIGRATE", "Creating SQLite schema from models")
		if err := db.CreateSchema(ctx, bunDB); err != nil {
			return err
		}
		if cfg.SeedData {
			return db.SeedProducts(ctx, bunDB)
		}
		return nil
	}

	runner := migrations.NewRunner(bunDB, migrations.MigrateOptions{
		MigrationsDir: cfg.MigrationsDir,
		SeedData:      cfg.SeedData,
	}, log)
	defer runner.Close()
	return runner.RunMigrations()
}

func buildVerifier(ctx context.Context, cfg config.AuthConfig, redisClient *goredis.Client, log *logger.Logger) (auth.TokenVerifier, error) {
	var verifier auth.TokenVerifier
	switch {
	case cfg.OIDCIssuer != "":
		v, err := auth.NewOIDCVerifier(ctx, cfg.OIDCIssuer, cfg.OIDCClientID)
		if err != nil {
			return nil, err
		}
		log.Info("AUTH", fmt.Sprintf("Verifying tokens against OIDC issuer %s", cfg.OIDCIssuer))
		verifier = v
	case cfg.HMACSecret != "":
		log.Warn("AUTH", "OIDC_ISSUER not set, accepting HMAC-signed development tokens")
		verifier = auth.NewHMACVerifier(cfg.HMACSecret)
	default:
		return nil, fmt.Errorf("either OIDC_ISSUER or AUTH_HMAC_SECRET must be set")
	}

	if cfg.CacheTTL > 0 {
		verifier = auth.NewCachedVerifier(verifier, redisClient, cfg.CacheTTL, log)
	}
	return verifier, nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println(".env file not found, using environment variables")
	}
	cfg := config.Load()

	log := logger.NewLogger("forging-service", cfg.Log.Dir)
	defer log.Close()
	log.Info("APP", "Starting Forging Service initialization")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bunDB, err := database.Open(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()

	if err := prepareSchema(ctx, bunDB, cfg.Database, log); err != nil {
		log.Fatal("MIGRATE", fmt.Sprintf("Failed to prepare schema: %v", err))
	}

	redisClient, err := forgingredis.Connect(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal("REDIS", fmt.Sprintf("Redis connection error: %v", err))
	}
	defer redisClient.Close()
	locks := forgingredis.NewRedis(redisClient, cfg.Redis.PledgeLockTTL, log)

	var notifier forging.Notifier = kafka.LogNotifier{Log: log}
	if cfg.Kafka.Enabled {
		if err := kafka.EnsureTopicsExist(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topics.All(), log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
		defer producer.Close()
		notifier = kafka.NewNotifier(producer, cfg.Kafka.Topics)
		log.Info("KAFKA", fmt.Sprintf("Kafka producer initialized for %v", cfg.Kafka.Brokers))
	} else {
		log.Warn("KAFKA", "Kafka disabled, notifications are only logged")
	}

	progress := sse.NewProgressEmitter()
	service := forging.NewForgingService(&db.DB{Bun: bunDB}, locks, notifier, progress, log)

	if cfg.Scheduler.Enabled {
		manager, err := scheduler.NewManager(log)
		if err != nil {
			log.Fatal("SCHEDULER", err.Error())
		}
		job := scheduler.NewResolveJob(service, locks, cfg.Scheduler.Interval, cfg.Scheduler.LeaseTTL, log)
		if err := manager.Register(job); err != nil {
			log.Fatal("SCHEDULER", err.Error())
		}
		manager.Start()
		defer manager.Stop()
	}

	verifier, err := buildVerifier(ctx, cfg.Auth, redisClient, log)
	if err != nil {
		log.Fatal("AUTH", err.Error())
	}

	handler := api.NewHandler(service, progress, log, cfg.Auth.AdminRole)
	analyticsHandler := analytics_api.NewHandler(analytics.NewService(bunDB), log)

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(api.RequestLogger(log))

	// --- Public Routes ---
	r.Get("/api/forging/health", handler.Health)

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(verifier, log))
		r.Route("/api", func(r chi.Router) {
			handler.RegisterRoutes(r)
			analyticsHandler.RegisterRoutes(r)
		})
		log.Info("ROUTER", "Forging routes registered under /api/forging and /api/analytics/forging")
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Forging Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP", fmt.Sprintf("HTTP server error: %v", err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "✅ Forging Service shutdown complete")
	}
	os.Stdout.Sync()
}
