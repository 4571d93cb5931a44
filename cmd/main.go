package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"policy-lifecycle-service/internal/config"
	"policy-lifecycle-service/internal/database/minio"
	"policy-lifecycle-service/internal/database/postgres"
	"policy-lifecycle-service/internal/database/redis"
	"policy-lifecycle-service/internal/database/sqlite"
	"policy-lifecycle-service/internal/event"
	"policy-lifecycle-service/internal/handlers"
	"policy-lifecycle-service/internal/repository"
	"policy-lifecycle-service/internal/services"
	"policy-lifecycle-service/internal/worker"

	"github.com/gofiber/fiber/v3"
	"github.com/jmoiron/sqlx"
)

func setupLogging(logDir string) (*os.File, error) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("Recovered from panic: %v\n", r)
		}
	}()

	fmt.Println("Log directory:", logDir)
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %v", err)
	}

	logFileName := fmt.Sprintf("log_%s.log", time.Now().Format("2006-01-02"))
	logFile := filepath.Join(logDir, logFileName)

	file, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %v", err)
	}

	if absPath, err := filepath.Abs(logFile); err == nil {
		fmt.Printf("Logging to %s\n", absPath)
	}

	log.SetOutput(file)
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	slog.SetDefault(slog.New(slog.NewTextHandler(io.MultiWriter(os.Stdout, file), nil)))

	return file, nil
}

// openStore picks the policy store by STORE_DRIVER and returns the database
// handle to close on shutdown (nil for the in-memory store).
func openStore(cfg *config.PolicyServiceConfig) (repository.PolicyStore, *sqlx.DB, error) {
	switch cfg.StoreDriver {
	case "memory":
		log.Printf("Using in-memory policy store; data is lost on restart")
		return repository.NewMemoryPolicyStore(), nil, nil
	case "sqlite":
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewPolicyRepository(db), db, nil
	case "postgres", "":
		db, err := postgres.ConnectAndCreateDB(cfg.PostgresCfg)
		if err != nil {
			log.Printf("error connect to database: %s", err)
			// the engine cannot serve without a store, so block until it is reachable
			postgres.RetryConnectOnFailed(30*time.Second, &db, cfg.PostgresCfg)
		}
		return repository.NewPolicyRepository(db), db, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

func main() {
	cfg := config.New()

	logFile, err := setupLogging(cfg.LogDir)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer logFile.Close()

	store, db, err := openStore(cfg)
	if err != nil {
		log.Fatalf("Failed to open policy store: %v", err)
	}
	if db != nil {
		defer db.Close()
	}

	if cfg.RedisCfg.Enabled {
		redisClient, err := redis.NewRedisClient(cfg.RedisCfg)
		if err != nil {
			log.Printf("Redis unavailable, policy reads go straight to the store: %v", err)
		} else {
			defer redisClient.Close()
			store = repository.NewCachedPolicyStore(store, repository.NewRedisSnapshotCache(redisClient.GetClient()), cfg.RedisCfg.CacheTTL)
			log.Printf("Policy snapshot cache enabled (ttl=%s)", cfg.RedisCfg.CacheTTL)
		}
	}

	opts := []services.EngineOption{
		services.WithGracePeriodDays(cfg.EngineCfg.GracePeriodDays),
		services.WithRenewalChainMaxDepth(cfg.EngineCfg.RenewalChainMaxDepth),
	}

	if cfg.MinioCfg.Enabled {
		minioClient, err := minio.NewMinioClient(cfg.MinioCfg)
		if err != nil {
			log.Printf("MinIO unavailable, policy archiving is disabled: %v", err)
		} else {
			opts = append(opts, services.WithArchiveStorage(minioClient, minio.Storage.PolicyArchive))
		}
	}

	var rabbitConn *event.RabbitMQConnection
	if cfg.RabbitMQCfg.Enabled {
		rabbitConn, err = event.ConnectRabbitMQ(cfg.RabbitMQCfg)
		if err != nil {
			log.Printf("RabbitMQ unavailable, lifecycle events will not be published: %v", err)
			rabbitConn = nil
		} else {
			defer rabbitConn.Close()
			opts = append(opts, services.WithEventPublisher(event.NewLifecyclePublisher(rabbitConn)))
		}
	}

	engine := services.NewPolicyEngine(store, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	pool := worker.NewWorkingPool(cfg.EngineCfg.SweepWorkers, cfg.EngineCfg.SweepQueueSize)
	wg.Add(1)
	go pool.Start(ctx, &wg)

	sweep := services.NewPolicySweepService(engine, store, pool)
	scheduler := worker.NewJobScheduler("policy-sweep", cfg.EngineCfg.SweepInterval)
	scheduler.AddJob(sweep.Job())
	wg.Add(1)
	go scheduler.Run(ctx, &wg)

	if rabbitConn != nil {
		consumer := event.NewPaymentConsumer(rabbitConn, engine)
		if err := consumer.Start(ctx); err != nil {
			log.Printf("Failed to start payment consumer: %v", err)
		}
	}

	app := fiber.New()
	handlers.NewPolicyHandler(engine, sweep).Register(app)

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on port %s", cfg.Port)
		if err := app.Listen(fmt.Sprintf("0.0.0.0:%s", cfg.Port)); err != nil {
			log.Fatalf("Error starting server: %v", err)
		}
	}()

	<-shutdownChan
	log.Println("Shutting down server...")

	cancel()
	if err := app.Shutdown(); err != nil {
		log.Printf("Error shutting down server: %v", err)
	}
	wg.Wait()
	log.Println("Server stopped")
}
