package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/raulshma/etlez-sub001/internal/config"
	"github.com/raulshma/etlez-sub001/internal/connectors"
	"github.com/raulshma/etlez-sub001/internal/events"
	"github.com/raulshma/etlez-sub001/internal/handlers"
	"github.com/raulshma/etlez-sub001/internal/loader"
	"github.com/raulshma/etlez-sub001/internal/repositories"
	"github.com/raulshma/etlez-sub001/internal/services"
	"github.com/raulshma/etlez-sub001/pkg/logger"
	"github.com/raulshma/etlez-sub001/pkg/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	log.Info("starting etlez",
		zap.String("port", cfg.Server.Port),
		zap.Bool("persistent", cfg.Database.DSN != ""))

	health := handlers.NewHealth()

	repos, db := buildRepositories(cfg, log)
	if db != nil {
		health.AddCheck("database", func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		})
	}

	publisher, redisClient := buildPublisher(cfg, log)
	if redisClient != nil {
		health.AddCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
		defer redisClient.Close()
	}

	var mgr *metrics.Manager
	if cfg.Monitoring.Enabled {
		mgr = metrics.NewManager()
	}

	registry := connectors.NewRegistry()
	ldr := loader.New(registry, log)

	service := services.NewPipelineService(
		repos, ldr, cfg.ExecutionPolicy(), publisher, mgr,
		cfg.Engine.MaxConcurrentRuns, log)

	scheduler := services.NewScheduler(service, log)

	if cfg.Pipelines.Dir != "" {
		registerPipelineDir(cfg.Pipelines.Dir, service, log)
	}
	if err := scheduler.LoadFromStore(context.Background()); err != nil {
		log.Warn("failed to load schedules", zap.Error(err))
	}
	scheduler.Start()

	app := fiber.New(fiber.Config{
		AppName:      "etlez",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		ErrorHandler: errorHandler(log),
	})
	app.Use(fiberrecover.New())
	app.Use(requestid.New())
	app.Use(handlers.RequestLogger(log))

	health.Register(app)
	if mgr != nil {
		metricsHandler := fasthttpadaptor.NewFastHTTPHandler(mgr.Handler())
		app.Get(cfg.Monitoring.MetricsPath, func(c *fiber.Ctx) error {
			metricsHandler(c.Context())
			return nil
		})
	}

	api := app.Group("/api/v1", handlers.JWTAuth(cfg.Auth.JWTSecret, log))
	handlers.NewPipelineHandler(service, scheduler, log).Register(api)

	go func() {
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		if err := app.Listen(addr); err != nil {
			log.Fatal("server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := service.Shutdown(shutdownCtx); err != nil {
		log.Warn("executions did not drain", zap.Error(err))
	}
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Warn("server shutdown failed", zap.Error(err))
	}
	log.Info("stopped")
}

// buildRepositories opens postgres-backed storage when a DSN is configured,
// otherwise falls back to in-memory repositories.
func buildRepositories(cfg *config.Config, log *zap.Logger) (*repositories.Repositories, *gorm.DB) {
	if cfg.Database.DSN == "" {
		log.Info("no database configured, using in-memory repositories")
		return repositories.NewMemoryRepositories(), nil
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal("failed to access database pool", zap.Error(err))
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	repos, err := repositories.NewGormRepositories(db)
	if err != nil {
		log.Fatal("failed to migrate schema", zap.Error(err))
	}
	return repos, db
}

// buildPublisher returns a redis-backed event publisher when configured,
// otherwise the in-process bus.
func buildPublisher(cfg *config.Config, log *zap.Logger) (events.Publisher, *redis.Client) {
	if cfg.Redis.URL == "" {
		return events.NewBus(log), nil
	}
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatal("invalid redis url", zap.Error(err))
	}
	client := redis.NewClient(opts)
	return events.NewRedisPublisher(client, cfg.Redis.EventChannel, cfg.Redis.PublishTimeout, log), client
}

// registerPipelineDir loads every YAML definition in dir. Bad definitions
// are logged and skipped so one broken file cannot block startup.
func registerPipelineDir(dir string, service *services.PipelineService, log *zap.Logger) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Warn("cannot read pipelines dir", zap.String("dir", dir), zap.Error(err))
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn("cannot read pipeline file", zap.String("path", path), zap.Error(err))
			continue
		}
		def, err := service.Register(context.Background(), data)
		if err != nil {
			log.Warn("skipping invalid pipeline file", zap.String("path", path), zap.Error(err))
			continue
		}
		log.Info("pipeline loaded from file",
			zap.String("path", path),
			zap.String("pipeline_id", def.ID))
	}
}

// errorHandler renders fiber errors as JSON envelopes.
func errorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		if fe, ok := err.(*fiber.Error); ok {
			code = fe.Code
		}
		if code >= fiber.StatusInternalServerError {
			log.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
		}
		return c.Status(code).JSON(fiber.Map{"error": err.Error()})
	}
}
