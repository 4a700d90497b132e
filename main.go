package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"event-passport/config"
	"event-passport/handlers"
	"event-passport/middleware"
	"event-passport/models"
	"event-passport/services"
	"event-passport/utils"
	"event-passport/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("invalid configuration: ", err)
	}
	utils.InitLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.PassportsDir, os.ModePerm); err != nil {
		log.Fatal("failed to ensure passports dir: ", err)
	}

	backend, redisClient := openProgressBackend(ctx, cfg)
	clock := clockwork.NewRealClock()

	catalog := services.NewPassportCatalog(cfg.PassportsDir)
	sessions := services.NewSessionManager(catalog, backend, clock, services.SessionConfig{
		UnlockDelay:          cfg.UnlockDelay,
		NotificationCooldown: cfg.NotificationCooldown,
	})
	streams := services.NewNotificationStreamService(sessions, cfg.StreamInterval)

	adminAuth, err := services.NewAdminAuth(cfg.AdminPasswordHash, cfg.AdminPassword, cfg.AdminJWTSecret, cfg.AdminTokenTTL, clock)
	if err != nil {
		log.Fatal("failed to configure admin auth: ", err)
	}
	if !adminAuth.Enabled() {
		log.Warn("⚠️  ADMIN_PASSWORD not set, admin editor disabled")
	}

	editor := services.NewAdminEditor(catalog, sessions, nil)
	r2 := utils.R2Config{
		AccountID:       cfg.CloudflareAccountID,
		AccessKeyID:     cfg.R2AccessKeyID,
		AccessKeySecret: cfg.R2AccessKeySecret,
		Bucket:          cfg.R2BucketName,
		CDNBaseURL:      cfg.CDNBaseURL,
	}
	if r2.Enabled() {
		mirror, err := utils.NewAssetMirror(ctx, r2)
		if err != nil {
			log.Fatal("failed to initialize R2 client: ", err)
		}
		editor.Mirror = mirror
		log.Printf("✅ Mirroring assets to R2 bucket %s", r2.Bucket)
	}

	janitor, err := sessions.StartSessionJanitor(cfg.JanitorInterval, cfg.SessionIdleTTL)
	if err != nil {
		log.Fatal("failed to start session janitor: ", err)
	}
	workers.NewPassportReloadWorker(catalog, sessions, cfg.ReloadInterval, clock).Start(ctx)

	app := fiber.New(fiber.Config{
		BodyLimit:    100 * 1024 * 1024, // bundles
		ErrorHandler: errorHandler,
	})

	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Join(cfg.AllowedOrigins, ","),
		AllowMethods:  "GET,POST,PUT,OPTIONS",
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, Cache-Control, " + middleware.VisitorIDHeader,
		ExposeHeaders: "Content-Length, Content-Type, Content-Disposition, Retry-After, " + middleware.VisitorIDHeader,
		MaxAge:        86400, // 24 hours
	}))

	handlers.SetupPassportRoutes(app, catalog)
	handlers.SetupProgressRoutes(app, &handlers.ProgressHandler{Sessions: sessions, Streams: streams},
		middleware.ScanRateLimitMiddleware(redisClient, cfg.ScanRateLimit, cfg.ScanRateWindow))
	handlers.SetupAdminRoutes(app, adminAuth, editor)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Errorf("Server error: %v", err)
		}
	}()

	log.Printf("✅ Server running on http://localhost:%s", cfg.Port)
	log.Printf("✅ Passports served from %s (storage: %s)", cfg.PassportsDir, cfg.StorageDriver)
	log.Printf("✅ CORS configured for origins: %s", strings.Join(cfg.AllowedOrigins, ","))

	<-ctx.Done()
	log.Println("Shutting down server...")
	if err := app.Shutdown(); err != nil {
		log.Errorf("shutdown: %v", err)
	}
	if err := janitor.Shutdown(); err != nil {
		log.Errorf("janitor shutdown: %v", err)
	}
	sessions.CloseAll()
	if redisClient != nil {
		redisClient.Close()
	}
}

// openProgressBackend connects the configured storage driver. The redis
// client, when there is one, is shared with the scan rate limiter.
func openProgressBackend(ctx context.Context, cfg *config.Config) (services.ProgressBackend, *redis.Client) {
	switch cfg.StorageDriver {
	case config.StoragePostgres:
		db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
		if err != nil {
			log.Fatal("failed to connect to database: ", err)
		}
		if err := db.AutoMigrate(&models.ProgressRow{}); err != nil {
			log.Fatal("failed to migrate database: ", err)
		}
		return services.NewGormProgressBackend(db), nil

	case config.StorageRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatal("failed to connect to redis: ", err)
		}
		return services.NewRedisProgressBackend(client), client
	}

	log.Warn("⚠️  STORAGE_DRIVER=memory, progress is lost on restart")
	return services.NewMemoryProgressBackend(), nil
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		log.Errorf("❌ [HTTP] %s %s: %v", c.Method(), c.Path(), err)
		return c.Status(code).JSON(fiber.Map{"error": "internal server error"})
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
