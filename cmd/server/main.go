package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	config "github.com/maheshrc27/crosspost/configs"
	"github.com/maheshrc27/crosspost/internal/api/handlers"
	"github.com/maheshrc27/crosspost/internal/api/middleware"
	"github.com/maheshrc27/crosspost/internal/connector"
	"github.com/maheshrc27/crosspost/internal/database"
	job "github.com/maheshrc27/crosspost/internal/jobs"
	"github.com/maheshrc27/crosspost/internal/publisher"
	"github.com/maheshrc27/crosspost/internal/queue"
	"github.com/maheshrc27/crosspost/internal/repository"
	"github.com/maheshrc27/crosspost/internal/service"
	"github.com/maheshrc27/crosspost/pkg/observability"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: Failed to load environment variables", err)
	}

	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger, err := observability.InitLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	meterProvider, metricsHandler, err := observability.InitTelemetry()
	if err != nil {
		appLogger.Fatal("failed to init telemetry", zap.Error(err))
	}

	pg, err := database.NewPostgres(ctx, cfg.Postgres.URI)
	if err != nil {
		appLogger.Fatal("database is unreachable", zap.Error(err))
	}
	defer closeDB(pg)

	if err := pg.Migrate(); err != nil {
		appLogger.Fatal("failed to run migrations", zap.Error(err))
	}

	rdb, err := database.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		appLogger.Fatal("redis is unreachable", zap.Error(err))
	}
	defer rdb.Close()

	redisConn := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
	client := asynq.NewClient(redisConn)
	defer client.Close()

	vendorClient := &http.Client{Timeout: 30 * time.Second}
	connectors := connector.NewDefaultRegistry(cfg, connector.Options{HTTPClient: vendorClient})
	publishers := publisher.NewDefaultRegistry(cfg, publisher.Options{HTTPClient: vendorClient})

	presigner, err := service.NewR2Presigner(ctx, cfg.R2)
	if err != nil {
		appLogger.Fatal("failed to configure media storage", zap.Error(err))
	}

	store := repository.NewStore(pg.DB)
	metrics := service.NewMetrics()

	quotaService := service.NewQuotaService(store)
	authService := service.NewAuthService(cfg, store)
	userService := service.NewUserService(store)
	profileService := service.NewProfileService(store, quotaService)
	connectionService := service.NewConnectionService(store, connectors,
		connector.NewStateCodec(cfg.SecretKey, cfg.StateTTL.Duration), quotaService, metrics, cfg.SecretKey)
	postService := service.NewPostService(store, publishers, quotaService, publisher.LogCompensator{},
		queue.NewScheduler(client), metrics, cfg.SecretKey, cfg.Publishing.TransactionTimeout.Duration)
	mediaService := service.NewMediaService(presigner, cfg.R2)
	rateLimiter := service.NewRateLimiter(rdb)

	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			if code == fiber.StatusInternalServerError {
				zap.L().Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.FrontendURL,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	app.Get("/metrics", adaptor.HTTPHandler(metricsHandler))

	auth := handlers.NewAuthHandler(cfg, authService)
	app.Get("/login", auth.Login)
	app.Get("/login/callback", auth.LoginCallbackHandler)
	app.Post("/logout", auth.Logout)

	authMiddleware := middleware.NewAuthMiddleware(cfg)
	limit := middleware.RateLimit(rateLimiter, cfg.RateLimit.Requests, cfg.RateLimit.Window.Duration, middleware.UserKey)

	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	user := handlers.NewUserHandler(userService)
	api.Get("/user/info", user.GetUserInfo)

	profiles := handlers.NewProfileHandler(profileService)
	api.Get("/profiles", profiles.ListProfiles)
	api.Post("/profiles", profiles.CreateProfile)
	api.Post("/profiles/remove", profiles.RemoveProfile)

	connections := handlers.NewConnectionHandler(connectionService)
	api.Post("/connections/:platform/initiate", limit, connections.Initiate)
	api.Post("/connections/:platform/complete", connections.Complete)

	// social accounts api routes
	api.Get("/accounts", connections.ListAccounts)
	api.Post("/accounts/remove", connections.RemoveAccount)
	api.Post("/accounts/validate", connections.ValidateAccount)

	post := handlers.NewPostHandler(postService)
	api.Post("/posts", limit, post.CreatePost)
	api.Get("/posts", post.ListPosts)
	api.Post("/posts/remove", post.RemovePost)

	media := handlers.NewMediaHandler(mediaService)
	api.Post("/media/upload-url", media.UploadURL)

	usage := handlers.NewUsageHandler(quotaService)
	api.Get("/usage", usage.GetUsage)
	api.Post("/usage/check", usage.CheckQuota)
	api.Post("/usage/record", usage.RecordUsage)

	// cron jobs
	cronRunner, err := job.Start(
		cfg.Publishing.SweepInterval.Duration,
		job.NewDuePostJob(postService, cfg.Publishing.TransactionTimeout.Duration*4),
		job.NewTokenRefreshJob(connectionService, cfg.Publishing.RefreshWindow.Duration),
	)
	if err != nil {
		appLogger.Fatal("failed to start cron", zap.Error(err))
	}
	defer cronRunner.Stop()

	//queue
	worker := asynq.NewServer(redisConn, asynq.Config{
		Concurrency: 10,
	})
	mux := asynq.NewServeMux()
	queue.NewWorker(postService).Register(mux)

	go func() {
		appLogger.Info("starting the asynq server")
		if err := worker.Run(mux); err != nil {
			appLogger.Fatal("could not start asynq server", zap.Error(err))
		}
	}()

	go func() {
		if err := app.Listen(":" + cfg.Server.Port); err != nil {
			appLogger.Fatal("failed to start server", zap.Error(err))
		}
	}()
	appLogger.Info("server is running", zap.String("port", cfg.Server.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	appLogger.Info("shutting down server")

	if err := app.Shutdown(); err != nil {
		appLogger.Error("failed to shut down server", zap.Error(err))
	}
	worker.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := observability.Shutdown(shutdownCtx, meterProvider, appLogger); err != nil {
		log.Printf("telemetry shutdown: %v", err)
	}
}

func closeDB(pg *database.Postgres) {
	if err := pg.Close(); err != nil {
		zap.L().Error("failed to close database", zap.Error(err))
		return
	}
	zap.L().Info("database connection closed")
}
