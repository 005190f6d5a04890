package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"

	"scifounders/config"
	controller "scifounders/controllers"
	"scifounders/emailfinder"
	"scifounders/middleware"
	"scifounders/routes"
	"scifounders/utils"
	"scifounders/worker"
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetOutput(os.Stdout)
	logger := logrus.WithField("component", "main")

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	cfg := config.AppConfig
	if cfg.Environment != "production" {
		logrus.SetLevel(logrus.DebugLevel)
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.Environment,
		}); err != nil {
			logger.WithError(err).Warn("Sentry initialization failed")
		}
		defer sentry.Flush(2 * time.Second)
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	if err := utils.InitMailer(cfg); err != nil {
		logger.WithError(err).Fatal("Failed to initialize mailer")
	}
	stripe.Key = cfg.StripeSecretKey

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		fastCache      emailfinder.PatternCache = emailfinder.NewMemoryPatternCache(cfg.Finder.CacheTTL)
		limiterStorage fiber.Storage
	)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer rdb.Close()
		fastCache = emailfinder.NewRedisPatternCache(rdb, cfg.Finder.CacheTTL)
		limiterStorage = middleware.NewRedisStorage(rdb)
		logger.WithField("address", cfg.Redis.Address).Info("Using Redis for pattern cache and rate limits")
	}

	prober := &utils.SMTPProber{
		HeloName: cfg.Finder.HeloName,
		MailFrom: cfg.Finder.MailFrom,
		Timeout:  cfg.Finder.SMTPTimeout,
	}
	resolver := utils.NewMXResolver(time.Hour)
	finder := emailfinder.New(
		resolver,
		prober,
		emailfinder.TieredPatternCache{
			Fast:  fastCache,
			Store: emailfinder.NewGormPatternStore(config.DB, cfg.Finder.CacheTTL),
		},
		emailfinder.WithFetcher(emailfinder.NewFastHTTPFetcher(15*time.Second, "SciFoundersBot/1.0 (+"+cfg.FrontendURL+")")),
		emailfinder.WithConfig(emailfinder.Config{
			MaxProbes:     cfg.Finder.MaxProbes,
			MinDelay:      cfg.Finder.MinDelay,
			MaxDelay:      cfg.Finder.MaxDelay,
			RatePerDomain: cfg.Finder.RatePerDomain,
		}),
		emailfinder.WithLogger(logrus.WithField("component", "finder")),
	)

	// Background workers
	finderWorker := worker.NewFinderWorker(config.DB, finder, cfg.Finder.BulkWorkers, logrus.WithField("component", "finder_worker"))
	go finderWorker.Start(ctx)

	if cfg.BounceIMAP.Enabled {
		bounceWorker := worker.NewBounceWorker(config.DB, finder, cfg.BounceIMAP, logrus.WithField("component", "bounces"))
		go bounceWorker.Start(ctx)
	}

	hub := controller.NewCommunityHub(logrus.WithField("component", "community_ws"))

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "scifounders",
		ErrorHandler: utils.FiberErrorHandler,
		BodyLimit:    2 * 1024 * 1024,
	})
	app.Use(recover.New())
	app.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSOrigins...)))

	routes.SetupRoutes(app, routes.Dependencies{
		DB:             config.DB,
		Finder:         finder,
		Queue:          finderWorker,
		Verifier:       &utils.AddressVerifier{Resolver: resolver, Prober: prober},
		Hub:            hub,
		LimiterStorage: limiterStorage,
		FinderPerMin:   cfg.Finder.RequestsPerMinute,
	})

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.WithError(err).Error("Server shutdown failed")
		}
	}()

	// Start server
	logger.WithField("port", cfg.ServerPort).Info("Server starting")
	if err := app.Listen(":" + cfg.ServerPort); err != nil {
		logger.WithError(err).Fatal("Failed to start server")
	}
}
