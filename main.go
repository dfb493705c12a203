package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"LIBRA-backend/internal/books"
	"LIBRA-backend/internal/borrowings"
	"LIBRA-backend/internal/fees"
	"LIBRA-backend/internal/notify"
	"LIBRA-backend/internal/payments"
	"LIBRA-backend/internal/platform/auth"
	"LIBRA-backend/internal/platform/circuitbreaker"
	"LIBRA-backend/internal/platform/clock"
	"LIBRA-backend/internal/platform/config"
	"LIBRA-backend/internal/platform/db"
	"LIBRA-backend/internal/platform/middleware"
)

const serviceName = "libra-backend"

func main() {
	// 設定読み込み
	cfgPath := config.DefaultPath
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Mode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("Starting", zap.String("mode", cfg.Mode), zap.String("version", cfg.Version))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- DB ----
	conn, err := db.Connect(ctx, cfg.DB, logger)
	if err != nil {
		logger.Fatal("Failed to connect database", zap.Error(err))
	}
	defer conn.Close()
	if err := db.Migrate(ctx, conn); err != nil {
		logger.Fatal("Failed to migrate schema", zap.Error(err))
	}
	logger.Info("Connected to DB", zap.String("dbname", cfg.DB.DBName))

	// ---- Tracing ----
	shutdownTracing, err := middleware.InitTracing(serviceName)
	if err != nil {
		logger.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer shutdownTracing(context.Background())

	// ---- Book cache ----
	var cache books.Cache = books.NopCache{}
	if cfg.Redis.Enabled {
		rdb, err := books.InitRedis(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Fatal("Failed to connect Redis", zap.Error(err))
		}
		defer rdb.Close()
		cache = books.NewRedisCache(rdb, cfg.Redis.TTL)
	}

	// ---- Notifications ----
	var sink notify.Sink = notify.LogSink{Logger: logger}
	if cfg.Kafka.Enabled {
		var producer sarama.SyncProducer
		producer, err = notify.InitProducer(cfg.Kafka, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Kafka producer", zap.Error(err))
		}
		defer producer.Close()
		sink = notify.NewKafkaSink(producer, cfg.Kafka.Topic, logger)
	}
	dispatcher := notify.NewDispatcher(sink, cfg.Notify.QueueSize, logger)
	dispatcher.Start()
	defer dispatcher.Close()

	// ---- Services ----
	coeff, err := cfg.FineCoefficient()
	if err != nil {
		logger.Fatal("Invalid fine coefficient", zap.Error(err))
	}
	calc, err := fees.NewCalculator(coeff)
	if err != nil {
		logger.Fatal("Invalid fine coefficient", zap.Error(err))
	}

	bookSvc := books.NewService(conn, cache, logger)
	paymentSvc := payments.NewService(conn,
		payments.NewStripeProvider(cfg.Stripe.SecretKey),
		circuitbreaker.NewCircuitBreaker(cfg.Stripe.MaxFailures, cfg.Stripe.ResetTimeout),
		dispatcher,
		payments.Options{PublicBaseURL: cfg.Server.PublicBaseURL, Currency: cfg.Stripe.Currency},
		logger,
	)
	borrowingSvc := borrowings.NewService(conn, borrowings.Deps{
		Calculator: calc,
		Catalog:    bookSvc,
		Checkout:   paymentSvc,
		Notifier:   dispatcher,
		Clock:      clock.Real{},
		IDs:        clock.ULIDGen{},
	}, logger)

	// 延滞チェック（1日1回）
	if cfg.Sweep.Enabled {
		sweeper := notify.NewSweeper(borrowingSvc.Store(), dispatcher, clock.Real{}, cfg.Sweep.Interval, logger)
		go sweeper.Run(ctx)
	}

	// ---- HTTP ----
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(middleware.LoggerMiddleware(logger))
	r.Use(middleware.MetricsMiddleware())
	_ = r.SetTrustedProxies(nil)

	if cfg.Mode == "dev" {
		// CORS（開発中のみ必要）
		r.Use(cors.New(cors.Config{
			AllowOrigins:     []string{"http://localhost:3000"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowCredentials: true,
		}))
	}

	// ヘルス
	r.GET("/healthz", func(c *gin.Context) {
		if err := conn.PingContext(c.Request.Context()); err != nil {
			c.String(http.StatusServiceUnavailable, "db unavailable")
			return
		}
		c.String(http.StatusOK, "ok")
	})
	r.GET("/metrics", middleware.PrometheusHandler())

	// /api/v1
	api := r.Group("/api/v1")
	authed := api.Group("", auth.RequireAuth([]byte(cfg.Auth.JWTSecret)))

	books.RegisterRoutes(api, bookSvc)
	borrowings.RegisterRoutes(authed, borrowingSvc)
	payments.RegisterRoutes(authed, paymentSvc)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		var err error
		if cfg.Certificate.Cert != "" && cfg.Certificate.Key != "" {
			// TLS設定（dev/release でディレクトリを分ける）
			certFile := fmt.Sprintf("config/tls/%s/%s", cfg.Mode, cfg.Certificate.Cert)
			keyFile := fmt.Sprintf("config/tls/%s/%s", cfg.Mode, cfg.Certificate.Key)
			logger.Info("Listening (TLS)", zap.String("addr", cfg.Server.Addr))
			err = srv.ListenAndServeTLS(certFile, keyFile)
		} else {
			logger.Info("Listening", zap.String("addr", cfg.Server.Addr))
			err = srv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
}

func newLogger(mode string) (*zap.Logger, error) {
	if mode == "release" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
