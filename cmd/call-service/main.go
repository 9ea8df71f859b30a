package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"duet-backend/internal/database"
	callHandler "duet-backend/internal/handler/http/call"
	pushHandler "duet-backend/internal/handler/http/push"
	wsHandler "duet-backend/internal/handler/ws"
	"duet-backend/internal/middleware"
	"duet-backend/internal/repository/cockroach"
	redisRepo "duet-backend/internal/repository/redis"
	"duet-backend/internal/service/notify"
	"duet-backend/internal/signaling"
	"duet-backend/pkg/config"
	"duet-backend/pkg/constants"
	"duet-backend/pkg/jwt"
	"duet-backend/pkg/logger"
	"duet-backend/pkg/metrics"
	"duet-backend/pkg/push"
	"duet-backend/pkg/resilience"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Configuration and logging
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	log := logger.With(zap.String("service", cfg.Server.ServiceName))
	if cfg.JWT.Secret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)
	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)

	// 2. CockroachDB with exponential backoff retry
	var db *database.DB
	retrier := resilience.NewRetrier(resilience.DefaultBackoff, log)
	err = retrier.Do(ctx, "connect cockroachdb", func(ctx context.Context) error {
		var connErr error
		db, connErr = database.NewDB(ctx, cfg.Database)
		return connErr
	})
	if err != nil {
		log.Fatal("Failed to connect to CockroachDB", zap.Error(err))
	}
	defer db.Close()
	log.Info("Connected to CockroachDB")

	if err := cockroach.Migrate(ctx, db.Pool); err != nil {
		log.Fatal("Failed to migrate schema", zap.Error(err))
	}

	historyRepo := cockroach.NewCallHistoryRepository(db.Pool)
	settingsRepo := cockroach.NewChatSettingsRepository(db.Pool)

	// 3. Redis with degraded mode tracking
	redisDB := database.NewRedisDB(cfg.Redis, appMetrics)
	defer redisDB.Close()
	if err := redisDB.HealthCheck(ctx); err != nil {
		log.Warn("Redis unavailable at startup, signaling is degraded", zap.Error(err))
	} else {
		log.Info("Connected to Redis", zap.String("addr", cfg.RedisAddr()))
	}
	redisDB.StartHealthCheck(ctx, 10*time.Second)

	// 4. Signaling transport
	cipher, err := signaling.CipherFromKey(cfg.Call.SignalKey)
	if err != nil {
		log.Fatal("Invalid CALL_SIGNAL_KEY", zap.Error(err))
	}
	if cipher == nil {
		log.Warn("CALL_SIGNAL_KEY not set, signal payloads travel unsealed")
	}
	transport := signaling.NewRedisTransport(redisDB.Client, cipher, log)
	roomRepo := redisRepo.NewRoomRepository(redisDB.Client, cfg.Call.RoomTTL)

	// 5. Push notifications
	pushProvider, err := push.NewProvider(ctx, cfg.Push)
	if err != nil {
		if cfg.Server.Environment == "production" {
			log.Fatal("Failed to initialize push provider", zap.Error(err))
		}
		log.Warn("Push provider unavailable, falling back to mock", zap.Error(err))
		pushProvider = &push.MockProvider{}
	}
	pushService := push.NewService(pushProvider, redisRepo.NewPushTokenRepository(redisDB.Client))
	notifier := notify.NewService(settingsRepo, pushService, appMetrics,
		notify.WithSettingsCache(30*time.Second, 10000))
	log.Info("Push provider ready", zap.String("provider", pushService.ProviderName()))

	// 6. Handlers
	hub := wsHandler.NewSignalingHub(transport, wsHandler.Config{
		MaxRoomSize:    cfg.Call.MaxRoomSize,
		AllowedOrigins: middleware.AllowedOrigins(),
	},
		wsHandler.WithRooms(roomRepo),
		wsHandler.WithNotifier(notifier),
		wsHandler.WithMetrics(appMetrics),
		wsHandler.WithLogger(log),
	)
	calls := callHandler.NewHandler(historyRepo, roomRepo)
	pushTokens := pushHandler.NewHandler(pushService)

	roomLimiter := middleware.NewRateLimiter(redisDB.Client, "ratelimit:rooms", 20, time.Minute)
	dbLimiter := middleware.NewDBPoolLimiter(db)

	// 7. Router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORSMiddleware(middleware.AllowedOrigins()))
	router.Use(middleware.NewPrometheusMiddleware(appMetrics).Handler())

	router.GET("/health", func(c *gin.Context) {
		status := "healthy"
		if redisDB.IsDegraded() {
			status = "degraded"
		}
		c.JSON(http.StatusOK, gin.H{
			"status":      status,
			"service":     cfg.Server.ServiceName,
			"connections": hub.Connections(),
			"time":        time.Now().UTC(),
		})
	})
	router.GET(middleware.GetMetricsPath(), middleware.MetricsHandler(appMetrics))

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager))
	{
		// Long-lived, so no request timeout
		v1.GET("/calls/ws", hub.ServeWS)

		rest := v1.Group("")
		rest.Use(middleware.Timeout(constants.DefaultTimeout))
		rest.GET("/calls/history", dbLimiter.Middleware(), calls.ListHistory)
		rest.POST("/rooms", roomLimiter.Middleware(), calls.CreateRoom)
		rest.GET("/rooms/:id", calls.GetRoom)
		rest.POST("/push/tokens", pushTokens.RegisterToken)
		rest.DELETE("/push/tokens", pushTokens.UnregisterToken)
	}

	// 8. Serve until signalled
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Call service starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("websocket", "/v1/calls/ws"))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	// Hijacked websockets are not tracked by http.Server
	if err := hub.Shutdown(shutdownCtx); err != nil {
		log.Warn("Signaling connections did not close in time", zap.Error(err))
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}
