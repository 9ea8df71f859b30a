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
	"github.com/google/uuid"
	"go.uber.org/zap"

	"duet-backend/internal/agent"
	"duet-backend/internal/database"
	"duet-backend/internal/domain"
	"duet-backend/internal/middleware"
	"duet-backend/internal/repository/cockroach"
	redisRepo "duet-backend/internal/repository/redis"
	"duet-backend/internal/rtc"
	"duet-backend/internal/rtc/pion"
	"duet-backend/internal/service/call"
	"duet-backend/internal/service/history"
	"duet-backend/internal/service/room"
	"duet-backend/internal/signaling"
	"duet-backend/pkg/config"
	"duet-backend/pkg/constants"
	"duet-backend/pkg/logger"
	"duet-backend/pkg/metrics"
	"duet-backend/pkg/resilience"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	if cfg.Agent.UserID == uuid.Nil {
		logger.Fatal("AGENT_USER_ID is required")
	}
	self := domain.Identity{UserID: cfg.Agent.UserID, Name: cfg.Agent.Name}
	log := logger.With(zap.String("service", "call-agent"), zap.String("user_id", self.UserID.String()))
	appMetrics := metrics.NewMetrics("call-agent")
	retrier := resilience.NewRetrier(resilience.DefaultBackoff, log)

	// History is written to CockroachDB in the background
	var db *database.DB
	err = retrier.Do(ctx, "connect cockroachdb", func(ctx context.Context) error {
		var connErr error
		db, connErr = database.NewDB(ctx, cfg.Database)
		return connErr
	})
	if err != nil {
		log.Fatal("Failed to connect to CockroachDB", zap.Error(err))
	}
	defer db.Close()
	if err := cockroach.Migrate(ctx, db.Pool); err != nil {
		log.Fatal("Failed to migrate schema", zap.Error(err))
	}
	recorder := history.NewRecorder(cockroach.NewCallHistoryRepository(db.Pool), cfg.Call.HistoryQueue,
		history.WithMetrics(appMetrics),
		history.WithLogger(log))

	// Signals travel over Redis; without it the agent cannot be reached
	redisDB := database.NewRedisDB(cfg.Redis, appMetrics)
	defer redisDB.Close()
	if err := retrier.Do(ctx, "connect redis", redisDB.HealthCheck); err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	redisDB.StartHealthCheck(ctx, 10*time.Second)

	cipher, err := signaling.CipherFromKey(cfg.Call.SignalKey)
	if err != nil {
		log.Fatal("Invalid CALL_SIGNAL_KEY", zap.Error(err))
	}
	transport := signaling.NewRedisTransport(redisDB.Client, cipher, log)

	// Media
	factory, err := pion.NewFactory(pion.Options{
		ICEDisconnectedTimeout: cfg.Call.ICEDisconnectedTimeout,
		ICEFailedTimeout:       cfg.Call.ICEFailedTimeout,
	}, log)
	if err != nil {
		log.Fatal("Failed to create peer connection factory", zap.Error(err))
	}
	source := pion.NewSampleSource(pion.Devices{Microphone: true, Camera: cfg.Agent.Video, Screen: true})
	media, err := rtc.NewManager(source, factory, cfg.Call.STUNServers, log)
	if err != nil {
		log.Fatal("Failed to create media manager", zap.Error(err))
	}

	calls := call.NewService(self, transport, media, recorder, call.Config{RingTimeout: cfg.Call.RingTimeout},
		call.WithLogger(log),
		call.WithMetrics(appMetrics.Calls))
	rooms := room.NewService(self, transport, media, room.Config{MaxParticipants: cfg.Call.MaxRoomSize},
		room.WithDirectory(redisRepo.NewRoomRepository(redisDB.Client, cfg.Call.RoomTTL)),
		room.WithLogger(log),
		room.WithMetrics(appMetrics.Rooms))

	a := agent.New(calls, agent.Config{
		AutoAnswer:  cfg.Agent.AutoAnswer,
		AnswerDelay: cfg.Agent.AnswerDelay,
		RoomID:      cfg.Agent.RoomID,
		Video:       cfg.Agent.Video,
	},
		agent.WithRoom(rooms),
		agent.WithLogger(log))

	// Health and metrics
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.Recovery())
	router.GET("/health", func(c *gin.Context) {
		status := "healthy"
		if redisDB.IsDegraded() {
			status = "degraded"
		}
		c.JSON(http.StatusOK, gin.H{
			"status":     status,
			"service":    "call-agent",
			"call_state": calls.State(),
			"time":       time.Now().UTC(),
		})
	})
	router.GET(middleware.GetMetricsPath(), middleware.MetricsHandler(appMetrics))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Health server stopped", zap.Error(err))
		}
	}()

	log.Info("Call agent running",
		zap.String("name", self.Name),
		zap.Bool("auto_answer", cfg.Agent.AutoAnswer),
		zap.Duration("answer_delay", cfg.Agent.AnswerDelay),
		zap.String("room_id", cfg.Agent.RoomID))

	if err := a.Run(ctx); err != nil {
		log.Error("Call agent stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()
	if err := recorder.Close(shutdownCtx); err != nil {
		log.Warn("History writes lost on shutdown", zap.Error(err))
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Call agent exited")
}
