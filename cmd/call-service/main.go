package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	intDatabase "peercall-backend/internal/database"
	callHandler "peercall-backend/internal/handler/http/call"
	pushHandler "peercall-backend/internal/handler/http/push"
	wsHandler "peercall-backend/internal/handler/ws"
	"peercall-backend/internal/jobs"
	"peercall-backend/internal/middleware"
	"peercall-backend/internal/registry"
	cassandraRepo "peercall-backend/internal/repository/cassandra"
	"peercall-backend/internal/repository/cockroach"
	redisRepo "peercall-backend/internal/repository/redis"
	callService "peercall-backend/internal/service/call"
	conversationService "peercall-backend/internal/service/conversation"
	signalService "peercall-backend/internal/service/signal"
	"peercall-backend/pkg/constants"
	pkgDatabase "peercall-backend/pkg/database"
	"peercall-backend/pkg/env"
	"peercall-backend/pkg/jwt"
	"peercall-backend/pkg/logger"
	"peercall-backend/pkg/push"
)

func main() {
	ctx := context.Background()

	// 1. Structured logging
	logger.InitDefault()
	defer logger.Sync()

	// 2. Setup JWT Manager
	jwtSecret := env.GetStringFromFile("JWT_SECRET", "")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}
	if len(jwtSecret) < 32 {
		log.Fatal("JWT_SECRET must be at least 32 characters")
	}

	jwtManager := jwt.NewJWTManager(jwtSecret, constants.AccessTokenExpiry)

	// 3. Connect to CockroachDB with exponential backoff retry
	dbConfig := &pkgDatabase.CockroachConfig{
		Host:     env.GetString("DB_HOST", "localhost"),
		Port:     env.GetInt("DB_PORT", 26257),
		User:     env.GetString("DB_USER", "root"),
		Password: env.GetStringFromFile("DB_PASSWORD", ""),
		Database: env.GetString("DB_NAME", "peercall"),
		SSLMode:  env.GetString("DB_SSL_MODE", "disable"),
	}

	var db *pkgDatabase.CockroachDB
	var err error

	maxRetries := 5
	baseDelay := 1 * time.Second
	maxDelay := 30 * time.Second

	db, err = pkgDatabase.NewCockroachDB(ctx, dbConfig)
	if err != nil {
		for attempt := 2; attempt <= maxRetries; attempt++ {
			delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt-1)))
			if delay > maxDelay {
				delay = maxDelay
			}
			log.Printf("⚠️  CockroachDB connection attempt %d failed: %v. Retrying in %v...", attempt-1, err, delay)
			time.Sleep(delay)

			db, err = pkgDatabase.NewCockroachDB(ctx, dbConfig)
			if err == nil {
				break
			}
		}
	}
	if err != nil {
		log.Fatalf("Failed to connect to CockroachDB after %d attempts: %v", maxRetries, err)
	}
	defer db.Close()
	log.Println("✅ Connected to CockroachDB")

	callRepo := cockroach.NewCallRepository(db.Pool)
	conversationRepo := cockroach.NewConversationRepository(db.Pool)
	userRepo := cockroach.NewUserRepository(db.Pool)

	// 4. Initialize Redis with degraded mode support
	redisConfig := &intDatabase.RedisConfig{
		Host:     env.GetString("REDIS_HOST", "localhost"),
		Port:     env.GetInt("REDIS_PORT", 6379),
		Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
		DB:       0,
		PoolSize: 10,
		Timeout:  5 * time.Second,
	}

	redisDB, err := intDatabase.NewRedisDB(redisConfig)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisDB.Close()
	log.Println("✅ Connected to Redis")

	go redisDB.StartHealthCheck(ctx, 10*time.Second)

	callCacheRepo := redisRepo.NewCallCacheRepository(redisDB)
	pushTokenRepo := redisRepo.NewPushTokenRepository(redisDB)

	// 5. Cassandra message log is optional; call outcome records are skipped
	// without it
	var messageRepo *cassandraRepo.MessageRepository
	if hosts := env.GetString("CASSANDRA_HOSTS", ""); hosts != "" {
		cassandraConfig := &pkgDatabase.CassandraConfig{
			Hosts:    []string{hosts},
			Keyspace: env.GetString("CASSANDRA_KEYSPACE", "peercall"),
			Username: env.GetString("CASSANDRA_USER", ""),
			Password: env.GetStringFromFile("CASSANDRA_PASSWORD", ""),
			Timeout:  10 * time.Second,
		}
		cassandraDB, err := pkgDatabase.NewCassandraDB(cassandraConfig)
		if err != nil {
			log.Printf("Warning: Failed to connect to Cassandra: %v", err)
			log.Println("Running without call outcome records")
		} else {
			defer cassandraDB.Close()
			messageRepo = cassandraRepo.NewMessageRepository(cassandraDB.Session)
			log.Println("✅ Connected to Cassandra")
		}
	}

	// 6. Push provider
	pushProvider, err := push.NewProvider()
	if err != nil {
		log.Fatalf("Failed to initialize push provider: %v", err)
	}
	pushSvc := push.NewService(pushProvider, pushTokenRepo)

	// 7. Presence registry and WebSocket hub
	reg := registry.New()
	hub := wsHandler.NewCallHub(reg, redisDB, jwtManager)

	// 8. Services
	conversationSvc := conversationService.NewService(conversationRepo, messageStoreOrNil(messageRepo))

	callSvc := callService.NewService(
		callRepo,
		userRepo,
		conversationSvc,
		callCacheRepo,
		hub,
		reg,
		pushSvc,
		callService.Config{
			RingTimeout:       env.GetDuration("CALL_RING_TIMEOUT", constants.DefaultRingTimeout),
			MaxCallsPerWindow: env.GetInt("CALL_MAX_PER_WINDOW", constants.MaxCallsPerWindow),
			RateWindow:        env.GetDuration("CALL_RATE_WINDOW", constants.CallRateWindow),
		},
	)

	signalSvc := signalService.NewService(callCacheRepo, callRepo)

	hub.SetServices(callSvc, signalSvc)
	go hub.Run()

	// 9. Ring sweeper reclaims calls orphaned by restarts
	sweeperCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	sweeper := jobs.NewRingSweeper(callSvc, constants.RingSweepInterval, constants.RingSweepBatchSize)
	go sweeper.Run(sweeperCtx)

	// 10. HTTP handlers and router
	callHdlr := callHandler.NewHandler(callSvc)
	pushHdlr := pushHandler.NewHandler(pushSvc)

	router := gin.New()

	trustedProxies := []string{}
	if os.Getenv("ENV") != "production" {
		trustedProxies = []string{"127.0.0.1"}
	}
	router.SetTrustedProxies(trustedProxies)

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.Prometheus())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "healthy",
			"service": "call-service",
			"time":    time.Now().UTC(),
		})
	})

	router.GET("/metrics", middleware.MetricsHandler())

	// Call routes (all require authentication)
	v1 := router.Group("/v1/calls")
	v1.Use(middleware.AuthMiddleware(jwtManager))
	{
		v1.POST("/start", callHdlr.StartCall)
		v1.POST("/:id/accept", callHdlr.AcceptCall)
		v1.POST("/:id/decline", callHdlr.DeclineCall)
		v1.POST("/:id/end", callHdlr.EndCall)
		v1.POST("/:id/media", callHdlr.ToggleMedia)
		v1.GET("/active", callHdlr.GetActiveCall)
		v1.GET("/history", callHdlr.GetCallHistory)
		v1.GET("/:id", callHdlr.GetCall)
	}

	// Push token routes (all require authentication)
	pushRoutes := router.Group("/v1/push")
	pushRoutes.Use(middleware.AuthMiddleware(jwtManager))
	{
		pushRoutes.POST("/tokens", pushHdlr.RegisterToken)
		pushRoutes.DELETE("/tokens", pushHdlr.UnregisterToken)
		pushRoutes.DELETE("/tokens/all", pushHdlr.UnregisterAllTokens)
	}

	// WebSocket endpoint; identity travels in-band, not via the auth header
	router.GET("/v1/ws/calls", hub.ServeWS)

	// 11. Start server with graceful shutdown
	port := env.GetString("PORT", "8084")
	addr := fmt.Sprintf(":%s", port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		log.Printf("🚀 Call Service starting on port %s\n", port)
		log.Println("📡 WebSocket endpoint: /v1/ws/calls")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	stopSweeper()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// messageStoreOrNil keeps the conversation service's nil check honest: a
// typed nil pointer must not reach the interface value.
func messageStoreOrNil(repo *cassandraRepo.MessageRepository) conversationService.MessageStore {
	if repo == nil {
		return nil
	}
	return repo
}
