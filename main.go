package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"chat-sync/internal/auth"
	"chat-sync/internal/config"
	"chat-sync/internal/db"
	"chat-sync/internal/handlers"
	"chat-sync/internal/middleware"
	"chat-sync/internal/observability"
	"chat-sync/internal/realtime"
	"chat-sync/internal/repositories"
	"chat-sync/internal/search"
	"chat-sync/internal/transport"
	"chat-sync/internal/ws"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTLPEndpoint, cfg.Environment)
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()

	roomRepo := repositories.NewRoomRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	bus := transport.New(cfg.AMQPURL, cfg.AMQPExchange)
	defer bus.Close()

	validator := auth.NewValidator(cfg.AuthURL)

	clientConfig := realtime.ClientConfig{
		Backoff: realtime.BackoffConfig{
			Base:           cfg.BackoffBase,
			Cap:            cfg.BackoffCap,
			MaxRetryWindow: cfg.MaxRetryWindow,
		},
		Presence: realtime.PresenceConfig{
			HeartbeatInterval: cfg.HeartbeatInterval,
			Timeout:           cfg.PresenceTimeout,
			SweepInterval:     cfg.SweepInterval,
		},
		Typing: realtime.TypingConfig{
			Debounce: cfg.TypingDebounce,
			TTL:      cfg.TypingTTL,
		},
		Store: realtime.StoreConfig{
			PageSize:          cfg.PageSize,
			MaxContentLength:  cfg.MaxContentLength,
			SendRatePerMinute: cfg.SendRatePerMinute,
			TombstoneAlways:   cfg.TombstoneAlways,
		},
	}
	clientFactory := func(userID string) *realtime.Client {
		return realtime.NewClient(userID, bus, messageRepo, clientConfig)
	}

	engine := search.NewEngine(messageRepo, nil, cfg.SuggestionHistory)

	registry := ws.NewRegistry()

	messageHandler := handlers.NewMessageHandler(roomRepo, messageRepo, bus, cfg.PageSize, cfg.MaxContentLength)
	roomHandler := handlers.NewRoomHandler(roomRepo)
	searchHandler := handlers.NewSearchHandler(engine, roomRepo, cfg.SearchLimit)
	roomWS := ws.NewRoomWebSocketHandler(registry, roomRepo, validator, clientFactory)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(otelgin.Middleware("chat-sync"))
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authMiddleware := middleware.AuthMiddleware(validator)

	router.GET("/rooms", authMiddleware, roomHandler.ListRooms)
	router.GET("/rooms/:room_id/roster", authMiddleware, roomHandler.GetRoster)

	router.GET("/rooms/:room_id/messages", authMiddleware, messageHandler.GetMessages)
	router.POST("/rooms/:room_id/messages", authMiddleware, messageHandler.PostMessage)
	router.PATCH("/rooms/:room_id/messages/:message_id", authMiddleware, messageHandler.EditMessage)
	router.DELETE("/rooms/:room_id/messages/:message_id", authMiddleware, messageHandler.DeleteMessage)
	router.POST("/rooms/:room_id/messages/:message_id/reactions", authMiddleware, messageHandler.AddReaction)
	router.DELETE("/rooms/:room_id/messages/:message_id/reactions/:emoji", authMiddleware, messageHandler.RemoveReaction)

	router.GET("/search", authMiddleware, searchHandler.Search)
	router.GET("/search/suggestions", authMiddleware, searchHandler.Suggest)

	router.GET("/ws/rooms/:room_id", roomWS.Handle)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("listening on :%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down")

	registry.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("tracing shutdown: %v", err)
	}
}
