package main

import (
	"context"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"realtime-chat/internal/db"
	"realtime-chat/internal/handlers"
	"realtime-chat/internal/identity"
	"realtime-chat/internal/middleware"
	"realtime-chat/internal/observability"
	"realtime-chat/internal/presence"
	"realtime-chat/internal/rabbitmq"
	"realtime-chat/internal/repositories"
	"realtime-chat/internal/telemetry"
	"realtime-chat/internal/ws"
)

const serviceName = "realtime-chat"

func main() {
	ctx := context.Background()

	shutdownTracing := telemetry.InitTracing(ctx, serviceName)
	defer shutdownTracing(ctx)

	database, err := db.Connect()
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	amqpURL := getEnv("AMQP_URL", "")
	eventsExchange := getEnv("AMQP_EVENTS_EXCHANGE", "chat.events")
	auditExchange := getEnv("AMQP_AUDIT_EXCHANGE", "chat.audit")

	if amqpURL != "" {
		eventsPublisher, err := observability.NewAMQPPublisher(amqpURL, eventsExchange)
		if err != nil {
			log.Printf("event publishing disabled: %v", err)
		} else {
			observability.SetPublisher(eventsPublisher)
			defer eventsPublisher.Close()
		}
	}

	auditPublisher := rabbitmq.NewPublisher(amqpURL, auditExchange)
	defer auditPublisher.Close()
	log.Printf("audit publisher mode=%s", rabbitmq.PublisherMode(auditPublisher))
	auditEmitter := telemetry.NewAuditEmitter(auditPublisher, "audit.realtime", serviceName, getEnv("ENVIRONMENT", "dev"))

	verifier := identity.NewJWTVerifier([]byte(getEnv("JWT_SECRET", "dev-secret")))

	channelRepo := repositories.NewChannelRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	reactionRepo := repositories.NewReactionRepo(database)
	userRepo := repositories.NewUserRepo(database)

	tracker := presence.NewTracker(presence.DefaultDebounce)
	registry := ws.NewRegistry()
	fanout := ws.NewFanout(registry, messageRepo, reactionRepo, userRepo, channelRepo)
	gateway := ws.NewGateway(ws.Config{}, registry, fanout, channelRepo, verifier, tracker, auditEmitter)
	go gateway.Run()
	defer gateway.Close()

	historyHandler := handlers.NewHistoryHandler(channelRepo, messageRepo, reactionRepo, userRepo)
	reactionHandler := handlers.NewReactionHandler(fanout)
	presenceHandler := handlers.NewPresenceHandler(tracker)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(verifier)

	router.GET("/ws", gateway.Serve)
	router.GET("/channels/:channel_id/messages", authMiddleware, historyHandler.GetChannelMessages)
	router.GET("/channels/:channel_id/messages/:message_id/thread", authMiddleware, historyHandler.GetThreadMessages)
	router.POST("/messages/:message_id/reactions", authMiddleware, reactionHandler.Toggle)
	router.GET("/presence", authMiddleware, presenceHandler.Snapshot)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.RegisterDebugRoutes(router, auditEmitter, getEnv("DEBUG_ROUTES", "") == "true")

	port := getEnv("PORT", "8083")
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
