package main

import (
	"context"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"conversation-service/internal/config"
	"conversation-service/internal/db"
	"conversation-service/internal/handlers"
	"conversation-service/internal/middleware"
	"conversation-service/internal/observability"
	"conversation-service/internal/repositories"
	"conversation-service/internal/telemetry"
	"conversation-service/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if cfg.OTLPEndpoint != "" {
		shutdown, err := observability.InitTracing(context.Background(), cfg.OTLPEndpoint, cfg.ServiceName, cfg.Environment)
		if err != nil {
			log.Fatalf("failed to init tracing: %v", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Printf("tracing shutdown: %v", err)
			}
		}()
	}

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}

	var auditPublisher observability.Publisher
	if cfg.AMQPURL != "" {
		publisher, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			log.Printf("rabbitmq disabled: %v", err)
		} else {
			defer publisher.Close()
			observability.SetPublisher(publisher)
			auditPublisher = publisher
			log.Printf("rabbitmq connected exchange=%s", cfg.AMQPExchange)
		}
	}

	convRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)

	hub := ws.NewHub()
	verifier := middleware.NewTokenVerifier(cfg.JWTSecret)
	audit := telemetry.NewAuditEmitter(auditPublisher, "audit.conversations", cfg.ServiceName, cfg.Environment)

	conversationHandler := handlers.NewConversationHandler(convRepo, audit)
	presenceHandler := handlers.NewPresenceHandler(hub)
	wsHandler := ws.NewHandler(hub, verifier, convRepo, messageRepo)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())

	authMiddleware := middleware.AuthMiddleware(verifier)

	router.GET("/healthz", func(c *gin.Context) { c.JSON(200, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/conversations", authMiddleware, conversationHandler.StartConversation)
	router.GET("/conversations/:conversation_id", authMiddleware, conversationHandler.GetConversation)
	router.GET("/presence/:user_id", authMiddleware, presenceHandler.GetPresence)

	router.GET("/ws", wsHandler.Handle)

	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
