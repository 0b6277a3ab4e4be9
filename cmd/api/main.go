package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	ginadapter "github.com/awslabs/aws-lambda-go-api-proxy/gin"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-storefront-checkout/internal/app"
	"github.com/imrishuroy/go-storefront-checkout/internal/config"
	"github.com/imrishuroy/go-storefront-checkout/internal/handlers"
	"github.com/imrishuroy/go-storefront-checkout/internal/logging"
	"github.com/imrishuroy/go-storefront-checkout/internal/metrics"
	"github.com/imrishuroy/go-storefront-checkout/internal/middleware"
)

func setupRouter(a *app.App, cfg *config.Config, prom *metrics.Prometheus, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(logger))
	if prom != nil {
		r.Use(prom.Middleware())
		r.GET("/metrics", gin.WrapH(prom.Handler()))
	}

	handlers.RegisterRoutes(r, handlers.HandlerConfig{
		Checkout: a.Checkout,
		Orders:   a.Orders,
		Carts:    a.Carts,
		Auth:     middleware.Auth([]byte(cfg.JWTSecret)),
		Logger:   logger,
	})
	return r
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.RunLocal)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	if cfg.JWTSecret == "" {
		logger.Fatal("JWT_SECRET or JWT_SECRET_FILE is required")
	}

	ctx := context.Background()
	clients, err := app.Clients(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to init aws clients", zap.Error(err))
	}
	publisher, closePublisher, err := app.NewPublisher(cfg, clients)
	if err != nil {
		logger.Fatal("failed to init event publisher", zap.Error(err))
	}
	defer func() { _ = closePublisher() }()
	recorder, prom := app.NewRecorder(cfg, clients, logger)

	a := app.New(clients.DynamoDB, cfg.Tables, cfg.Policy, publisher, recorder, logger)
	r := setupRouter(a, cfg, prom, logger)

	// RUN_LOCAL=true serves HTTP directly for development.
	if cfg.RunLocal {
		logger.Info("running local server", zap.String("addr", cfg.ListenAddr))
		if err := r.Run(cfg.ListenAddr); err != nil {
			logger.Fatal("failed to run local server", zap.Error(err))
		}
		return
	}

	adapter := ginadapter.New(r)
	lambda.Start(func(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		return adapter.ProxyWithContext(ctx, req)
	})
}
