package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prizepool/backend/docs"
	"github.com/prizepool/backend/internal/config"
	"github.com/prizepool/backend/internal/database"
	"github.com/prizepool/backend/internal/gateway"
	"github.com/prizepool/backend/internal/handlers"
	mW "github.com/prizepool/backend/internal/middleware"
	"github.com/prizepool/backend/internal/services"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title Contest Payouts Backend API
// @version 1.0
// @description Money-movement pipeline: payment event ingestion, financial ledger, contest settlement and winner payouts
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env
	viper.ReadInConfig()        // read .env file

	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "Contest Payouts Backend API"
	docs.SwaggerInfo.Description = "Money-movement pipeline for contest entry fees and winner payouts"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	webhookCfg := config.LoadWebhookConfig()
	if webhookCfg.SigningSecret == "" {
		log.Println("Warning: WEBHOOK_SIGNING_SECRET not set, all inbound events will be rejected")
	}
	payoutCfg := config.LoadPayoutConfig()

	transferClient := gateway.NewHTTPTransferClient(payoutCfg.OperationTimeout)

	ledgerService := services.NewLedgerService(db)
	webhookService := services.NewWebhookService(db, redisClient, webhookCfg)
	payoutService := services.NewPayoutService(db, redisClient, transferClient, payoutCfg)
	policyTable := services.NewPolicyTable()

	webhookHandler := handlers.NewWebhookHandler(webhookService, webhookCfg)
	settlementHandler := handlers.NewSettlementHandler(policyTable, payoutService)
	operatorHandler := handlers.NewOperatorHandler(payoutService, ledgerService, payoutCfg)

	// Payout workers
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	for i := 0; i < payoutCfg.WorkerCount; i++ {
		go payoutService.RunWorker(workerCtx)
	}

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Payment-Signature"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Signature-authenticated, no bearer token: the payment provider
		// signs each delivery.
		r.Post("/webhooks/payments", webhookHandler.ReceivePaymentEvent)

		// Operator endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/settlements", settlementHandler.TriggerSettlement)

			r.Get("/payouts/summary", operatorHandler.PayoutSummary)
			r.Get("/payouts/stuck", operatorHandler.StuckTransfers)
			r.Get("/payouts/jobs/{jobID}", operatorHandler.JobReport)
			r.Get("/payouts/jobs/{jobID}/remittance", operatorHandler.JobRemittance)
			r.Post("/payouts/transfers/{transferID}/retry", operatorHandler.RetryTransfer)

			r.Post("/ledger/adjustments", operatorHandler.CreateAdjustment)

			r.Get("/users/{userID}/balance", operatorHandler.UserBalance)
			r.Get("/users/{userID}/ledger", operatorHandler.UserLedger)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	stopWorkers()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
