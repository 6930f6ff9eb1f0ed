package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	"github.com/cartrade/backend/internal/config"
	"github.com/cartrade/backend/internal/database"
	"github.com/cartrade/backend/internal/handlers"
	"github.com/cartrade/backend/internal/logger"
	mW "github.com/cartrade/backend/internal/middleware"
	"github.com/cartrade/backend/internal/services"
)

// @title Car Trading Ledger API
// @version 1.0
// @description Capital ledger and cost allocation API for a car trading business
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

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
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")

	viper.SetDefault("jwt.expiry_hours", 24)
	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)

	if err := viper.ReadInConfig(); err != nil {
		logger.Init()
		logger.Log.Info("config file not found, using environment and defaults")
	} else {
		logger.Init()
	}

	cfg := config.LoadLedgerConfig()

	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	ledgerService := services.NewLedgerService(db)
	fxService := services.NewFXService(db, redisClient, cfg)
	costService := services.NewCostService(db)
	allocationService := services.NewAllocationService(db, costService, cfg)
	carService := services.NewCarService(db, ledgerService, costService, fxService, cfg)
	expenseService := services.NewExpenseService(db, ledgerService, allocationService, fxService, cfg)
	saleService := services.NewSaleService(db, ledgerService, costService, carService, fxService, cfg)
	distributionService := services.NewDistributionService(db, ledgerService, saleService, carService, cfg)
	capitalService := services.NewCapitalService(db, ledgerService, cfg)
	authService := services.NewAuthService(db, redisClient, capitalService)

	carHandler := handlers.NewCarHandler(carService, costService, saleService, distributionService)
	expenseHandler := handlers.NewExpenseHandler(expenseService, allocationService)
	capitalHandler := handlers.NewCapitalHandler(capitalService)
	fxHandler := handlers.NewFXHandler(fxService)

	mW.InitAuthMiddleware(redisClient)

	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", authService.Register)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)

		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Post("/cars", carHandler.CreateCar)
			r.Get("/cars", carHandler.ListCars)
			r.Get("/cars/{carId}", carHandler.GetCar)
			r.Put("/cars/{carId}/status", carHandler.UpdateStatus)
			r.Get("/cars/{carId}/cost-basis", carHandler.GetCostBasis)
			r.Post("/cars/{carId}/sell", carHandler.SellCar)
			r.Post("/cars/{carId}/distribute-profit", carHandler.DistributeProfit)
			r.Get("/cars/{carId}/snapshot", carHandler.GetSnapshot)

			r.Post("/expenses", expenseHandler.RecordExpense)
			r.Get("/expenses", expenseHandler.ListExpenses)
			r.Post("/expenses/preview-allocation", expenseHandler.PreviewAllocation)
			r.Get("/allocation-rule", expenseHandler.GetRule)
			r.Put("/allocation-rule", expenseHandler.SetRule)

			r.Get("/accounts", capitalHandler.ListAccounts)
			r.Get("/accounts/{accountId}/balance", capitalHandler.GetBalance)
			r.Get("/accounts/{accountId}/history", capitalHandler.GetHistory)
			r.Put("/accounts/{accountId}/user", capitalHandler.BindAccountUser)
			r.Post("/ledger/manual", capitalHandler.RecordManualTxn)

			r.Put("/fx-rates", fxHandler.UpsertRate)
			r.Get("/fx-rates/{currency}", fxHandler.GetRate)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Log.Info("server starting", zap.String("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Log.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Log.Info("server stopped")
}
