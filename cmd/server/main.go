package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	grpcapi "cark-backend/internal/api/grpc"
	httpapi "cark-backend/internal/api/http"
	"cark-backend/internal/config"
	"cark-backend/internal/domain"
	"cark-backend/internal/events"
	"cark-backend/internal/logger"
	"cark-backend/internal/payment"
	"cark-backend/internal/pricing"
	"cark-backend/internal/repository"
	"cark-backend/internal/repository/memory"
	"cark-backend/internal/repository/postgres"
	"cark-backend/internal/security"
	"cark-backend/internal/service"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting Cark Backend...", "log_level", cfg.Log.Level, "log_format", cfg.Log.Format)
	logger.Info("Server configuration", "address", cfg.GetServerAddress(), "grpc_enabled", cfg.GRPC.Enabled)

	policy, err := cfg.PricingPolicy()
	if err != nil {
		log.Fatalf("Invalid pricing configuration: %v", err)
	}
	declineAbove, err := cfg.DeclineAbove()
	if err != nil {
		log.Fatalf("Invalid payment configuration: %v", err)
	}

	// Initialize storage
	store, closeStore, err := openStore(cfg)
	if err != nil {
		logger.Error("Failed to initialize storage", "error", err, "type", cfg.Storage.Type)
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer closeStore()

	// Initialize event publisher
	var publisher events.Publisher = events.NewLogPublisher()
	if cfg.AMQP.Enabled {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			logger.Error("Failed to connect to AMQP broker", "error", err)
			log.Fatalf("Failed to connect to AMQP broker: %v", err)
		}
		publisher = events.MultiPublisher{publisher, amqpPublisher}
		logger.Info("Publishing domain events to AMQP", "exchange", cfg.AMQP.Exchange)
	}
	defer publisher.Close()

	// Initialize Services
	calculator := pricing.NewCalculator(policy)
	gateway := payment.NewSimulatedGateway(declineAbove)
	settlement := service.NewSettlementCoordinator(gateway, nil)
	ledgerSvc := service.NewLedgerService(store, nil)
	rentalSvc := service.NewRentalService(store, calculator, settlement, publisher, nil)
	selfDriveSvc := service.NewSelfDriveService(store, calculator, settlement, publisher, nil)

	// Initialize Security
	tokenManager := security.NewTokenManager(cfg.JWT.Secret, cfg.AccessTokenTTL())

	router := httpapi.NewRouter(httpapi.Services{
		Rentals:   rentalSvc,
		SelfDrive: selfDriveSvc,
		Ledger:    ledgerSvc,
	}, tokenManager)
	httpServer := &http.Server{
		Addr:              cfg.GetServerAddress(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 2)
	go func() {
		logger.Info("HTTP server listening", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("http server: %w", err)
		}
	}()

	var stopGRPC func()
	if cfg.GRPC.Enabled {
		lis, err := net.Listen("tcp", cfg.GetGRPCAddress())
		if err != nil {
			logger.Error("Failed to listen", "error", err, "address", cfg.GetGRPCAddress())
			log.Fatalf("Failed to listen: %v", err)
		}
		grpcServer, healthSrv := grpcapi.NewServer(ledgerSvc, tokenManager)
		go func() {
			logger.Info("gRPC server listening", "address", cfg.GetGRPCAddress())
			if err := grpcServer.Serve(lis); err != nil {
				serveErr <- fmt.Errorf("grpc server: %w", err)
			}
		}()
		stopGRPC = func() {
			healthSrv.Shutdown()
			grpcServer.GracefulStop()
		}
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case err := <-serveErr:
		logger.Error("Server failed", "error", err)
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	if stopGRPC != nil {
		stopGRPC()
	}
	logger.Info("Server stopped")
}

// openStore connects the configured repository backend. The returned func
// releases it.
func openStore(cfg *config.Config) (repository.Store, func(), error) {
	if cfg.Storage.Type == config.StorageMemory {
		logger.Warn("Using in-memory storage; data is lost on restart")
		store := memory.NewStore()
		seedDemoCar(store)
		return store, func() {}, nil
	}

	logger.Info("Database configuration", "host", cfg.Database.Host, "port", cfg.Database.Port, "database", cfg.Database.Database, "user", cfg.Database.User)
	db, err := sql.Open("postgres", cfg.GetDatabaseConnectionString())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}
	logger.Info("Database connection established")

	if cfg.Database.Migrate {
		if err := postgres.Migrate(context.Background(), db); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	return postgres.NewStore(db), func() { db.Close() }, nil
}

// seedDemoCar gives an empty in-memory store one bookable car owned by user 2.
func seedDemoCar(store *memory.Store) {
	store.PutCar(domain.Car{
		ID:                     1,
		OwnerID:                2,
		DailyRentalPrice:       decimal.NewFromInt(200),
		DailyPriceWithDriver:   decimal.NewFromInt(100),
		DailyKmLimit:           decimal.NewFromInt(200),
		ExtraKmCost:            decimal.RequireFromString("1.5"),
		ExtraHourCost:          decimal.NewFromInt(10),
		AvailableWithDriver:    true,
		AvailableWithoutDriver: true,
	})
}
