package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"

	"cark-backend/internal/config"
	"cark-backend/internal/events"
	"cark-backend/internal/jobs"
	"cark-backend/internal/logger"
	"cark-backend/internal/payment"
	"cark-backend/internal/pricing"
	"cark-backend/internal/repository/postgres"
	"cark-backend/internal/scheduler"
	"cark-backend/internal/service"
)

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "config/config.dev.yaml", "Path to configuration file")
	runOnce := flag.String("run-once", "", "Run a specific job once and exit (e.g., 'cancel-expired-deposits', 'all')")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	logger.Info("Starting Cark Cronjob Runner...", "log_level", cfg.Log.Level)

	if cfg.Storage.Type != config.StoragePostgres {
		log.Fatalf("Cronjobs need the postgres storage backend, got %q", cfg.Storage.Type)
	}
	policy, err := cfg.PricingPolicy()
	if err != nil {
		log.Fatalf("Invalid pricing configuration: %v", err)
	}
	declineAbove, err := cfg.DeclineAbove()
	if err != nil {
		log.Fatalf("Invalid payment configuration: %v", err)
	}

	// Initialize Database
	logger.Info("Connecting to database...", "host", cfg.Database.Host, "port", cfg.Database.Port)
	db, err := sql.Open("postgres", cfg.GetDatabaseConnectionString())
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Test database connection
	if err := db.Ping(); err != nil {
		logger.Error("Failed to ping database", "error", err)
		log.Fatalf("Failed to ping database: %v", err)
	}
	logger.Info("Database connection established")

	store := postgres.NewStore(db)

	var publisher events.Publisher = events.NewLogPublisher()
	if cfg.AMQP.Enabled {
		amqpPublisher, err := events.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			logger.Error("Failed to connect to AMQP broker", "error", err)
			log.Fatalf("Failed to connect to AMQP broker: %v", err)
		}
		publisher = events.MultiPublisher{publisher, amqpPublisher}
	}
	defer publisher.Close()

	// Initialize Services
	settlement := service.NewSettlementCoordinator(payment.NewSimulatedGateway(declineAbove), nil)
	selfDriveSvc := service.NewSelfDriveService(store, pricing.NewCalculator(policy), settlement, publisher, nil)

	// Replicas share one Redis lock per job
	var locker jobs.Locker
	if cfg.Redis.Enabled {
		client := jobs.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer client.Close()
		if err := client.Ping(context.Background()).Err(); err != nil {
			logger.Error("Failed to connect to Redis", "error", err, "addr", cfg.Redis.Addr)
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		locker = jobs.NewRedisLocker(client)
		logger.Info("Using Redis job locks", "addr", cfg.Redis.Addr)
	}

	// Initialize Job Runner
	jobRunner := jobs.NewJobRunner(&jobs.Services{SelfDrive: selfDriveSvc}, locker, cfg)

	// Check if running a single job
	if *runOnce != "" {
		logger.Info("Running job once", "job", *runOnce)
		runJobOnce(jobRunner, *runOnce)
		logger.Info("Job execution completed", "job", *runOnce)
		return
	}

	// Initialize Scheduler
	cronScheduler := scheduler.NewScheduler(jobRunner)
	if cronScheduler.JobCount() == 0 {
		log.Fatalf("No cron jobs registered; check the scheduler configuration")
	}

	// Start scheduler
	cronScheduler.Start()
	logger.Info("Cronjob scheduler is running. Press Ctrl+C to stop.", "jobs", cronScheduler.JobCount())

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	// Graceful shutdown
	logger.Info("Shutting down cronjob scheduler...")
	cronScheduler.Stop()
	logger.Info("Cronjob scheduler stopped. Goodbye!")
}

// runJobOnce runs a specific job once and exits
func runJobOnce(jobRunner *jobs.JobRunner, jobName string) {
	switch jobName {
	case jobs.CancelExpiredDepositsJob:
		jobRunner.CancelExpiredDeposits()
	case "all":
		jobRunner.RunAll()
	default:
		logger.Error("Unknown job name", "job", jobName)
		fmt.Printf("Available jobs:\n")
		fmt.Printf("  - %s\n", jobs.CancelExpiredDepositsJob)
		fmt.Printf("  - all\n")
		os.Exit(1)
	}
}
