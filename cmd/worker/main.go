package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/hubwire/comms-core/internal/automation"
	"github.com/hubwire/comms-core/internal/config"
	"github.com/hubwire/comms-core/internal/contacts"
	"github.com/hubwire/comms-core/internal/delivery"
	"github.com/hubwire/comms-core/internal/notify"
	"github.com/hubwire/comms-core/internal/reminders"
	"github.com/hubwire/comms-core/internal/sweeps"
	"github.com/hubwire/comms-core/internal/templates"
)

const deferredBatchSize = 200

func main() {
	log.Println("Starting comms worker...")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Database connection
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")

	// Redis is optional; sweep locks fall back to PG advisory locks.
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Printf("Redis unavailable, falling back to advisory locks: %v", err)
			redisClient = nil
		} else {
			log.Println("Connected to Redis")
		}
	}

	// Stores
	contactStore := contacts.NewStore(db)
	templateStore := templates.NewStore(db)
	ruleStore := automation.NewStore(db)
	reminderStore := reminders.NewStore(db)

	// Delivery transports
	phoneSender := delivery.NewTwilioSender(
		cfg.Twilio.AccountSID, cfg.Twilio.AuthToken,
		cfg.Twilio.FromNumber, cfg.Twilio.WhatsAppNumber,
		cfg.Twilio.Timeout())

	var emailSender delivery.Sender
	if cfg.SES.Enabled() {
		ses, err := delivery.NewSESSender(context.Background(),
			cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region, cfg.SES.FromAddress)
		if err != nil {
			log.Fatalf("Failed to initialize SES: %v", err)
		}
		emailSender = ses
		log.Println("Email delivery enabled")
	}
	sender := delivery.NewRouter(phoneSender, emailSender)

	// Automation engine
	loc, err := time.LoadLocation(cfg.QuietHours.Timezone)
	if err != nil {
		log.Fatalf("Invalid quiet hours timezone %q: %v", cfg.QuietHours.Timezone, err)
	}
	settings := automation.Settings{
		QuietHoursEnabled: cfg.QuietHours.Enabled,
		QuietStartHour:    cfg.QuietHours.StartHour,
		QuietEndHour:      cfg.QuietHours.EndHour,
		Location:          loc,
	}
	notifier := notify.LogNotifier{}
	engine := automation.NewEngine(ruleStore, contactStore, templateStore,
		templates.NewRenderer(), sender, notifier, settings)

	scheduler := reminders.NewScheduler(reminderStore, engine, notifier,
		cfg.Sweeps.ReminderLookahead())

	// Background sweeps
	runner := sweeps.NewRunner(redisClient, db)
	runner.Register(sweeps.Sweep{
		Name:  "automation-deferred",
		Every: cfg.Sweeps.AutomationInterval(),
		Run: func(ctx context.Context) error {
			_, err := engine.ProcessDeferredSweep(ctx, deferredBatchSize)
			return err
		},
	})
	runner.Register(sweeps.Sweep{
		Name:  "reminders-due",
		Every: cfg.Sweeps.ReminderInterval(),
		Run: func(ctx context.Context) error {
			_, err := scheduler.ProcessDueSweep(ctx)
			return err
		},
	})
	runner.Register(sweeps.Sweep{
		Name:  "registrations-approaching",
		Every: cfg.Sweeps.RegistrationInterval(),
		Run: func(ctx context.Context) error {
			_, err := scheduler.ProcessRegistrationSweep(ctx)
			return err
		},
	})
	runner.Start()
	log.Println("Sweeps scheduled")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received %v, shutting down...", sig)

	runner.Stop()
	if redisClient != nil {
		redisClient.Close()
	}
	log.Println("Worker stopped")
}
