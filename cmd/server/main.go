/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the reservation engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Initialize SQLite store and the sequence backend (SQLite or Redis,
     seeded past the highest reservation id already stored)
  3. Build the payment gateway (Stripe, or disabled without a key)
  4. Build the notifier (RabbitMQ, or log-only without a broker URL)
  5. Wire the booking engine and start the setup sweeper
  6. Configure HTTP router and start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: APP_PORT or 8080)
  -db      SQLite database path (default: DB_PATH or reservations.db)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweeper and drain queued notifications
  4. Close broker, Redis and database connections

EXAMPLES:
  # Run with file database
  ./server -db="./data/reservations.db"

  # Run with in-memory database and Redis sequences
  SEQUENCE_BACKEND=redis ./server -db=":memory:"

SEE ALSO:
  - config/config.go: Every environment key
  - api/server.go: Router configuration
  - booking/engine.go: Service wiring
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/reservation-engine/api"
	"github.com/warp/reservation-engine/booking"
	"github.com/warp/reservation-engine/config"
	"github.com/warp/reservation-engine/gateway/stripe"
	"github.com/warp/reservation-engine/notify"
	"github.com/warp/reservation-engine/store/redisseq"
	"github.com/warp/reservation-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log := newLogger(cfg)

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()

	var sequences booking.SequenceStore = store
	if cfg.SequenceBackend == "redis" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rdb, err := redisseq.Dial(ctx, redisseq.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err != nil {
			cancel()
			log.WithError(err).Fatal("failed to connect to redis")
		}
		defer rdb.Close()
		redisSeq := redisseq.New(rdb)
		next, err := seedSequence(ctx, store, redisSeq)
		cancel()
		if err != nil {
			log.WithError(err).Fatal("failed to seed redis sequence")
		}
		sequences = redisSeq
		log.WithFields(logrus.Fields{"addr": cfg.RedisAddr, "counter": next}).Info("using redis sequences")
	}

	// Payment gateway
	var gateway booking.Gateway = booking.DisabledGateway{}
	var webhooks api.WebhookParser
	if cfg.PaymentsEnabled() {
		gw := stripe.New(stripe.Config{
			SecretKey:  cfg.StripeSecretKey,
			Currency:   cfg.Currency,
			SuccessURL: cfg.CheckoutSuccessURL,
			CancelURL:  cfg.CheckoutCancelURL,
			MaxRetries: 2,
		}, log)
		gateway = gw
		webhooks = &stripe.Webhooks{Secret: cfg.StripeWebhookSecret, Gateway: gw}
	} else {
		log.Warn("STRIPE_SECRET_KEY not set: payments disabled, new reservations will fail authorization")
	}

	// Notifications
	var target booking.Notifier = notify.LogNotifier{Log: log}
	var publisher *notify.AMQPPublisher
	if cfg.RabbitMQURL != "" {
		publisher, err = notify.DialAMQP(cfg.RabbitMQURL, cfg.NotifyQueue, log)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to rabbitmq")
		}
		target = publisher
		log.WithField("queue", publisher.Queue).Info("publishing notifications to rabbitmq")
	}
	dispatcher := booking.NewDispatcher(target, booking.DefaultQueueSize, log)

	engine := booking.NewEngine(booking.EngineConfig{
		Store:          store,
		Sequences:      sequences,
		Gateway:        gateway,
		Notifier:       dispatcher,
		AccessBaseURL:  cfg.FrontendURL,
		Log:            log,
		GatewayTimeout: cfg.GatewayTimeout,
		SetupTimeout:   cfg.SetupTimeout,
	})

	sweeper := booking.NewSetupSweeper(engine.Payments, log)
	sweeper.Interval = cfg.SweepInterval
	sweeper.Start()

	// Initialize handler
	handler := api.NewHandler(engine, cfg.FrontendURL, log)
	handler.Webhooks = webhooks
	handler.Health = store

	if cfg.AdminJWTSecret == "" {
		log.Warn("ADMIN_JWT_SECRET not set: admin routes are unauthenticated")
	}

	// Create router
	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins: cfg.CORSOrigins,
		AdminSecret: cfg.AdminJWTSecret,
		Log:         log,
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.WithFields(logrus.Fields{"port": cfg.Port, "env": cfg.Env, "db": cfg.DBPath}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}
	sweeper.Stop()
	dispatcher.Close()
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.WithError(err).Warn("rabbitmq close failed")
		}
	}

	log.Info("server stopped")
}

// seedSequence lifts the Redis counter past every id the database already
// holds, so switching backends on an existing database cannot reuse ids.
func seedSequence(ctx context.Context, db *sqlite.Store, seq *redisseq.Sequences) (int64, error) {
	high, err := db.MaxReservationID(ctx)
	if err != nil {
		return 0, err
	}
	return seq.SeedAtLeast(ctx, booking.ReservationSequence, int64(high))
}

func newLogger(cfg config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	if cfg.IsProduction() {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithField("level", cfg.LogLevel).Warn("unknown LOG_LEVEL, using info")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}
