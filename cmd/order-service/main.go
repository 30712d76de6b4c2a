package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/food-delivery/internal/auth"
	"github.com/vasiliy-maslov/food-delivery/internal/cart"
	"github.com/vasiliy-maslov/food-delivery/internal/catalog"
	"github.com/vasiliy-maslov/food-delivery/internal/config"
	"github.com/vasiliy-maslov/food-delivery/internal/db"
	"github.com/vasiliy-maslov/food-delivery/internal/events"
	"github.com/vasiliy-maslov/food-delivery/internal/handler"
	"github.com/vasiliy-maslov/food-delivery/internal/metrics"
	"github.com/vasiliy-maslov/food-delivery/internal/notify"
	"github.com/vasiliy-maslov/food-delivery/internal/order"
	"github.com/vasiliy-maslov/food-delivery/internal/realtime"
)

func setupLogger(cfg config.AppConfig) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	log.Logger = log.With().Str("service", cfg.Name).Logger()
}

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	setupLogger(cfg.App)
	log.Info().Str("store_driver", cfg.App.StoreDriver).Msg("Order service starting...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		orderRepo order.Repository
		lookup    catalog.Lookup
		dbConn    *db.Postgres
	)
	switch cfg.App.StoreDriver {
	case config.StoreDriverPostgres:
		if err := db.ApplyMigrations(cfg.Postgres); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
		dbConn, err = db.New(ctx, cfg.Postgres)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to database")
		}
		orderRepo = order.NewRepository(dbConn.Pool)
		lookup = catalog.NewPostgresLookup(dbConn.Pool)
	case config.StoreDriverMemory:
		mem := catalog.NewMemory()
		if cfg.App.CatalogSeed != "" {
			if err := loadSeed(mem, cfg.App.CatalogSeed); err != nil {
				log.Fatal().Err(err).Str("path", cfg.App.CatalogSeed).Msg("Failed to load catalog seed")
			}
		}
		orderRepo = order.NewMemoryRepository()
		lookup = mem
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.New(registry)

	hub := realtime.NewHub(appMetrics.Connections)

	var publisher notify.Publisher = hub
	var bridge *realtime.Bridge
	// Stopped after the notifier drains, not on the signal.
	bridgeCtx, stopBridge := context.WithCancel(context.Background())
	defer stopBridge()
	bridgeDone := make(chan struct{})
	if cfg.RabbitMQ.URL != "" {
		bridge, err = realtime.DialBridge(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, hub)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to RabbitMQ")
		}
		publisher = bridge
		go func() {
			defer close(bridgeDone)
			if err := bridge.Run(bridgeCtx); err != nil {
				log.Error().Err(err).Msg("RabbitMQ bridge stopped, events from other instances are no longer relayed")
			}
		}()
	} else {
		close(bridgeDone)
	}

	routerOpts := []notify.Option{notify.WithMetrics(appMetrics)}
	kafkaSink, err := events.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	switch {
	case errors.Is(err, events.ErrDisabled):
		log.Info().Msg("Kafka event stream disabled")
	case err != nil:
		log.Fatal().Err(err).Msg("Failed to configure Kafka")
	default:
		routerOpts = append(routerOpts, notify.WithSink(kafkaSink))
	}

	notifier := notify.NewRouter(publisher, cfg.Notify.QueueSize, routerOpts...)
	notifier.Start(context.Background())

	orderSvc := order.NewService(orderRepo, cart.NewConverter(lookup), notifier, appMetrics)
	orderHandler := handler.NewOrderHandler(orderSvc)
	authenticator := auth.NewAuthenticator(cfg.Auth.JWTSecret)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(appMetrics.Middleware)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.App.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if dbConn != nil {
			if err := dbConn.Pool.Ping(r.Context()); err != nil {
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	router.Handle("/metrics", appMetrics.Handler())

	router.Group(func(r chi.Router) {
		r.Use(authenticator.Middleware)
		orderHandler.RegisterRoutes(r)
		r.Handle("/ws", realtime.NewHandler(hub, cfg.Notify.WSSendBuffer, cfg.App.CORSOrigins))
	})

	server := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.App.Port).Msg("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := notifier.Close(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Notification queue not fully drained")
	}
	if kafkaSink != nil {
		if err := kafkaSink.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Kafka writer")
		}
	}
	stopBridge()
	select {
	case <-bridgeDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("RabbitMQ bridge did not stop in time")
	}
	if bridge != nil {
		bridge.Close()
	}
	if dbConn != nil {
		dbConn.Close()
	}
	log.Info().Msg("Order service stopped")
}

func loadSeed(mem *catalog.Memory, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return mem.LoadYAML(file)
}
