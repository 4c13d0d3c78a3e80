package main

import (
	"context"
	"expvar"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"gitfeed/internal"
	"gitfeed/pkg/api"
	"gitfeed/pkg/backfill"
	"gitfeed/pkg/storage/events"
	"gitfeed/webhook"
)

func main() {
	logger := internal.NewLogger("server")
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	config, err := internal.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	store, err := events.Open(events.Config{
		Driver:      config.Storage.Driver,
		DSN:         config.Storage.DSN,
		Table:       config.Storage.Table,
		AutoMigrate: config.Storage.AutoMigrate,
	})
	if err != nil {
		logger.Fatalf("open event store: %v", err)
	}
	defer store.Close()

	ruleEngine, err := internal.NewRuleEngine(config.Rules, internal.NewLogger("rules"))
	if err != nil {
		logger.Fatalf("compile rules: %v", err)
	}

	notifier, err := internal.NewNotifier(config.Notify)
	if err != nil {
		logger.Fatalf("notifier: %v", err)
	}
	defer notifier.Close()

	hookHandler, err := webhook.NewHandler(store, webhook.Options{
		Secret:       config.Webhook.Secret,
		Scheme:       webhook.Scheme(config.Webhook.Scheme),
		MaxBodyBytes: config.Server.MaxBodyBytes,
		StoreTimeout: time.Duration(config.Webhook.StoreTimeoutMS) * time.Millisecond,
		Rules:        ruleEngine,
		Notifier:     notifier,
		Logger:       internal.NewLogger("webhook"),
	})
	if err != nil {
		logger.Fatalf("webhook handler: %v", err)
	}

	mux := http.NewServeMux()
	mux.Handle(config.Webhook.Path, internal.NewRateLimitHandler(
		hookHandler,
		config.Server.RateLimitRPS,
		config.Server.RateLimitBurst,
	))
	mux.Handle("/events", &api.EventsHandler{
		Store:        store,
		DefaultLimit: config.Events.PageLimit,
		MaxLimit:     config.Events.MaxLimit,
		QueryTimeout: time.Duration(config.Webhook.StoreTimeoutMS) * time.Millisecond,
		Logger:       internal.NewLogger("api"),
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if config.Server.MetricsEnabled {
		mux.Handle(config.Server.MetricsPath, expvar.Handler())
	}

	cleaner, err := internal.NewCleaner(
		store,
		time.Duration(config.Events.RetentionHours)*time.Hour,
		config.Events.CleanupCron,
		internal.NewLogger("cleanup"),
	)
	if err != nil {
		logger.Fatalf("cleaner: %v", err)
	}
	if err := cleaner.Start(); err != nil {
		logger.Fatalf("start cleaner: %v", err)
	}
	defer cleaner.Stop()

	if config.Backfill.Enabled {
		seeder, err := backfill.New(config.Backfill, store, internal.NewLogger("backfill"))
		if err != nil {
			logger.Fatalf("backfill: %v", err)
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			stored, err := seeder.Run(ctx)
			if err != nil {
				logger.Printf("backfill failed after %d events: %v", stored, err)
				return
			}
			logger.Printf("backfill stored %d events from %s", stored, config.Backfill.Repo)
		}()
	}

	addr := ":" + strconv.Itoa(config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       time.Duration(config.Server.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout:      time.Duration(config.Server.WriteTimeoutMS) * time.Millisecond,
		IdleTimeout:       time.Duration(config.Server.IdleTimeoutMS) * time.Millisecond,
		ReadHeaderTimeout: time.Duration(config.Server.ReadHeaderMS) * time.Millisecond,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Printf("webhook on %s%s, events on %s/events", addr, config.Webhook.Path, addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("listen: %v", err)
		}
	}()

	<-shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Printf("shutdown: %v", err)
	}
}
