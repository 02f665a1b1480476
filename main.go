package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ms-checkout/internal/api"
	"ms-checkout/internal/app"
	"ms-checkout/internal/config"
	"ms-checkout/internal/holds"
	"ms-checkout/internal/logger"
	"ms-checkout/internal/sse"
)

func main() {
	envErr := godotenv.Load()
	cfg := config.Load()

	log := logger.NewLogger("checkout", cfg.Log.Dir, cfg.Log.Level)
	defer log.Close()

	log.Info("APP", "Starting checkout engine initialization")
	if envErr != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("APP", fmt.Sprintf("Initialization failed: %v", err))
	}
	defer a.Close()

	sweeper := holds.NewSweeper(a.Holds, cfg.Holds.SweepInterval, log)
	sweeper.OnPass(a.Metrics.SweepPass)
	if cfg.Holds.SweepEnabled {
		sweeper.Start(ctx)
	} else {
		log.Info("SWEEP", "In-process sweeper disabled, expecting hold-sweeper to run")
	}

	var wg sync.WaitGroup
	subs := a.Consumers()
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *app.Subscription) {
			defer wg.Done()
			sub.Consumer.Start(ctx, sub.Handler)
		}(sub)
	}

	handler := &api.Handler{
		Ledger:  a.Ledger,
		Holds:   a.Holds,
		Mapper:  a.Mapper,
		Orders:  a.Orders,
		Tickets: a.Tickets,
		Logger:  log,
	}
	router := api.NewRouter(handler, api.RouterOptions{
		Metrics:        a.Metrics,
		MetricsHandler: promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}),
		Stream:         sse.NewHandler(log, a.Emitter),
	})

	server := &http.Server{
		Addr:        cfg.Server.Port,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
		// WriteTimeout stays zero so availability streams are not cut off.
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("Checkout engine running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server shutdown failed: %v", err))
	}
	sweeper.Stop()
	cancel()
	for _, sub := range subs {
		if err := sub.Consumer.Close(); err != nil {
			log.Error("KAFKA", fmt.Sprintf("Failed to close consumer: %v", err))
		}
	}
	wg.Wait()
	log.Info("APP", "Checkout engine shutdown complete")
}
