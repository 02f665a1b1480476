// hold-sweeper expires lapsed holds outside the API process. Run it when the API
// replicas are deployed with HOLD_SWEEP_ENABLED=false or to force a single pass.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"ms-checkout/internal/app"
	"ms-checkout/internal/config"
	"ms-checkout/internal/holds"
	"ms-checkout/internal/logger"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	var once bool
	flagSet := pflag.NewFlagSet("hold-sweeper", pflag.ExitOnError)
	flagSet.BoolVar(&once, "once", false, "run a single sweep pass and exit")
	flagSet.DurationVar(&cfg.Holds.SweepInterval, "interval", cfg.Holds.SweepInterval, "time between sweep passes")
	flagSet.IntVar(&cfg.Holds.SweepBatch, "batch", cfg.Holds.SweepBatch, "holds expired per pass at most")
	_ = flagSet.Parse(os.Args[1:])

	log := logger.NewLogger("hold-sweeper", cfg.Log.Dir, cfg.Log.Level)
	defer log.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("APP", fmt.Sprintf("Initialization failed: %v", err))
	}
	defer a.Close()

	sweeper := holds.NewSweeper(a.Holds, cfg.Holds.SweepInterval, log)
	sweeper.OnPass(func(expired int, took time.Duration) {
		a.Metrics.SweepPass(expired, took)
		log.Debug("SWEEP", fmt.Sprintf("Pass expired %d holds in %s", expired, took))
	})

	if once {
		n := sweeper.RunOnce(ctx)
		log.Info("SWEEP", fmt.Sprintf("Single pass expired %d holds", n))
		return
	}

	sweeper.Start(ctx)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("APP", "Shutdown signal received, stopping sweeper")
	sweeper.Stop()
}
