package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"keepwatch/app/internal/config"
	"keepwatch/app/internal/logger"
	"keepwatch/app/internal/monitor"
	"keepwatch/app/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	once := flag.Bool("once", false, "run a single check cycle and exit (for cron/scheduled tasks)")
	reportNow := flag.Bool("report-now", false, "generate and send a report immediately, bypassing the schedule")
	flag.Parse()

	log := logger.GetLogger()
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalw("failed to load config", "error", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalw("failed to open state store", "path", cfg.DBPath, "error", err)
	}
	defer st.Close()

	m := monitor.New(cfg, st)

	switch {
	case *reportNow:
		if err := m.ForceReport(context.Background()); err != nil {
			log.Errorw("forced report failed", "error", err)
			os.Exit(1)
		}

	case *once:
		// Stateless shape: one cycle, one report check, exit. All state
		// lives in the store between invocations.
		ctx := context.Background()
		failed := false
		if err := m.RunCycle(ctx); err != nil {
			failed = true
		}
		if err := m.RunReportIfDue(ctx, time.Now().UTC()); err != nil {
			failed = true
		}
		if failed {
			os.Exit(1)
		}

	default:
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := m.RunLoop(ctx); err != nil {
			log.Fatalw("monitor loop failed", "error", err)
		}
	}
}
