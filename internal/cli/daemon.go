package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/spf13/cobra"

	"github.com/perpetual-s/gemi-memory/internal/app"
	"github.com/perpetual-s/gemi-memory/internal/logging"
)

func init() {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run background extraction and serve metrics",
		Long: "Periodically extract memories from pending diary entries, enforce the memory limit, " +
			"and serve Prometheus metrics on daemon.metrics_addr. Stops on SIGINT or SIGTERM.",
		Run: runDaemon,
	}

	cmd.Flags().Duration("interval", 0, "Sweep interval (default: daemon.interval)")
	cmd.Flags().String("metrics-addr", "", "Metrics listen address, \"off\" to disable (default: daemon.metrics_addr)")

	RootCmd.AddCommand(cmd)
}

func runDaemon(cmd *cobra.Command, args []string) {
	interval, _ := cmd.Flags().GetDuration("interval")
	addr, _ := cmd.Flags().GetString("metrics-addr")
	if interval <= 0 {
		interval = cfg.Daemon.Interval
	}
	if addr == "" {
		addr = cfg.Daemon.MetricsAddr
	}
	log := logging.Component(logger, "daemon")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := openApp(cmd)
	defer a.Close()

	events, unsubscribe := a.Store.Subscribe()
	defer unsubscribe()
	go func() {
		for ev := range events {
			log.Debug("store event", "kind", ev.Kind, "ids", len(ev.IDs), "batch", ev.BatchID)
		}
	}()

	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		exitErr("create scheduler", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { sweep(ctx, a) }),
		gocron.WithName("extract-pending"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		exitErr("schedule sweep", err)
	}
	s.Start()

	var srv *http.Server
	if addr != "" && addr != "off" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", a.Metrics.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		srv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server failed", "addr", addr, "err", err)
			}
		}()
	}

	log.Info("daemon started", "interval", interval, "metrics", addr, "db", cfg.DBPath)
	<-ctx.Done()
	log.Info("shutting down")

	if err := s.Shutdown(); err != nil {
		log.Warn("scheduler shutdown", "err", err)
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics server shutdown", "err", err)
		}
	}
}

// sweep reloads state written by other processes, extracts pending
// entries and archives down to the current limit.
func sweep(ctx context.Context, a *app.App) {
	log := logging.Component(logger, "sweep")
	if ctx.Err() != nil {
		return
	}
	if err := a.Store.Reload(ctx); err != nil {
		log.Error("reload store", "err", err)
		return
	}

	report, err := a.ExtractPending(ctx, nil)
	if err != nil {
		log.Error("list pending entries", "err", err)
		return
	}
	if report.Total > 0 {
		log.Info("extracted pending entries", "total", report.Total, "processed", report.Processed, "inserted", report.Inserted)
	}

	batch, err := a.Store.EnforceNow(ctx)
	if err != nil {
		log.Error("enforce limit", "err", err)
		return
	}
	if batch != nil {
		log.Info("archived memories over limit", "count", batch.Count, "batch", batch.ID)
	}
}
