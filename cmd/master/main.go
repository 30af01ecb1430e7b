// Command master runs the scheduler fabric: it accepts user, host-slave
// and worker connections on one TCP listener, holds the authoritative job
// registry, and round-robins submissions across registered slaves.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jc-comp/karaoke-scheduler/internal/config"
	"github.com/jc-comp/karaoke-scheduler/internal/logging"
	"github.com/jc-comp/karaoke-scheduler/internal/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configDir   string
	addr        string
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "master",
	Short: "Run the karaoke-scheduler master",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&configDir, "config-dir", "", "directory containing config.ini (default: working directory)")
	rootCmd.Flags().StringVar(&addr, "addr", "", "override scheduler.host:scheduler.port from config.ini")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9101", "address the /metrics endpoint listens on")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "master: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LoggingLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	listenAddr := addr
	if listenAddr == "" {
		listenAddr = fmt.Sprintf("%s:%d", cfg.SchedulerHost, cfg.SchedulerPort)
	}

	registry := scheduler.NewRegistry(cfg.MediaPath, cfg.SchedulerMaxDaemonJobs)
	events := scheduler.NewEventCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisReplayLen, logger)
	if events != nil {
		if err := events.Ping(context.Background()); err != nil {
			logger.Warn("job-event replay cache unreachable, continuing without it", zap.Error(err))
			events = nil
		} else {
			registry.SetEventCache(events)
			logger.Info("job-event replay cache enabled", zap.String("redis_addr", cfg.RedisAddr))
		}
	}
	if err := registry.LoadAll(); err != nil {
		logger.Warn("failed to reload job registry from disk", zap.Error(err))
	}

	slaves := scheduler.NewSlaveManager(logger)
	m := scheduler.New(registry, slaves, logger, cfg.SchedulerMinJobResponseTime)
	m.Limiter = scheduler.NewSubmitLimiter(cfg.SchedulerSubmitRPM, events.Client())
	if cfg.SchedulerSubmitRPM > 0 {
		logger.Info("submit rate limiting enabled", zap.Int("rpm", cfg.SchedulerSubmitRPM))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting master",
		zap.String("addr", listenAddr),
		zap.String("metrics_addr", metricsAddr),
		zap.Int("resident_jobs", registry.Len()))

	return m.ListenAndServe(ctx, listenAddr, metricsAddr)
}
