// Command slave runs the per-machine Host-slave: it registers with the
// master over the control channel and forks a worker process per job
// submitted to it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/jc-comp/karaoke-scheduler/internal/config"
	"github.com/jc-comp/karaoke-scheduler/internal/hostslave"
	"github.com/jc-comp/karaoke-scheduler/internal/logging"
	"github.com/spf13/cobra"
)

var (
	configDir    string
	masterAddr   string
	workerBinary string
	maxChildren  int
	healthAddr   string
)

var rootCmd = &cobra.Command{
	Use:   "slave",
	Short: "Run a karaoke-scheduler host-slave",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&configDir, "config-dir", "", "directory containing config.ini (default: working directory)")
	rootCmd.Flags().StringVar(&masterAddr, "master-addr", "", "override scheduler.host:scheduler.port from config.ini")
	rootCmd.Flags().StringVar(&workerBinary, "worker-binary", "", "path to the worker executable forked per job (default: ./worker next to this binary)")
	rootCmd.Flags().IntVar(&maxChildren, "max-children", 1, "worker slot count reported on /healthz (not enforced when forking workers)")
	rootCmd.Flags().StringVar(&healthAddr, "health-addr", ":9102", "address the /healthz and /metrics endpoints listen on")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "slave: %v\n", err)
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

	addr := masterAddr
	if addr == "" {
		addr = fmt.Sprintf("%s:%d", cfg.SchedulerHost, cfg.SchedulerPort)
	}

	bin := workerBinary
	if bin == "" {
		bin, err = resolveSiblingWorker()
		if err != nil {
			return err
		}
	}

	s := hostslave.New(addr, bin, maxChildren, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return s.Run(ctx, healthAddr)
}

// resolveSiblingWorker looks for a "worker" binary next to the slave's own
// executable, the layout `go build ./cmd/...` produces.
func resolveSiblingWorker() (string, error) {
	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("slave: resolve own executable: %w", err)
	}
	candidate := execDir(self) + "/worker"
	if _, err := exec.LookPath(candidate); err == nil {
		return candidate, nil
	}
	if _, err := os.Stat(candidate); err == nil {
		return candidate, nil
	}
	return "", fmt.Errorf("slave: no --worker-binary given and %s not found", candidate)
}

func execDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
