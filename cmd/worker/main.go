// Command worker is the per-job pipeline runner. It has four mutually
// exclusive modes, selected by flag: --jobId (attach to a master-submitted
// job), --url/--filepath (local debug run with no master), --task-subprocess
// (a re-exec'd task body child), and --daemon (a persistent per-task-type
// server holding a heavy task's Preload resident across runs).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/jc-comp/karaoke-scheduler/internal/config"
	"github.com/jc-comp/karaoke-scheduler/internal/logging"
	"github.com/jc-comp/karaoke-scheduler/internal/model"
	"github.com/jc-comp/karaoke-scheduler/internal/pipeline"
	"github.com/jc-comp/karaoke-scheduler/internal/tasks"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configDir  string
	masterAddr string

	jobID    string
	url      string
	filepath string

	taskSubprocess bool
	daemon         bool
	taskName       string
	tid            string
)

var rootCmd = &cobra.Command{
	Use:          "worker",
	Short:        "Run the karaoke-scheduler worker",
	RunE:         run,
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVar(&configDir, "config-dir", "", "directory containing config.ini (default: working directory)")
	rootCmd.Flags().StringVar(&masterAddr, "master-addr", "", "override scheduler.host:scheduler.port from config.ini")

	rootCmd.Flags().StringVar(&jobID, "jobId", "", "attach to this job id over the master's control channel")
	rootCmd.Flags().StringVar(&url, "url", "", "run a local debug job against this source URL (no master connection)")
	rootCmd.Flags().StringVar(&filepath, "filepath", "", "run a local debug job against this local media file (no master connection)")

	rootCmd.Flags().BoolVar(&taskSubprocess, "task-subprocess", false, "internal: run one task body, reading its args frame from stdin")
	rootCmd.Flags().BoolVar(&daemon, "daemon", false, "run one task type as a persistent daemon, listening on its unix socket")
	rootCmd.Flags().StringVar(&taskName, "task", "", "task name, required by --task-subprocess and --daemon")
	rootCmd.Flags().StringVar(&tid, "tid", "", "task id, required by --task-subprocess")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
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

	deps := &tasks.Deps{Config: cfg, MediaPath: cfg.MediaPath, Logger: logger}
	registry := tasks.NewRegistry(deps)

	switch {
	case taskSubprocess:
		if taskName == "" || tid == "" {
			return fmt.Errorf("worker: --task-subprocess requires --task and --tid")
		}
		body, err := registry.Build(taskName)
		if err != nil {
			return err
		}
		os.Exit(pipeline.RunSubprocessTask(tid, body))
		return nil

	case daemon:
		if taskName == "" {
			return fmt.Errorf("worker: --daemon requires --task")
		}
		body, err := registry.Build(taskName)
		if err != nil {
			return err
		}
		srv, err := pipeline.NewDaemonServer(cfg.MediaPath, body, logger)
		if err != nil {
			return err
		}
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()
		logger.Info("daemon listening", zap.String("task", taskName))
		return srv.Serve(ctx)

	default:
		return runPipeline(cfg, logger, deps)
	}
}

// runPipeline is the normal worker mode: it binds to a Job (over the
// master's control channel, or a locally-built one for debugging) and
// drives it through the task pipeline to completion.
func runPipeline(cfg *config.Config, logger *zap.Logger, deps *tasks.Deps) error {
	binder, err := buildBinder(cfg, logger)
	if err != nil {
		return err
	}
	defer binder.Close()

	job, err := binder.GetJobInfo()
	if err != nil {
		return fmt.Errorf("worker: fetch job info: %w", err)
	}

	nodes := tasks.BuildYoutubePipeline(deps)
	nodeTasks := make([]*model.Task, len(nodes))
	for i, n := range nodes {
		nodeTasks[i] = n.Task
	}

	rj := pipeline.NewRemoteJob(job, binder, logger)
	rj.InitTasks(nodeTasks)

	executor := &pipeline.DaemonExecutor{
		SocketDir: cfg.MediaPath,
		Fallback:  &pipeline.SubprocessExecutor{Logger: logger},
		Logger:    logger,
	}
	engine := pipeline.NewEngine(rj, nodes, logger, executor)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	actionCh := binder.Listen()
	engine.Run(ctx, actionCh)
	return nil
}

// buildBinder picks the worker's binder from the CLI's mutually exclusive
// --jobId / --url / --filepath surface (SPEC_FULL.md §4.4).
func buildBinder(cfg *config.Config, logger *zap.Logger) (pipeline.Binder, error) {
	switch {
	case jobID != "":
		addr := masterAddr
		if addr == "" {
			addr = fmt.Sprintf("%s:%d", cfg.SchedulerHost, cfg.SchedulerPort)
		}
		return pipeline.NewSchedulerBinder(addr, jobID, logger)

	case url != "":
		media := model.Media{URL: url}
		job := model.NewJob(uuid.NewString(), model.JobTypeYouTube, media)
		return pipeline.NewCommandBinder(job, logger), nil

	case filepath != "":
		media := model.Media{Filepath: filepath}
		job := model.NewJob(uuid.NewString(), model.JobTypeLocal, media)
		return pipeline.NewCommandBinder(job, logger), nil

	default:
		return nil, fmt.Errorf("worker: one of --jobId, --url, --filepath is required")
	}
}
