// Command fcs is the Free Churro Scheduler binary: a single executable
// with three subcommands for the supervisor, the worker agent, and schema
// setup, plus a read-only status query (spec.md §6).
package main

import (
	"context"
	stdtls "crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/churroqueue/fcs/internal/cli/output"
	"github.com/churroqueue/fcs/internal/config"
	"github.com/churroqueue/fcs/internal/db"
	"github.com/churroqueue/fcs/internal/metrics"
	"github.com/churroqueue/fcs/internal/submission"
	"github.com/churroqueue/fcs/internal/supervisor"
	"github.com/churroqueue/fcs/internal/task"
	"github.com/churroqueue/fcs/internal/tls"
	"github.com/churroqueue/fcs/internal/tracing"
	"github.com/churroqueue/fcs/internal/worker/dispatch"
	"github.com/churroqueue/fcs/internal/worker/executor"
	"github.com/churroqueue/fcs/internal/worker/heartbeat"
)

var version = "v0.1.0-dev"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	rootCmd := &cobra.Command{
		Use:   "fcs",
		Short: "Free Churro Scheduler",
		Long: `fcs runs the Free Churro Scheduler distributed task queue: a
supervisor process that dispatches tasks to workers through a shared
Postgres database, and a worker process that claims and executes them.`,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fcs %s\n", version)
		},
	}

	rootCmd.AddCommand(versionCmd, newInitCmd(), newSuperviseCmd(), newWorkCmd(), newStatusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the layered configuration and applies the --database
// override common to every subcommand.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	databaseURL, _ := cmd.Flags().GetString("database")

	cfg, err := config.Load(configPath, viper.New())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if databaseURL != "" {
		cfg.Database.DSN = databaseURL
	}
	applyLogConfig(cfg)
	return cfg, nil
}

func applyLogConfig(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Log.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
}

// connectGateway opens the shared database connection and wraps it in a
// Gateway, wiring TLS and metrics per the loaded configuration.
func connectGateway(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*db.Gateway, func(), error) {
	var tlsConfig *stdtls.Config
	if cfg.TLS.Enabled {
		loaded, err := tls.LoadClientTLS(cfg.TLS)
		if err != nil {
			return nil, nil, fmt.Errorf("load tls config: %w", err)
		}
		tlsConfig = loaded
	}

	pool, err := db.Connect(ctx, cfg.Database.DSN, cfg.Database.MaxConns, tlsConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	gw := db.New(pool, db.WithMetrics(m))
	return gw, pool.Close, nil
}

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			gw, closePool, err := connectGateway(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer closePool()

			if err := gw.InitSchema(ctx); err != nil {
				return fmt.Errorf("init schema: %w", err)
			}

			log.Info().Msg("schema initialized")
			return nil
		},
	}
	cmd.Flags().String("database", "", "Postgres connection URL")
	cmd.Flags().String("config", "", "Path to config file")
	return cmd
}

func newSuperviseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "supervise",
		Short: "Start the supervisor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
				cfg.Supervisor.ListenAddr = listen
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			m := metrics.Default()

			tracingCfg := cfg.Tracing
			tracingCfg.ServiceName = tracing.SupervisorConfig().ServiceName
			tp, err := tracing.Init(ctx, tracingCfg)
			if err != nil {
				log.Warn().Err(err).Msg("tracing init failed, continuing without it")
			}
			if tp != nil {
				defer func() { _ = tp.Shutdown(context.Background()) }()
			}

			gw, closePool, err := connectGateway(ctx, cfg, m)
			if err != nil {
				return err
			}
			defer closePool()

			sup := supervisor.New(gw, supervisor.Config{
				HeartbeatInterval: cfg.Supervisor.HeartbeatInterval,
				RetryBackoff:      cfg.Supervisor.RetryBackoff,
			}, m)

			submissionCfg := submission.DefaultConfig()
			submissionCfg.ListenAddr = cfg.Supervisor.ListenAddr
			submissionSrv, err := submission.New(submissionCfg, gw, cfg.Auth, cfg.TLS)
			if err != nil {
				return fmt.Errorf("build submission server: %w", err)
			}

			errCh := make(chan error, 2)
			go func() {
				if err := sup.Run(ctx); err != nil {
					errCh <- fmt.Errorf("supervisor: %w", err)
				}
			}()
			go func() {
				if err := submissionSrv.Start(); err != nil {
					errCh <- fmt.Errorf("submission server: %w", err)
				}
			}()

			log.Info().Str("listen_addr", cfg.Supervisor.ListenAddr).Str("version", version).Msg("supervisor started")

			select {
			case <-ctx.Done():
				log.Info().Msg("shutdown signal received")
				_ = submissionSrv.Stop()
				return nil
			case err := <-errCh:
				_ = submissionSrv.Stop()
				return err
			}
		},
	}
	cmd.Flags().String("database", "", "Postgres connection URL")
	cmd.Flags().String("listen", "", "Submission/dashboard HTTP listen address")
	cmd.Flags().String("config", "", "Path to config file")
	return cmd
}

func newWorkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Start a worker agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
				cfg.Worker.ListenAddr = listen
			}
			if slots, _ := cmd.Flags().GetInt("slots"); slots > 0 {
				cfg.Worker.Slots = slots
			}

			workerID, err := resolveWorkerID(cmd, cfg.Worker.ID)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			m := metrics.Default()

			tracingCfg := cfg.Tracing
			tracingCfg.ServiceName = tracing.WorkerConfig().ServiceName
			tp, err := tracing.Init(ctx, tracingCfg)
			if err != nil {
				log.Warn().Err(err).Msg("tracing init failed, continuing without it")
			}
			if tp != nil {
				defer func() { _ = tp.Shutdown(context.Background()) }()
			}

			gw, closePool, err := connectGateway(ctx, cfg, m)
			if err != nil {
				return err
			}
			defer closePool()

			exec := executor.NewCommandExecutor()

			emitter := heartbeat.New(gw, workerID, cfg.Worker.HeartbeatInterval)
			go emitter.Run(ctx)

			errCh := make(chan error, cfg.Worker.Slots+1)
			for slot := 0; slot < cfg.Worker.Slots; slot++ {
				loop := dispatch.New(gw, exec, workerID, slot, m)
				go func() {
					if err := loop.Run(ctx); err != nil {
						errCh <- fmt.Errorf("dispatch slot: %w", err)
					}
				}()
			}

			healthSrv := newHealthServer(cfg.Worker.ListenAddr)
			go func() {
				if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- fmt.Errorf("worker health server: %w", err)
				}
			}()

			log.Info().
				Str("worker_id", workerID.String()).
				Int("slots", cfg.Worker.Slots).
				Str("listen_addr", cfg.Worker.ListenAddr).
				Str("version", version).
				Msg("worker started")

			select {
			case <-ctx.Done():
				log.Info().Msg("shutdown signal received")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = healthSrv.Shutdown(shutdownCtx)
				return nil
			case err := <-errCh:
				return err
			}
		},
	}
	cmd.Flags().String("database", "", "Postgres connection URL")
	cmd.Flags().String("listen", "", "Worker health/metrics HTTP listen address")
	cmd.Flags().String("id", "", "Worker UUID (generated if empty)")
	cmd.Flags().Int("slots", 0, "Number of concurrent dispatch slots (0 = use config default)")
	cmd.Flags().String("config", "", "Path to config file")
	return cmd
}

func resolveWorkerID(cmd *cobra.Command, configured string) (uuid.UUID, error) {
	raw, _ := cmd.Flags().GetString("id")
	if raw == "" {
		raw = configured
	}
	if raw == "" {
		return uuid.New(), nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid --id: %w", err)
	}
	return id, nil
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print a point-in-time queue and worker snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			gw, closePool, err := connectGateway(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer closePool()

			return printStatus(ctx, gw, cfg)
		},
	}
	cmd.Flags().String("database", "", "Postgres connection URL")
	cmd.Flags().String("config", "", "Path to config file")
	return cmd
}

func printStatus(ctx context.Context, gw *db.Gateway, cfg *config.Config) error {
	tasks, err := gw.ListTasks(ctx)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	workerRecords, err := gw.ListWorkers(ctx)
	if err != nil {
		return fmt.Errorf("list workers: %w", err)
	}

	liveness := cfg.Worker.HeartbeatInterval * 3
	now := time.Now()

	summary := output.Summary{Workers: len(workerRecords)}
	for _, t := range tasks {
		switch t.Status {
		case task.StatusPending:
			summary.Pending++
		case task.StatusDispatched:
			summary.Dispatched++
		case task.StatusRunning:
			summary.Running++
		case task.StatusSucceeded:
			summary.Succeeded++
		case task.StatusFailed:
			summary.Failed++
		case task.StatusInterrupted:
			summary.Interrupted++
		}
	}

	workerRows := make([]output.WorkerRow, 0, len(workerRecords))
	for _, w := range workerRecords {
		eligible := now.Sub(w.LastHeardAt) <= liveness
		if eligible {
			summary.Eligible++
		}
		workerRows = append(workerRows, output.WorkerRow{
			ID:            w.ID.String(),
			LastHeartbeat: w.LastHeardAt,
			Eligible:      eligible,
			ActiveTasks:   w.ActiveTasks,
		})
	}

	taskRows := make([]output.TaskRow, 0, len(tasks))
	for i, t := range tasks {
		if i >= 20 {
			break
		}
		row := output.TaskRow{
			ID:          t.ID.String(),
			Status:      string(t.Status),
			CreatedAt:   t.CreatedAt,
			ScheduledAt: t.ScheduledAt,
		}
		if t.WorkerID.Valid {
			row.WorkerID = t.WorkerID.UUID.String()
		}
		taskRows = append(taskRows, row)
	}

	output.PrintSummary(summary)
	fmt.Println()
	output.PrintWorkersTable(workerRows)
	fmt.Println()
	output.PrintTasksTable(taskRows)
	return nil
}

// newHealthServer builds the worker's local /healthz and /metrics HTTP
// server, mirroring the teacher's worker metrics server.
func newHealthServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return &http.Server{Addr: addr, Handler: mux}
}
