package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/stockpile/internal/simulate"
	"github.com/ajitpratap0/stockpile/pkg/config"
	"github.com/ajitpratap0/stockpile/pkg/logger"
	"github.com/ajitpratap0/stockpile/pkg/observability"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "stockpile",
		Short: "Stockpile - recycling pools for expensive objects",
		Long: `Stockpile keeps a reserve of expensive-to-build objects and refills it a
bounded chunk at a time, so bursts of demand are served without stalls.`,
		SilenceUsage: true,
	}

	var configFile string
	root.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to YAML configuration file (default: ./stockpile.yaml)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Stockpile v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			out, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})

	root.AddCommand(newSimulateCmd(&configFile))
	return root
}

type simulateFlags struct {
	ticks       uint64
	chunk       int
	jsonOutput  bool
	metricsAddr string
}

func newSimulateCmd(configFile *string) *cobra.Command {
	var flags simulateFlags

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a pool against a synthetic workload",
		Long: `Run a recycling pool of synthetic heavy sprites under a seeded workload
and print the final pool statistics.

Example:
  stockpile simulate --ticks 300 --chunk 4 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("ticks") {
				cfg.Driver.MaxTicks = flags.ticks
			}
			if cmd.Flags().Changed("chunk") {
				cfg.Pool.ChunkSize = flags.chunk
			}
			if flags.metricsAddr != "" {
				cfg.Metrics.Enabled = true
				cfg.Metrics.Address = flags.metricsAddr
			}
			return runSimulation(cmd.Context(), cmd.OutOrStdout(), cfg, flags.jsonOutput)
		},
	}

	cmd.Flags().Uint64Var(&flags.ticks, "ticks", 0, "Number of driver ticks to run (overrides driver.max_ticks)")
	cmd.Flags().IntVar(&flags.chunk, "chunk", 0, "Instances built per tick at most (overrides pool.chunk_size)")
	cmd.Flags().BoolVar(&flags.jsonOutput, "json", false, "Print the report as JSON")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	return cmd
}

func runSimulation(ctx context.Context, out io.Writer, cfg *config.Config, asJSON bool) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logger.Init(cfg.Logging); err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get().With(zap.String("component", "stockpile-cli"))

	if err := observability.InitTracing(cfg.Tracing); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := observability.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	env := simulate.Env{Logger: log}
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		env.Registerer = reg
		if cfg.Metrics.Address != "" {
			srv := serveMetrics(cfg.Metrics.Address, reg, log)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}
	}

	log.Info("starting simulation",
		zap.String("pool", cfg.Pool.Name),
		zap.Int("chunk_size", cfg.Pool.ChunkSize),
		zap.String("detach_policy", cfg.Pool.DetachPolicy),
		zap.Uint64("max_ticks", cfg.Driver.MaxTicks))

	report, err := simulate.Run(ctx, cfg, env)
	if err != nil {
		return fmt.Errorf("simulation failed: %w", err)
	}
	return printReport(out, report, asJSON)
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("serving metrics", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	return srv
}

func printReport(out io.Writer, r *simulate.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	rows := []struct {
		name  string
		value interface{}
	}{
		{"run", r.RunID},
		{"pool", r.Pool.Name},
		{"ticks", r.Ticks},
		{"elapsed", r.Elapsed.Round(time.Millisecond)},
		{"target", r.Pool.Target},
		{"idle", r.Pool.Idle},
		{"constructed", r.Pool.Constructed},
		{"hits", r.Pool.Hits},
		{"misses", r.Pool.Misses},
		{"growths", r.Pool.Growths},
		{"spawned", r.Workload.Spawned},
		{"expired", r.Workload.Expired},
		{"requests", r.Workload.Requests},
		{"submitted", r.Producers.Submitted},
		{"retries", r.Producers.Retries},
		{"dropped", r.Dropped},
		{"tick failures", r.Failures},
		{"heap bytes", r.Resources.HeapAlloc},
		{"rss bytes", r.Resources.MemoryRSS},
	}
	for _, row := range rows {
		fmt.Fprintf(w, "%s\t%v\n", row.name, row.value)
	}
	return w.Flush()
}
