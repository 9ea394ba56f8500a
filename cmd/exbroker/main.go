// Package main is the entry point for the exchange broker.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tathienbao/exbroker/internal/broker"
	"github.com/tathienbao/exbroker/internal/broker/paper"
	"github.com/tathienbao/exbroker/internal/config"
	"github.com/tathienbao/exbroker/internal/exchange"
	"github.com/tathienbao/exbroker/internal/metrics"
	"github.com/tathienbao/exbroker/internal/persistence"
	"github.com/tathienbao/exbroker/internal/stream"
)

// Version information (set by build flags).
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Parse command
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "run":
		cmdRun(os.Args[2:])
	case "listen":
		cmdListen(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Exchange Broker - Order Lifecycle and Fill Reconciliation

Usage:
  exbroker <command> [options]

Commands:
  run        Start the broker against the configured exchange
  listen     Print execution reports from a user-data stream
  validate   Validate configuration file
  version    Show version information
  help       Show this help message

Examples:
  exbroker run --config config.yaml
  exbroker listen --url wss://fstream.binance.com/ws/<listenKey>
  exbroker validate --config config.yaml

Use "exbroker <command> --help" for more information about a command.`)
}

func cmdVersion() {
	fmt.Printf("exbroker version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	preset := cfg.Broker.Preset
	if preset == "" {
		preset = "default"
	}

	fmt.Println("Configuration is valid!")
	fmt.Printf("  Currency: %s\n", cfg.Broker.Currency)
	fmt.Printf("  Mapping preset: %s\n", preset)
	fmt.Printf("  Exchange: %s\n", cfg.Exchange.Type)
	fmt.Printf("  Paper cash: %.2f %s\n", cfg.Paper.InitialCash, cfg.Paper.Currency)
	fmt.Printf("  Journal: %t\n", cfg.Persistence.Enabled)
	fmt.Printf("  Stream: %t\n", cfg.Stream.URL != "")
}

func cmdListen(args []string) {
	fs := flag.NewFlagSet("listen", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	url := fs.String("url", "", "Stream URL (overrides config)")
	verbose := fs.Bool("verbose", false, "Verbose output")
	fs.Parse(args)

	// Setup logging
	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	cfg := &config.Config{}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("failed to load config", "err", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if *url != "" {
		cfg.Stream.URL = *url
	}
	if cfg.Stream.URL == "" {
		fmt.Fprintln(os.Stderr, "Error: --url or stream.url is required")
		fs.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener := stream.New(cfg.ToStreamConfig(), metrics.NewRecorder(), logger)
	reports, err := listener.Reports(ctx)
	if err != nil {
		slog.Error("failed to connect stream", "err", err)
		os.Exit(1)
	}

	for rep := range reports {
		slog.Info("execution report",
			"symbol", rep.Symbol,
			"order_id", rep.OrderID,
			"exec_type", rep.ExecType,
			"status", rep.Status,
			"side", rep.Side,
			"last_qty", rep.LastQty,
			"last_price", rep.LastPrice,
		)
	}

	if ctx.Err() == nil {
		slog.Error("stream closed", "state", listener.State(), "retries", listener.Retries())
		os.Exit(1)
	}
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Broker.Debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("exbroker failed", "err", err)
		os.Exit(1)
	}

	slog.Info("exbroker shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	metrics.SetBuildInfo(Version, GitCommit, BuildTime)
	rec := metrics.NewRecorder()

	mapping, err := cfg.ToMapping()
	if err != nil {
		return err
	}

	slog.Info("exbroker starting",
		"version", Version,
		"exchange", cfg.Exchange.Type,
		"currency", cfg.Broker.Currency,
		"preset", cfg.Broker.Preset,
	)

	// Connect exchange
	px := paper.New(cfg.ToPaperConfig(), logger)
	if err := px.Connect(ctx); err != nil {
		return fmt.Errorf("connect exchange: %w", err)
	}

	var ex broker.Exchange = px
	if cfg.Exchange.RateLimitPerSecond > 0 {
		ex = exchange.NewRateLimited(ex, cfg.Exchange.RateLimitPerSecond)
	}
	ex = exchange.NewObserved(ex, rec)

	var reports broker.ReportSource = px
	var listener *stream.Listener
	if cfg.Stream.URL != "" {
		listener = stream.New(cfg.ToStreamConfig(), rec, logger)
		reports = listener
	}

	// Open journal
	var journal broker.Journal
	var repo *persistence.SQLiteRepository
	if cfg.Persistence.Enabled {
		repo, err = persistence.NewSQLiteRepository(cfg.Persistence.Path)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer repo.Close()
		journal = repo
	}

	b := broker.New(ex, broker.Options{
		Currency: cfg.Broker.Currency,
		Mapping:  mapping,
		Reports:  reports,
		Journal:  journal,
		Recorder: rec,
		Logger:   logger,
	})

	if journal != nil {
		n, err := b.Recover(ctx)
		if err != nil {
			return fmt.Errorf("recover orders: %w", err)
		}
		slog.Info("journal recovered", "orders", n)
	}

	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("start broker: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		tickLoop(gctx, b, cfg.TickInterval())
		return nil
	})

	if cfg.Metrics.Enabled {
		srv := metrics.NewServer(metrics.ServerConfig{
			Port:        cfg.Metrics.Port,
			MetricsPath: cfg.Metrics.Path,
			HealthPath:  "/health",
			StatusPath:  "/status",
			Version:     Version,
		}, logger)

		srv.RegisterHealthCheck("exchange", func() metrics.Check {
			if !px.IsConnected() {
				return metrics.Unhealthy("exchange " + px.State().String())
			}
			return metrics.Healthy("connected")
		})
		srv.RegisterHealthCheck("broker", func() metrics.Check {
			if !b.Running() {
				return metrics.Unhealthy("not running")
			}
			return metrics.Healthy("running")
		})
		if listener != nil {
			srv.RegisterHealthCheck("stream", func() metrics.Check {
				if st := listener.State(); st != broker.StateConnected {
					return metrics.Unhealthy("stream " + st.String())
				}
				return metrics.Healthy("connected")
			})
		}
		srv.SetStatus(func() any {
			return map[string]any{
				"currency":    cfg.Broker.Currency,
				"cash":        b.Cash().String(),
				"value":       b.Value().String(),
				"open_orders": len(b.LiveOrders()),
				"running":     b.Running(),
			}
		})

		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	runErr := g.Wait()
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run loop failed", "err", runErr)
	} else {
		runErr = nil
		slog.Info("shutdown signal received")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		cfg.ShutdownTimeout(),
	)
	defer cancel()

	if err := shutdown(shutdownCtx, cfg, b, px); err != nil {
		slog.Error("shutdown error", "err", err)
	}

	return runErr
}

// tickLoop marks an iteration boundary every interval and drains the
// notifications queued since the last one.
func tickLoop(ctx context.Context, b *broker.Broker, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		b.Next()
		for {
			o, ok := b.PullNotification()
			if !ok || o == nil {
				break
			}
			slog.Info("order notification",
				"order_id", o.ID,
				"symbol", o.Symbol,
				"status", o.Status,
				"executed_size", o.Executed.Size,
				"executed_price", o.Executed.Price,
			)
		}
	}
}

func shutdown(ctx context.Context, cfg *config.Config, b *broker.Broker, px *paper.Exchange) error {
	slog.Info("starting graceful shutdown",
		"timeout", cfg.ShutdownTimeout(),
	)

	// Shutdown steps with timeout check
	steps := []struct {
		name string
		fn   func() error
	}{
		{"cancel open orders", func() error {
			if !cfg.Shutdown.CancelOpenOrders {
				return nil
			}
			var errs []error
			for _, o := range b.LiveOrders() {
				if _, err := b.Cancel(ctx, o); err != nil {
					errs = append(errs, fmt.Errorf("cancel %s: %w", o.ID, err))
				}
			}
			return errors.Join(errs...)
		}},
		{"stop broker", func() error {
			return b.Stop(ctx)
		}},
		{"close connections", func() error {
			return px.Disconnect()
		}},
	}

	for _, step := range steps {
		select {
		case <-ctx.Done():
			return fmt.Errorf("shutdown timeout during: %s", step.name)
		default:
			slog.Debug("shutdown step", "step", step.name)
			if err := step.fn(); err != nil {
				slog.Warn("shutdown step failed", "step", step.name, "err", err)
			}
		}
	}

	return nil
}
