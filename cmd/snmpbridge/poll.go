package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/wiremaps/snmpbridge/internal/client"
	"github.com/wiremaps/snmpbridge/internal/config"
	"github.com/wiremaps/snmpbridge/internal/health"
	"github.com/wiremaps/snmpbridge/internal/logging"
	"github.com/wiremaps/snmpbridge/internal/metrics"
	"github.com/wiremaps/snmpbridge/internal/poller"
)

func pollCmd(g *globalFlags) *cobra.Command {
	var (
		configPath string
		watch      bool
		quiet      bool
		once       bool
	)

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Poll the configured targets on a schedule",
		Long:  "Load the configuration and poll every target each interval until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			// Flags given explicitly win over the file.
			level, format := cfg.Log.Level, cfg.Log.Format
			if cmd.Flags().Changed("log-level") {
				level = g.logLevel
			}
			if cmd.Flags().Changed("log-format") {
				format = g.logFormat
			}
			logger := logging.NewLoggerWithWriter(level, format, os.Stderr)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var out *printer
			if !quiet {
				out = newPrinter(cmd.OutOrStdout(), false)
			}
			return runPoll(ctx, cfg, configPath, logger, out, watch, once)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./snmpbridge.yaml", "Path to configuration file")
	cmd.Flags().BoolVar(&watch, "watch", false, "Reload targets when the configuration file changes")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not print results")
	cmd.Flags().BoolVar(&once, "once", false, "Run a single cycle and exit")

	return cmd
}

func runPoll(ctx context.Context, cfg *config.Config, path string, logger *slog.Logger, out *printer, watch, once bool) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetricsWithRegistry(reg)

	c, err := client.New(cfg.EngineSettings(), logger, m)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	clientDone := make(chan error, 1)
	go func() { clientDone <- c.Run(runCtx) }()

	var handler poller.Handler
	if out != nil {
		handler = func(r poller.Result) {
			if err := out.result(r); err != nil {
				logger.Warn("write result failed", logging.KeyError, err)
			}
		}
	}
	p := poller.New(c, cfg.PollerSettings(), cfg.PollTargets(), handler, logger, m)

	if cfg.Metrics.Enabled {
		srv := health.NewServer(health.ServerConfig{
			Address:      cfg.Metrics.Address,
			ReadTimeout:  cfg.Metrics.ReadTimeout,
			WriteTimeout: cfg.Metrics.WriteTimeout,
			Gatherer:     reg,
		}, &pollStatus{client: c, poller: p})
		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer srv.Stop()
		logger.Info("metrics server listening", logging.KeyAddress, srv.Address().String())
	}

	if watch {
		go func() {
			err := config.Watch(runCtx, path, 0, logger, func(next *config.Config) {
				p.Update(runCtx, next.PollerSettings(), next.PollTargets())
			})
			if err != nil {
				logger.Error("config watch stopped", logging.KeyError, err)
			}
		}()
	}

	logger.Info("polling started",
		logging.KeyCount, len(cfg.Targets),
		"interval", cfg.Poller.Interval)

	if once {
		p.PollOnce(runCtx)
	} else {
		p.Run(runCtx)
	}

	cancel()
	return <-clientDone
}

// pollStatus feeds the health endpoints.
type pollStatus struct {
	client *client.Client
	poller *poller.Poller
}

func (s *pollStatus) IsRunning() bool {
	return s.client.Running()
}

func (s *pollStatus) Stats() health.Stats {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	readers, _ := s.client.Registered(ctx)

	st := s.poller.Stats()
	return health.Stats{
		Targets:      len(s.poller.Targets()),
		Readers:      readers,
		Cycles:       st.Cycles,
		LastPoll:     st.LastPoll,
		LastFailures: st.LastFailures,
	}
}
