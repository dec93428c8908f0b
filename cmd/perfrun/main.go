// Package main provides the CLI entry point for perfrun, a
// benchmark-execution harness that runs one command under
// measurement and emits a single JSON report on stdout.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"perfrun/cachegrind"
	"perfrun/config"
	"perfrun/metrics"
	"perfrun/runner"
	"perfrun/statsd"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	root := newRootCmd(logger)
	if err := root.Execute(); err != nil {
		logger.Error("run failed", slog.String("error", err.Error()))

		var cmdErr *runner.CommandError
		if errors.As(err, &cmdErr) {
			os.Exit(cmdErr.Code)
		}

		os.Exit(1)
	}
}

func newRootCmd(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:   "perfrun <config-file>",
		Short: "Run a command under measurement and emit one JSON report",
		Long: `Perfrun runs a target command once or N times, measures wall-clock
time and OS resource usage, collects statsd-style metrics the command
emits over local UDP, optionally counts instructions via cachegrind,
and prints a single merged JSON object on standard output.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// The iteration marker selects child mode; a child takes
			// no positional arguments.
			if carrier, ok := os.LookupEnv(config.EnvIteration); ok {
				return runIteration(cmd.Context(), logger, carrier)
			}

			if len(args) != 1 {
				return fmt.Errorf("missing config file argument")
			}

			return runTopLevel(cmd.Context(), logger, args[0])
		},
	}

	return root
}

// runTopLevel drives a full harness invocation: setup, listener
// rendezvous, single or iterated measurement, optional instruction
// counting, and the one-line JSON report.
func runTopLevel(ctx context.Context, logger *slog.Logger, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	logger = logger.With(slog.String("run_id", uuid.NewString()))
	if cfg.Name != "" {
		logger = logger.With(slog.String("name", cfg.Name))
	}

	if err := maybeSetup(ctx, logger, cfg); err != nil {
		return err
	}

	buf := &statsd.Buffer{}

	lis := &statsd.Listener{Buf: buf, Logger: logger}
	ready := make(chan struct{})
	bindErr := make(chan error, 1)

	go func() { bindErr <- lis.Listen(ready) }()

	select {
	case <-ready:
	case err := <-bindErr:
		return fmt.Errorf("statsd listener: %w", err)
	}

	m := metrics.NewMap()

	if cfg.Iterations == 1 {
		r := &runner.Runner{Config: cfg, Buf: buf, Logger: logger}
		if err := r.Run(ctx, m); err != nil {
			return err
		}
	} else {
		it := &runner.Iterator{Config: cfg, Buf: buf, Logger: logger}
		nested := make(metrics.Nested, 0, cfg.Iterations)

		for i := 1; i <= cfg.Iterations; i++ {
			logger.Info("starting iteration",
				slog.Int("iteration", i),
				slog.Int("total", cfg.Iterations),
			)

			im, err := it.Run(ctx)
			if err != nil {
				return err
			}

			nested = append(nested, im)
		}

		m.Set("iterations", nested)
	}

	if cfg.Cachegrind {
		instructions, err := cachegrind.Measure(ctx, logger, cfg)
		if err != nil {
			return err
		}

		m.Set("instructions", metrics.Number(instructions))
	}

	if version, ok := os.LookupEnv(config.EnvVersion); ok {
		m.Set("version", metrics.String(version))
	}

	if cfg.Name != "" {
		m.Set("name", metrics.String(cfg.Name))
	}

	if cfg.Variant != "" {
		m.Set("variant", metrics.String(cfg.Variant))
	}

	out, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	fmt.Println(string(out))

	return nil
}

// runIteration is the child half of the re-exec iteration strategy:
// one measured run, then the five fixed metrics re-encoded as gauge
// lines and sent to the parent's listener. No JSON is printed.
func runIteration(ctx context.Context, logger *slog.Logger, carrier string) error {
	cfg, err := config.DecodeEnv(carrier)
	if err != nil {
		return err
	}

	if err := maybeSetup(ctx, logger, cfg); err != nil {
		return err
	}

	// No listener in child mode: the measured command's own datagrams
	// go straight to the parent's fixed endpoint.
	m := metrics.NewMap()
	r := &runner.Runner{Config: cfg, Buf: &statsd.Buffer{}, Logger: logger}

	if err := r.Run(ctx, m); err != nil {
		return err
	}

	report, err := m.EncodeGauges(metrics.RunKeys()...)
	if err != nil {
		return fmt.Errorf("iteration report: %w", err)
	}

	return statsd.Send(statsd.DefaultAddr, report)
}

func maybeSetup(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	if len(cfg.Setup) == 0 {
		return nil
	}

	if _, ok := os.LookupEnv(config.EnvSkipSetup); ok {
		logger.Info("skipping setup")
		return nil
	}

	s := &runner.SetupRunner{Config: cfg, Logger: logger}

	return s.Run(ctx)
}
