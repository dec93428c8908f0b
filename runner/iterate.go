package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"perfrun/config"
	"perfrun/metrics"
	"perfrun/statsd"
)

// reportWait bounds how long a drain waits for the listener goroutine
// to surface a child's report. The datagram is queued at the socket
// before the child exits; the wait only covers scheduling of the
// listener goroutine.
const reportWait = 2 * time.Second

// Iterator re-executes the harness binary once per iteration so every
// run's resource counters start from a fresh process, untouched by
// the long-lived listener and earlier iterations. Iterations must run
// strictly sequentially; interleaved children would interleave their
// datagrams in the shared buffer.
type Iterator struct {
	Config *config.Config
	Buf    *statsd.Buffer
	Logger *slog.Logger
}

// Run performs one isolated iteration and returns the child's
// self-reported metrics, drained from the listener buffer after the
// child has fully exited.
func (it *Iterator) Run(ctx context.Context) (*metrics.Map, error) {
	carrier, err := iterationCarrier(it.Config)
	if err != nil {
		return nil, err
	}

	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate harness binary: %w", err)
	}

	cmd := exec.CommandContext(ctx, self)
	cmd.Env = append(it.Config.Environ(), config.EnvIteration+"="+carrier)
	cmd.Stdout, cmd.Stderr = stdio()

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("spawn %s: %w", self, err)
		}
	}

	if err := checkExit(exitStatus(cmd.ProcessState)); err != nil {
		return nil, err
	}

	// A child that exited zero has already sent its report.
	deadline := time.Now().Add(reportWait)
	for it.Buf.String() == "" && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	m := metrics.NewMap()
	if err := metrics.ParseStatsd(it.Buf.Drain(), m); err != nil {
		return nil, fmt.Errorf("iteration telemetry: %w", err)
	}

	return m, nil
}

// iterationCarrier clones the config for one child, forcing the
// profiler off (instruction counting only ever happens at top level),
// and serializes it for the iteration-marker variable.
func iterationCarrier(cfg *config.Config) (string, error) {
	dup := cfg.Clone()
	dup.Cachegrind = false

	return dup.EncodeEnv()
}
