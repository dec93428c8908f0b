// Package runner spawns and measures the benchmark processes: the
// retried setup command, the measured command itself, and the
// re-executed harness children used for per-iteration isolation.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"perfrun/config"
	"perfrun/metrics"
	"perfrun/statsd"
)

// CommandError reports a spawned command that exited in the fatal
// range. The harness exits with the child's own code, discarding any
// partial metrics.
type CommandError struct {
	Code int
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.Code)
}

// Runner executes one measured run of the configured command.
type Runner struct {
	Config *config.Config
	Buf    *statsd.Buffer
	Logger *slog.Logger
}

// Run records a resource-usage snapshot and the start instant, spawns
// the measured command, and on completion stores wall time
// (microseconds), the usage delta, the derived CPU percentage, and
// whatever telemetry the command sent to the listener during the run.
func (r *Runner) Run(ctx context.Context, m *metrics.Map) error {
	if r.Config.Timeout > 0 {
		go r.watchdog(r.Config.Timeout)
	}

	argv := r.Config.Run
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = r.Config.Environ()
	cmd.Stdout, cmd.Stderr = stdio()

	before, err := snapshotUsage()
	if err != nil {
		return err
	}

	start := time.Now()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %s: %w", argv[0], err)
	}

	waitErr := cmd.Wait()
	wall := float64(time.Since(start).Microseconds())

	after, err := snapshotUsage()
	if err != nil {
		return err
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return fmt.Errorf("wait for %s: %w", argv[0], waitErr)
		}
	}

	code := exitStatus(cmd.ProcessState)
	if err := checkExit(code); err != nil {
		r.Logger.Error("measured command failed",
			slog.Int("exit_code", code),
		)

		return err
	}

	delta := after.sub(before)

	m.Set(metrics.KeyWallTime, metrics.Number(wall))
	m.Set(metrics.KeyMaxResSize, metrics.Number(delta.maxResSize))
	m.Set(metrics.KeyUserTime, metrics.Number(delta.userTime))
	m.Set(metrics.KeySystemTime, metrics.Number(delta.systemTime))
	m.Set(metrics.KeyCPUPct,
		metrics.Number((delta.userTime+delta.systemTime)*100/wall))

	if err := metrics.ParseStatsd(r.Buf.Drain(), m); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	return nil
}

// watchdog terminates the whole harness once the measurement timeout
// elapses, racing normal completion. It is never cancelled; if the
// measured command finishes first the process exits before the timer
// fires.
func (r *Runner) watchdog(seconds int) {
	time.Sleep(time.Duration(seconds) * time.Second)

	r.Logger.Error("timeout exceeded", slog.Int("timeout_sec", seconds))
	os.Exit(1)
}

// exitStatus normalizes a finished process into a single code: signal
// deaths map to 128+signal, matching shell convention, so the fatal
// rule can treat both uniformly.
func exitStatus(ps *os.ProcessState) int {
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}

	return ps.ExitCode()
}

// checkExit applies the fatal-exit rule: zero succeeds, codes up to
// 128 abort the harness with that code, and the signal range (>128)
// is tolerated so killed-but-finished commands still report metrics.
func checkExit(code int) error {
	if code != 0 && code <= 128 {
		return &CommandError{Code: code}
	}

	return nil
}

// stdio returns the writers for child output: inherited by default,
// discarded when the no-stdio toggle is set. A nil writer makes
// os/exec connect the child to the null device.
func stdio() (stdout, stderr io.Writer) {
	if _, ok := os.LookupEnv(config.EnvNoStdio); ok {
		return nil, nil
	}

	return os.Stdout, os.Stderr
}
