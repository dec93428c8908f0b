package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"perfrun/config"
)

// Defaults for the setup retry loop.
const (
	defaultSetupAttempts = 100
	defaultSetupBackoff  = time.Second
)

// ErrSetupExhausted means the setup command never exited zero within
// the attempt cap. It is a configuration error: measurement has not
// started yet when it is reported.
var ErrSetupExhausted = errors.New("setup command did not complete successfully")

// SetupRunner retries the configured setup command until it succeeds,
// backing off between attempts. Attempts and Backoff default to 100
// and one second when left zero.
type SetupRunner struct {
	Config   *config.Config
	Attempts int
	Backoff  time.Duration
	Logger   *slog.Logger
}

// Run executes the setup command until it exits zero or the attempt
// cap is reached.
func (s *SetupRunner) Run(ctx context.Context) error {
	attempts := s.Attempts
	if attempts <= 0 {
		attempts = defaultSetupAttempts
	}

	backoff := s.Backoff
	if backoff <= 0 {
		backoff = defaultSetupBackoff
	}

	argv := s.Config.Setup

	for attempt := 1; attempt <= attempts; attempt++ {
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Env = s.Config.Environ()
		cmd.Stdout, cmd.Stderr = stdio()

		err := cmd.Run()
		if err == nil {
			return nil
		}

		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return fmt.Errorf("spawn setup %s: %w", argv[0], err)
		}

		s.Logger.Warn("setup attempt failed",
			slog.Int("attempt", attempt),
			slog.Int("exit_code", exitErr.ExitCode()),
		)

		time.Sleep(backoff)
	}

	return ErrSetupExhausted
}
