// Package cachegrind measures instruction counts by wrapping the
// measured command in valgrind's cachegrind tool instead of running
// it directly.
package cachegrind

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"slices"
	"strconv"
	"strings"

	"perfrun/config"
)

// Cache geometry is pinned so counts stay comparable across machines
// instead of depending on whatever hardware valgrind auto-detects.
var valgrindArgs = []string{
	"--tool=cachegrind",
	"--trace-children=yes",
	"--I1=32768,8,64",
	"--D1=32768,8,64",
	"--LL=8388608,16,64",
}

// instructionMarker identifies the instruction-reference lines in
// cachegrind's diagnostic output; with child tracing enabled one line
// appears per traced process.
const instructionMarker = "I   refs:"

// Measure runs the configured command under cachegrind and returns
// the summed instruction-reference count across all traced processes.
func Measure(ctx context.Context, logger *slog.Logger, cfg *config.Config) (float64, error) {
	args := append(slices.Clone(valgrindArgs), cfg.Run...)

	cmd := exec.CommandContext(ctx, "valgrind", args...)
	cmd.Env = cfg.Environ()

	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	logger.Info("running cachegrind",
		slog.String("command", strings.Join(cfg.Run, " ")),
	)

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return 0, fmt.Errorf("spawn valgrind: %w", err)
		}
	}

	return parseInstructions(stderr.String())
}

// parseInstructions sums the trailing count of every
// instruction-reference line, with thousands separators stripped.
// Zero matching lines or an unparsable count means the profiler did
// not produce usable output, which is fatal.
func parseInstructions(out string) (float64, error) {
	var total float64

	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if !strings.Contains(line, instructionMarker) {
			continue
		}

		fields := strings.Fields(line)
		token := strings.ReplaceAll(fields[len(fields)-1], ",", "")

		n, err := strconv.ParseFloat(token, 64)
		if err != nil {
			return 0, fmt.Errorf(
				"bad cachegrind output: invalid instruction count %q", token,
			)
		}

		total += n
	}

	if total <= 0 {
		return 0, fmt.Errorf("bad cachegrind output: no instructions parsed")
	}

	return total, nil
}
