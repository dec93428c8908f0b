package metrics

import (
	"fmt"
	"strconv"
	"strings"
)

// Names of the kernel metrics recorded for every measured run.
const (
	KeyMaxResSize = "max.res.size"
	KeyUserTime   = "user.time"
	KeySystemTime = "system.time"
	KeyWallTime   = "wall.time"
	KeyCPUPct     = "cpu.pct.wall.time"
)

// RunKeys returns the five per-run metric names in reporting order.
func RunKeys() []string {
	return []string{
		KeyMaxResSize, KeyUserTime, KeySystemTime, KeyWallTime, KeyCPUPct,
	}
}

// ParseStatsd merges newline-separated `name:value|type` lines into m.
// The suffix after the first `|` is ignored and lines with fewer than
// two colon-separated fields are skipped, so arbitrary junk between
// valid lines is harmless. A value that does not parse as a float is
// an error: it means the measured command emitted telemetry the
// report cannot represent.
func ParseStatsd(data string, m *Map) error {
	for _, line := range strings.Split(strings.TrimSpace(data), "\n") {
		head, _, _ := strings.Cut(line, "|")

		fields := strings.Split(head, ":")
		if len(fields) < 2 {
			continue
		}

		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return fmt.Errorf("metric %q: bad value %q", fields[0], fields[1])
		}

		m.Set(fields[0], Number(v))
	}

	return nil
}

// EncodeGauges renders the named metrics as statsd gauge lines, the
// format an iteration child uses to report back to the parent
// listener. Every named metric must be numeric.
func (m *Map) EncodeGauges(names ...string) (string, error) {
	var b strings.Builder

	for _, name := range names {
		f, err := m.Float(name)
		if err != nil {
			return "", err
		}

		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
		b.WriteString("|g\n")
	}

	return b.String(), nil
}
