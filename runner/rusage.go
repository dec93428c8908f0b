package runner

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// usage is a point-in-time snapshot of the resource usage accumulated
// by reaped children: CPU times in microseconds, max resident set
// size in kilobytes.
type usage struct {
	userTime   float64
	systemTime float64
	maxResSize float64
}

// snapshotUsage reads the child-accumulated counters. Taken
// immediately before a spawn and again after the wait, the field-wise
// delta isolates the measured command's own usage.
func snapshotUsage() (usage, error) {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_CHILDREN, &ru); err != nil {
		return usage{}, fmt.Errorf("getrusage: %w", err)
	}

	return usage{
		userTime:   timevalMicros(ru.Utime),
		systemTime: timevalMicros(ru.Stime),
		maxResSize: float64(ru.Maxrss),
	}, nil
}

func (u usage) sub(prev usage) usage {
	return usage{
		userTime:   u.userTime - prev.userTime,
		systemTime: u.systemTime - prev.systemTime,
		maxResSize: u.maxResSize - prev.maxResSize,
	}
}

func timevalMicros(tv unix.Timeval) float64 {
	return float64(tv.Sec)*1e6 + float64(tv.Usec)
}
