package runner

import (
	"context"
	"errors"
	"os"
	"testing"

	"perfrun/config"
	"perfrun/metrics"
	"perfrun/statsd"
)

// reportAddrEnv points re-exec'd children at the test's own listener
// so iterator tests never claim the fixed port.
const reportAddrEnv = "PERFRUN_TEST_REPORT_ADDR"

// TestMain lets the test binary stand in for the harness binary when
// the iterator re-execs it: presence of the iteration marker selects
// the child role instead of the test suite.
func TestMain(m *testing.M) {
	if carrier, ok := os.LookupEnv(config.EnvIteration); ok {
		iterationChild(carrier)
		return
	}

	os.Exit(m.Run())
}

// iterationChild mirrors the harness's iteration-child mode: one
// measured run, then the five fixed metrics sent as gauge lines to
// the parent's listener.
func iterationChild(carrier string) {
	cfg, err := config.DecodeEnv(carrier)
	if err != nil {
		os.Exit(1)
	}

	m := metrics.NewMap()
	r := &Runner{Config: cfg, Buf: &statsd.Buffer{}, Logger: discardLogger()}

	if err := r.Run(context.Background(), m); err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) {
			os.Exit(cmdErr.Code)
		}

		os.Exit(1)
	}

	report, err := m.EncodeGauges(metrics.RunKeys()...)
	if err != nil {
		os.Exit(1)
	}

	if err := statsd.Send(os.Getenv(reportAddrEnv), report); err != nil {
		os.Exit(1)
	}

	os.Exit(0)
}

func startListener(t *testing.T) (*statsd.Listener, *statsd.Buffer) {
	t.Helper()

	buf := &statsd.Buffer{}
	lis := &statsd.Listener{Addr: "127.0.0.1:0", Buf: buf, Logger: discardLogger()}

	ready := make(chan struct{})
	errc := make(chan error, 1)

	go func() { errc <- lis.Listen(ready) }()

	select {
	case <-ready:
	case err := <-errc:
		t.Fatalf("listener failed to start: %v", err)
	}

	return lis, buf
}

func TestIteratorCollectsOneRecordPerIteration(t *testing.T) {
	lis, buf := startListener(t)

	cfg := quietConfig(t, "sh", "-c", "exit 0")
	cfg.Iterations = 3
	cfg.Env[reportAddrEnv] = lis.LocalAddr().String()

	it := &Iterator{Config: cfg, Buf: buf, Logger: discardLogger()}

	nested := make(metrics.Nested, 0, cfg.Iterations)

	for i := 1; i <= cfg.Iterations; i++ {
		m, err := it.Run(context.Background())
		if err != nil {
			t.Fatalf("iteration %d: %v", i, err)
		}

		nested = append(nested, m)
	}

	if len(nested) != 3 {
		t.Fatalf("got %d records, want 3", len(nested))
	}

	for i, m := range nested {
		if m.Len() != len(metrics.RunKeys()) {
			t.Errorf("record %d has keys %v, want exactly the five run metrics",
				i, m.Keys())
		}

		for _, name := range metrics.RunKeys() {
			f, err := m.Float(name)
			if err != nil {
				t.Errorf("record %d metric %s: %v", i, name, err)
				continue
			}

			if f < 0 {
				t.Errorf("record %d metric %s = %v, want non-negative",
					i, name, f)
			}
		}
	}
}

func TestIteratorPropagatesFatalChildExit(t *testing.T) {
	lis, buf := startListener(t)

	cfg := quietConfig(t, "sh", "-c", "exit 7")
	cfg.Env[reportAddrEnv] = lis.LocalAddr().String()

	it := &Iterator{Config: cfg, Buf: buf, Logger: discardLogger()}

	_, err := it.Run(context.Background())

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected CommandError, got %v", err)
	}

	if cmdErr.Code != 7 {
		t.Errorf("code = %d, want 7", cmdErr.Code)
	}
}
