package health

import (
	"context"
	"time"

	"github.com/cuemby/pactown/pkg/metrics"
	"github.com/cuemby/pactown/pkg/pactownerr"
)

// backoffSchedule is the fixed sequence of delays between probe
// attempts during startup, capped at its final value once exhausted.
var backoffSchedule = []time.Duration{
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

func backoffAt(attempt int) time.Duration {
	if attempt >= len(backoffSchedule) {
		return backoffSchedule[len(backoffSchedule)-1]
	}
	return backoffSchedule[attempt]
}

// Exited reports whether the process being probed has already exited.
// The probe loop consults it between attempts so a dead process fails
// fast as ProcessExited rather than waiting out the full timeout.
type Exited func() (exited bool, code int)

// Probe polls checker with increasing back-off until one of three
// things happens: a healthy result is observed (success), timeout
// elapses (HealthTimeout), or exited reports the process has died
// (ProcessExited). It is used once, at sandbox startup, to gate the
// starting -> running transition; it is not a steady-state monitor.
func Probe(ctx context.Context, serviceName string, checker Checker, timeout time.Duration, exited Exited) error {
	deadline := time.Now().Add(timeout)
	attempt := 0

	for {
		if code, done := checkExited(exited); done {
			return pactownerr.ProcessExited(serviceName, code)
		}

		metrics.HealthProbeAttemptsTotal.WithLabelValues(serviceName).Inc()
		result := checker.Check(ctx)
		if result.Healthy {
			return nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return pactownerr.HealthTimeout(serviceName)
		}

		wait := backoffAt(attempt)
		if wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return pactownerr.HealthTimeout(serviceName)
		}
		attempt++
	}
}

func checkExited(exited Exited) (int, bool) {
	if exited == nil {
		return 0, false
	}
	done, code := exited()
	return code, done
}
