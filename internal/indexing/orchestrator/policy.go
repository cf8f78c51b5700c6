package orchestrator

import "time"

// Default backoff schedules, indexed by delivery attempt.
var (
	defaultNormalBackoff   = []time.Duration{30 * time.Second, 2 * time.Minute, 5 * time.Minute}
	defaultThrottleBackoff = []time.Duration{2 * time.Minute, 5 * time.Minute, 15 * time.Minute}
)

// Policy turns a classified failure and the delivery attempt count into
// a terminal-vs-retry decision.
type Policy struct {
	// MaxRetries is the number of redeliveries after the first attempt, so
	// a job gets MaxRetries+1 total attempts. Must equal the queue's
	// max_attempts - 1 (validated at startup by config).
	MaxRetries int

	// NormalBackoff schedules redelivery delays for plain retryable
	// failures, one entry per attempt; the last entry repeats.
	NormalBackoff []time.Duration

	// ThrottleBackoff is the longer schedule used after throttle signals.
	ThrottleBackoff []time.Duration
}

func (p Policy) withDefaults() Policy {
	if len(p.NormalBackoff) == 0 {
		p.NormalBackoff = defaultNormalBackoff
	}
	if len(p.ThrottleBackoff) == 0 {
		p.ThrottleBackoff = defaultThrottleBackoff
	}
	return p
}

// decision is the settled outcome for one failed job.
type decision struct {
	terminal  bool
	throttle  bool
	delay     time.Duration
	errorName string
}

// Decide classifies one failure. Attempts is 1-based; attempt
// MaxRetries+1 is the last allowed one. Non-retryable failures are
// terminal regardless of remaining attempts.
func (p Policy) Decide(perr *ProcessingError, attempts int) decision {
	retryable, throttle := perr.Retryable()
	last := attempts >= p.MaxRetries+1

	if !retryable || last {
		return decision{terminal: true, throttle: throttle, errorName: perr.Name()}
	}

	schedule := p.NormalBackoff
	if throttle {
		schedule = p.ThrottleBackoff
	}
	return decision{
		throttle:  throttle,
		delay:     backoffAt(schedule, attempts),
		errorName: perr.Name(),
	}
}

func backoffAt(schedule []time.Duration, attempts int) time.Duration {
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return schedule[idx]
}
