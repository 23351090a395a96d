package realtime

import (
	"math"
	"time"
)

// BackoffCalculator maps a retry attempt number (1-based) to the delay to
// wait before that attempt.
type BackoffCalculator func(attempt int) time.Duration

// FixedBackoff waits the same delay before every retry.
func FixedBackoff(delay time.Duration) BackoffCalculator {
	return func(int) time.Duration {
		return delay
	}
}

// ExponentialBackoff scales the base delay as (2^attempt - 1) / 2.
func ExponentialBackoff(base time.Duration) BackoffCalculator {
	return func(attempt int) time.Duration {
		factor := (math.Pow(2.0, float64(attempt)) - 1) / 2
		return time.Duration(factor * float64(base))
	}
}

// ExponentialBackoffSeconds is ExponentialBackoff with a one second base.
func ExponentialBackoffSeconds() BackoffCalculator {
	return ExponentialBackoff(time.Second)
}

// reconnectPolicy decides whether and when to retry after a qualifying
// failure. maxAttempts of 0 means never retry.
type reconnectPolicy struct {
	maxAttempts int
	calc        BackoffCalculator
}

func newReconnectPolicy(maxAttempts int, calc BackoffCalculator) reconnectPolicy {
	if calc == nil {
		calc = FixedBackoff(DefaultReconnectDelay)
	}
	return reconnectPolicy{maxAttempts: maxAttempts, calc: calc}
}

// allows reports whether the given 1-based attempt is within budget.
func (p reconnectPolicy) allows(attempt int) bool {
	return attempt <= p.maxAttempts
}

// wait blocks for the attempt's delay. It returns false if the wait was cut
// short by cancellation, in which case no retry must fire.
func (p reconnectPolicy) wait(attempt int, cancel <-chan struct{}) bool {
	d := p.calc(attempt)
	if d <= 0 {
		select {
		case <-cancel:
			return false
		default:
			return true
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-cancel:
		return false
	case <-timer.C:
		return true
	}
}
