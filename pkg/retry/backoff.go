package retry

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func (p Policy) exponential() *backoff.ExponentialBackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.InitialInterval
	exp.MaxInterval = p.MaxInterval
	exp.Multiplier = p.Multiplier
	// zero disables the elapsed-time cutoff
	exp.MaxElapsedTime = p.MaxElapsedTime
	exp.Reset()
	return exp
}

// CalculateBackoffDuration is the un-jittered delay before attempt+1.
func CalculateBackoffDuration(attempt int, initialInterval time.Duration, multiplier float64, maxInterval time.Duration) time.Duration {
	duration := float64(initialInterval) * math.Pow(multiplier, float64(attempt))
	if duration > float64(maxInterval) {
		return maxInterval
	}
	return time.Duration(duration)
}
