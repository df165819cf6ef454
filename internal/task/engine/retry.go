package engine

import (
	"errors"
	"math/rand"
	"time"
)

// retryDelay picks the wait before attempt retry+1. An explicit RetryAfter
// hint replaces the exponential step.
func retryDelay(opt TaskOptions, retry int, err error, rng *rand.Rand) time.Duration {
	var ra RetryAfterError
	if errors.As(err, &ra) {
		return jitter(max(ra.RetryAfter(), 0), opt, rng)
	}
	return backoffDelay(opt, retry, rng)
}

// backoffDelay doubles RetryBase per retry, capped at RetryMaxDelay.
func backoffDelay(opt TaskOptions, retry int, rng *rand.Rand) time.Duration {
	d := opt.RetryBase
	for i := 1; i < retry && d < opt.RetryMaxDelay; i++ {
		d *= 2
	}
	return jitter(d, opt, rng)
}

func jitter(d time.Duration, opt TaskOptions, rng *rand.Rand) time.Duration {
	if rng != nil && opt.RetryJitter > 0 && d > 0 {
		f := 1 + opt.RetryJitter*(2*rng.Float64()-1)
		d = max(time.Duration(float64(d)*f), 0)
	}
	if opt.RetryMaxDelay > 0 {
		d = min(d, opt.RetryMaxDelay)
	}
	return d
}
