package replication

import (
	"math"
	"math/rand"
	"time"
)

// Retryer decide cuánto esperar antes de reintentar una sesión live.
type Retryer interface {
	// NextDelay returns the delay before the next retry attempt.
	// attempt is 0-based. The bool reports whether to keep retrying.
	NextDelay(attempt int, lastErr error) (time.Duration, bool)

	// Reset se llama cuando la sesión vuelve a progresar.
	Reset()
}

// ExponentialBackoffRetryer implements exponential backoff with jitter.
type ExponentialBackoffRetryer struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// MaxRetries 0 significa reintentar para siempre.
	MaxRetries   int
	JitterFactor float64
}

// NewExponentialBackoffRetryer crea el retryer por defecto de las sesiones
// live: 1s inicial, tope 30s, sin límite de reintentos.
func NewExponentialBackoffRetryer(initial, max time.Duration) *ExponentialBackoffRetryer {
	if initial <= 0 {
		initial = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	return &ExponentialBackoffRetryer{
		InitialDelay: initial,
		MaxDelay:     max,
		Multiplier:   2.0,
		JitterFactor: 0.3,
	}
}

func (r *ExponentialBackoffRetryer) NextDelay(attempt int, lastErr error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}
	delay := float64(r.InitialDelay) * math.Pow(r.Multiplier, float64(attempt))
	if delay > float64(r.MaxDelay) {
		delay = float64(r.MaxDelay)
	}
	if r.JitterFactor > 0 {
		//nolint:gosec // jitter, no es seguridad
		delay += delay * r.JitterFactor * (2*rand.Float64() - 1)
		if delay < 0 {
			delay = float64(r.InitialDelay)
		}
	}
	return time.Duration(delay), true
}

func (r *ExponentialBackoffRetryer) Reset() {}

// FixedDelayRetryer reintenta con una espera constante.
type FixedDelayRetryer struct {
	Delay      time.Duration
	MaxRetries int
}

func NewFixedDelayRetryer(delay time.Duration, maxRetries int) *FixedDelayRetryer {
	return &FixedDelayRetryer{Delay: delay, MaxRetries: maxRetries}
}

func (r *FixedDelayRetryer) NextDelay(attempt int, lastErr error) (time.Duration, bool) {
	if r.MaxRetries > 0 && attempt >= r.MaxRetries {
		return 0, false
	}
	return r.Delay, true
}

func (r *FixedDelayRetryer) Reset() {}
