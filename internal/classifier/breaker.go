package classifier

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// Breaker guards provider calls with a consecutive-failure circuit breaker.
// Only provider outcomes reach it; caller cancellation is settled before Execute.
// Params: wrapped gobreaker instance with single-probe half-open state.
// Returns: execution gate for provider calls.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewBreaker creates a breaker.
// Params: name, consecutive failures to trip, cooldown before a probe, and state-change hook.
// Returns: closed breaker.
func NewBreaker(name string, threshold int, cooldown time.Duration, onChange func(from, to string)) *Breaker {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(threshold)
		},
	}
	if onChange != nil {
		settings.OnStateChange = func(_ string, from, to gobreaker.State) {
			onChange(from.String(), to.String())
		}
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn when the breaker admits the call.
// Params: provider call.
// Returns: provider result or error; rejected calls return an error matched by IsRejected.
func (b *Breaker) Execute(fn func() (ProviderResult, error)) (ProviderResult, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return ProviderResult{}, err
	}
	return out.(ProviderResult), nil
}

// State returns closed, half-open, or open.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// IsRejected reports whether err means the breaker skipped the call.
func IsRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
