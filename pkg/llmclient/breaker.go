package llmclient

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/questforge-ai/modelplane/pkg/logging"
)

// BreakerSettings tunes the per-backend circuit breakers.
type BreakerSettings struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit.
	FailureThreshold uint32
	// Timeout is how long an open circuit rejects requests before allowing
	// one half-open probe.
	Timeout time.Duration
}

// breakerRegistry holds one circuit breaker per backend endpoint. Breakers
// are process-local; a restart starts them closed.
type breakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	settings BreakerSettings
	logger   logging.Interface
}

func newBreakerRegistry(settings BreakerSettings, logger logging.Interface) *breakerRegistry {
	if settings.FailureThreshold == 0 {
		settings.FailureThreshold = 5
	}
	if settings.Timeout <= 0 {
		settings.Timeout = 60 * time.Second
	}
	return &breakerRegistry{
		breakers: map[string]*gobreaker.CircuitBreaker{},
		settings: settings,
		logger:   logger,
	}
}

// forEndpoint returns the breaker guarding the endpoint, creating it on first
// use. MaxRequests=1 gives the single half-open probe; one probe success
// closes the circuit, one failure reopens it.
func (r *breakerRegistry) forEndpoint(endpoint string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[endpoint]; ok {
		return cb
	}

	threshold := r.settings.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        endpoint,
		MaxRequests: 1,
		Timeout:     r.settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.WithField("endpoint", name).
				WithField("from", from.String()).
				WithField("to", to.String()).
				Warn("Circuit breaker state change")
		},
	})
	r.breakers[endpoint] = cb
	return cb
}

// States snapshots every breaker's state for the service-status surface.
func (r *breakerRegistry) States() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	states := make(map[string]string, len(r.breakers))
	for endpoint, cb := range r.breakers {
		states[endpoint] = cb.State().String()
	}
	return states
}

// isCircuitOpen reports whether err is the breaker's fast rejection.
func isCircuitOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
