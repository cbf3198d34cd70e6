package resilience

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// State represents the circuit breaker state.
type State int

const (
	// StateClosed means the circuit is operating normally.
	StateClosed State = iota
	// StateOpen means the circuit is blocking all requests.
	StateOpen
	// StateHalfOpen means the circuit is testing if the service recovered.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures the circuit breaker.
type CircuitBreakerConfig struct {
	// MaxFailures is the number of failures before opening the circuit.
	// Default: 5
	MaxFailures int

	// ResetTimeout is how long to wait before attempting recovery.
	// Default: 30 seconds
	ResetTimeout time.Duration

	// HalfOpenMaxRequests is the max requests allowed in half-open state.
	// Default: 1
	HalfOpenMaxRequests int

	// OnStateChange is called with the breaker's key when its state changes.
	// It runs with the breaker lock held and must not call back into it.
	OnStateChange func(key string, from, to State)

	// IsFailure determines if an error should count as a failure.
	// Default: non-nil errors that are neither permanent nor cancellations.
	IsFailure func(err error) bool

	// Now is the time source. Default: time.Now
	Now func() time.Time
}

func defaultIsFailure(err error) bool {
	return err != nil && !IsPermanent(err) && !errors.Is(err, context.Canceled)
}

// CircuitBreaker stops calls to an upstream after repeated failures.
type CircuitBreaker struct {
	key    string
	config CircuitBreakerConfig

	mu            sync.Mutex
	state         State
	failures      int
	lastFailure   time.Time
	halfOpenCount int
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	return newCircuitBreaker("", config)
}

func newCircuitBreaker(key string, config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	if config.HalfOpenMaxRequests <= 0 {
		config.HalfOpenMaxRequests = 1
	}
	if config.IsFailure == nil {
		config.IsFailure = defaultIsFailure
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &CircuitBreaker{
		key:    key,
		config: config,
		state:  StateClosed,
	}
}

// Execute runs the operation through the circuit breaker.
func (cb *CircuitBreaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}

	err := op(ctx)
	cb.afterRequest(err)
	return err
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentStateLocked()
}

// Reset resets the circuit breaker to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	oldState := cb.state
	cb.state = StateClosed
	cb.failures = 0
	cb.halfOpenCount = 0

	if oldState != StateClosed && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.key, oldState, StateClosed)
	}
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.currentStateLocked()

	switch state {
	case StateOpen:
		return ErrCircuitOpen
	case StateHalfOpen:
		if cb.halfOpenCount >= cb.config.HalfOpenMaxRequests {
			return ErrCircuitOpen
		}
		cb.halfOpenCount++
	}

	return nil
}

func (cb *CircuitBreaker) afterRequest(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	isFailure := cb.config.IsFailure(err)
	oldState := cb.state

	switch cb.state {
	case StateClosed:
		if isFailure {
			cb.failures++
			cb.lastFailure = cb.config.Now()
			if cb.failures >= cb.config.MaxFailures {
				cb.setState(StateOpen)
			}
		} else {
			cb.failures = 0
		}

	case StateHalfOpen:
		if isFailure {
			cb.lastFailure = cb.config.Now()
			cb.setState(StateOpen)
		} else {
			cb.setState(StateClosed)
			cb.failures = 0
		}
	}

	if oldState != cb.state && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.key, oldState, cb.state)
	}
}

func (cb *CircuitBreaker) currentStateLocked() State {
	if cb.state == StateOpen && cb.config.Now().Sub(cb.lastFailure) >= cb.config.ResetTimeout {
		cb.state = StateHalfOpen
		cb.halfOpenCount = 0
		if cb.config.OnStateChange != nil {
			cb.config.OnStateChange(cb.key, StateOpen, StateHalfOpen)
		}
	}
	return cb.state
}

func (cb *CircuitBreaker) setState(state State) {
	cb.state = state
	if state == StateHalfOpen {
		cb.halfOpenCount = 0
	}
}

// Metrics returns current circuit breaker metrics.
func (cb *CircuitBreaker) Metrics() CircuitBreakerMetrics {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerMetrics{
		State:       cb.currentStateLocked(),
		Key:         cb.key,
		Failures:    cb.failures,
		LastFailure: cb.lastFailure,
	}
}

// CircuitBreakerMetrics contains circuit breaker statistics.
type CircuitBreakerMetrics struct {
	Key         string
	State       State
	Failures    int
	LastFailure time.Time
}

// BreakerSet keeps one CircuitBreaker per key, typically an upstream host.
type BreakerSet struct {
	config CircuitBreakerConfig

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewBreakerSet creates an empty set whose breakers share config.
func NewBreakerSet(config CircuitBreakerConfig) *BreakerSet {
	return &BreakerSet{
		config:   config,
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for key, creating it on first use.
func (s *BreakerSet) Get(key string) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.breakers[key]
	if !ok {
		cb = newCircuitBreaker(key, s.config)
		s.breakers[key] = cb
	}
	return cb
}

// Execute runs op through the breaker for key.
func (s *BreakerSet) Execute(ctx context.Context, key string, op func(context.Context) error) error {
	return s.Get(key).Execute(ctx, op)
}

// Snapshot returns metrics for every breaker, sorted by key.
func (s *BreakerSet) Snapshot() []CircuitBreakerMetrics {
	s.mu.Lock()
	list := make([]*CircuitBreaker, 0, len(s.breakers))
	for _, cb := range s.breakers {
		list = append(list, cb)
	}
	s.mu.Unlock()

	out := make([]CircuitBreakerMetrics, 0, len(list))
	for _, cb := range list {
		out = append(out, cb.Metrics())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
