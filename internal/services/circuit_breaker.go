package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/leadpilot/adops-go/internal/models"
)

// ErrBreakerOpen is returned when a platform's breaker rejects a call.
var ErrBreakerOpen = errors.New("circuit breaker is open")

// BreakerState represents the current state of a circuit breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// BreakerConfig holds configuration for a circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"` // failures before opening
	SuccessThreshold int           `json:"success_threshold"` // successes to close from half-open
	Timeout          time.Duration `json:"timeout"`           // wait before trying half-open
}

// DefaultBreakerConfig returns the defaults used for ad-platform sync.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
	}
}

// CircuitBreaker guards calls to one remote ad platform so a flapping
// platform API cannot stall every apply batch.
type CircuitBreaker struct {
	name   string
	config BreakerConfig
	logger *logrus.Logger

	mu              sync.Mutex
	state           BreakerState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
}

// NewCircuitBreaker creates a circuit breaker with the given name.
func NewCircuitBreaker(name string, config BreakerConfig, logger *logrus.Logger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		logger: logger,
		state:  BreakerClosed,
	}
}

// Execute runs fn when the breaker allows it and records the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allow() {
		return ErrBreakerOpen
	}

	err := fn(ctx)
	cb.record(err)
	return err
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if time.Since(cb.lastFailureTime) >= cb.config.Timeout {
			cb.state = BreakerHalfOpen
			cb.successCount = 0
			cb.logger.WithField("breaker", cb.name).Info("Circuit breaker half-open")
			return true
		}
		return false
	default: // half-open
		return true
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failureCount++
		cb.lastFailureTime = time.Now()
		if cb.state == BreakerHalfOpen || cb.failureCount >= cb.config.FailureThreshold {
			if cb.state != BreakerOpen {
				cb.logger.WithFields(logrus.Fields{
					"breaker":  cb.name,
					"failures": cb.failureCount,
				}).Warn("Circuit breaker opened")
			}
			cb.state = BreakerOpen
		}
		return
	}

	switch cb.state {
	case BreakerHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.state = BreakerClosed
			cb.failureCount = 0
			cb.logger.WithField("breaker", cb.name).Info("Circuit breaker closed")
		}
	case BreakerClosed:
		cb.failureCount = 0
	}
}

// BreakerSet lazily creates one breaker per ad platform.
type BreakerSet struct {
	config   BreakerConfig
	logger   *logrus.Logger
	mu       sync.Mutex
	breakers map[models.Platform]*CircuitBreaker
}

// NewBreakerSet creates an empty breaker set.
func NewBreakerSet(config BreakerConfig, logger *logrus.Logger) *BreakerSet {
	return &BreakerSet{
		config:   config,
		logger:   logger,
		breakers: make(map[models.Platform]*CircuitBreaker),
	}
}

// For returns the breaker for a platform, creating it on first use.
func (s *BreakerSet) For(platform models.Platform) *CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	cb, ok := s.breakers[platform]
	if !ok {
		cb = NewCircuitBreaker(string(platform), s.config, s.logger)
		s.breakers[platform] = cb
	}
	return cb
}
