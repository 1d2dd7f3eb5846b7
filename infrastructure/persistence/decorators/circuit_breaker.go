// Package decorators wraps a ports.GraphStore with cross-cutting behavior:
// circuit breaking and instrumentation.
package decorators

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"graphsync/application/ports"
	"graphsync/application/statements"
	apperrors "graphsync/pkg/errors"
)

// CircuitBreakerConfig holds configuration for the store circuit breaker
type CircuitBreakerConfig struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultCircuitBreakerConfig returns a default configuration for the store
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             "graph-store",
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          15 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      5,
	}
}

// CircuitBreakerStore fails fast with StoreUnavailable while the store
// keeps failing. Caller mistakes do not count as failures.
type CircuitBreakerStore struct {
	inner   ports.GraphStore
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewCircuitBreakerStore wraps inner.
func NewCircuitBreakerStore(inner ports.GraphStore, config CircuitBreakerConfig, logger *zap.Logger) *CircuitBreakerStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	settings := gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < config.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= config.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || isCallerError(err)
		},
	}
	return &CircuitBreakerStore{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// Execute runs stmt through the breaker.
func (s *CircuitBreakerStore) Execute(ctx context.Context, stmt statements.Statement) ([]statements.Row, error) {
	out, err := s.breaker.Execute(func() (interface{}, error) {
		return s.inner.Execute(ctx, stmt)
	})
	if err != nil {
		return nil, s.translate(err)
	}
	rows, _ := out.([]statements.Row)
	return rows, nil
}

// ExecuteBatch runs stmts through the breaker.
func (s *CircuitBreakerStore) ExecuteBatch(ctx context.Context, stmts []statements.Statement) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		return nil, s.inner.ExecuteBatch(ctx, stmts)
	})
	if err != nil {
		return s.translate(err)
	}
	return nil
}

// State reports the breaker state for health checks.
func (s *CircuitBreakerStore) State() string {
	return s.breaker.State().String()
}

func (s *CircuitBreakerStore) translate(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		s.logger.Debug("Store call rejected by circuit breaker", zap.Error(err))
		return apperrors.NewStoreUnavailableError(err)
	}
	return err
}

func isCallerError(err error) bool {
	if errors.Is(err, ports.ErrUnsupportedStatement) || errors.Is(err, context.Canceled) {
		return true
	}
	switch {
	case apperrors.IsValidation(err),
		apperrors.IsNotFound(err),
		apperrors.IsConflict(err),
		apperrors.IsInvalidQuery(err),
		apperrors.IsUnsafeMutation(err):
		return true
	}
	return false
}
