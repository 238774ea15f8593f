package project

import (
	"errors"
	"fmt"
)

var (
	// ErrStrategyExists is returned when registering a strategy id that is
	// already registered.
	ErrStrategyExists = errors.New("strategy already registered")

	// ErrStrategyNotFound is returned when unregistering an unknown strategy.
	ErrStrategyNotFound = errors.New("strategy not found")

	// ErrNoStrategy is returned when resolution needs an active strategy
	// and none can be selected.
	ErrNoStrategy = errors.New("no resolution strategy available")

	// ErrStrategyDisposed is returned when using a disposed strategy.
	ErrStrategyDisposed = errors.New("strategy is disposed")

	// ErrServiceDisposed is returned when using a disposed service.
	ErrServiceDisposed = errors.New("project service is disposed")

	// ErrInvalidStrategy is returned when registering a nil strategy or
	// one with an empty id.
	ErrInvalidStrategy = errors.New("invalid strategy")
)

// StrategyError wraps an error with the strategy id it came from.
type StrategyError struct {
	ID  string
	Err error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("strategy %s: %v", e.ID, e.Err)
}

func (e *StrategyError) Unwrap() error {
	return e.Err
}
