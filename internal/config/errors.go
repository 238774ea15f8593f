package config

import "errors"

var (
	// ErrNoPath is returned when reloading a store that was never loaded
	// from a file.
	ErrNoPath = errors.New("no config file path set")

	// ErrAlreadyWatching is returned when a store is asked to watch its
	// file twice.
	ErrAlreadyWatching = errors.New("config file already being watched")

	// ErrInvalidMaxRestarts is returned when the restart cap is negative.
	ErrInvalidMaxRestarts = errors.New("max-restarts cannot be negative")
)
