package host

import "errors"

var (
	// ErrNotDirectory is returned when a workspace folder path is not a directory.
	ErrNotDirectory = errors.New("path is not a directory")

	// ErrFolderExists is returned when adding a workspace folder that is already present.
	ErrFolderExists = errors.New("workspace folder already exists")

	// ErrFolderNotFound is returned when removing a workspace folder that is not present.
	ErrFolderNotFound = errors.New("workspace folder not found")

	// ErrInvalidURI is returned when a URI cannot be converted to a file path.
	ErrInvalidURI = errors.New("invalid file URI")

	// ErrCommandExists is returned when registering a command id that is already taken.
	ErrCommandExists = errors.New("command already registered")

	// ErrCommandNotFound is returned when executing an unregistered command.
	ErrCommandNotFound = errors.New("command not found")

	// ErrNilHandler is returned when registering a nil command handler.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrWatcherClosed is returned when using a closed watcher.
	ErrWatcherClosed = errors.New("watcher is closed")
)
