package worker

import (
	"errors"
	"fmt"

	"github.com/checkerls/checkerls/server/config"
	"github.com/google/uuid"
)

var (
	// ErrWorkerLaunch is wrapped by every LaunchError.
	ErrWorkerLaunch = errors.New("unable to launch worker")

	// ErrWorkerStream is wrapped by every StreamError.
	ErrWorkerStream = errors.New("worker stream failure")

	// ErrNotRunning indicates no worker has been started or it was stopped.
	ErrNotRunning = errors.New("worker not running")

	// ErrWorkerExited indicates the worker closed its output.
	ErrWorkerExited = errors.New("worker exited")

	// ErrWriteTimeout indicates the worker did not accept a request in time.
	ErrWriteTimeout = errors.New("worker write timed out")
)

// LaunchError reports a worker process that could not be started. It is
// fatal for the configuration that produced the command.
type LaunchError struct {
	Command config.WorkerCommand
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("%s (%s): %v", ErrWorkerLaunch, e.Command.Path, e.Err)
}

func (e *LaunchError) Unwrap() []error {
	return []error{ErrWorkerLaunch, e.Err}
}

// StreamError reports a worker that crashed or whose pipes broke. The
// supervisor stays degraded until the worker is replaced.
type StreamError struct {
	HandleID uuid.UUID
	Err      error
}

func (e *StreamError) Error() string {
	if e.HandleID == uuid.Nil {
		return fmt.Sprintf("%s: %v", ErrWorkerStream, e.Err)
	}
	return fmt.Sprintf("%s (worker %s): %v", ErrWorkerStream, e.HandleID, e.Err)
}

func (e *StreamError) Unwrap() []error {
	return []error{ErrWorkerStream, e.Err}
}
