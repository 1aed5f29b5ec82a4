package pool

import "errors"

var (
	// ErrClosed is returned by Submit/Dispatch after Close.
	ErrClosed = errors.New("pool: closed")

	// ErrUnknownTask means a process worker received a task name that was
	// never registered in this binary.
	ErrUnknownTask = errors.New("pool: unknown task")

	// ErrFrameTooLarge guards against a corrupt length prefix turning into
	// an unbounded allocation.
	ErrFrameTooLarge = errors.New("pool: frame exceeds maximum size")
)
