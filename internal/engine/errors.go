package engine

import "errors"

var (
	// ErrMisuse marks structural failures: slot leaks, release errors,
	// submit errors and broken pool invariants. Run stops on them.
	ErrMisuse = errors.New("engine misuse")

	// ErrAlreadyRunning is returned by Run while another Run is active.
	ErrAlreadyRunning = errors.New("engine is already running")

	// ErrInvalidOptions is returned by New for unusable settings.
	ErrInvalidOptions = errors.New("invalid engine options")
)
