package schema

import "errors"

var (
	// ErrMissingWindow indicates the host no longer recognizes a window handle.
	ErrMissingWindow = errors.New("window missing")
	// ErrReconfigureFailed indicates the host rejected a placement or visibility update.
	ErrReconfigureFailed = errors.New("window reconfigure failed")
	// ErrMissingBuffer indicates a window exists but its content buffer does not.
	ErrMissingBuffer = errors.New("buffer missing")
	// ErrTabNotFound indicates no pool is tracked for the tab.
	ErrTabNotFound = errors.New("tab not found")
	// ErrHostUnavailable indicates no host connection is configured.
	ErrHostUnavailable = errors.New("host not configured")
	// ErrLoopStopped indicates the event loop no longer accepts work.
	ErrLoopStopped = errors.New("event loop stopped")
)
