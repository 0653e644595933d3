package heat

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthentication means the target rejected the login or never left the login page.
	ErrAuthentication = errors.New("authentication failed")
	// ErrLoginSurfaceNotFound means none of the known login forms matched. Retrying cannot help.
	ErrLoginSurfaceNotFound = fmt.Errorf("%w: login form not found", ErrAuthentication)
	// ErrNotFound means the search ran but listed no entry for the case.
	ErrNotFound = errors.New("case not found")
	// ErrTransientNavigation covers timeouts, network errors and pages that did not render.
	ErrTransientNavigation = errors.New("navigation failed")
	// ErrLowConfidence means the record page yielded fewer fields than the configured minimum.
	ErrLowConfidence = errors.New("too few fields extracted")
)

// Transient wraps err as a retryable navigation failure unless it is already classified.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTransientNavigation) || errors.Is(err, ErrAuthentication) ||
		errors.Is(err, ErrNotFound) || errors.Is(err, ErrLowConfidence) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransientNavigation, err)
}

// retryable reports whether another attempt could change the result.
func retryable(err error) bool {
	return !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrLoginSurfaceNotFound)
}
