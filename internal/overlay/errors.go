package overlay

import (
	"errors"
	"fmt"
)

// ErrOnionDisabled is returned for .onion destinations when onion services are
// not enabled.
var ErrOnionDisabled = errors.New("onion service connections are disabled")

// BootstrapError means the overlay client could not be brought up.
type BootstrapError struct {
	Err error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("overlay bootstrap: %v", e.Err)
}

func (e *BootstrapError) Unwrap() error { return e.Err }

// ConnectError is a failed stream open through the overlay.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("overlay connect %s: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }
