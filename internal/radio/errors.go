package radio

import "errors"

var (
	// ErrForbidden is the module refusing a frame (duty cycle, busy MAC)
	ErrForbidden       = errors.New("tx forbidden")
	ErrNotJoined       = errors.New("not joined")
	ErrBusy            = errors.New("transmission in progress")
	ErrPayloadTooLarge = errors.New("payload too large")
)
