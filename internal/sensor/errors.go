package sensor

import "errors"

var (
	// ErrBelowRange is returned by gas readers when the concentration is
	// under the bottom of the sensor curve (400 ppm for the CO2 cell)
	ErrBelowRange = errors.New("reading below sensor range")
	// ErrIAQStatus is returned when the iAQ frame reports busy, warm-up or error
	ErrIAQStatus = errors.New("iaq status not ready")
	ErrShortRead = errors.New("short sensor read")
)
