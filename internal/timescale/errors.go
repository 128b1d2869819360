package timescale

import "errors"

var (
	ErrUnknownPreset    = errors.New("timescale: unknown preset")
	ErrUnknownDirection = errors.New("timescale: unknown direction")
	ErrInvalidWidth     = errors.New("timescale: width must be positive")
)
