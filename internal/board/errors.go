package board

import "errors"

var (
	ErrUnknownEvent = errors.New("board: unknown event")
	ErrUnknownLane  = errors.New("board: lane out of range")
	ErrNoGesture    = errors.New("board: no active gesture for event")
	ErrInvalidRange = errors.New("board: end must be after start")
)
