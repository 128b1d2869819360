package gesture

import "errors"

var (
	ErrSessionEnded = errors.New("gesture: session already ended")
	ErrGestureBusy  = errors.New("gesture: event already has an active gesture")
	ErrUnknownKind  = errors.New("gesture: unknown kind")
	ErrUnknownEvent = errors.New("gesture: unknown event")
	ErrNoScale      = errors.New("gesture: no time scale")
)
