package logx

import (
	"time"

	"github.com/rs/zerolog"
)

// Field adds one key to a record. Later fields win on repeated keys.
type Field func(e *zerolog.Event)

func String(k, v string) Field {
	return func(e *zerolog.Event) { e.Str(k, v) }
}

func Int(k string, v int) Field {
	return func(e *zerolog.Event) { e.Int(k, v) }
}
func Uint64(k string, v uint64) Field {
	return func(e *zerolog.Event) { e.Uint64(k, v) }
}
func Bool(k string, v bool) Field {
	return func(e *zerolog.Event) { e.Bool(k, v) }
}
func Float64(k string, v float64) Field {
	return func(e *zerolog.Event) { e.Float64(k, v) }
}
func Duration(k string, v time.Duration) Field {
	return func(e *zerolog.Event) { e.Dur(k, v) }
}
func Time(k string, v time.Time) Field {
	return func(e *zerolog.Event) { e.Time(k, v) }
}
func Any(k string, v any) Field {
	return func(e *zerolog.Event) { e.Interface(k, v) }
}

// Err is a no-op for a nil error.
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// Item tags a record with the source item it concerns.
func Item(id string) Field {
	return String(ItemKey, id)
}

// Event tags a record with a timeline event id (item@resource).
func Event(id string) Field {
	return String(EventKey, id)
}

// Keys shared by every component, so log queries can join on them.
const (
	ComponentKey = "comp"
	ItemKey      = "item"
	EventKey     = "event_id"
)
