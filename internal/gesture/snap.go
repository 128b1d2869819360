package gesture

import "time"

const DefaultSnapInterval = 15 * time.Minute

// Snapper rounds instants to the nearest multiple of Interval counted from
// the Unix epoch. A zero Interval means DefaultSnapInterval.
type Snapper struct {
	Interval time.Duration
}

func (s Snapper) interval() time.Duration {
	if s.Interval <= 0 {
		return DefaultSnapInterval
	}
	return s.Interval
}

// Snap rounds half away from the lower multiple (ties go up). The result
// keeps t's location.
func (s Snapper) Snap(t time.Time) time.Time {
	iv := int64(s.interval())
	ns := t.UnixNano()
	q := floorDiv(ns+iv/2, iv) * iv
	return time.Unix(0, q).In(t.Location())
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
