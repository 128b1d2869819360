package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DurationField parses the duration at config path. Besides Go syntax
// ("300ms", "1m30s") a whole number of days ("30d") is accepted, which is
// how horizons are usually written. Blank is zero; negatives are rejected.
func DurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	var d time.Duration
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("%s: invalid duration %q", path, raw)
		}
		d = time.Duration(n) * 24 * time.Hour
	} else {
		var err error
		if d, err = time.ParseDuration(s); err != nil {
			return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
		}
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// DurationOr is DurationField with def standing in for blank or zero.
func DurationOr(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := DurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}
