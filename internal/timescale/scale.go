// Package timescale maps a view preset and an anchor date to a concrete time
// range and a reversible linear time↔pixel transform.
//
// Ranges are half-open [RangeStart, RangeEnd) and always fall on local
// calendar boundaries of the scale's location (weeks start on Monday).
package timescale

import (
	"fmt"
	"math"
	"strings"
	"time"
)

type Preset string

const (
	HourAndDay   Preset = "hourAndDay"
	DayAndWeek   Preset = "dayAndWeek"
	WeekAndMonth Preset = "weekAndMonth"
	MonthAndYear Preset = "monthAndYear"
)

// Presets lists the supported presets from finest to coarsest.
var Presets = []Preset{HourAndDay, DayAndWeek, WeekAndMonth, MonthAndYear}

// ParsePreset accepts the canonical names case-insensitively.
func ParsePreset(s string) (Preset, error) {
	s = strings.TrimSpace(s)
	for _, p := range Presets {
		if strings.EqualFold(s, string(p)) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPreset, s)
}

// Unit is a calendar step. Months and years are not fixed durations, so
// steps are applied with AddDate.
type Unit struct {
	Years, Months, Days int
	Hours               int
}

func (u Unit) add(t time.Time, n int) time.Time {
	t = t.AddDate(u.Years*n, u.Months*n, u.Days*n)
	if u.Hours != 0 {
		t = t.Add(time.Duration(u.Hours*n) * time.Hour)
	}
	return t
}

func (u Unit) String() string {
	switch {
	case u.Years != 0:
		return fmt.Sprintf("%dy", u.Years)
	case u.Months != 0:
		return fmt.Sprintf("%dmo", u.Months)
	case u.Days == 7:
		return "1w"
	case u.Days != 0:
		return fmt.Sprintf("%dd", u.Days)
	default:
		return fmt.Sprintf("%dh", u.Hours)
	}
}

var (
	hour  = Unit{Hours: 1}
	day   = Unit{Days: 1}
	week  = Unit{Days: 7}
	month = Unit{Months: 1}
	year  = Unit{Years: 1}
)

// Config is the derived configuration of a scale.
type Config struct {
	Preset     Preset    `json:"preset"`
	RangeStart time.Time `json:"range_start"`
	RangeEnd   time.Time `json:"range_end"`
	Minor      Unit      `json:"-"`
	Major      Unit      `json:"-"`
}

// Span is RangeEnd-RangeStart. Always positive.
func (c Config) Span() time.Duration { return c.RangeEnd.Sub(c.RangeStart) }

// Contains reports whether t lies in [RangeStart, RangeEnd).
func (c Config) Contains(t time.Time) bool {
	return !t.Before(c.RangeStart) && t.Before(c.RangeEnd)
}

// Scale is an immutable time axis of a given pixel width.
type Scale struct {
	cfg    Config
	anchor time.Time
	width  float64
	loc    *time.Location
}

// New derives the range containing anchor for preset. A nil loc means
// time.Local.
func New(preset Preset, anchor time.Time, width float64, loc *time.Location) (Scale, error) {
	if !(width > 0) || math.IsInf(width, 0) {
		return Scale{}, fmt.Errorf("%w: %v", ErrInvalidWidth, width)
	}
	if loc == nil {
		loc = time.Local
	}
	cfg, err := derive(preset, anchor.In(loc))
	if err != nil {
		return Scale{}, err
	}
	return Scale{cfg: cfg, anchor: anchor.In(loc), width: width, loc: loc}, nil
}

func derive(p Preset, anchor time.Time) (Config, error) {
	loc := anchor.Location()
	y, m, d := anchor.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, loc)

	var cfg Config
	switch p {
	case HourAndDay:
		cfg = Config{RangeStart: midnight, Minor: hour, Major: day}
	case DayAndWeek:
		sinceMonday := (int(midnight.Weekday()) + 6) % 7
		cfg = Config{RangeStart: midnight.AddDate(0, 0, -sinceMonday), Minor: day, Major: week}
	case WeekAndMonth:
		cfg = Config{RangeStart: time.Date(y, m, 1, 0, 0, 0, 0, loc), Minor: week, Major: month}
	case MonthAndYear:
		cfg = Config{RangeStart: time.Date(y, time.January, 1, 0, 0, 0, 0, loc), Minor: month, Major: year}
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrUnknownPreset, string(p))
	}
	cfg.Preset = p
	cfg.RangeEnd = cfg.Major.add(cfg.RangeStart, 1)
	return cfg, nil
}

func (s Scale) Config() Config           { return s.cfg }
func (s Scale) Preset() Preset           { return s.cfg.Preset }
func (s Scale) RangeStart() time.Time    { return s.cfg.RangeStart }
func (s Scale) RangeEnd() time.Time      { return s.cfg.RangeEnd }
func (s Scale) Anchor() time.Time        { return s.anchor }
func (s Scale) Width() float64           { return s.width }
func (s Scale) Location() *time.Location { return s.loc }
func (s Scale) IsZero() bool             { return s.width == 0 }

// ToPixel maps t linearly; instants outside the range map outside [0, width).
func (s Scale) ToPixel(t time.Time) float64 {
	span := s.cfg.Span()
	if span <= 0 {
		return 0
	}
	return float64(t.Sub(s.cfg.RangeStart)) * s.width / float64(span)
}

// ToInstant is the inverse of ToPixel, rounded to the nanosecond.
func (s Scale) ToInstant(px float64) time.Time {
	if s.width <= 0 {
		return s.cfg.RangeStart
	}
	ns := math.Round(px * float64(s.cfg.Span()) / s.width)
	return s.cfg.RangeStart.Add(time.Duration(ns))
}

// Delta converts a pixel distance into a scale-relative duration.
func (s Scale) Delta(px float64) time.Duration {
	return s.ToInstant(px).Sub(s.ToInstant(0))
}

// Resolution is the duration covered by one pixel.
func (s Scale) Resolution() time.Duration {
	if s.width <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(float64(s.cfg.Span()) / s.width))
}

// Ticks lists minor tick instants inside [RangeStart, RangeEnd).
func (s Scale) Ticks() []time.Time { return s.ticks(s.cfg.Minor) }

// MajorTicks lists major tick instants inside [RangeStart, RangeEnd).
func (s Scale) MajorTicks() []time.Time { return s.ticks(s.cfg.Major) }

func (s Scale) ticks(u Unit) []time.Time {
	var out []time.Time
	for i := 0; ; i++ {
		t := u.add(s.cfg.RangeStart, i)
		if !t.Before(s.cfg.RangeEnd) {
			return out
		}
		out = append(out, t)
	}
}

type Direction int

const (
	Today Direction = iota
	Prev
	Next
)

// ParseDirection accepts "prev", "next" and "today".
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "prev", "previous", "back":
		return Prev, nil
	case "next", "forward":
		return Next, nil
	case "today", "now":
		return Today, nil
	}
	return Today, fmt.Errorf("%w: %q", ErrUnknownDirection, s)
}

// Navigate shifts the view by one major unit, or re-anchors it at now.
// Today is idempotent: it always yields the range containing now.
func (s Scale) Navigate(dir Direction, now time.Time) Scale {
	var anchor time.Time
	switch dir {
	case Prev:
		anchor = s.cfg.Major.add(s.cfg.RangeStart, -1)
	case Next:
		anchor = s.cfg.Major.add(s.cfg.RangeStart, 1)
	default:
		anchor = now.In(s.loc)
	}
	cfg, err := derive(s.cfg.Preset, anchor)
	if err != nil {
		return s
	}
	return Scale{cfg: cfg, anchor: anchor, width: s.width, loc: s.loc}
}

// WithWidth keeps the range and changes the pixel width.
func (s Scale) WithWidth(width float64) (Scale, error) {
	return New(s.cfg.Preset, s.anchor, width, s.loc)
}

// WithPreset keeps the anchor and switches the preset.
func (s Scale) WithPreset(p Preset) (Scale, error) {
	return New(p, s.anchor, s.width, s.loc)
}
