package timescale

import (
	"errors"
	"math/rand"
	"testing"
	"time"
)

func date(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}

func TestPresetRanges(t *testing.T) {
	t.Parallel()

	anchor := date(2024, time.March, 1, 13, 30) // a Friday
	tests := []struct {
		preset     Preset
		start, end time.Time
		minorTicks int
	}{
		{HourAndDay, date(2024, time.March, 1, 0, 0), date(2024, time.March, 2, 0, 0), 24},
		{DayAndWeek, date(2024, time.February, 26, 0, 0), date(2024, time.March, 4, 0, 0), 7},
		{WeekAndMonth, date(2024, time.March, 1, 0, 0), date(2024, time.April, 1, 0, 0), 5},
		{MonthAndYear, date(2024, time.January, 1, 0, 0), date(2025, time.January, 1, 0, 0), 12},
	}

	for _, tt := range tests {
		t.Run(string(tt.preset), func(t *testing.T) {
			t.Parallel()
			s, err := New(tt.preset, anchor, 1000, time.UTC)
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if !s.RangeStart().Equal(tt.start) {
				t.Fatalf("RangeStart = %v, want %v", s.RangeStart(), tt.start)
			}
			if !s.RangeEnd().Equal(tt.end) {
				t.Fatalf("RangeEnd = %v, want %v", s.RangeEnd(), tt.end)
			}
			if got := len(s.Ticks()); got != tt.minorTicks {
				t.Fatalf("len(Ticks) = %d, want %d", got, tt.minorTicks)
			}
			if got := len(s.MajorTicks()); got != 1 {
				t.Fatalf("len(MajorTicks) = %d, want 1", got)
			}
			if !s.Config().Contains(anchor) {
				t.Fatalf("range does not contain anchor")
			}
		})
	}
}

func TestWeekStartsOnMonday(t *testing.T) {
	t.Parallel()

	sunday := date(2024, time.March, 3, 23, 0)
	s, err := New(DayAndWeek, sunday, 700, time.UTC)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := s.RangeStart().Weekday(); got != time.Monday {
		t.Fatalf("RangeStart weekday = %v, want Monday", got)
	}
	if !s.RangeStart().Equal(date(2024, time.February, 26, 0, 0)) {
		t.Fatalf("RangeStart = %v, want 2024-02-26", s.RangeStart())
	}
}

func TestDayViewSingleEvent(t *testing.T) {
	t.Parallel()

	s, err := New(HourAndDay, date(2024, time.March, 1, 0, 0), 1200, time.UTC)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	x := s.ToPixel(date(2024, time.March, 1, 9, 0))
	w := s.ToPixel(date(2024, time.March, 1, 10, 0)) - x
	if x != 450 {
		t.Fatalf("x = %v, want 450", x)
	}
	if w != 50 {
		t.Fatalf("width = %v, want 50", w)
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	for _, p := range Presets {
		for _, width := range []float64{317, 1200, 4096.5} {
			s, err := New(p, date(2024, time.July, 17, 8, 0), width, time.UTC)
			if err != nil {
				t.Fatalf("New(%s) error = %v", p, err)
			}
			tolerance := s.Resolution()
			span := int64(s.Config().Span())
			for i := 0; i < 500; i++ {
				in := s.RangeStart().Add(time.Duration(rng.Int63n(span)))
				out := s.ToInstant(s.ToPixel(in))
				diff := out.Sub(in)
				if diff < 0 {
					diff = -diff
				}
				if diff > tolerance {
					t.Fatalf("%s/%v: round trip of %v = %v (diff %v > %v)", p, width, in, out, diff, tolerance)
				}
			}
		}
	}
}

func TestDelta(t *testing.T) {
	t.Parallel()

	s, _ := New(HourAndDay, date(2024, time.March, 1, 0, 0), 1200, time.UTC)
	if got := s.Delta(50); got != time.Hour {
		t.Fatalf("Delta(50) = %v, want 1h", got)
	}
	if got := s.Delta(-25); got != -30*time.Minute {
		t.Fatalf("Delta(-25) = %v, want -30m", got)
	}
}

func TestNavigate(t *testing.T) {
	t.Parallel()

	s, _ := New(WeekAndMonth, date(2024, time.January, 31, 12, 0), 800, time.UTC)

	next := s.Navigate(Next, time.Time{})
	if !next.RangeStart().Equal(date(2024, time.February, 1, 0, 0)) {
		t.Fatalf("Next RangeStart = %v, want 2024-02-01", next.RangeStart())
	}
	back := next.Navigate(Prev, time.Time{})
	if !back.RangeStart().Equal(s.RangeStart()) {
		t.Fatalf("Prev(Next) RangeStart = %v, want %v", back.RangeStart(), s.RangeStart())
	}

	now := date(2025, time.June, 10, 9, 15)
	today := back.Navigate(Today, now)
	again := today.Navigate(Today, now)
	if !today.Config().Contains(now) {
		t.Fatalf("Today range %v..%v does not contain now", today.RangeStart(), today.RangeEnd())
	}
	if !again.RangeStart().Equal(today.RangeStart()) || !again.RangeEnd().Equal(today.RangeEnd()) {
		t.Fatalf("Today is not idempotent")
	}
}

func TestNewErrors(t *testing.T) {
	t.Parallel()

	if _, err := New("fortnight", time.Now(), 100, nil); !errors.Is(err, ErrUnknownPreset) {
		t.Fatalf("New(unknown) error = %v, want ErrUnknownPreset", err)
	}
	if _, err := New(HourAndDay, time.Now(), 0, nil); !errors.Is(err, ErrInvalidWidth) {
		t.Fatalf("New(width 0) error = %v, want ErrInvalidWidth", err)
	}
	if _, err := ParsePreset("HOURANDDAY"); err != nil {
		t.Fatalf("ParsePreset() error = %v", err)
	}
	if _, err := ParseDirection("sideways"); !errors.Is(err, ErrUnknownDirection) {
		t.Fatalf("ParseDirection() error = %v, want ErrUnknownDirection", err)
	}
}

func TestWithPresetKeepsAnchor(t *testing.T) {
	t.Parallel()

	anchor := date(2024, time.March, 1, 10, 0)
	s, _ := New(HourAndDay, anchor, 1200, time.UTC)
	y, err := s.WithPreset(MonthAndYear)
	if err != nil {
		t.Fatalf("WithPreset() error = %v", err)
	}
	if !y.Anchor().Equal(anchor) || !y.RangeStart().Equal(date(2024, time.January, 1, 0, 0)) {
		t.Fatalf("WithPreset range = %v, anchor %v", y.RangeStart(), y.Anchor())
	}
	w, _ := s.WithWidth(600)
	if got := w.ToPixel(date(2024, time.March, 1, 12, 0)); got != 300 {
		t.Fatalf("ToPixel(noon) at width 600 = %v, want 300", got)
	}
}
