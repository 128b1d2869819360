package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var presets = map[string]bool{
	"hourAndDay":   true,
	"dayAndWeek":   true,
	"weekAndMonth": true,
	"monthAndYear": true,
}

// Validate checks cross-field constraints that the strict decoder cannot.
// It has the signature expected by ConfigManager.SetValidator.
func Validate(_ context.Context, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	tl := cfg.Timeline
	if p := strings.TrimSpace(tl.Preset); p != "" && !presets[p] {
		errs = append(errs, fmt.Errorf("timeline.preset: unknown preset %q", p))
	}
	if a := strings.TrimSpace(tl.Anchor); a != "" {
		if _, err := time.Parse(time.DateOnly, a); err != nil {
			errs = append(errs, fmt.Errorf("timeline.anchor: %w", err))
		}
	}
	if tz := strings.TrimSpace(tl.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("timeline.timezone: %w", err))
		}
	}
	if tl.Width < 0 || tl.RowHeight < 0 || tl.LaneMargin < 0 || tl.MinWidth < 0 || tl.StackMargin < 0 {
		errs = append(errs, errors.New("timeline: geometry values must be >= 0"))
	}
	if tl.RowHeight > 0 && tl.LaneMargin*2 >= tl.RowHeight {
		errs = append(errs, errors.New("timeline.lane_margin: must be less than half of row_height"))
	}

	durations := map[string]string{
		"timeline.snap_interval": tl.SnapInterval,
		"sync.debounce":          cfg.Sync.Debounce,
		"sync.grace":             cfg.Sync.Grace,
		"remote.timeout":         cfg.Remote.Timeout,
		"source.horizon":         cfg.Source.Horizon,
		"http.read_timeout":      cfg.HTTP.ReadTimeout,
		"http.write_timeout":     cfg.HTTP.WriteTimeout,
		"http.idle_timeout":      cfg.HTTP.IdleTimeout,
		"export.timeout":         cfg.Export.Timeout,
	}
	if e := cfg.Engine; e != nil {
		durations["engine.default_timeout"] = e.DefaultTimeout
		durations["engine.max_queue_delay"] = e.MaxQueueDelay
		durations["engine.retry_base"] = e.RetryBase
		durations["engine.retry_max_delay"] = e.RetryMaxDelay
		durations["engine.breaker_cooldown"] = e.BreakerCooldown
		if e.Workers < 0 || e.QueueSize < 0 || e.RetryMax < 0 || e.HistorySize < 0 {
			errs = append(errs, errors.New("engine: counts must be >= 0"))
		}
	}
	if s := cfg.Storage; s != nil {
		durations["storage.busy_timeout"] = s.BusyTimeout
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "memory", "none":
		case "file", "sqlite":
			if strings.TrimSpace(s.Path) == "" {
				errs = append(errs, fmt.Errorf("storage.path: required for driver %q", s.Driver))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
	}
	for path, raw := range durations {
		if _, err := DurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if cfg.History.Capacity < 0 {
		errs = append(errs, errors.New("history.capacity: must be >= 0"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Remote.Driver)) {
	case "", "memory":
	case "http":
		if strings.TrimSpace(cfg.Remote.BaseURL) == "" {
			errs = append(errs, errors.New("remote.base_url: required for driver \"http\""))
		}
	default:
		errs = append(errs, fmt.Errorf("remote.driver: unknown driver %q", cfg.Remote.Driver))
	}

	src := cfg.Source
	switch strings.ToLower(strings.TrimSpace(src.Kind)) {
	case "":
	case "file":
		if strings.TrimSpace(src.Path) == "" {
			errs = append(errs, errors.New("source.path: required for kind \"file\""))
		}
	case "ics":
		if len(src.Calendars) == 0 {
			errs = append(errs, errors.New("source.calendars: at least one calendar is required for kind \"ics\""))
		}
		for i, c := range src.Calendars {
			if strings.TrimSpace(c.Path) == "" || strings.TrimSpace(c.ResourceID) == "" {
				errs = append(errs, fmt.Errorf("source.calendars[%d]: path and resource_id are required", i))
			}
		}
	case "remote":
		if len(src.Resources) == 0 {
			errs = append(errs, errors.New("source.resources: required for kind \"remote\""))
		}
	default:
		errs = append(errs, fmt.Errorf("source.kind: unknown kind %q", src.Kind))
	}
	if spec := strings.TrimSpace(src.Refresh); spec != "" {
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("source.refresh: %w", err))
		}
	}
	seen := map[string]bool{}
	for i, r := range src.Resources {
		id := strings.TrimSpace(r.ID)
		if id == "" {
			errs = append(errs, fmt.Errorf("source.resources[%d]: id is required", i))
			continue
		}
		if seen[id] {
			errs = append(errs, fmt.Errorf("source.resources[%d]: duplicate id %q", i, id))
		}
		seen[id] = true
	}

	return errors.Join(errs...)
}
