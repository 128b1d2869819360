package app

import (
	"fmt"
	"strings"
	"time"

	"planboard/internal/config"
	"planboard/internal/export"
	"planboard/internal/gesture"
	"planboard/internal/history"
	"planboard/internal/layout"
	"planboard/internal/model"
	"planboard/internal/optimistic"
	"planboard/internal/remote"
	"planboard/internal/source"
	"planboard/internal/storage"
	"planboard/internal/task/engine"
	"planboard/internal/timescale"
	"planboard/internal/web"
	logx "planboard/pkg/logx"
)

const (
	defaultPreset        = timescale.DayAndWeek
	defaultWidth         = 1200
	defaultRemoteTimeout = 10 * time.Second
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	if cfg.Storage == nil {
		return storage.Config{Driver: "memory"}, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "none", "memory":
		return storage.Config{Driver: "memory"}, nil
	case "file":
		return storage.Config{Driver: "file", Path: strings.TrimSpace(sc.Path)}, nil
	case "sqlite", "sqlite3":
		busy, err := config.DurationOr("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	var ec config.EngineConfig
	if cfg.Engine != nil {
		ec = *cfg.Engine
	}
	out := engine.Config{
		Workers:             ec.Workers,
		QueueSize:           ec.QueueSize,
		HistorySize:         ec.HistorySize,
		RetryMax:            ec.RetryMax,
		CircuitTripFailures: ec.BreakerThreshold,
	}
	if out.Workers <= 0 {
		out.Workers = 2
	}
	if out.QueueSize <= 0 {
		out.QueueSize = 256
	}
	if out.HistorySize == 0 {
		out.HistorySize = 200
	}
	if out.RetryMax == 0 {
		out.RetryMax = 3
	}
	if out.CircuitTripFailures == 0 {
		out.CircuitTripFailures = 5
	}

	durations := []struct {
		key string
		raw string
		def time.Duration
		dst *time.Duration
	}{
		{"engine.default_timeout", ec.DefaultTimeout, 10 * time.Second, &out.DefaultTimeout},
		{"engine.max_queue_delay", ec.MaxQueueDelay, 0, &out.MaxQueueDelay},
		{"engine.retry_base", ec.RetryBase, 200 * time.Millisecond, &out.RetryBase},
		{"engine.retry_max_delay", ec.RetryMaxDelay, 5 * time.Second, &out.RetryMaxDelay},
		{"engine.breaker_cooldown", ec.BreakerCooldown, 30 * time.Second, &out.CircuitBaseDelay},
	}
	for _, d := range durations {
		v, err := config.DurationOr(d.key, d.raw, d.def)
		if err != nil {
			return engine.Config{}, err
		}
		*d.dst = v
	}
	return out, nil
}

// timelineSettings is the board geometry derived from config.timeline.
type timelineSettings struct {
	scale  timescale.Scale
	layout layout.Options
	snap   gesture.Snapper
}

func mapTimeline(cfg *config.Config, now time.Time) (timelineSettings, error) {
	tl := cfg.Timeline
	loc := time.Local
	if tz := strings.TrimSpace(tl.Timezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return timelineSettings{}, fmt.Errorf("timeline.timezone: %w", err)
		}
		loc = l
	}
	preset := defaultPreset
	if p := strings.TrimSpace(tl.Preset); p != "" {
		v, err := timescale.ParsePreset(p)
		if err != nil {
			return timelineSettings{}, fmt.Errorf("timeline.preset: %w", err)
		}
		preset = v
	}
	anchor := now.In(loc)
	if a := strings.TrimSpace(tl.Anchor); a != "" {
		v, err := time.ParseInLocation(time.DateOnly, a, loc)
		if err != nil {
			return timelineSettings{}, fmt.Errorf("timeline.anchor: %w", err)
		}
		anchor = v
	}
	width := tl.Width
	if width <= 0 {
		width = defaultWidth
	}
	scale, err := timescale.New(preset, anchor, width, loc)
	if err != nil {
		return timelineSettings{}, fmt.Errorf("timeline: %w", err)
	}

	lo := layout.DefaultOptions()
	if tl.RowHeight > 0 {
		lo.RowHeight = tl.RowHeight
	}
	if tl.LaneMargin > 0 {
		lo.LaneMargin = tl.LaneMargin
	}
	if tl.MinWidth > 0 {
		lo.MinWidth = tl.MinWidth
	}
	if tl.StackMargin > 0 {
		lo.StackMargin = tl.StackMargin
	}
	snap, err := config.DurationOr("timeline.snap_interval", tl.SnapInterval, gesture.DefaultSnapInterval)
	if err != nil {
		return timelineSettings{}, err
	}
	return timelineSettings{scale: scale, layout: lo, snap: gesture.Snapper{Interval: snap}}, nil
}

type syncSettings struct {
	debounce time.Duration
	grace    time.Duration
	history  int
}

func mapSyncConfig(cfg *config.Config) (syncSettings, error) {
	debounce, err := config.DurationOr("sync.debounce", cfg.Sync.Debounce, optimistic.DefaultDebounce)
	if err != nil {
		return syncSettings{}, err
	}
	grace, err := config.DurationOr("sync.grace", cfg.Sync.Grace, optimistic.DefaultGrace)
	if err != nil {
		return syncSettings{}, err
	}
	capacity := cfg.History.Capacity
	if capacity <= 0 {
		capacity = history.DefaultCapacity
	}
	return syncSettings{debounce: debounce, grace: grace, history: capacity}, nil
}

func mapRemoteConfig(cfg *config.Config) (remote.HTTPConfig, error) {
	rc := cfg.Remote
	timeout, err := config.DurationOr("remote.timeout", rc.Timeout, defaultRemoteTimeout)
	if err != nil {
		return remote.HTTPConfig{}, err
	}
	return remote.HTTPConfig{
		BaseURL:    rc.BaseURL,
		Token:      rc.Token,
		Timeout:    timeout,
		RatePerSec: rc.RatePerSec,
		Burst:      rc.Burst,
	}, nil
}

func mapResources(in []config.ResourceConfig) []model.Resource {
	if len(in) == 0 {
		return nil
	}
	out := make([]model.Resource, 0, len(in))
	for _, r := range in {
		out = append(out, model.Resource{
			ID:       strings.TrimSpace(r.ID),
			Name:     r.Name,
			GroupKey: r.GroupKey,
			Color:    r.Color,
		})
	}
	return out
}

func mapCalendars(in []config.CalendarConfig) []source.Calendar {
	out := make([]source.Calendar, 0, len(in))
	for _, c := range in {
		out = append(out, source.Calendar{
			Path:       strings.TrimSpace(c.Path),
			ResourceID: strings.TrimSpace(c.ResourceID),
			Name:       c.Name,
			Color:      c.Color,
		})
	}
	return out
}

func mapHTTPConfig(cfg *config.Config) (web.Config, error) {
	hc := cfg.HTTP
	out := web.Config{
		Addr:          strings.TrimSpace(hc.Addr),
		Token:         strings.TrimSpace(hc.Token),
		AllowInsecure: hc.AllowInsecure,
		Pprof:         hc.Pprof,
	}
	if out.Addr == "" {
		out.Addr = web.DefaultAddr
	}
	var err error
	if out.ReadTimeout, err = config.DurationOr("http.read_timeout", hc.ReadTimeout, 10*time.Second); err != nil {
		return web.Config{}, err
	}
	// PNG/PDF export can take as long as the browser capture.
	if out.WriteTimeout, err = config.DurationOr("http.write_timeout", hc.WriteTimeout, time.Minute); err != nil {
		return web.Config{}, err
	}
	if out.IdleTimeout, err = config.DurationOr("http.idle_timeout", hc.IdleTimeout, 2*time.Minute); err != nil {
		return web.Config{}, err
	}
	return out, nil
}

func mapExportConfig(cfg *config.Config, log logx.Logger) (export.Chromium, error) {
	timeout, err := config.DurationOr("export.timeout", cfg.Export.Timeout, export.DefaultCaptureTimeout)
	if err != nil {
		return export.Chromium{}, err
	}
	return export.Chromium{
		ExecPath: strings.TrimSpace(cfg.Export.ChromePath),
		Timeout:  timeout,
		Log:      log.Component("export"),
	}, nil
}
