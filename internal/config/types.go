package config

// Config is the planboard configuration file.
//
// Both JSON and YAML are accepted (by extension). Unknown keys are rejected so
// typos surface at load time instead of silently falling back to defaults.
// All durations are Go duration strings (e.g. "300ms", "9s", "1m").
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Timeline TimelineConfig `json:"timeline"`
	Sync     SyncConfig     `json:"sync"`
	History  HistoryConfig  `json:"history"`

	// Engine controls the remote write executor. Omitted means defaults.
	Engine *EngineConfig `json:"engine,omitempty"`

	// Storage is the local durable cache. Omitted means the in-memory driver.
	Storage *StorageConfig `json:"storage,omitempty"`

	Remote RemoteConfig `json:"remote"`
	Source SourceConfig `json:"source"`
	HTTP   HTTPConfig   `json:"http"`
	Export ExportConfig `json:"export,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// TimelineConfig controls the initial view and layout geometry.
//
// Defaults (when fields are omitted/zero):
//   - preset: "dayAndWeek"
//   - anchor: today
//   - timezone: local
//   - width: 1200, row_height: 48, lane_margin: 4, min_width: 4, stack_margin: 2
//   - snap_interval: "15m"
type TimelineConfig struct {
	Preset string `json:"preset,omitempty"`
	// Anchor is a YYYY-MM-DD date. Empty means "today".
	Anchor   string `json:"anchor,omitempty"`
	Timezone string `json:"timezone,omitempty"`

	Width       float64 `json:"width,omitempty"`
	RowHeight   float64 `json:"row_height,omitempty"`
	LaneMargin  float64 `json:"lane_margin,omitempty"`
	MinWidth    float64 `json:"min_width,omitempty"`
	StackMargin float64 `json:"stack_margin,omitempty"`

	SnapInterval string `json:"snap_interval,omitempty"`
}

// SyncConfig tunes the optimistic write path.
//
//   - debounce: quiet period before a coalesced remote write (default "300ms")
//   - grace: how long a pending change masks refreshed source data (default "9s")
type SyncConfig struct {
	Debounce string `json:"debounce,omitempty"`
	Grace    string `json:"grace,omitempty"`
}

type HistoryConfig struct {
	// Capacity bounds the undo list (default 50).
	Capacity int `json:"capacity,omitempty"`
}

// EngineConfig controls the task execution engine that runs remote writes.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "10s"
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 3
//   - retry_base: "200ms", retry_max_delay: "5s"
//   - breaker_threshold: 5, breaker_cooldown: "30s"
type EngineConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`

	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`

	HistorySize   int    `json:"history_size,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`

	BreakerThreshold int    `json:"breaker_threshold,omitempty"`
	BreakerCooldown  string `json:"breaker_cooldown,omitempty"`
}

// StorageConfig controls the local cache driver.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./planboard.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// RemoteConfig selects the remote persistence backend.
//
// driver "memory" keeps records in process (demo mode); "http" talks JSON to
// base_url. Token is sent as a bearer token and never logged.
type RemoteConfig struct {
	Driver     string  `json:"driver,omitempty"`
	BaseURL    string  `json:"base_url,omitempty"`
	Token      string  `json:"token,omitempty"`
	Timeout    string  `json:"timeout,omitempty"`
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
}

// SourceConfig describes where lanes and items come from.
//
// kind:
//   - "file": path points to a YAML/JSON document with resources and records
//   - "ics": each calendar becomes one lane, events are expanded over horizon
//   - "remote": records come from the remote backend, lanes from resources
type SourceConfig struct {
	Kind      string           `json:"kind,omitempty"`
	Path      string           `json:"path,omitempty"`
	Calendars []CalendarConfig `json:"calendars,omitempty"`
	Resources []ResourceConfig `json:"resources,omitempty"`

	// Refresh is a cron spec (robfig/cron syntax, e.g. "@every 1m").
	// Empty disables periodic refresh.
	Refresh string `json:"refresh,omitempty"`

	// Horizon bounds recurrence expansion around now (default "90d").
	Horizon string `json:"horizon,omitempty"`
}

type CalendarConfig struct {
	Path       string `json:"path"`
	ResourceID string `json:"resource_id"`
	Name       string `json:"name,omitempty"`
	Color      string `json:"color,omitempty"`
}

type ResourceConfig struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	GroupKey string `json:"group_key,omitempty"`
	Color    string `json:"color,omitempty"`
}

// HTTPConfig controls the JSON API listener.
//
// A non-loopback addr is refused unless token is set or allow_insecure is
// true. pprof mounts /debug/pprof/ behind the same token.
type HTTPConfig struct {
	Addr          string `json:"addr,omitempty"` // default "127.0.0.1:8080"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

// ExportConfig controls headless-browser rendering of PNG/PDF exports.
type ExportConfig struct {
	// ChromePath overrides the browser binary. Empty uses chromedp's lookup.
	ChromePath string `json:"chrome_path,omitempty"`
	Timeout    string `json:"timeout,omitempty"` // default "30s"
}
