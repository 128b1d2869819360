package config

import (
	"reflect"
	"strings"

	logx "planboard/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Timeline, newCfg.Timeline) {
		changed = append(changed, "timeline")
		attrs = append(attrs,
			logx.String("timeline.preset", strings.TrimSpace(newCfg.Timeline.Preset)),
			logx.String("timeline.snap_interval", strings.TrimSpace(newCfg.Timeline.SnapInterval)),
			logx.Float64("timeline.width", newCfg.Timeline.Width),
		)
	}

	if oldCfg.Sync != newCfg.Sync {
		changed = append(changed, "sync")
		attrs = append(attrs,
			logx.String("sync.debounce", strings.TrimSpace(newCfg.Sync.Debounce)),
			logx.String("sync.grace", strings.TrimSpace(newCfg.Sync.Grace)),
		)
	}

	if oldCfg.History != newCfg.History {
		changed = append(changed, "history")
		attrs = append(attrs, logx.Int("history.capacity", newCfg.History.Capacity))
	}

	oE := derefEngine(oldCfg.Engine)
	nE := derefEngine(newCfg.Engine)
	if (oldCfg.Engine != nil) != (newCfg.Engine != nil) || oE != nE {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Bool("engine.present", newCfg.Engine != nil),
			logx.Int("engine.workers", nE.Workers),
			logx.Int("engine.queue_size", nE.QueueSize),
			logx.Int("engine.retry_max", nE.RetryMax),
			logx.String("engine.default_timeout", strings.TrimSpace(nE.DefaultTimeout)),
		)
	}

	oS := derefStorage(oldCfg.Storage)
	nS := derefStorage(newCfg.Storage)
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.String("storage.path", strings.TrimSpace(nS.Path)),
		)
	}

	// Remote (never log token)
	oR, nR := oldCfg.Remote, newCfg.Remote
	tokenChanged := strings.TrimSpace(oR.Token) != strings.TrimSpace(nR.Token)
	oR.Token, nR.Token = "", ""
	if tokenChanged || oR != nR {
		changed = append(changed, "remote")
		attrs = append(attrs,
			logx.String("remote.driver", strings.TrimSpace(nR.Driver)),
			logx.String("remote.base_url", strings.TrimSpace(nR.BaseURL)),
			logx.Bool("remote.token_set", strings.TrimSpace(newCfg.Remote.Token) != ""),
			logx.Float64("remote.rate_per_sec", nR.RatePerSec),
		)
	}

	if !reflect.DeepEqual(oldCfg.Source, newCfg.Source) {
		changed = append(changed, "source")
		attrs = append(attrs,
			logx.String("source.kind", strings.TrimSpace(newCfg.Source.Kind)),
			logx.String("source.refresh", strings.TrimSpace(newCfg.Source.Refresh)),
			logx.Int("source.calendars", len(newCfg.Source.Calendars)),
			logx.Int("source.resources", len(newCfg.Source.Resources)),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Bool("http.token_set", strings.TrimSpace(newCfg.HTTP.Token) != ""),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
		)
	}

	if oldCfg.Export != newCfg.Export {
		changed = append(changed, "export")
		attrs = append(attrs, logx.Bool("export.chrome_path_set", strings.TrimSpace(newCfg.Export.ChromePath) != ""))
	}

	return changed, attrs
}

func derefEngine(e *EngineConfig) EngineConfig {
	if e == nil {
		return EngineConfig{}
	}
	return *e
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{}
	}
	return *s
}
