package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
timeline:
  preset: hourAndDay
  anchor: "2024-03-01"
  width: 1200
  snap_interval: 15m
sync:
  debounce: 300ms
  grace: 9s
history:
  capacity: 50
storage:
  driver: file
  path: ./data
remote:
  driver: memory
source:
  kind: file
  path: ./items.yaml
  refresh: "@every 1m"
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("planboard.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if cfg.Timeline.Preset != "hourAndDay" {
		t.Fatalf("Timeline.Preset = %q, want hourAndDay", cfg.Timeline.Preset)
	}
	if cfg.Timeline.Width != 1200 {
		t.Fatalf("Timeline.Width = %v, want 1200", cfg.Timeline.Width)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "file" {
		t.Fatalf("Storage = %+v, want file driver", cfg.Storage)
	}
	if err := Validate(context.Background(), cfg); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := Decode("planboard.json", []byte(`{"timeline":{"preset":"hourAndDay","zoom":2}}`))
	if err == nil {
		t.Fatalf("Decode() error = nil, want unknown field error")
	}
	if !strings.Contains(err.Error(), "zoom") {
		t.Fatalf("Decode() error = %v, want mention of zoom", err)
	}
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	t.Parallel()

	if _, err := Decode("planboard.json", []byte(`{} {}`)); err == nil {
		t.Fatalf("Decode() error = nil, want trailing data error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "zero config is valid", mutate: func(*Config) {}},
		{name: "unknown preset", mutate: func(c *Config) { c.Timeline.Preset = "decade" }, wantErr: "timeline.preset"},
		{name: "bad anchor", mutate: func(c *Config) { c.Timeline.Anchor = "03/01/2024" }, wantErr: "timeline.anchor"},
		{name: "bad grace", mutate: func(c *Config) { c.Sync.Grace = "soon" }, wantErr: "sync.grace"},
		{name: "negative debounce", mutate: func(c *Config) { c.Sync.Debounce = "-1s" }, wantErr: "sync.debounce"},
		{name: "margin too large", mutate: func(c *Config) { c.Timeline.RowHeight = 10; c.Timeline.LaneMargin = 5 }, wantErr: "lane_margin"},
		{name: "http remote without url", mutate: func(c *Config) { c.Remote.Driver = "http" }, wantErr: "remote.base_url"},
		{name: "sqlite without path", mutate: func(c *Config) { c.Storage = &StorageConfig{Driver: "sqlite"} }, wantErr: "storage.path"},
		{name: "bad cron", mutate: func(c *Config) { c.Source.Refresh = "every minute" }, wantErr: "source.refresh"},
		{name: "ics without calendars", mutate: func(c *Config) { c.Source.Kind = "ics" }, wantErr: "source.calendars"},
		{
			name: "duplicate resource",
			mutate: func(c *Config) {
				c.Source.Kind = "remote"
				c.Source.Resources = []ResourceConfig{{ID: "a"}, {ID: "a"}}
			},
			wantErr: "duplicate id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{}
			tt.mutate(cfg)
			err := Validate(context.Background(), cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDurationOr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: 9 * time.Second},
		{raw: "0s", want: 9 * time.Second},
		{raw: "2s", want: 2 * time.Second},
		{raw: " 1m30s ", want: 90 * time.Second},
		{raw: "30d", want: 30 * 24 * time.Hour},
		{raw: "-1s", wantErr: true},
		{raw: "-2d", wantErr: true},
		{raw: "1.5d", wantErr: true},
		{raw: "nope", wantErr: true},
	}
	for _, tt := range tests {
		d, err := DurationOr("sync.grace", tt.raw, 9*time.Second)
		if tt.wantErr {
			if err == nil || !strings.Contains(err.Error(), "sync.grace") {
				t.Fatalf("DurationOr(%q) error = %v, want error naming the field", tt.raw, err)
			}
			continue
		}
		if err != nil || d != tt.want {
			t.Fatalf("DurationOr(%q) = %v, %v; want %v, nil", tt.raw, d, err, tt.want)
		}
	}
}

func TestDecodeYAMLErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  string
		want string
	}{
		{name: "duplicate key", doc: "sync:\n  debounce: 1s\n  debounce: 2s\n", want: "line 3"},
		{name: "unknown field", doc: "sync:\n  bounce: 1s\n", want: "bounce"},
		{name: "complex key", doc: "? [a, b]\n: 1\n", want: "line 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode("planboard.yaml", []byte(tt.doc))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Decode() error = %v, want it to mention %q", err, tt.want)
			}
		})
	}

	// Anchors resolve like any other value.
	cfg, err := Decode("planboard.yml", []byte("sync:\n  debounce: &d 250ms\n  grace: *d\n"))
	if err != nil {
		t.Fatalf("Decode(anchors) error = %v", err)
	}
	if cfg.Sync.Grace != "250ms" {
		t.Fatalf("Sync.Grace = %q, want 250ms", cfg.Sync.Grace)
	}
}

func TestManagerLoadAndSubscribe(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "planboard.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	m := NewConfigManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if m.Get() != cfg {
		t.Fatalf("Get() did not return committed config")
	}

	ch := m.Subscribe(1)
	next := *cfg
	next.History.Capacity = 10
	m.publish(&next)
	m.publish(&next)

	select {
	case got := <-ch:
		if got.History.Capacity != 10 {
			t.Fatalf("published History.Capacity = %d, want 10", got.History.Capacity)
		}
	default:
		t.Fatalf("subscriber received nothing")
	}

	m.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("channel still open after Unsubscribe")
	}
}

func TestManagerLoadRejectsInvalid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "planboard.json")
	if err := os.WriteFile(path, []byte(`{"timeline":{"preset":"decade"}}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := NewConfigManager(path).Load(); err == nil {
		t.Fatalf("Load() error = nil, want validation error")
	}
}

func TestSummarizeConfigChangeHidesToken(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{Remote: RemoteConfig{Driver: "http", BaseURL: "http://x", Token: "a"}}
	newCfg := &Config{Remote: RemoteConfig{Driver: "http", BaseURL: "http://x", Token: "b"}}

	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	if len(changed) != 1 || changed[0] != "remote" {
		t.Fatalf("changed = %v, want [remote]", changed)
	}

	changed, _ = SummarizeConfigChange(newCfg, newCfg)
	if len(changed) != 0 {
		t.Fatalf("changed = %v, want none", changed)
	}
}
