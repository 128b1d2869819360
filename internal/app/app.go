// Package app wires configuration, storage, the remote write path, the
// board and the HTTP boundary into one process and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"planboard/internal/board"
	"planboard/internal/config"
	"planboard/internal/eventbus"
	"planboard/internal/history"
	"planboard/internal/optimistic"
	rtsup "planboard/internal/runtime/supervisor"
	"planboard/internal/source"
	"planboard/internal/storage"
	"planboard/internal/task/engine"
	"planboard/internal/task/scheduler"
	"planboard/internal/timescale"
	"planboard/internal/web"
	logx "planboard/pkg/logx"
)

// Sections whose changes only take effect after a restart.
var restartSections = []string{"storage", "remote", "sync", "history", "export"}

type App struct {
	cfgPath string
	cfgm    *config.ConfigManager
	sup     *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store     storage.Store
	engine    *engine.Service
	sched     *scheduler.Service
	board     *board.Board
	refresher *source.Refresher
	notices   *web.Notices
	http      *web.Server
}

// NewApp loads the config and builds every component. In memory remote mode
// it also reads the seeding feed, hence the context.
func NewApp(ctx context.Context, cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLoggingConfig(cfg))
	fail := func(err error) (*App, error) {
		_ = logs.Close()
		return nil, err
	}

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return fail(err)
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return fail(fmt.Errorf("storage: %w", err))
	}
	fail = func(err error) (*App, error) {
		_ = store.Close()
		_ = logs.Close()
		return nil, err
	}

	ec, err := mapEngineConfig(cfg)
	if err != nil {
		return fail(err)
	}
	eng := engine.New(ec, log, bus)

	be, err := buildBackend(ctx, cfg, log)
	if err != nil {
		return fail(err)
	}
	rc, err := mapRemoteConfig(cfg)
	if err != nil {
		return fail(err)
	}

	tl, err := mapTimeline(cfg, time.Now())
	if err != nil {
		return fail(err)
	}
	ss, err := mapSyncConfig(cfg)
	if err != nil {
		return fail(err)
	}
	b := board.New(board.Config{
		Store: store,
		Dispatcher: optimistic.EngineDispatcher{
			Engine:  eng,
			Remote:  be.client,
			Timeout: rc.Timeout,
		},
		History:   history.New(ss.history),
		Scale:     tl.scale,
		Resources: mapResources(cfg.Source.Resources),
		Layout:    tl.layout,
		Snap:      tl.snap,
		Debounce:  ss.debounce,
		Grace:     ss.grace,
		Bus:       bus,
		Log:       log,
	})

	refresher := source.NewRefresher(be.feed, b.Coordinator(), b.Refresh, log, bus)
	sched := scheduler.New(scheduler.Config{Timezone: cfg.Timeline.Timezone}, eng, log, bus)
	notices := web.NewNotices(web.DefaultNoticeCapacity, web.DefaultNoticeDedup, log.Component("notices"))

	chromium, err := mapExportConfig(cfg, log)
	if err != nil {
		return fail(err)
	}
	hc, err := mapHTTPConfig(cfg)
	if err != nil {
		return fail(err)
	}

	a := &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		log:       log,
		logs:      logs,
		bus:       bus,
		store:     store,
		engine:    eng,
		sched:     sched,
		board:     b,
		refresher: refresher,
		notices:   notices,
	}
	api := web.NewHandler(web.Deps{
		Board:    b,
		Notices:  notices,
		Renderer: chromium,
		Refresh:  refresher.Run,
		Status:   a.status,
		Log:      log,
	})
	a.http = web.NewServer(hc, api, log)
	return a, nil
}

// Board exposes the timeline engine.
func (a *App) Board() *board.Board { return a.board }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// validate rejects a config that would fail to map, so hot reload never
// commits something Start could not have run with.
func (a *App) validate(ctx context.Context, cfg *config.Config) error {
	if err := config.Validate(ctx, cfg); err != nil {
		return err
	}
	var errs []error
	if _, err := mapTimeline(cfg, time.Now()); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapEngineConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.Component("config"))
	a.cfgm.SetValidator(a.validate)

	// The write path outlives the app context so Stop can flush it.
	run := context.WithoutCancel(a.sup.Context())
	a.engine.Start(run)

	// One synchronous refresh so the first frame has data.
	if err := a.refresher.Run(ctx); err != nil {
		a.log.Warn("initial refresh failed; serving cached records", logx.Err(err))
	}

	if err := a.registerSchedules(a.cfgm.Get()); err != nil {
		return err
	}
	a.sched.Start(run)

	a.sup.Go("notices", func(c context.Context) error {
		return a.notices.Run(c, a.bus)
	})

	if err := a.http.Start(run); err != nil {
		return err
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case next, ok := <-sub:
				if !ok {
					return nil
				}
				next = latest(sub, next)
				a.applyConfig(c, last, next)
				last = next
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.startWatchdog()
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("app started",
		logx.String("config", a.cfgPath),
		logx.String("http", a.http.Addr()),
		logx.String("preset", string(a.board.Scale().Preset())),
	)
	return nil
}

// latest drains queued configs so bursts apply once.
func latest(sub chan *config.Config, cur *config.Config) *config.Config {
	for {
		select {
		case newer, ok := <-sub:
			if !ok {
				return cur
			}
			if newer != nil {
				cur = newer
			}
		default:
			return cur
		}
	}
}

func (a *App) startWatchdog() {
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil || every <= 0 {
		return
	}
	a.sup.Go("systemd.watchdog", func(c context.Context) error {
		t := time.NewTicker(every / 2)
		defer t.Stop()
		for {
			select {
			case <-c.Done():
				return nil
			case <-t.C:
				_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	a.log.Debug("config change summary", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)

	for _, s := range sections {
		if slices.Contains(restartSections, s) {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}
	if slices.Contains(sections, "source") && !sameSourceExceptRefresh(prev.Source, next.Source) {
		a.log.Warn("source changed; restart required except for source.refresh")
	}

	a.logs.Apply(mapLoggingConfig(next))

	if ec, err := mapEngineConfig(next); err != nil {
		a.log.Warn("invalid engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(ctx, ec)
	}

	a.sched.Apply(scheduler.Config{Timezone: next.Timeline.Timezone})
	if err := a.registerSchedules(next); err != nil {
		a.log.Warn("schedule update failed", logx.Err(err))
	}

	if slices.Contains(sections, "timeline") {
		a.applyTimeline(prev.Timeline, next.Timeline)
	}

	if hc, err := mapHTTPConfig(next); err != nil {
		a.log.Warn("invalid http config; keeping previous", logx.Err(err))
	} else if err := a.http.Reconfigure(ctx, hc); err != nil {
		a.log.Error("http reconfigure failed", logx.Err(err))
	}

	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)...)
}

// applyTimeline carries preset and width changes onto the live board. The
// anchor and geometry apply on restart.
func (a *App) applyTimeline(prev, next config.TimelineConfig) {
	if p := strings.TrimSpace(next.Preset); p != strings.TrimSpace(prev.Preset) {
		preset := defaultPreset
		if p != "" {
			v, err := timescale.ParsePreset(p)
			if err != nil {
				a.log.Warn("invalid timeline.preset; keeping previous", logx.Err(err))
				return
			}
			preset = v
		}
		if _, err := a.board.SetPreset(preset); err != nil {
			a.log.Warn("timeline preset not applied", logx.Err(err))
		}
	}
	if next.Width != prev.Width {
		w := next.Width
		if w <= 0 {
			w = defaultWidth
		}
		if _, err := a.board.SetWidth(w); err != nil {
			a.log.Warn("timeline width not applied", logx.Err(err))
		}
	}
}

func sameSourceExceptRefresh(a, b config.SourceConfig) bool {
	a.Refresh, b.Refresh = "", ""
	return reflect.DeepEqual(a, b)
}

func (a *App) status() map[string]any {
	es := a.engine.Snapshot()
	return map[string]any{
		"engine": map[string]any{
			"running":      es.Running,
			"queue_len":    es.QueueLen,
			"in_flight":    es.InFlight,
			"failed":       es.Failed,
			"dropped":      es.Dropped,
			"circuit_open": es.CircuitOpen,
		},
		"refresh":     a.refresher.Status(),
		"schedules":   a.sched.Snapshot().Schedules,
		"open_writes": a.board.Coordinator().Open(),
		"bus_dropped": a.bus.Dropped(),
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Background loops (config watch, notices) unwind right away; the write
	// path keeps running until the board has flushed.
	a.sup.Cancel()

	a.step(ctx, "http", 2*time.Second, func(c context.Context) error { a.http.Stop(c); return nil })
	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "board", 5*time.Second, a.board.Close)
	a.step(ctx, "engine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })
	a.step(ctx, "supervisor", 2*time.Second, a.sup.Wait)

	a.log.Info("stopped")
	return a.logs.Close()
}

// step runs one shutdown step bounded by max and the caller's deadline.
// A step that ignores its context is logged and left behind.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	if max <= 0 {
		a.log.Warn("stop step skipped; no time left", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			if err := <-done; err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
			}
		}()
	}
}
