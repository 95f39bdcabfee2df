package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"netmon/internal/eventbus"
	"netmon/internal/metrics"
	"netmon/internal/monitor"
	"netmon/internal/observability/debugsrv"
	rtsup "netmon/internal/runtime/supervisor"
	logx "netmon/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *ConfigManager
	sup  *Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	comps *Components
	debug *debugsrv.Service
	reg   *prometheus.Registry
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogging(cfg))
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	var notifier monitor.Notifier = monitor.NopNotifier{}
	if cfg.Systemd.Notify {
		notifier = monitor.NewSystemdNotifier(log.With(logx.String("comp", "systemd")))
	}

	comps, err := Build(cfg, BuildOptions{Log: logSvc.Logger(), Bus: bus, Notifier: notifier})
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		metrics.NewCollector(comps.Metrics),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		comps:   comps,
		reg:     reg,
	}
	a.debug = debugsrv.New(logSvc.Logger().With(logx.String("comp", "debugsrv")), reg, a.health)
	return a, nil
}

// Monitor exposes the operator contract.
func (a *App) Monitor() *monitor.Service { return a.comps.Monitor }

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

type healthReport struct {
	Status      string                    `json:"status"`
	Link        metrics.Status            `json:"link"`
	Interface   string                    `json:"interface"`
	LastCheck   *time.Time                `json:"last_check"`
	Cycles      uint64                    `json:"cycles"`
	NextHealth  time.Time                 `json:"next_health,omitempty"`
	NextSpeed   time.Time                 `json:"next_speedtest,omitempty"`
	Supervisors map[string]rtsup.Snapshot `json:"supervisors"`
}

// health backs /healthz: process liveness plus a short monitor summary.
func (a *App) health() any {
	st := a.comps.Monitor.Status()
	nextHealth, nextSpeed := a.comps.Monitor.NextRuns()
	rep := healthReport{
		Status:      "ok",
		Link:        st.Status,
		Interface:   st.SelectedInterface,
		LastCheck:   st.LastCheckedAt,
		Cycles:      st.UptimeCycles,
		NextHealth:  nextHealth,
		NextSpeed:   nextSpeed,
		Supervisors: map[string]rtsup.Snapshot{},
	}
	if a.sup != nil {
		snap := a.sup.Snapshot()
		rep.Supervisors["app"] = snap
		if snap.FirstError != "" {
			rep.Status = "degraded"
		}
	}
	if sup := a.debug.Supervisor(); sup != nil {
		rep.Supervisors["debugsrv"] = sup.Snapshot()
	}
	return rep
}

func (a *App) Start(ctx context.Context) error {
	a.sup = NewSupervisor(ctx, WithLogger(a.log), WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validateConfig)
	// The initial load ran before the validator existed.
	if err := validateConfig(a.sup.Context(), a.cfgm.Get()); err != nil {
		return err
	}

	cfg := a.cfgm.Get()
	if name, err := a.comps.SelectConfigured(a.sup.Context(), strings.TrimSpace(cfg.Monitor.Interface)); err != nil {
		// Keep running: the health cycle reports the missing interface as offline.
		a.log.Warn("initial interface selection failed", logx.String("interface", cfg.Monitor.Interface), logx.Err(err))
	} else {
		a.log.Info("monitoring interface", logx.String("interface", name))
	}

	if err := a.comps.Monitor.Start(a.sup.Context()); err != nil {
		return err
	}

	dcfg, err := mapDebugConfig(cfg)
	if err != nil {
		return err
	}
	a.debug.Reconfigure(a.sup.Context(), dcfg)

	// Log events for observability/debug.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.logEvent(e)
			}
		}
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		// Track last applied config to generate a safe diff summary.
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.String("config", a.cfgPath))
	return nil
}

// validateConfig rejects configs the running stack could not apply.
func validateConfig(_ context.Context, cfg *Config) error {
	if _, err := monitor.ParseSchedule(cfg.Monitor.HealthInterval); err != nil {
		return fmt.Errorf("monitor.health_interval: %w", err)
	}
	if _, err := monitor.ParseSchedule(cfg.SpeedTest.Schedule); err != nil {
		return fmt.Errorf("speedtest.schedule: %w", err)
	}
	if _, err := mapMonitorConfig(cfg); err != nil {
		return err
	}
	if _, err := mapEndpoints(cfg); err != nil {
		return err
	}
	if _, err := mapHTTPConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapSweepConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSpeedTimeout(cfg); err != nil {
		return err
	}
	_, err := mapDebugConfig(cfg)
	return err
}

func (a *App) logEvent(e eventbus.Event) {
	switch e.Type {
	case eventbus.TypeLinkDown:
		if le, ok := e.Data.(metrics.LinkEvent); ok {
			a.log.Warn("link down", logx.String("interface", le.Interface), logx.String("to", string(le.To)), logx.String("reason", le.Message))
			return
		}
	case eventbus.TypeLinkUp:
		if le, ok := e.Data.(metrics.LinkEvent); ok {
			a.log.Info("link up", logx.String("interface", le.Interface), logx.String("from", string(le.From)))
			return
		}
	}
	// Keep this debug-level to avoid noise from the health cycle.
	a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
}

func (a *App) applyConfig(c context.Context, prev, next *Config) {
	sections, attrs := SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	// apply logging updates first so the rest logs at the new level
	a.logs.Apply(mapLogging(next))

	if err := a.comps.Apply(next); err != nil {
		a.log.Warn("invalid monitor config; keeping previous", logx.Err(err))
	}

	if name := strings.TrimSpace(next.Monitor.Interface); name != "" && name != strings.TrimSpace(prev.Monitor.Interface) {
		if err := a.comps.Monitor.SelectInterface(c, name); err != nil {
			a.log.Warn("configured interface rejected; keeping previous", logx.String("interface", name), logx.Err(err))
		}
	}

	if dcfg, err := mapDebugConfig(next); err != nil {
		a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
	} else {
		a.debug.Reconfigure(c, dcfg)
	}

	if prev.Systemd.Notify != next.Systemd.Notify {
		a.log.Warn("systemd.notify changed; restart required for changes to take effect")
	}

	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := boundedCtx(ctx, max)
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
			if err != nil && !errors.Is(err, context.Canceled) {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("monitor", 3*time.Second, func(c context.Context) error { a.comps.Monitor.Stop(c); return nil })
	step("debugsrv", 1*time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })
	// Finally, wait for supervised goroutines (config watch/reload, event log).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// boundedCtx respects the caller's deadline and never extends it.
func boundedCtx(ctx context.Context, max time.Duration) (context.Context, context.CancelFunc) {
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, max)
}
