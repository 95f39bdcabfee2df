package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"netmon/pkg/logx"
)

// cronLogger routes robfig/cron's logr-style calls into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug(msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error(msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}

// Start schedules both activities and kicks off the first health cycle
// immediately. Jobs run until Stop or until ctx is canceled.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	if err := s.startCronLocked(); err != nil {
		s.runCancel()
		s.runCtx, s.runCancel = nil, nil
		return err
	}

	// WrappedJob goes through SkipIfStillRunning, so this cannot overlap the first tick.
	// cron does not track it; Stop waits on firstRun.
	first := s.c.Entry(s.healthID).WrappedJob
	s.firstRun.Add(1)
	go func() {
		defer s.firstRun.Done()
		first.Run()
	}()

	s.notifier.Ready()
	s.log.Info("monitor started",
		logx.String("interface", s.agg.Selected()),
		logx.String("health", s.cfg.HealthSchedule),
		logx.String("speedtest", s.speedScheduleLabelLocked()),
	)
	return nil
}

func (s *Service) speedScheduleLabelLocked() string {
	if !s.cfg.SpeedTestEnabled || s.speed == nil {
		return "disabled"
	}
	return s.cfg.SpeedSchedule
}

func (s *Service) startCronLocked() error {
	health, err := ParseSchedule(s.cfg.HealthSchedule)
	if err != nil {
		return fmt.Errorf("health schedule: %w", err)
	}
	var speed ParsedSpec
	if s.cfg.SpeedTestEnabled && s.speed != nil {
		if speed, err = ParseSchedule(s.cfg.SpeedSchedule); err != nil {
			return fmt.Errorf("speedtest schedule: %w", err)
		}
	}

	cl := cronLogger{log: s.log.With(logx.String("comp", "cron"))}
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(loadLocation(s.cfg.Timezone)),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	ctx := s.runCtx
	s.healthID, err = c.AddFunc(health.CronSpec(), func() { s.healthJob(ctx) })
	if err != nil {
		return fmt.Errorf("health schedule: %w", err)
	}
	s.speedID = 0
	if speed.CronSpec() != "" {
		s.speedID, err = c.AddFunc(speed.CronSpec(), func() { s.speedJob(ctx) })
		if err != nil {
			return fmt.Errorf("speedtest schedule: %w", err)
		}
	}
	c.Start()
	s.c = c
	return nil
}

func (s *Service) healthJob(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	// Failed cycles still count as progress; only a cycle that never
	// returns starves the watchdog.
	_ = s.RunCycle(ctx)
	s.notifier.Watchdog()
}

func (s *Service) speedJob(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.log.Info("scheduled speed test starting")
	s.RunSpeedTestNow(ctx)
}

// Apply swaps in a new configuration. Schedules and timezone changes restart
// the cron loop; probe targets apply from the next cycle.
func (s *Service) Apply(cfg Config) error {
	cfg = cfg.withDefaults()
	if _, err := ParseSchedule(cfg.HealthSchedule); err != nil {
		return fmt.Errorf("health schedule: %w", err)
	}
	if cfg.SpeedTestEnabled {
		if _, err := ParseSchedule(cfg.SpeedSchedule); err != nil {
			return fmt.Errorf("speedtest schedule: %w", err)
		}
	}

	stopped, err := s.swap(cfg)
	if err != nil {
		return err
	}
	s.agg.SetTargets(cfg.Gateway, cfg.DNS)
	if stopped != nil {
		// Jobs in flight on the old loop finish on their own.
		stopped.Stop()
		s.log.Info("monitor rescheduled",
			logx.String("health", cfg.HealthSchedule),
			logx.String("speedtest", cfg.SpeedSchedule),
			logx.Bool("speedtest_enabled", cfg.SpeedTestEnabled),
		)
	}
	return nil
}

// swap installs cfg and, when a running schedule changed, replaces the cron
// loop. The old loop is returned for the caller to stop. If the new loop
// cannot start, the old configuration and loop stay in place.
func (s *Service) swap(cfg Config) (*cron.Cron, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.cfg
	reschedule := s.c != nil && (old.HealthSchedule != cfg.HealthSchedule ||
		old.SpeedSchedule != cfg.SpeedSchedule ||
		old.SpeedTestEnabled != cfg.SpeedTestEnabled ||
		strings.TrimSpace(old.Timezone) != strings.TrimSpace(cfg.Timezone))
	s.cfg = cfg
	if !reschedule {
		return nil, nil
	}

	prev, healthID, speedID := s.c, s.healthID, s.speedID
	s.c = nil
	if err := s.startCronLocked(); err != nil {
		s.cfg = old
		s.c, s.healthID, s.speedID = prev, healthID, speedID
		return nil, err
	}
	return prev, nil
}

// Stop halts both activities and waits for running jobs until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	cancel := s.runCancel
	s.runCtx, s.runCancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	s.notifier.Stopping()
	if cancel != nil {
		cancel()
	}
	done := make(chan struct{})
	go func() {
		<-c.Stop().Done()
		s.firstRun.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("monitor stop timed out; jobs still running")
	}
	s.log.Info("monitor stopped", logx.Duration("took", time.Since(start)))
}

// NextRuns reports when each activity fires next. Zero times mean not scheduled.
func (s *Service) NextRuns() (health, speed time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}, time.Time{}
	}
	health = s.c.Entry(s.healthID).Next
	if s.speedID != 0 {
		speed = s.c.Entry(s.speedID).Next
	}
	return health, speed
}

func loadLocation(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local
	}
	return loc
}
