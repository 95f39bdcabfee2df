package monitor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"netmon/internal/metrics"
	"netmon/pkg/logx"
)

// RunCycle performs one health cycle. Errors and panics are recorded as a
// failed cycle and returned; they never escape as panics.
func (s *Service) RunCycle(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("health cycle panic: %v", r)
			s.logCycleFailure(err, string(debug.Stack()))
			s.agg.FailCycle(err)
		}
	}()

	rep, err := s.observe(ctx)
	if err != nil {
		s.logCycleFailure(err, "")
		s.agg.FailCycle(err)
		return err
	}
	s.agg.CompleteCycle(rep)

	st := s.agg.Snapshot()
	s.log.Debug("health cycle",
		logx.String("interface", st.SelectedInterface),
		logx.String("status", string(st.Status)),
		logx.OptFloat64("latency_ms", rep.LatencyMs),
		logx.OptFloat64("dns_latency_ms", rep.DNSLatencyMs),
		logx.Float64("worst_latency_ms", st.WorstLatencyMs),
		logx.Duration("took", time.Since(start)),
	)
	return nil
}

func (s *Service) observe(ctx context.Context) (metrics.CycleReport, error) {
	if s.reg == nil {
		return metrics.CycleReport{}, errors.New("interface registry unavailable")
	}
	cfg := s.config()
	name := s.agg.Selected()

	list, err := s.reg.List(ctx)
	if err != nil {
		return metrics.CycleReport{}, err
	}
	rep := metrics.CycleReport{Interfaces: list}
	for _, it := range list {
		if it.Name == name {
			rep.InterfaceFound = true
			break
		}
	}

	rep.Up, rep.Message = s.reg.IsUp(ctx, name)

	if s.probe != nil {
		if ms, ok := s.probe.Latency(ctx, cfg.Gateway, cfg.PingTimeout); ok {
			rep.LatencyMs = &ms
		}
		if ms, ok := s.probe.Latency(ctx, cfg.DNS, cfg.PingTimeout); ok {
			rep.DNSLatencyMs = &ms
		}
	}
	if s.sampler != nil && name != "" {
		rep.Bandwidth = s.sampler.Sample(ctx, name)
	}
	if err := ctx.Err(); err != nil {
		return metrics.CycleReport{}, fmt.Errorf("health cycle interrupted: %w", err)
	}
	rep.At = time.Now()
	return rep, nil
}

func (s *Service) logCycleFailure(err error, stack string) {
	level := logx.LevelDebug
	if s.failLog.Allow() {
		level = logx.LevelError
	}
	s.log.Log(level, "health cycle failed", logx.Err(err), logx.Stack(stack))
}
