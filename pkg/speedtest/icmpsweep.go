package speedtest

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// EchoFunc sends count echoes of size payload bytes and returns the average
// round trip in milliseconds; ok is false when nothing came back.
type EchoFunc func(ctx context.Context, host string, size, count int, timeout time.Duration) (avgMs float64, ok bool)

// SweepConfig configures the ICMP sweep.
type SweepConfig struct {
	Gateway string
	Sizes   []int
	Count   int
	Timeout time.Duration
}

// ICMPSweep pings the gateway with growing payloads. It never measures
// throughput; it reports per-size averages so the cascade always ends with
// something, flagged Degraded when no size got a reply.
type ICMPSweep struct {
	echo EchoFunc

	mu  sync.RWMutex
	cfg SweepConfig
}

func NewICMPSweep(echo EchoFunc, cfg SweepConfig) *ICMPSweep {
	s := &ICMPSweep{echo: echo}
	s.SetConfig(cfg)
	return s
}

func (s *ICMPSweep) Method() Method { return MethodICMPEstimate }

func (s *ICMPSweep) SetConfig(cfg SweepConfig) {
	cfg.Sizes = append([]int(nil), cfg.Sizes...)
	if len(cfg.Sizes) == 0 {
		cfg.Sizes = []int{32, 64, 128, 512, 1024}
	}
	if cfg.Count <= 0 {
		cfg.Count = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *ICMPSweep) SetGateway(gw string) {
	s.mu.Lock()
	s.cfg.Gateway = gw
	s.mu.Unlock()
}

func (s *ICMPSweep) Attempt(ctx context.Context) (*Result, error) {
	s.mu.RLock()
	cfg := s.cfg
	s.mu.RUnlock()

	if cfg.Gateway == "" {
		return nil, fmt.Errorf("no gateway configured: %w", ErrNoResult)
	}
	if s.echo == nil {
		return nil, fmt.Errorf("no echo function: %w", ErrNoResult)
	}

	res := &Result{Method: MethodICMPEstimate}
	var sum float64
	for _, size := range cfg.Sizes {
		if ctx.Err() != nil {
			break
		}
		avg, ok := s.echo(ctx, cfg.Gateway, size, cfg.Count, cfg.Timeout)
		if !ok {
			continue
		}
		res.PayloadSizes = append(res.PayloadSizes, size)
		res.PingSamples = append(res.PingSamples, avg)
		sum += avg
	}
	if len(res.PingSamples) == 0 {
		res.Degraded = true
		return res, nil
	}
	res.AveragePingMs = ptr(round2(sum / float64(len(res.PingSamples))))
	return res, nil
}
