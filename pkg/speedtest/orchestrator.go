// Package speedtest measures link throughput with an ordered fallback chain:
// dedicated throughput servers first, then plain HTTP downloads, then an
// ICMP payload-size sweep that only estimates link quality.
package speedtest

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	logx "netmon/pkg/logx"
)

// ErrNoResult tells the orchestrator to move on to the next strategy.
var ErrNoResult = errors.New("no result")

// Strategy is one way of measuring the link.
type Strategy interface {
	Method() Method
	// Attempt returns a usable result, or an error (ErrNoResult or any other)
	// meaning "try the next strategy".
	Attempt(ctx context.Context) (*Result, error)
}

// Orchestrator runs strategies in order until one produces a result.
// Runs are serialized: a manual trigger waits for a scheduled run in flight.
type Orchestrator struct {
	sem chan struct{}
	log logx.Logger
	now func() time.Time

	mu         sync.RWMutex
	strategies []Strategy
	timeout    time.Duration
	lastBudget time.Duration
}

// DefaultTerminalTimeout bounds the last strategy of the cascade.
const DefaultTerminalTimeout = 30 * time.Second

type Option func(*Orchestrator)

// WithTimeout bounds one whole cascade run. 0 disables the bound.
func WithTimeout(d time.Duration) Option { return func(o *Orchestrator) { o.timeout = d } }

// WithTerminalTimeout bounds the last strategy. It runs on its own budget,
// derived from the caller's context, so a cascade that spent its whole
// timeout on earlier strategies still reaches it.
func WithTerminalTimeout(d time.Duration) Option { return func(o *Orchestrator) { o.lastBudget = d } }

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

func NewOrchestrator(log logx.Logger, strategies []Strategy, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sem:        make(chan struct{}, 1),
		log:        log,
		now:        time.Now,
		lastBudget: DefaultTerminalTimeout,
		strategies: append([]Strategy(nil), strategies...),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetStrategies replaces the cascade. Runs in flight keep their list.
func (o *Orchestrator) SetStrategies(strategies []Strategy) {
	o.mu.Lock()
	o.strategies = append([]Strategy(nil), strategies...)
	o.mu.Unlock()
}

func (o *Orchestrator) SetTimeout(d time.Duration) {
	o.mu.Lock()
	o.timeout = d
	o.mu.Unlock()
}

// Run executes the cascade. It never returns nil: when every strategy comes
// up empty the result is the error variant.
func (o *Orchestrator) Run(ctx context.Context) *Result {
	select {
	case o.sem <- struct{}{}:
	case <-ctx.Done():
		return o.failed(o.now(), nil, fmt.Errorf("waiting for running speed test: %w", ctx.Err()))
	}
	defer func() { <-o.sem }()

	o.mu.RLock()
	strategies := append([]Strategy(nil), o.strategies...)
	timeout := o.timeout
	lastBudget := o.lastBudget
	o.mu.RUnlock()

	parent := ctx
	cascade := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		cascade, cancel = context.WithTimeout(parent, timeout)
		defer cancel()
	}

	start := o.now()
	var attempts []Attempt
	for i, s := range strategies {
		if parent.Err() != nil {
			break
		}
		runCtx := cascade
		if i == len(strategies)-1 {
			var cancel context.CancelFunc
			runCtx, cancel = terminalContext(parent, lastBudget)
			defer cancel()
		} else if cascade.Err() != nil {
			attempts = append(attempts, Attempt{Method: s.Method(), Error: "skipped: " + cascade.Err().Error()})
			continue
		}
		res, err := o.attempt(runCtx, s)
		if err == nil && res != nil {
			if res.Method == "" {
				res.Method = s.Method()
			}
			res.DurationSeconds = round2(o.now().Sub(start).Seconds())
			res.Timestamp = o.now()
			res.Attempts = attempts
			o.log.Info("speed test completed",
				logx.String("method", string(res.Method)),
				logx.OptFloat64("download_mbps", res.DownloadMbps),
				logx.OptFloat64("upload_mbps", res.UploadMbps),
				logx.Float64("duration_s", res.DurationSeconds),
			)
			return res
		}
		if err == nil {
			err = ErrNoResult
		}
		o.log.Debug("speed test strategy gave no result", logx.String("method", string(s.Method())), logx.Err(err))
		attempts = append(attempts, Attempt{Method: s.Method(), Error: err.Error()})
	}

	err := errors.New("all speed test methods failed")
	if parent.Err() != nil {
		err = fmt.Errorf("speed test aborted: %w", parent.Err())
	}
	return o.failed(start, attempts, err)
}

func terminalContext(parent context.Context, budget time.Duration) (context.Context, context.CancelFunc) {
	if budget <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, budget)
}

func (o *Orchestrator) failed(start time.Time, attempts []Attempt, err error) *Result {
	o.log.Warn("speed test failed", logx.Err(err), logx.Int("attempts", len(attempts)))
	return &Result{
		Method:          MethodError,
		Error:           err.Error(),
		DurationSeconds: round2(o.now().Sub(start).Seconds()),
		Timestamp:       o.now(),
		Attempts:        attempts,
	}
}

// attempt converts panics inside a strategy into errors.
func (o *Orchestrator) attempt(ctx context.Context, s Strategy) (res *Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("speed test strategy panicked",
				logx.String("method", string(s.Method())),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())),
			)
			res, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Attempt(ctx)
}
